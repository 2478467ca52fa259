package simulator

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TyroMessage is the envelope used in both directions on the transaction
// socket.
type TyroMessage struct {
	Type            string `json:"type,omitempty"`
	Command         string `json:"command,omitempty"`
	Amount          string `json:"amount,omitempty"`
	MID             string `json:"mid,omitempty"`
	TID             string `json:"tid,omitempty"`
	IntegrationKey  string `json:"integrationKey,omitempty"`
	TransactionID   string `json:"transactionId,omitempty"`
	Message         string `json:"message,omitempty"`
	Result          string `json:"result,omitempty"`
	CustomerReceipt string `json:"customerReceipt,omitempty"`
}

// Tyro emulates the pairing endpoint and the transaction socket. Status
// messages are pushed every StepDelay, followed by Result.
type Tyro struct {
	MerchantID string
	TerminalID string

	Statuses  []string
	Result    TyroMessage
	StepDelay time.Duration
	// IgnoreCancel keeps the terminal running after a cancel command, the
	// way a card already in the reader does.
	IgnoreCancel bool

	upgrader websocket.Upgrader
	calls    counter

	mu             sync.Mutex
	integrationKey string
	cancelReceived bool
	lastCommand    TyroMessage
}

func NewTyro(merchantID, terminalID string, result TyroMessage, statuses ...string) *Tyro {
	if result.Type == "" {
		result.Type = "result"
	}
	return &Tyro{
		MerchantID: merchantID,
		TerminalID: terminalID,
		Statuses:   statuses,
		Result:     result,
		StepDelay:  20 * time.Millisecond,
	}
}

func (d *Tyro) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/pair", d.pair)
	mux.HandleFunc("/transaction", d.transaction)
	return mux
}

func (d *Tyro) pair(w http.ResponseWriter, r *http.Request) {
	d.calls.inc("pair")
	var req struct {
		MerchantID string `json:"merchantId"`
		TerminalID string `json:"terminalId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "failure", "message": "bad request"})
		return
	}
	if req.MerchantID != d.MerchantID || req.TerminalID != d.TerminalID {
		writeJSON(w, http.StatusOK, map[string]string{"status": "failure", "message": "Terminal not found"})
		return
	}

	d.mu.Lock()
	d.integrationKey = uuid.NewString()
	key := d.integrationKey
	d.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Paired", "integrationKey": key})
}

func (d *Tyro) transaction(w http.ResponseWriter, r *http.Request) {
	d.calls.inc("transaction")
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var start TyroMessage
	if err := conn.ReadJSON(&start); err != nil {
		return
	}
	d.mu.Lock()
	d.lastCommand = start
	key := d.integrationKey
	d.mu.Unlock()

	if key == "" || start.IntegrationKey != key {
		_ = conn.WriteJSON(TyroMessage{Type: "result", Result: "SYSTEM ERROR", Message: "Terminal not paired"})
		return
	}
	if start.MID != d.MerchantID || start.TID != d.TerminalID {
		_ = conn.WriteJSON(TyroMessage{Type: "result", Result: "SYSTEM ERROR", Message: "Integration key does not match terminal"})
		return
	}

	cancelled := make(chan struct{})
	go func() {
		var once sync.Once
		for {
			var msg TyroMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Command == "cancel" {
				d.mu.Lock()
				d.cancelReceived = true
				d.mu.Unlock()
				once.Do(func() { close(cancelled) })
			}
		}
	}()

	for _, status := range d.Statuses {
		if d.wait(cancelled) {
			_ = conn.WriteJSON(TyroMessage{Type: "result", Result: "CANCELLED", Message: "Transaction cancelled"})
			return
		}
		if err := conn.WriteJSON(TyroMessage{Type: "status", Message: status}); err != nil {
			return
		}
	}
	if d.wait(cancelled) {
		_ = conn.WriteJSON(TyroMessage{Type: "result", Result: "CANCELLED", Message: "Transaction cancelled"})
		return
	}
	_ = conn.WriteJSON(d.Result)

	// Give the client a moment to read before the socket goes away.
	time.Sleep(50 * time.Millisecond)
}

// wait sleeps one step and reports whether a cancel should end the run.
func (d *Tyro) wait(cancelled <-chan struct{}) bool {
	select {
	case <-time.After(d.StepDelay):
		return false
	case <-cancelled:
		if d.IgnoreCancel {
			time.Sleep(d.StepDelay)
			return false
		}
		return true
	}
}

func (d *Tyro) CancelReceived() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelReceived
}

func (d *Tyro) LastCommand() TyroMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastCommand
}

func (d *Tyro) Pairs() int        { return d.calls.get("pair") }
func (d *Tyro) Transactions() int { return d.calls.get("transaction") }
