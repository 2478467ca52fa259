package simulator

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// Windcave statuses.
const (
	WindcavePending   = "PENDING"
	WindcaveAccepted  = "ACCEPTED"
	WindcaveDeclined  = "DECLINED"
	WindcaveCancelled = "CANCELLED"
	WindcaveFailed    = "FAILED"
)

type WindcaveStatus struct {
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
	EftposReceipt string `json:"eftposReceipt,omitempty"`
}

type WindcaveTxn struct {
	StationID string `json:"stationId"`
	TxnType   string `json:"txnType"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	TxnRef    string `json:"txnRef"`
	Reference string `json:"merchantReference,omitempty"`
}

// Windcave emulates a station/txnRef polling host. Stations must be known.
type Windcave struct {
	Stations map[string]bool

	polls *script[WindcaveStatus]
	calls counter

	mu   sync.Mutex
	txns map[string]WindcaveTxn
}

func NewWindcave(stations []string, pollScript ...WindcaveStatus) *Windcave {
	known := make(map[string]bool, len(stations))
	for _, s := range stations {
		known[s] = true
	}
	return &Windcave{
		Stations: known,
		polls:    newScript(pollScript),
		txns:     make(map[string]WindcaveTxn),
	}
}

func (d *Windcave) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/transactions", d.create)
	mux.HandleFunc("/transactions/", d.status)
	return mux
}

func (d *Windcave) create(w http.ResponseWriter, r *http.Request) {
	d.calls.inc("create")
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var txn WindcaveTxn
	if err := json.NewDecoder(r.Body).Decode(&txn); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if !d.Stations[txn.StationID] {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown station"})
		return
	}
	d.mu.Lock()
	d.txns[txn.TxnRef] = txn
	d.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"txnRef": txn.TxnRef, "stationId": txn.StationID})
}

func (d *Windcave) status(w http.ResponseWriter, r *http.Request) {
	d.calls.inc("poll")
	txnRef := strings.TrimPrefix(r.URL.Path, "/transactions/")
	stationID := r.URL.Query().Get("stationId")

	d.mu.Lock()
	txn, ok := d.txns[txnRef]
	d.mu.Unlock()
	if !ok || txn.StationID != stationID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown transaction"})
		return
	}

	st, ok := d.polls.take()
	if !ok {
		st = WindcaveStatus{Status: WindcavePending}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"txnRef":        txnRef,
		"stationId":     stationID,
		"status":        st.Status,
		"message":       st.Message,
		"eftposReceipt": st.EftposReceipt,
		"amount":        txn.Amount,
	})
}

// Transaction returns what was submitted under txnRef.
func (d *Windcave) Transaction(txnRef string) (WindcaveTxn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	txn, ok := d.txns[txnRef]
	return txn, ok
}

func (d *Windcave) Polls() int   { return d.calls.get("poll") }
func (d *Windcave) Creates() int { return d.calls.get("create") }
