package simulator

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SmartPay statuses as reported in data.TransactionResult.
const (
	SmartPayPending   = "PENDING"
	SmartPayAccepted  = "OK-ACCEPTED"
	SmartPayDeclined  = "OK-DECLINED"
	SmartPayCancelled = "CANCELLED"
	SmartPayFailed    = "FAILED-INTERFACE"
)

// SmartPay emulates the SmartConnect cloud API: pairing by code, async
// transaction creation returning a polling URL, and polling that URL.
type SmartPay struct {
	PairingCode string
	Receipt     string

	polls *script[string]
	calls counter

	mu           sync.Mutex
	lastRequest  map[string]string
	pairedRegIDs []string
}

func NewSmartPay(pairingCode string, pollScript ...string) *SmartPay {
	return &SmartPay{
		PairingCode: pairingCode,
		Receipt:     "SMARTPAY\nCARD PURCHASE\nAPPROVED",
		polls:       newScript(pollScript),
	}
}

func (d *SmartPay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/POS/Pairing/", d.pair)
	mux.HandleFunc("/POS/Transaction", d.create)
	mux.HandleFunc("/POS/Poll/", d.poll)
	return mux
}

func (d *SmartPay) pair(w http.ResponseWriter, r *http.Request) {
	d.calls.inc("pair")
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	code := strings.TrimPrefix(r.URL.Path, "/POS/Pairing/")
	if code != d.PairingCode {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid pairing code"})
		return
	}
	regID := r.URL.Query().Get("POSRegisterID")
	d.mu.Lock()
	d.pairedRegIDs = append(d.pairedRegIDs, regID)
	d.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (d *SmartPay) create(w http.ResponseWriter, r *http.Request) {
	d.calls.inc("create")
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	fields := map[string]string{}
	for k := range r.PostForm {
		fields[k] = r.PostForm.Get(k)
	}
	d.mu.Lock()
	d.lastRequest = fields
	d.mu.Unlock()

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	pollURL := fmt.Sprintf("%s://%s/POS/Poll/%s", scheme, r.Host, uuid.NewString())
	writeJSON(w, http.StatusOK, map[string]string{"PollingUrl": pollURL})
}

func (d *SmartPay) poll(w http.ResponseWriter, r *http.Request) {
	d.calls.inc("poll")
	status, ok := d.polls.take()
	if !ok || status == SmartPayPending {
		writeJSON(w, http.StatusOK, map[string]any{
			"transactionStatus": "PENDING",
			"data":              map[string]string{"TransactionResult": "PENDING"},
		})
		return
	}

	data := map[string]string{
		"TransactionResult": status,
		"ResultText":        resultText(status),
	}
	switch status {
	case SmartPayAccepted, SmartPayDeclined:
		data["Result"] = "OK"
		data["Receipt"] = d.Receipt
	case SmartPayCancelled:
		data["Result"] = "CANCELLED"
	default:
		data["Result"] = "FAILED"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactionStatus": "COMPLETED",
		"data":              data,
	})
}

// LastRequest returns the form fields of the most recent transaction request.
func (d *SmartPay) LastRequest() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRequest
}

func (d *SmartPay) Polls() int   { return d.calls.get("poll") }
func (d *SmartPay) Creates() int { return d.calls.get("create") }
func (d *SmartPay) Pairs() int   { return d.calls.get("pair") }

func resultText(status string) string {
	switch status {
	case SmartPayAccepted:
		return "Approved"
	case SmartPayDeclined:
		return "Declined"
	case SmartPayCancelled:
		return "Cancelled"
	default:
		return "Terminal unavailable"
	}
}

// PairedRegisters lists the register ids that completed pairing.
func (d *SmartPay) PairedRegisters() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.pairedRegIDs...)
}
