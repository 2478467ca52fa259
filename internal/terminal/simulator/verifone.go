package simulator

import (
	"encoding/json"
	"net/http"
	"time"
)

type VerifoneResult struct {
	Result          string `json:"result"`
	ResponseText    string `json:"responseText,omitempty"`
	CustomerReceipt string `json:"customerReceipt,omitempty"`
}

type VerifoneRequest struct {
	TransactionID   string `json:"transactionId"`
	TransactionType string `json:"transactionType"`
	Amount          int64  `json:"amount"`
}

// Verifone emulates a LAN terminal that answers in the same call after Delay.
type Verifone struct {
	Result VerifoneResult
	Delay  time.Duration

	calls counter
	last  chan VerifoneRequest
}

func NewVerifone(result VerifoneResult) *Verifone {
	return &Verifone{Result: result, last: make(chan VerifoneRequest, 16)}
}

func (d *Verifone) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/transaction", func(w http.ResponseWriter, r *http.Request) {
		d.calls.inc("transaction")
		var req VerifoneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"result": "ERROR", "responseText": "bad request"})
			return
		}
		select {
		case d.last <- req:
		default:
		}

		if d.Delay > 0 {
			select {
			case <-time.After(d.Delay):
			case <-r.Context().Done():
				return
			}
		}
		writeJSON(w, http.StatusOK, d.Result)
	})
	return mux
}

// Requests returns how many transaction calls reached the device.
func (d *Verifone) Requests() int { return d.calls.get("transaction") }

// LastRequest returns the next recorded request, if any.
func (d *Verifone) LastRequest() (VerifoneRequest, bool) {
	select {
	case req := <-d.last:
		return req, true
	default:
		return VerifoneRequest{}, false
	}
}
