package simulator

import (
	"encoding/json"
	"net/http"
	"sync"
)

// PrintBridge emulates the local printer bridge. Printers listed as offline
// answer every command with an error.
type PrintBridge struct {
	mu      sync.Mutex
	offline map[string]string
	printed []string
}

func NewPrintBridge() *PrintBridge {
	return &PrintBridge{offline: map[string]string{}}
}

// SetOffline marks printer as failing with reason, or back online when reason
// is empty.
func (p *PrintBridge) SetOffline(printer, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if reason == "" {
		delete(p.offline, printer)
		return
	}
	p.offline[printer] = reason
}

// Printed lists order ids that reached paper, in order.
func (p *PrintBridge) Printed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.printed...)
}

type printCommand struct {
	Command string          `json:"command"`
	Order   json.RawMessage `json:"order,omitempty"`
	Report  json.RawMessage `json:"report,omitempty"`
}

type printTarget struct {
	OrderID        string `json:"orderId"`
	PrinterAddress string `json:"printerAddress"`
}

func (p *PrintBridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/print", func(w http.ResponseWriter, r *http.Request) {
		var cmd printCommand
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
			return
		}
		body := cmd.Order
		if cmd.Command == "PRINT_SALES_REPORT" {
			body = cmd.Report
		}
		var target printTarget
		_ = json.Unmarshal(body, &target)

		p.mu.Lock()
		reason, down := p.offline[target.PrinterAddress]
		if !down && target.OrderID != "" {
			p.printed = append(p.printed, target.OrderID)
		}
		p.mu.Unlock()

		if down {
			writeJSON(w, http.StatusOK, map[string]any{"error": reason, "order": cmd.Order})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": cmd.Order})
	})
	return mux
}
