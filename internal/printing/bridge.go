package printing

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"pos-terminal-bridge/internal/transport"
)

// Receipt is one order's print request. Payload is rendered by the printer
// bridge and is opaque here.
type Receipt struct {
	OrderID        string          `json:"orderId" validate:"required"`
	PrinterType    string          `json:"printerType" validate:"required"`
	PrinterAddress string          `json:"printerAddress" validate:"required"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

type SalesReport struct {
	PrinterType    string          `json:"printerType" validate:"required"`
	PrinterAddress string          `json:"printerAddress" validate:"required"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Printer executes print commands.
type Printer interface {
	PrintReceipt(ctx context.Context, r Receipt) error
	PrintSalesReport(ctx context.Context, report SalesReport) error
}

const (
	CommandPrintReceipt     = "PRINT_RECEIPT"
	CommandPrintSalesReport = "PRINT_SALES_REPORT"
)

type command struct {
	Command string       `json:"command"`
	Order   *Receipt     `json:"order,omitempty"`
	Report  *SalesReport `json:"report,omitempty"`
}

type commandResult struct {
	Error string   `json:"error,omitempty"`
	Order *Receipt `json:"order,omitempty"`
}

// BridgeClient sends print commands to the local hardware bridge.
type BridgeClient struct {
	bridge   transport.Bridge
	endpoint string
}

func NewBridgeClient(bridge transport.Bridge, endpoint string) *BridgeClient {
	return &BridgeClient{bridge: bridge, endpoint: strings.TrimRight(endpoint, "/")}
}

func (c *BridgeClient) PrintReceipt(ctx context.Context, r Receipt) error {
	var res commandResult
	if err := transport.DoJSON(ctx, c.bridge, http.MethodPost, c.endpoint+"/print", nil,
		command{Command: CommandPrintReceipt, Order: &r}, &res); err != nil {
		return &PrintHardwareError{OrderID: r.OrderID, Printer: r.PrinterAddress, Reason: "print bridge unreachable", Err: err}
	}
	if res.Error != "" {
		return &PrintHardwareError{OrderID: r.OrderID, Printer: r.PrinterAddress, Reason: res.Error}
	}
	return nil
}

func (c *BridgeClient) PrintSalesReport(ctx context.Context, report SalesReport) error {
	var res commandResult
	if err := transport.DoJSON(ctx, c.bridge, http.MethodPost, c.endpoint+"/print", nil,
		command{Command: CommandPrintSalesReport, Report: &report}, &res); err != nil {
		return &PrintHardwareError{Printer: report.PrinterAddress, Reason: "print bridge unreachable", Err: err}
	}
	if res.Error != "" {
		return &PrintHardwareError{Printer: report.PrinterAddress, Reason: res.Error}
	}
	return nil
}
