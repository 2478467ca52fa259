package printing

import (
	"errors"
	"fmt"
)

// ErrNotQueued marks a failed first print that could not be written to the
// retry queue either. Nothing will retry it.
var ErrNotQueued = errors.New("failed print was not queued")

// PrintHardwareError is a print that did not reach paper: printer unreachable,
// out of paper, or the print bridge itself down.
type PrintHardwareError struct {
	OrderID string
	Printer string
	Reason  string
	Err     error
}

func (e *PrintHardwareError) Error() string {
	target := e.Printer
	if target == "" {
		target = "printer"
	}
	msg := fmt.Sprintf("print to %s failed: %s", target, e.Reason)
	if e.OrderID != "" {
		msg = fmt.Sprintf("order %s: %s", e.OrderID, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PrintHardwareError) Unwrap() error { return e.Err }
