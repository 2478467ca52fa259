// Package printing delivers receipts to printers and keeps the ones that
// failed in a durable queue that is retried on a fixed interval.
package printing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pos-terminal-bridge/internal/alert"
	"pos-terminal-bridge/internal/core"

	"github.com/sirupsen/logrus"
)

const (
	DefaultRetryInterval  = 20 * time.Second
	DefaultAlertThreshold = 3
)

// PrintJob is a persisted failed print, stored as {error, order}.
type PrintJob struct {
	Error      string    `json:"error"`
	Order      Receipt   `json:"order"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

type Option func(*Queue)

func WithInterval(d time.Duration) Option {
	return func(q *Queue) { q.interval = d }
}

func WithThreshold(n int) Option {
	return func(q *Queue) { q.threshold = n }
}

// WithNotice registers the cashier-facing notice for a first print failure.
func WithNotice(fn func(r Receipt, err error)) Option {
	return func(q *Queue) { q.notice = fn }
}

type Queue struct {
	store   *core.Store
	printer Printer
	alerter alert.Alerter
	logger  *core.AppLogger
	notice  func(Receipt, error)

	interval  time.Duration
	threshold int

	// mu covers every load-modify-save of the persisted list. It is never
	// held across a printer call.
	mu sync.Mutex
}

func NewQueue(store *core.Store, printer Printer, alerter alert.Alerter, logger *logrus.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:     store,
		printer:   printer,
		alerter:   alerter,
		logger:    core.NewAppLogger(logger, "print_queue"),
		interval:  DefaultRetryInterval,
		threshold: DefaultAlertThreshold,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PrintReceipt prints r. A first attempt that fails is queued for retry; a
// retry that fails leaves the queue untouched; a retry that succeeds removes
// the entry.
func (q *Queue) PrintReceipt(ctx context.Context, r Receipt, isRetry bool) error {
	err := q.printer.PrintReceipt(ctx, r)
	if err == nil {
		if isRetry {
			if rmErr := q.remove(r.OrderID); rmErr != nil {
				q.logger.Errorf("Printed %s but could not remove it from the queue: %v", r.OrderID, rmErr)
			}
		}
		return nil
	}

	q.logger.LogPrintFailure(r.OrderID, r.PrinterAddress, isRetry, err)
	if isRetry {
		return err
	}

	if qErr := q.enqueue(r, err); qErr != nil {
		q.logger.Errorf("Could not queue failed print %s: %v", r.OrderID, qErr)
		return errors.Join(err, fmt.Errorf("%w: %w", ErrNotQueued, qErr))
	}
	if q.notice != nil {
		q.notice(r, err)
	}
	return err
}

// PrintSalesReport prints straight through. Reports are not queued; the
// operator asks for them again.
func (q *Queue) PrintSalesReport(ctx context.Context, report SalesReport) error {
	if err := q.printer.PrintSalesReport(ctx, report); err != nil {
		q.logger.WithField("printer", report.PrinterAddress).WithError(err).Error("sales report print failed")
		return err
	}
	return nil
}

func (q *Queue) load() ([]PrintJob, error) {
	var jobs []PrintJob
	if _, err := q.store.Load(core.KeyFailedPrintQueue, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// enqueue appends r unless its order is already queued, in which case only
// the recorded error is refreshed and the entry keeps its place and printer.
func (q *Queue) enqueue(r Receipt, printErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.load()
	if err != nil {
		return err
	}
	for i := range jobs {
		if jobs[i].Order.OrderID == r.OrderID {
			if jobs[i].Order.PrinterAddress != r.PrinterAddress {
				q.logger.WithFields(logrus.Fields{
					"order_id":       r.OrderID,
					"queued_printer": jobs[i].Order.PrinterAddress,
					"new_printer":    r.PrinterAddress,
				}).Warn("order already queued for another printer, keeping the queued job")
			}
			jobs[i].Error = printErr.Error()
			return q.store.Save(core.KeyFailedPrintQueue, jobs)
		}
	}
	jobs = append(jobs, PrintJob{Error: printErr.Error(), Order: r, EnqueuedAt: time.Now().UTC()})
	return q.store.Save(core.KeyFailedPrintQueue, jobs)
}

func (q *Queue) remove(orderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs, err := q.load()
	if err != nil {
		return err
	}
	kept := jobs[:0]
	for _, j := range jobs {
		if j.Order.OrderID != orderID {
			kept = append(kept, j)
		}
	}
	if len(kept) == len(jobs) {
		return nil
	}
	return q.store.Save(core.KeyFailedPrintQueue, kept)
}

// Jobs returns the persisted queue in order.
func (q *Queue) Jobs() ([]PrintJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// RetryFailed is one timer tick: alert while the queue is over the threshold,
// then retry every job in queue order.
func (q *Queue) RetryFailed(ctx context.Context) error {
	jobs, err := q.Jobs()
	if err != nil {
		return fmt.Errorf("failed to load print queue: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	if len(jobs) > q.threshold && q.alerter != nil {
		if err := q.alerter.Alert(ctx, alert.QueueThresholdExceeded(len(jobs), q.threshold)); err != nil {
			q.logger.Warningf("Failed to raise print queue alert: %v", err)
		}
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = q.PrintReceipt(ctx, job.Order, true)
	}
	return nil
}

// Run retries on the configured interval until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	q.logger.Infof("Print retry loop started (interval %s, alert threshold %d)", q.interval, q.threshold)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := q.RetryFailed(ctx); err != nil && ctx.Err() == nil {
				q.logger.Errorf("Print retry tick failed: %v", err)
			}
		}
	}
}
