// Package orders prints newly placed online orders to the kitchen.
package orders

import (
	"context"
	"fmt"
	"time"

	"pos-terminal-bridge/internal/alert"
	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/printing"
	"pos-terminal-bridge/internal/settings"

	"github.com/sirupsen/logrus"
)

const DefaultInterval = 60 * time.Second

type ReceiptPrinter interface {
	PrintReceipt(ctx context.Context, r printing.Receipt, isRetry bool) error
}

// RegisterSettings is the slice of register settings the poller reads.
type RegisterSettings interface {
	PrintOnlineOrderReceipts() bool
	OnlineOrderPrinters() []settings.PrinterConfig
}

type Poller struct {
	source   OrderSource
	printer  ReceiptPrinter
	settings RegisterSettings
	store    *core.Store
	reporter alert.ErrorReporter
	logger   *logrus.Entry
	interval time.Duration
	now      func() time.Time
}

func NewPoller(source OrderSource, printer ReceiptPrinter, rs RegisterSettings, store *core.Store,
	reporter alert.ErrorReporter, logger *logrus.Logger, interval time.Duration) *Poller {
	if logger == nil {
		logger = core.NopLogger()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		source:   source,
		printer:  printer,
		settings: rs,
		store:    store,
		reporter: reporter,
		logger:   logger.WithField("component", "online_orders"),
		interval: interval,
		now:      time.Now,
	}
}

// Tick fetches orders placed since the watermark and prints each to every
// online-order printer. The first tick only records the watermark. A failed
// fetch leaves the watermark where it was.
//
// The back office matches whole seconds on both ends of the window, so the
// second holding the watermark is fetched twice. Orders already printed from
// that second are remembered and skipped.
func (p *Poller) Tick(ctx context.Context) error {
	if !p.settings.PrintOnlineOrderReceipts() {
		return nil
	}
	now := p.now().UTC().Truncate(time.Second)

	var mark string
	found, err := p.store.Load(core.KeyOnlineOrdersLastFetched, &mark)
	if err != nil {
		return p.report(ctx, fmt.Errorf("failed to read watermark: %w", err))
	}
	if !found {
		p.logger.Infof("No online order watermark, starting from %s", now.Format(time.RFC3339))
		return p.advance(now, nil)
	}
	from, err := time.Parse(time.RFC3339Nano, mark)
	if err != nil {
		p.logger.Warningf("Unreadable watermark %q, restarting from now", mark)
		return p.advance(now, nil)
	}

	orders, err := p.source.FetchOrders(ctx, StatusNew, from, now)
	if err != nil {
		return p.report(ctx, err)
	}

	var printed []string
	if _, err := p.store.Load(core.KeyOnlineOrdersBoundary, &printed); err != nil {
		p.logger.Warningf("Failed to read boundary orders: %v", err)
	}
	skip := make(map[string]bool, len(printed))
	for _, id := range printed {
		skip[id] = true
	}

	fresh := make([]Order, 0, len(orders))
	var boundary []string
	for _, order := range orders {
		if !order.PlacedAt.Before(now) {
			boundary = append(boundary, order.ID)
		}
		if skip[order.ID] {
			p.logger.Debugf("Order %s was printed by the previous fetch", order.ID)
			continue
		}
		fresh = append(fresh, order)
	}

	printers := p.settings.OnlineOrderPrinters()
	if len(fresh) > 0 {
		p.logger.Infof("Printing %d online orders to %d printers", len(fresh), len(printers))
	}
	for _, printer := range printers {
		for _, order := range fresh {
			// Failures are queued by the printer for retry.
			_ = p.printer.PrintReceipt(ctx, printing.Receipt{
				OrderID:        order.ID,
				PrinterType:    printer.Type,
				PrinterAddress: printer.Address,
				Payload:        order.Raw,
			}, false)
		}
	}
	return p.advance(now, boundary)
}

// advance moves the watermark to to and records the orders placed in that
// second.
func (p *Poller) advance(to time.Time, boundary []string) error {
	if err := p.store.Save(core.KeyOnlineOrdersBoundary, boundary); err != nil {
		return fmt.Errorf("failed to store boundary orders: %w", err)
	}
	if err := p.store.Save(core.KeyOnlineOrdersLastFetched, to.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to store watermark: %w", err)
	}
	return nil
}

func (p *Poller) report(ctx context.Context, err error) error {
	p.logger.WithError(err).Error("online order fetch failed")
	if p.reporter != nil {
		if rErr := p.reporter.ReportError(ctx, "online_orders", err); rErr != nil {
			p.logger.Warningf("Failed to report error: %v", rErr)
		}
	}
	return err
}

// Run ticks immediately and then on the interval until ctx is done. Tick
// errors never stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
			p.logger.Debugf("Online order tick failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
