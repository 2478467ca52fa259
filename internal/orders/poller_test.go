package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pos-terminal-bridge/internal/core"
	"pos-terminal-bridge/internal/printing"
	"pos-terminal-bridge/internal/settings"
	"pos-terminal-bridge/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	orders []Order
	err    error
	calls  []time.Time // from of each call
}

func (s *fakeSource) FetchOrders(_ context.Context, status string, from, to time.Time) ([]Order, error) {
	s.calls = append(s.calls, from)
	if s.err != nil {
		return nil, s.err
	}
	return s.orders, nil
}

type fakePrinter struct {
	mu    sync.Mutex
	jobs  []printing.Receipt
	fails bool
}

func (p *fakePrinter) PrintReceipt(_ context.Context, r printing.Receipt, isRetry bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, r)
	if p.fails {
		return errors.New("printer offline")
	}
	return nil
}

type fakeReporter struct{ errs []error }

func (r *fakeReporter) ReportError(_ context.Context, _ string, err error) error {
	r.errs = append(r.errs, err)
	return nil
}

const registerSettings = `{
	"print_online_order_receipts": %t,
	"printers": [
		{"name": "Kitchen 1", "type": "epson", "address": "10.0.0.1", "kitchen_printer": true},
		{"name": "Kitchen 2", "type": "epson", "address": "10.0.0.2", "kitchen_printer": true},
		{"name": "Bar", "type": "epson", "address": "10.0.0.3", "kitchen_printer": true, "ignore_online_orders": true},
		{"name": "Front", "type": "epson", "address": "10.0.0.4"}
	]
}`

type fixture struct {
	poller   *Poller
	source   *fakeSource
	printer  *fakePrinter
	reporter *fakeReporter
	store    *core.Store
	clock    time.Time
}

func newFixture(t *testing.T, enabled bool) *fixture {
	t.Helper()
	store, err := core.NewStore(t.TempDir(), core.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rs := settings.NewManager(core.NopLogger(), nil)
	require.NoError(t, rs.UpdateSettings([]byte(fmt.Sprintf(registerSettings, enabled))))

	f := &fixture{
		source:   &fakeSource{},
		printer:  &fakePrinter{},
		reporter: &fakeReporter{},
		store:    store,
		clock:    time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	f.poller = NewPoller(f.source, f.printer, rs, store, f.reporter, core.NopLogger(), time.Minute)
	f.poller.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) watermark(t *testing.T) string {
	t.Helper()
	var mark string
	_, err := f.store.Load(core.KeyOnlineOrdersLastFetched, &mark)
	require.NoError(t, err)
	return mark
}

func TestTick_DisabledDoesNothing(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, f.poller.Tick(context.Background()))
	assert.Empty(t, f.source.calls)
	assert.Empty(t, f.watermark(t))
}

func TestTick_FirstRunOnlySetsWatermark(t *testing.T) {
	f := newFixture(t, true)
	f.source.orders = []Order{{ID: "old"}}

	require.NoError(t, f.poller.Tick(context.Background()))
	assert.Empty(t, f.source.calls)
	assert.Empty(t, f.printer.jobs)
	assert.Equal(t, "2026-03-14T12:00:00Z", f.watermark(t))
}

func TestTick_PrintsEveryOrderToEveryOnlinePrinter(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.poller.Tick(context.Background()))

	f.source.orders = []Order{
		{ID: "o-1", Raw: json.RawMessage(`{"id":"o-1"}`)},
		{ID: "o-2", Raw: json.RawMessage(`{"id":"o-2"}`)},
	}
	f.printer.fails = true
	f.clock = f.clock.Add(time.Minute)
	require.NoError(t, f.poller.Tick(context.Background()))

	require.Len(t, f.source.calls, 1)
	assert.Equal(t, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC), f.source.calls[0])

	require.Len(t, f.printer.jobs, 4)
	assert.Equal(t, "10.0.0.1", f.printer.jobs[0].PrinterAddress)
	assert.Equal(t, "o-1", f.printer.jobs[0].OrderID)
	assert.Equal(t, "10.0.0.2", f.printer.jobs[3].PrinterAddress)
	assert.Equal(t, "o-2", f.printer.jobs[3].OrderID)

	assert.Equal(t, "2026-03-14T12:01:00Z", f.watermark(t), "watermark advances despite print failures")
}

func TestTick_BoundaryOrderPrintedOnce(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.poller.Tick(context.Background()))

	boundary := time.Date(2026, 3, 14, 12, 1, 0, 0, time.UTC)
	f.source.orders = []Order{
		{ID: "o-1", PlacedAt: boundary.Add(-20 * time.Second)},
		{ID: "o-2", PlacedAt: boundary.Add(400 * time.Millisecond)},
	}
	f.clock = boundary.Add(700 * time.Millisecond)
	require.NoError(t, f.poller.Tick(context.Background()))
	assert.Equal(t, "2026-03-14T12:01:00Z", f.watermark(t))
	require.Len(t, f.printer.jobs, 4)

	// The next window starts on the same second and returns o-2 again.
	f.source.orders = []Order{
		{ID: "o-2", PlacedAt: boundary.Add(400 * time.Millisecond)},
		{ID: "o-3", PlacedAt: boundary.Add(30 * time.Second)},
	}
	f.clock = boundary.Add(time.Minute)
	require.NoError(t, f.poller.Tick(context.Background()))

	require.Len(t, f.source.calls, 2)
	assert.Equal(t, boundary, f.source.calls[1])

	counts := map[string]int{}
	for _, job := range f.printer.jobs {
		counts[job.OrderID]++
	}
	assert.Equal(t, map[string]int{"o-1": 2, "o-2": 2, "o-3": 2}, counts, "one copy per online printer")
}

func TestTick_FetchErrorKeepsWatermark(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.poller.Tick(context.Background()))

	f.source.err = errors.New("graphql: 503")
	f.clock = f.clock.Add(time.Minute)
	assert.Error(t, f.poller.Tick(context.Background()))

	assert.Equal(t, "2026-03-14T12:00:00Z", f.watermark(t))
	require.Len(t, f.reporter.errs, 1)
	assert.Contains(t, f.reporter.errs[0].Error(), "503")
}

func TestRun_SurvivesFetchErrors(t *testing.T) {
	f := newFixture(t, true)
	f.poller.interval = 5 * time.Millisecond
	require.NoError(t, f.poller.Tick(context.Background()))
	f.source.err = errors.New("down")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, f.poller.Run(ctx))
	assert.Greater(t, len(f.reporter.errs), 1)
}

func TestGraphQLSource(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"ordersByPlacedAt":{"items":[
			{"id":"o-9","status":"NEW","placedAt":"2026-03-14T12:00:30Z","total":2599}
		]}}}`))
	}))
	defer srv.Close()

	src := NewGraphQLSource(transport.NewHTTPBridge(time.Second, nil, nil), srv.URL, "secret", "rest-1")
	from := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	orders, err := src.FetchOrders(context.Background(), StatusNew, from, from.Add(time.Minute))
	require.NoError(t, err)

	require.Len(t, orders, 1)
	assert.Equal(t, "o-9", orders[0].ID)
	assert.JSONEq(t, `{"id":"o-9","status":"NEW","placedAt":"2026-03-14T12:00:30Z","total":2599}`, string(orders[0].Raw))

	vars := gotBody["variables"].(map[string]any)
	assert.Equal(t, "NEW", vars["status"])
	assert.Equal(t, "rest-1", vars["restaurantId"])
	assert.Equal(t, "2026-03-14T12:00:00Z", vars["from"])
}

func TestGraphQLSource_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"Unauthorized"}]}`))
	}))
	defer srv.Close()

	src := NewGraphQLSource(transport.NewHTTPBridge(time.Second, nil, nil), srv.URL, "", "rest-1")
	_, err := src.FetchOrders(context.Background(), StatusNew, time.Now(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unauthorized")
}
