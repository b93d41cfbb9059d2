/*
monitor.go - Stalled compliance request monitor

PURPOSE:
  A request whose settlement call failed sits in SettlementFailed until a
  reviewer closes it out. This monitor periodically scans for such
  requests and raises one compliance notification per request the first
  time it sees it, so a stall is never silent.

DESIGN:
  - Background goroutine with configurable check interval
  - Remembers which request ids were already reported; ids that leave
    SettlementFailed are forgotten, so a request that stalls again is
    reported again
  - Errors are logged; the next tick retries

USAGE:
  m := compliance.NewStalledMonitor(log, store, notifier, time.Minute)
  m.Start()
  defer m.Stop()

SEE ALSO:
  - dispatcher.go: stall() parks requests in SettlementFailed
*/
package compliance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/compliance-engine/ledger"
)

type stalledStore interface {
	ListComplianceRequests(ctx context.Context, f ledger.ComplianceFilter) ([]ledger.ComplianceRequest, int, error)
}

type StalledMonitor struct {
	store         stalledStore
	notifier      Notifier
	log           *slog.Logger
	CheckInterval time.Duration

	reported map[string]bool
	ticker   *time.Ticker
	stop     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

func NewStalledMonitor(log *slog.Logger, store stalledStore, notifier Notifier, interval time.Duration) *StalledMonitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StalledMonitor{
		store:         store,
		notifier:      notifier,
		log:           log,
		CheckInterval: interval,
		reported:      make(map[string]bool),
	}
}

// Start begins the background loop. Calling Start twice is a no-op.
func (m *StalledMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticker != nil {
		return
	}
	m.ticker = time.NewTicker(m.CheckInterval)
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.run(m.ticker, m.stop)
	m.log.Info("stalled request monitor started", slog.Duration("interval", m.CheckInterval))
}

func (m *StalledMonitor) Stop() {
	m.mu.Lock()
	if m.ticker == nil {
		m.mu.Unlock()
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.ticker = nil
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info("stalled request monitor stopped")
}

func (m *StalledMonitor) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer m.wg.Done()

	m.RunNow(context.Background())
	for {
		select {
		case <-ticker.C:
			m.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one scan and returns how many requests were newly
// reported.
func (m *StalledMonitor) RunNow(ctx context.Context) int {
	stalled, _, err := m.store.ListComplianceRequests(ctx, ledger.ComplianceFilter{
		Statuses: []ledger.ComplianceStatus{ledger.ComplianceSettlementFailed},
	})
	if err != nil {
		m.log.ErrorContext(ctx, "list stalled compliance requests", slog.String("error", err.Error()))
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[string]bool, len(stalled))
	var fresh int
	for _, r := range stalled {
		current[r.ID] = true
		if m.reported[r.ID] {
			continue
		}
		m.notifier.Create(ctx, ledger.Notification{
			EntityType:      "compliance",
			RelatedEntityID: r.ID,
			Text:            "Compliance request stalled after settlement failure",
			IsCompliance:    true,
			Type:            ledger.NotifyError,
			TranslationData: map[string]string{
				"action":   string(r.Action.Name),
				"entityId": r.Action.EntityID,
			},
		})
		fresh++
	}
	m.reported = current

	if fresh > 0 {
		m.log.WarnContext(ctx, "stalled compliance requests",
			slog.Int("new", fresh),
			slog.Int("total", len(stalled)),
		)
	}
	return fresh
}
