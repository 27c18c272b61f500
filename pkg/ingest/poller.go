package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/sportswire/sportswire/pkg/models"
	"github.com/sportswire/sportswire/pkg/sources"
	"github.com/sportswire/sportswire/pkg/telemetry"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 300 * time.Second

// Poller fetches from every configured source on a schedule and feeds the
// results through the Ingester. The since cursor is in-process only: the
// first cycle after a restart fetches without a lower bound and relies on
// dedup to suppress replays.
type Poller struct {
	sources  []sources.Source
	ingester *Ingester
	interval time.Duration
	cron     *cron.Cron
	lastPoll time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewPoller creates a poller over the given sources. interval <= 0 selects
// the default.
func NewPoller(srcs []sources.Source, ingester *Ingester, interval time.Duration) *Poller {
	if len(srcs) == 0 {
		panic("NewPoller: at least one source is required")
	}
	if ingester == nil {
		panic("NewPoller: ingester must not be nil")
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		sources:  srcs,
		ingester: ingester,
		interval: interval,
		cron:     cron.New(),
		stopCh:   make(chan struct{}),
		logger:   slog.Default().With("component", "poller"),
	}
}

// Start schedules the poll cycle and fires the first one immediately.
// Non-blocking; Close stops the schedule and waits for a running cycle.
func (p *Poller) Start(ctx context.Context) {
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{p.logger})).
		Then(cron.FuncJob(func() { p.cycle(ctx) }))

	p.cron.Schedule(cron.Every(p.interval), job)
	p.cron.Start()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		job.Run()
	}()

	p.logger.Info("Poller started", "sources", len(p.sources), "interval", p.interval)
}

// Close stops the schedule and waits for any running cycle to drain.
// Idempotent.
func (p *Poller) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		<-p.cron.Stop().Done()
		p.wg.Wait()
		p.logger.Info("Poller stopped")
	})
}

// cycle runs one fetch-and-ingest pass. Cycles never overlap: scheduled
// fires are wrapped in SkipIfStillRunning, so lastPoll needs no lock.
func (p *Poller) cycle(ctx context.Context) {
	select {
	case <-p.stopCh:
		return
	default:
	}

	cycleStart := time.Now().UTC()
	since := p.lastPoll

	ctx, span := telemetry.Tracer("poller").Start(ctx, "poll cycle")
	defer span.End()

	// Phase 1: fetch all sources in parallel. One source's failure never
	// aborts the cycle.
	results := make([][]models.RawArticle, len(p.sources))
	var g errgroup.Group
	g.SetLimit(len(p.sources))
	for idx, src := range p.sources {
		g.Go(func() error {
			fetched, err := src.Fetch(ctx, since)
			if err != nil {
				p.logger.Error("Source fetch failed", "source", src.Name(), "error", err)
				return nil
			}
			p.logger.Info("Fetched articles", "source", src.Name(), "count", len(fetched))
			results[idx] = fetched
			return nil
		})
	}
	_ = g.Wait()

	// Phase 2: ingest sequentially. Per-article failures are contained.
	for idx, batch := range results {
		for _, article := range batch {
			if err := p.ingester.Ingest(ctx, article); err != nil {
				p.logger.Error("Ingest failed",
					"source", p.sources[idx].Name(),
					"source_id", article.SourceID,
					"error", err)
			}
		}
	}

	// Advance to the cycle start, not the end: items published while the
	// cycle ran stay inside the next window.
	p.lastPoll = cycleStart
}

// cronLogger adapts slog to the cron logger contract.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
