// Package run orchestrates one full pass: reconcile, resolve every catalog
// stream, apply grouping decisions, execute scheduled deletions, reconcile
// again, and persist diagnostics for the run.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lineup/internal/chanman"
	"lineup/internal/channels"
	"lineup/internal/config"
	"lineup/internal/label"
	"lineup/internal/leagueindex"
	"lineup/internal/logging"
	"lineup/internal/prefilter"
	"lineup/internal/reconcile"
	"lineup/internal/registry"
	"lineup/internal/resolve"
	"lineup/internal/services"
	"lineup/internal/sportsdata"
	"lineup/internal/stream"
)

// Catalog supplies the stream descriptors for a run.
type Catalog interface {
	Streams(ctx context.Context) ([]stream.Descriptor, error)
}

// Resolver resolves one label to an event.
type Resolver interface {
	Resolve(ctx context.Context, text string, parsed label.Parsed) (resolve.Match, *stream.Diagnostic)
}

// Grouper applies grouping decisions and executes scheduled deletions.
type Grouper interface {
	Apply(ctx context.Context, d stream.Descriptor, match resolve.Match) (*channels.Outcome, *stream.Diagnostic, error)
	ScheduledDeletes(ctx context.Context, now time.Time) (int, error)
}

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Run(ctx context.Context, dryRun bool) ([]reconcile.Finding, error)
}

// Summary reports what a run did.
type Summary struct {
	RunID          string
	Streams        int
	Matched        int
	Skipped        int
	Errors         int
	Created        int
	Attached       int
	Deleted        int
	FindingsBefore []reconcile.Finding
	FindingsAfter  []reconcile.Finding
	Diagnostics    []stream.Diagnostic
}

// Runner executes runs.
type Runner struct {
	cfg        *config.Config
	store      *registry.Store
	catalog    Catalog
	filter     *prefilter.Filter
	resolver   Resolver
	grouper    Grouper
	reconciler Reconciler
	lock       *flock.Flock
	logger     *slog.Logger
	now        func() time.Time
}

// Deps carries the runner's collaborators; FromConfig wires the production
// set, tests substitute fakes.
type Deps struct {
	Config     *config.Config
	Store      *registry.Store
	Catalog    Catalog
	Filter     *prefilter.Filter
	Resolver   Resolver
	Grouper    Grouper
	Reconciler Reconciler
	Lock       *flock.Flock
	Logger     *slog.Logger
	Now        func() time.Time
}

// New assembles a runner from explicit dependencies.
func New(deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		cfg:        deps.Config,
		store:      deps.Store,
		catalog:    deps.Catalog,
		filter:     deps.Filter,
		resolver:   deps.Resolver,
		grouper:    deps.Grouper,
		reconciler: deps.Reconciler,
		lock:       deps.Lock,
		logger:     logging.NewComponentLogger(logger, "run"),
		now:        now,
	}
}

// FromConfig wires the production dependency graph: provider client and
// cache, league index, resolver, channel manager client, grouping engine,
// and reconciliation engine.
func FromConfig(cfg *config.Config, store *registry.Store, catalog Catalog, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	filter, err := prefilter.New(cfg.Prefilter)
	if err != nil {
		return nil, err
	}
	logger.Info("runner configured",
		logging.Int("leagues", len(cfg.Leagues)),
		logging.Int("groups", len(cfg.GroupSet().All())),
	)
	leagues := sportsdata.LeaguesFromConfig(cfg)
	source := sportsdata.NewSource(sportsdata.NewClient(cfg), cfg.Provider.LookaheadDays, logger)
	index := leagueindex.New(source, leagues, logger)
	resolver := resolve.New(index, source, leagues, resolve.Options{
		WindowMinutes:      cfg.Matching.EventWindowMinutes,
		DivisionPreference: cfg.DivisionPreference(),
		Logger:             logger,
	})
	manager := chanman.New(cfg)
	return New(Deps{
		Config:     cfg,
		Store:      store,
		Catalog:    catalog,
		Filter:     filter,
		Resolver:   resolver,
		Grouper:    channels.New(store, manager, cfg, logger),
		Reconciler: reconcile.New(store, manager, cfg, logger),
		Lock:       flock.New(filepath.Join(cfg.Paths.DataDir, "run.lock")),
		Logger:     logger,
	}), nil
}

type resolution struct {
	descriptor stream.Descriptor
	match      resolve.Match
	diag       *stream.Diagnostic
}

// Execute performs one run. A failed stream is recorded as a diagnostic and
// never aborts the run; only infrastructure failures (lock, store, catalog)
// do.
func (r *Runner) Execute(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)

	if r.lock != nil {
		ok, err := r.lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("another run holds the lock at %s", r.lock.Path())
		}
		defer func() { _ = r.lock.Unlock() }()
	}

	summary := &Summary{RunID: runID}

	before, err := r.reconciler.Run(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("pre-run reconciliation: %w", err)
	}
	summary.FindingsBefore = before

	descriptors, err := r.catalog.Streams(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stream catalog: %w", err)
	}
	summary.Streams = len(descriptors)
	logger.Info("run started", logging.Int("streams", len(descriptors)))

	resolutions, err := r.resolveAll(ctx, descriptors)
	if err != nil {
		return nil, err
	}

	// Grouping runs in catalog order so failover priorities reflect
	// discovery order deterministically.
	for _, res := range resolutions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if res.diag != nil {
			summary.Diagnostics = append(summary.Diagnostics, *res.diag)
			summary.Skipped++
			continue
		}
		streamCtx := services.WithGroupID(services.WithStreamID(ctx, res.descriptor.ID), res.descriptor.GroupID)
		outcome, diag, err := r.grouper.Apply(streamCtx, res.descriptor, res.match)
		if err != nil {
			logging.WithContext(streamCtx, r.logger).Error("apply stream", logging.Error(err))
			summary.Errors++
			continue
		}
		if diag != nil {
			summary.Diagnostics = append(summary.Diagnostics, *diag)
			summary.Skipped++
			continue
		}
		summary.Matched++
		if outcome.Created {
			summary.Created++
		} else if outcome.Attached {
			summary.Attached++
		}
	}

	deleted, err := r.grouper.ScheduledDeletes(ctx, r.now())
	if err != nil {
		return nil, fmt.Errorf("scheduled deletes: %w", err)
	}
	summary.Deleted = deleted

	after, err := r.reconciler.Run(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("post-run reconciliation: %w", err)
	}
	summary.FindingsAfter = after

	if err := r.store.SaveDiagnostics(ctx, runID, summary.Diagnostics); err != nil {
		return nil, fmt.Errorf("persist diagnostics: %w", err)
	}

	logger.Info("run finished",
		logging.Int("matched", summary.Matched),
		logging.Int("skipped", summary.Skipped),
		logging.Int("errors", summary.Errors),
		logging.Int("created", summary.Created),
		logging.Int("deleted", summary.Deleted),
	)
	return summary, nil
}

// resolveAll runs prefilter, label parsing, and resolution on a bounded
// worker pool. Results keep catalog order.
func (r *Runner) resolveAll(ctx context.Context, descriptors []stream.Descriptor) ([]resolution, error) {
	results := make([]resolution, len(descriptors))
	group, groupCtx := errgroup.WithContext(ctx)
	workers := r.cfg.Matching.Workers
	if workers <= 0 {
		workers = 1
	}
	group.SetLimit(workers)

	for i, d := range descriptors {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			results[i] = r.resolveOne(groupCtx, d)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) resolveOne(ctx context.Context, d stream.Descriptor) resolution {
	res := resolution{descriptor: d}
	if reason := r.filter.Check(d.Text); reason != "" {
		res.diag = &stream.Diagnostic{StreamID: d.ID, StreamText: d.Text, Reason: reason}
		return res
	}
	parsed, ok := label.Parse(d.Text, r.now())
	if !ok {
		res.diag = &stream.Diagnostic{StreamID: d.ID, StreamText: d.Text, Reason: stream.ReasonTeamsNotParsed}
		return res
	}
	match, diag := r.resolver.Resolve(ctx, d.Text, parsed)
	if diag != nil {
		diag.StreamID = d.ID
		res.diag = diag
		return res
	}
	res.match = match
	return res
}
