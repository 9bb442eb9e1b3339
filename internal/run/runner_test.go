package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lineup/internal/channels"
	"lineup/internal/label"
	"lineup/internal/logging"
	"lineup/internal/prefilter"
	"lineup/internal/reconcile"
	"lineup/internal/registry"
	"lineup/internal/resolve"
	"lineup/internal/sportsdata"
	"lineup/internal/stream"
	"lineup/internal/testsupport"
)

type fakeResolver struct {
	fail map[string]stream.Reason
}

func (f *fakeResolver) Resolve(_ context.Context, text string, _ label.Parsed) (resolve.Match, *stream.Diagnostic) {
	if reason, ok := f.fail[text]; ok {
		return resolve.Match{}, &stream.Diagnostic{StreamText: text, Reason: reason}
	}
	return resolve.Match{
		Event:  sportsdata.Event{ID: "ev1", League: "nba"},
		League: sportsdata.League{Code: "nba", Sport: "basketball"},
		Tier:   "1",
	}, nil
}

type fakeGrouper struct {
	mu      sync.Mutex
	applied []string
	failID  string
	deletes int
}

func (f *fakeGrouper) Apply(_ context.Context, d stream.Descriptor, _ resolve.Match) (*channels.Outcome, *stream.Diagnostic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == f.failID {
		return nil, nil, errors.New("store unavailable")
	}
	f.applied = append(f.applied, d.ID)
	return &channels.Outcome{Created: true, Attached: true}, nil, nil
}

func (f *fakeGrouper) ScheduledDeletes(context.Context, time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return 2, nil
}

type fakeReconciler struct {
	mu     sync.Mutex
	passes int
}

func (f *fakeReconciler) Run(context.Context, bool) ([]reconcile.Finding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passes++
	return nil, nil
}

func newTestRunner(t *testing.T, catalog Catalog, resolver Resolver, grouper Grouper, reconciler Reconciler) (*Runner, *registry.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	filter, err := prefilter.New(cfg.Prefilter)
	if err != nil {
		t.Fatalf("prefilter: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)

	return New(Deps{
		Config:     cfg,
		Store:      store,
		Catalog:    catalog,
		Filter:     filter,
		Resolver:   resolver,
		Grouper:    grouper,
		Reconciler: reconciler,
		Logger:     logging.NewNop(),
	}), store
}

func TestExecutePipeline(t *testing.T) {
	catalog := StaticCatalog{
		{ID: "s1", Text: "Lakers vs Celtics", GroupID: 1},
		{ID: "s2", Text: "NHL Pregame Show", GroupID: 1},
		{ID: "s3", Text: "Foo vs Bar", GroupID: 1},
	}
	resolver := &fakeResolver{fail: map[string]stream.Reason{"Foo vs Bar": stream.ReasonNoLeagueDetected}}
	grouper := &fakeGrouper{}
	reconciler := &fakeReconciler{}
	runner, store := newTestRunner(t, catalog, resolver, grouper, reconciler)

	summary, err := runner.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if summary.Streams != 3 || summary.Matched != 1 || summary.Skipped != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.Deleted != 2 {
		t.Fatalf("deleted = %d, want 2", summary.Deleted)
	}
	if reconciler.passes != 2 {
		t.Fatalf("reconciliation passes = %d, want 2 (before and after)", reconciler.passes)
	}
	if len(grouper.applied) != 1 || grouper.applied[0] != "s1" {
		t.Fatalf("applied = %v, want [s1]", grouper.applied)
	}
	if grouper.deletes != 1 {
		t.Fatalf("scheduled delete passes = %d, want 1", grouper.deletes)
	}

	// Diagnostics for the skipped streams are persisted under the run id.
	stored, err := store.DiagnosticsForRun(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored diagnostics = %d, want 2", len(stored))
	}
	reasons := map[string]bool{}
	for _, d := range stored {
		reasons[d.Reason] = true
	}
	if !reasons[string(stream.ReasonNonMatchupContent)] || !reasons[string(stream.ReasonNoLeagueDetected)] {
		t.Fatalf("stored reasons = %v", reasons)
	}
}

func TestExecuteStreamErrorDoesNotAbort(t *testing.T) {
	catalog := StaticCatalog{
		{ID: "s1", Text: "Lakers vs Celtics", GroupID: 1},
		{ID: "s2", Text: "Knicks vs Nets", GroupID: 1},
	}
	grouper := &fakeGrouper{failID: "s1"}
	runner, _ := newTestRunner(t, catalog, &fakeResolver{}, grouper, &fakeReconciler{})

	summary, err := runner.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if summary.Errors != 1 || summary.Matched != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(grouper.applied) != 1 || grouper.applied[0] != "s2" {
		t.Fatalf("applied = %v, want [s2]", grouper.applied)
	}
}

func TestExecutePreservesCatalogOrder(t *testing.T) {
	var catalog StaticCatalog
	want := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("stream-%02d", i)
		catalog = append(catalog, stream.Descriptor{ID: id, Text: "Lakers vs Celtics", GroupID: 1})
		want = append(want, id)
	}
	grouper := &fakeGrouper{}
	runner, _ := newTestRunner(t, catalog, &fakeResolver{}, grouper, &fakeReconciler{})

	if _, err := runner.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(grouper.applied) != len(want) {
		t.Fatalf("applied %d streams, want %d", len(grouper.applied), len(want))
	}
	for i := range want {
		if grouper.applied[i] != want[i] {
			t.Fatalf("apply order[%d] = %s, want %s", i, grouper.applied[i], want[i])
		}
	}
}

func TestFileCatalog(t *testing.T) {
	path := testsupport.WriteCatalog(t, t.TempDir(), []stream.Descriptor{
		{ID: "s1", Text: "Lakers vs Celtics", GroupID: 1},
		{ID: "s2", Text: "Bruins at Rangers 7:00 PM", GroupID: 2},
	})

	streams, err := NewFileCatalog(path).Streams(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("streams = %+v", streams)
	}
	if streams[1].ID != "s2" || streams[1].GroupID != 2 {
		t.Fatalf("streams[1] = %+v", streams[1])
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"text": "no id"}]`), 0o644); err != nil {
		t.Fatalf("write bad catalog: %v", err)
	}
	if _, err := NewFileCatalog(bad).Streams(context.Background()); err == nil {
		t.Fatal("expected error for descriptor without id")
	}
}
