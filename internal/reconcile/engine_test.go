package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"lineup/internal/chanman"
	"lineup/internal/config"
	"lineup/internal/logging"
	"lineup/internal/registry"
	"lineup/internal/testsupport"
)

type fakeManager struct {
	nextID   int
	channels map[string]*chanman.Channel
	failAll  bool
}

func newFakeManager() *fakeManager {
	return &fakeManager{channels: make(map[string]*chanman.Channel)}
}

func (f *fakeManager) ListChannels(context.Context) ([]chanman.Channel, error) {
	out := make([]chanman.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, *ch)
	}
	return out, nil
}

func (f *fakeManager) CreateChannel(_ context.Context, name string, number int64, grouping, marker string) (string, error) {
	if f.failAll {
		return "", errors.New("manager down")
	}
	f.nextID++
	id := fmt.Sprintf("ext-%d", f.nextID)
	f.channels[id] = &chanman.Channel{ID: id, Marker: marker, Name: name, Number: number, Grouping: grouping}
	return id, nil
}

func (f *fakeManager) AssignStreams(_ context.Context, channelID string, ids []string) error {
	if f.failAll {
		return errors.New("manager down")
	}
	ch, ok := f.channels[channelID]
	if !ok {
		return errors.New("no such channel")
	}
	ch.Streams = ch.Streams[:0]
	for i, id := range ids {
		ch.Streams = append(ch.Streams, chanman.Stream{ID: id, Priority: i})
	}
	return nil
}

func (f *fakeManager) DeleteChannel(_ context.Context, channelID string) error {
	if f.failAll {
		return errors.New("manager down")
	}
	delete(f.channels, channelID)
	return nil
}

func (f *fakeManager) Marker(eventID string) string {
	return "lineup-event-" + eventID
}

// seed adds an external channel without going through CreateChannel.
func (f *fakeManager) seed(id, marker, name string, number int64, streamIDs ...string) {
	ch := &chanman.Channel{ID: id, Marker: marker, Name: name, Number: number, Grouping: "Sports"}
	for i, sid := range streamIDs {
		ch.Streams = append(ch.Streams, chanman.Stream{ID: sid, Priority: i})
	}
	f.channels[id] = ch
}

func newTestEngine(t *testing.T, mode string, ext External) (*Engine, *registry.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithGroups(config.Group{ID: 1, Name: "Sports", Mode: mode}))
	store := testsupport.MustOpenStore(t, cfg)
	return New(store, ext, cfg, logging.NewNop()), store
}

func seedChannel(t *testing.T, store *registry.Store, ext *fakeManager, eventID, externalID string, number int64, streamIDs ...string) *registry.Channel {
	t.Helper()
	ctx := context.Background()
	ch, err := store.CreateChannel(ctx, registry.Channel{
		Identity:   registry.Identity{GroupID: 1, EventID: eventID},
		League:     "nba",
		Sport:      "basketball",
		EventStart: time.Now().Add(time.Hour),
		Name:       "Los Angeles Lakers @ Boston Celtics",
		Number:     number,
		Marker:     "lineup-event-" + eventID,
	})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	for _, sid := range streamIDs {
		if _, err := store.AddStream(ctx, ch.ID, sid, registry.SourceOwnGroup); err != nil {
			t.Fatalf("add stream: %v", err)
		}
	}
	if externalID != "" {
		if err := store.SetExternal(ctx, ch.ID, externalID, number); err != nil {
			t.Fatalf("set external: %v", err)
		}
		ext.seed(externalID, ch.Marker, ch.Name, number, streamIDs...)
	}
	if err := store.Transition(ctx, ch.ID, registry.LifecycleInSync); err != nil {
		t.Fatalf("transition: %v", err)
	}
	refreshed, err := store.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	return refreshed
}

func findByCategory(findings []Finding, category Category) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

func TestCleanStateProducesNoFindings(t *testing.T) {
	ext := newFakeManager()
	engine, store := newTestEngine(t, "consolidate", ext)
	seedChannel(t, store, ext, "ev1", "ext-a", 8000, "s1", "s2")

	findings, err := engine.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %+v, want none", findings)
	}
}

func TestOrphanInternalReprovisioned(t *testing.T) {
	ext := newFakeManager()
	engine, store := newTestEngine(t, "consolidate", ext)
	ch := seedChannel(t, store, ext, "ev1", "ext-a", 8000, "s1")
	delete(ext.channels, "ext-a")

	findings, err := engine.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := findByCategory(findings, CategoryOrphanInternal)
	if len(got) != 1 || !got[0].Fixed {
		t.Fatalf("orphan_internal findings = %+v", got)
	}

	refreshed, err := store.GetChannel(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if refreshed.Lifecycle != registry.LifecycleInSync {
		t.Fatalf("lifecycle = %s, want in_sync", refreshed.Lifecycle)
	}
	recreated, ok := ext.channels[refreshed.ExternalID]
	if !ok {
		t.Fatalf("external channel %s not recreated", refreshed.ExternalID)
	}
	if len(recreated.Streams) != 1 || recreated.Streams[0].ID != "s1" {
		t.Fatalf("recreated streams = %+v", recreated.Streams)
	}
}

func TestOrphanExternalDeleted(t *testing.T) {
	ext := newFakeManager()
	engine, _ := newTestEngine(t, "consolidate", ext)
	ext.seed("ext-stray", "lineup-event-ev9", "Stray", 8100, "s9")

	findings, err := engine.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := findByCategory(findings, CategoryOrphanExternal)
	if len(got) != 1 || !got[0].Fixed {
		t.Fatalf("orphan_external findings = %+v", got)
	}
	if _, ok := ext.channels["ext-stray"]; ok {
		t.Fatal("stray external channel not deleted")
	}
}

func TestDuplicateMergeKeepsLowestNumber(t *testing.T) {
	ext := newFakeManager()
	engine, store := newTestEngine(t, "consolidate", ext)
	// Two registry channels for the same (group, event) with no separate or
	// keyword distinction: {A,B} on the keeper, {B,C} on the extra.
	keeper := seedChannel(t, store, ext, "ev1", "ext-a", 8000, "sA", "sB")

	extra, err := store.CreateChannel(context.Background(), registry.Channel{
		Identity:   registry.Identity{GroupID: 1, EventID: "ev1", PrimaryStreamID: "sB"},
		League:     "nba",
		Sport:      "basketball",
		EventStart: time.Now().Add(time.Hour),
		Name:       "Los Angeles Lakers @ Boston Celtics",
		Number:     8001,
		Marker:     "lineup-event-ev1",
	})
	if err != nil {
		t.Fatalf("create extra: %v", err)
	}
	for _, sid := range []string{"sB", "sC"} {
		if _, err := store.AddStream(context.Background(), extra.ID, sid, registry.SourceOwnGroup); err != nil {
			t.Fatalf("add stream: %v", err)
		}
	}
	if err := store.SetExternal(context.Background(), extra.ID, "ext-b", 8001); err != nil {
		t.Fatalf("set external: %v", err)
	}
	ext.seed("ext-b", "lineup-event-ev1", "Los Angeles Lakers @ Boston Celtics", 8001, "sB", "sC")
	if err := store.Transition(context.Background(), extra.ID, registry.LifecycleInSync); err != nil {
		t.Fatalf("transition: %v", err)
	}

	findings, err := engine.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := findByCategory(findings, CategoryDuplicate)
	if len(got) != 1 || !got[0].Fixed || got[0].ChannelID != keeper.ID {
		t.Fatalf("duplicate findings = %+v", got)
	}

	streams, err := store.Streams(context.Background(), keeper.ID)
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	want := map[string]bool{"sA": true, "sB": true, "sC": true}
	if len(streams) != 3 {
		t.Fatalf("merged streams = %+v, want sA sB sC", streams)
	}
	for _, s := range streams {
		if !want[s.StreamID] {
			t.Fatalf("unexpected stream %s after merge", s.StreamID)
		}
	}

	gone, err := store.GetChannel(context.Background(), extra.ID)
	if err != nil {
		t.Fatalf("get extra: %v", err)
	}
	if gone.Lifecycle != registry.LifecycleDeleted {
		t.Fatalf("extra lifecycle = %s, want deleted", gone.Lifecycle)
	}
	if _, ok := ext.channels["ext-b"]; ok {
		t.Fatal("extra external channel not deleted")
	}
	if merged := ext.channels["ext-a"]; len(merged.Streams) != 3 {
		t.Fatalf("external keeper streams = %+v, want 3", merged.Streams)
	}
}

func TestSeparateChannelsAreNotDuplicates(t *testing.T) {
	ext := newFakeManager()
	engine, store := newTestEngine(t, "separate", ext)
	for i, sid := range []string{"s1", "s2"} {
		ch, err := store.CreateChannel(context.Background(), registry.Channel{
			Identity:   registry.Identity{GroupID: 1, EventID: "ev1", PrimaryStreamID: sid},
			League:     "nba",
			Sport:      "basketball",
			EventStart: time.Now().Add(time.Hour),
			Name:       "Los Angeles Lakers @ Boston Celtics",
			Number:     int64(8000 + i),
			Marker:     "lineup-event-ev1",
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := store.AddStream(context.Background(), ch.ID, sid, registry.SourceOwnGroup); err != nil {
			t.Fatalf("add stream: %v", err)
		}
		extID := fmt.Sprintf("ext-%s", sid)
		if err := store.SetExternal(context.Background(), ch.ID, extID, ch.Number); err != nil {
			t.Fatalf("set external: %v", err)
		}
		ext.seed(extID, "lineup-event-ev1", ch.Name, ch.Number, sid)
		if err := store.Transition(context.Background(), ch.ID, registry.LifecycleInSync); err != nil {
			t.Fatalf("transition: %v", err)
		}
	}

	findings, err := engine.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %+v, want none", findings)
	}
}

func TestStreamDriftRestored(t *testing.T) {
	ext := newFakeManager()
	engine, store := newTestEngine(t, "consolidate", ext)
	ch := seedChannel(t, store, ext, "ev1", "ext-a", 8000, "s1", "s2")
	// Someone reordered the streams externally.
	ext.channels["ext-a"].Streams = []chanman.Stream{{ID: "s2", Priority: 0}, {ID: "s1", Priority: 1}}

	findings, err := engine.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := findByCategory(findings, CategoryDrift)
	if len(got) != 1 || !got[0].Fixed {
		t.Fatalf("drift findings = %+v", got)
	}
	restored := ext.channels["ext-a"].Streams
	if restored[0].ID != "s1" || restored[1].ID != "s2" {
		t.Fatalf("restored streams = %+v", restored)
	}

	refreshed, err := store.GetChannel(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if refreshed.Lifecycle != registry.LifecycleInSync {
		t.Fatalf("lifecycle = %s, want in_sync", refreshed.Lifecycle)
	}
}

func TestFieldDriftRebuildsExternal(t *testing.T) {
	ext := newFakeManager()
	engine, store := newTestEngine(t, "consolidate", ext)
	ch := seedChannel(t, store, ext, "ev1", "ext-a", 8000, "s1")
	ext.channels["ext-a"].Number = 9999

	findings, err := engine.Run(context.Background(), false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := findByCategory(findings, CategoryDrift)
	if len(got) != 1 || !got[0].Fixed {
		t.Fatalf("drift findings = %+v", got)
	}
	if _, ok := ext.channels["ext-a"]; ok {
		t.Fatal("drifted external channel not rebuilt")
	}

	refreshed, err := store.GetChannel(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	rebuilt, ok := ext.channels[refreshed.ExternalID]
	if !ok {
		t.Fatalf("rebuilt channel %s missing externally", refreshed.ExternalID)
	}
	if rebuilt.Number != 8000 {
		t.Fatalf("rebuilt number = %d, want 8000", rebuilt.Number)
	}
}

func TestDryRunMutatesNothing(t *testing.T) {
	ext := newFakeManager()
	engine, store := newTestEngine(t, "consolidate", ext)
	ch := seedChannel(t, store, ext, "ev1", "ext-a", 8000, "s1")
	delete(ext.channels, "ext-a")
	ext.seed("ext-stray", "lineup-event-ev9", "Stray", 8100)
	auditBefore, err := store.RecentAudit(context.Background(), 50)
	if err != nil {
		t.Fatalf("recent audit: %v", err)
	}

	findings, err := engine.Run(context.Background(), true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("findings = %+v, want 2", findings)
	}
	for _, f := range findings {
		if f.Fixed {
			t.Fatalf("dry run applied a fix: %+v", f)
		}
	}
	if _, ok := ext.channels["ext-stray"]; !ok {
		t.Fatal("dry run deleted an external channel")
	}
	refreshed, err := store.GetChannel(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if refreshed.Lifecycle != registry.LifecycleInSync {
		t.Fatalf("dry run changed lifecycle to %s", refreshed.Lifecycle)
	}
	auditAfter, err := store.RecentAudit(context.Background(), 50)
	if err != nil {
		t.Fatalf("recent audit: %v", err)
	}
	if len(auditAfter) != len(auditBefore) {
		t.Fatalf("dry run wrote audit rows: %d -> %d", len(auditBefore), len(auditAfter))
	}
}

func TestErroredChannelRetried(t *testing.T) {
	ext := newFakeManager()
	engine, store := newTestEngine(t, "consolidate", ext)
	ctx := context.Background()

	ch, err := store.CreateChannel(ctx, registry.Channel{
		Identity:   registry.Identity{GroupID: 1, EventID: "ev1"},
		League:     "nba",
		Sport:      "basketball",
		EventStart: time.Now().Add(time.Hour),
		Name:       "Los Angeles Lakers @ Boston Celtics",
		Number:     8000,
		Marker:     "lineup-event-ev1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.AddStream(ctx, ch.ID, "s1", registry.SourceOwnGroup); err != nil {
		t.Fatalf("add stream: %v", err)
	}
	if err := store.SetLastError(ctx, ch.ID, "manager rejected create"); err != nil {
		t.Fatalf("set last error: %v", err)
	}
	if err := store.Transition(ctx, ch.ID, registry.LifecycleError); err != nil {
		t.Fatalf("transition: %v", err)
	}

	findings, err := engine.Run(ctx, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("findings = %+v, want none", findings)
	}

	refreshed, err := store.GetChannel(ctx, ch.ID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if refreshed.Lifecycle != registry.LifecycleInSync {
		t.Fatalf("lifecycle = %s, want in_sync", refreshed.Lifecycle)
	}
	provisioned, ok := ext.channels[refreshed.ExternalID]
	if !ok {
		t.Fatal("errored channel not provisioned externally")
	}
	if len(provisioned.Streams) != 1 || provisioned.Streams[0].ID != "s1" {
		t.Fatalf("provisioned streams = %+v", provisioned.Streams)
	}
}
