package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"lineup/internal/config"
	"lineup/internal/logging"
	"lineup/internal/registry"
	"lineup/internal/resolve"
	"lineup/internal/sportsdata"
	"lineup/internal/stream"
	"lineup/internal/testsupport"
)

type createdChannel struct {
	ID       string
	Name     string
	Number   int64
	Grouping string
	Marker   string
}

type fakeExternal struct {
	mu         sync.Mutex
	nextID     int
	created    []createdChannel
	assigns    map[string][]string
	deleted    []string
	failCreate bool
	failAssign bool
	failDelete bool
}

func newFakeExternal() *fakeExternal {
	return &fakeExternal{assigns: make(map[string][]string)}
}

func (f *fakeExternal) CreateChannel(_ context.Context, name string, number int64, grouping, marker string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return "", errors.New("manager rejected create")
	}
	f.nextID++
	id := fmt.Sprintf("ext-%d", f.nextID)
	f.created = append(f.created, createdChannel{ID: id, Name: name, Number: number, Grouping: grouping, Marker: marker})
	return id, nil
}

func (f *fakeExternal) AssignStreams(_ context.Context, channelID string, orderedStreamIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAssign {
		return errors.New("manager rejected assignment")
	}
	f.assigns[channelID] = append([]string(nil), orderedStreamIDs...)
	return nil
}

func (f *fakeExternal) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return errors.New("manager rejected delete")
	}
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeExternal) Marker(eventID string) string {
	return "lineup-event-" + eventID
}

func newTestEngine(t *testing.T, groups []config.Group, ext External) (*Engine, *registry.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithGroups(groups...))
	store := testsupport.MustOpenStore(t, cfg)
	return New(store, ext, cfg, logging.NewNop()), store
}

func nbaMatch(eventID string, start time.Time) resolve.Match {
	return resolve.Match{
		Event: sportsdata.Event{
			ID:     eventID,
			League: "nba",
			Sport:  "basketball",
			Home:   sportsdata.Team{ID: "bos", Name: "Boston Celtics"},
			Away:   sportsdata.Team{ID: "lal", Name: "Los Angeles Lakers"},
			Start:  start,
		},
		League: sportsdata.League{Code: "nba", Sport: "basketball"},
		Tier:   "3b",
	}
}

func mustApply(t *testing.T, e *Engine, d stream.Descriptor, match resolve.Match) (*Outcome, *stream.Diagnostic) {
	t.Helper()
	outcome, diag, err := e.Apply(context.Background(), d, match)
	if err != nil {
		t.Fatalf("apply %s: %v", d.ID, err)
	}
	return outcome, diag
}

func streamIDs(t *testing.T, store *registry.Store, channelID int64) []string {
	t.Helper()
	streams, err := store.Streams(context.Background(), channelID)
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	ids := make([]string, 0, len(streams))
	for _, s := range streams {
		ids = append(ids, s.StreamID)
	}
	return ids
}

func TestConsolidateOneChannelManyStreams(t *testing.T) {
	ext := newFakeExternal()
	engine, store := newTestEngine(t, []config.Group{{ID: 1, Name: "Sports", Mode: "consolidate"}}, ext)
	start := time.Now().Add(2 * time.Hour)
	match := nbaMatch("ev1", start)

	first, diag := mustApply(t, engine, stream.Descriptor{ID: "s1", Text: "Lakers vs Celtics", GroupID: 1}, match)
	if diag != nil || !first.Created {
		t.Fatalf("first apply: created=%v diag=%+v", first.Created, diag)
	}
	for _, id := range []string{"s2", "s3"} {
		outcome, diag := mustApply(t, engine, stream.Descriptor{ID: id, Text: "Lakers vs Celtics HD", GroupID: 1}, match)
		if diag != nil || outcome.Created || !outcome.Attached {
			t.Fatalf("apply %s: %+v diag=%+v", id, outcome, diag)
		}
	}

	if len(ext.created) != 1 {
		t.Fatalf("external creates = %d, want 1", len(ext.created))
	}
	if ext.created[0].Marker != "lineup-event-ev1" {
		t.Fatalf("marker = %q", ext.created[0].Marker)
	}
	got := streamIDs(t, store, first.Channel.ID)
	want := []string{"s1", "s2", "s3"}
	if len(got) != len(want) {
		t.Fatalf("streams = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("streams = %v, want %v", got, want)
		}
	}
	if last := ext.assigns[ext.created[0].ID]; len(last) != 3 {
		t.Fatalf("last assignment = %v, want 3 streams", last)
	}

	ch, err := store.GetChannel(context.Background(), first.Channel.ID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if ch.Lifecycle != registry.LifecycleInSync {
		t.Fatalf("lifecycle = %s, want in_sync", ch.Lifecycle)
	}
}

func TestSeparateOneChannelPerStream(t *testing.T) {
	ext := newFakeExternal()
	engine, store := newTestEngine(t, []config.Group{{ID: 1, Name: "Sports", Mode: "separate"}}, ext)
	match := nbaMatch("ev1", time.Now().Add(time.Hour))

	var channels []*registry.Channel
	for _, id := range []string{"s1", "s2", "s3"} {
		outcome, diag := mustApply(t, engine, stream.Descriptor{ID: id, Text: "Lakers vs Celtics", GroupID: 1}, match)
		if diag != nil || !outcome.Created {
			t.Fatalf("apply %s: %+v diag=%+v", id, outcome, diag)
		}
		channels = append(channels, outcome.Channel)
	}

	if len(ext.created) != 3 {
		t.Fatalf("external creates = %d, want 3", len(ext.created))
	}
	numbers := map[int64]bool{}
	for i, ch := range channels {
		if ch.Marker != "lineup-event-ev1" {
			t.Fatalf("channel %d marker = %q", i, ch.Marker)
		}
		if numbers[ch.Number] {
			t.Fatalf("duplicate channel number %d", ch.Number)
		}
		numbers[ch.Number] = true
		if ids := streamIDs(t, store, ch.ID); len(ids) != 1 {
			t.Fatalf("channel %d streams = %v, want 1", i, ids)
		}
	}

	// Rerunning the same stream reuses its channel.
	again, diag := mustApply(t, engine, stream.Descriptor{ID: "s1", Text: "Lakers vs Celtics", GroupID: 1}, match)
	if diag != nil || again.Created {
		t.Fatalf("rerun created a channel: %+v diag=%+v", again, diag)
	}
	if again.Channel.ID != channels[0].ID {
		t.Fatalf("rerun channel = %d, want %d", again.Channel.ID, channels[0].ID)
	}
}

func TestIgnoreDropsLaterStreams(t *testing.T) {
	ext := newFakeExternal()
	engine, _ := newTestEngine(t, []config.Group{{ID: 1, Name: "Sports", Mode: "ignore"}}, ext)
	match := nbaMatch("ev1", time.Now().Add(time.Hour))

	first, diag := mustApply(t, engine, stream.Descriptor{ID: "s1", Text: "Lakers vs Celtics", GroupID: 1}, match)
	if diag != nil || !first.Created {
		t.Fatalf("first apply: %+v diag=%+v", first, diag)
	}

	_, diag = mustApply(t, engine, stream.Descriptor{ID: "s2", Text: "Lakers vs Celtics HD", GroupID: 1}, match)
	if diag == nil || diag.Reason != stream.ReasonDuplicateEvent {
		t.Fatalf("second apply diag = %+v, want DUPLICATE_EVENT", diag)
	}
	if len(ext.created) != 1 {
		t.Fatalf("external creates = %d, want 1", len(ext.created))
	}
}

func TestKeywordIgnoreDropsStream(t *testing.T) {
	ext := newFakeExternal()
	groups := []config.Group{{
		ID: 1, Name: "Sports", Mode: "consolidate",
		Keywords: []config.Keyword{{Variants: []string{"Spanish"}, Behavior: "ignore"}},
	}}
	engine, _ := newTestEngine(t, groups, ext)
	match := nbaMatch("ev1", time.Now().Add(time.Hour))

	_, diag := mustApply(t, engine, stream.Descriptor{ID: "s1", Text: "Lakers vs Celtics (Spanish)", GroupID: 1}, match)
	if diag == nil || diag.Reason != stream.ReasonIgnoredByRule {
		t.Fatalf("diag = %+v, want IGNORED_BY_RULE", diag)
	}
	if len(ext.created) != 0 {
		t.Fatalf("external creates = %d, want 0", len(ext.created))
	}
}

func TestKeywordSeparateNeverMerges(t *testing.T) {
	ext := newFakeExternal()
	groups := []config.Group{{
		ID: 1, Name: "Sports", Mode: "consolidate",
		Keywords: []config.Keyword{{Variants: []string{"Multicam"}, Behavior: "separate"}},
	}}
	engine, store := newTestEngine(t, groups, ext)
	match := nbaMatch("ev1", time.Now().Add(time.Hour))

	a, diag := mustApply(t, engine, stream.Descriptor{ID: "s1", Text: "Lakers vs Celtics Multicam 1", GroupID: 1}, match)
	if diag != nil || !a.Created {
		t.Fatalf("first multicam: %+v diag=%+v", a, diag)
	}
	b, diag := mustApply(t, engine, stream.Descriptor{ID: "s2", Text: "Lakers vs Celtics Multicam 2", GroupID: 1}, match)
	if diag != nil || !b.Created {
		t.Fatalf("second multicam: %+v diag=%+v", b, diag)
	}
	if a.Channel.ID == b.Channel.ID {
		t.Fatal("keyword separate streams merged into one channel")
	}
	if a.Channel.Identity.PrimaryStreamID != "s1" || b.Channel.Identity.PrimaryStreamID != "s2" {
		t.Fatalf("primary stream ids = %q, %q", a.Channel.Identity.PrimaryStreamID, b.Channel.Identity.PrimaryStreamID)
	}

	// A plain stream still follows the group default.
	c, diag := mustApply(t, engine, stream.Descriptor{ID: "s3", Text: "Lakers vs Celtics", GroupID: 1}, match)
	if diag != nil || !c.Created {
		t.Fatalf("plain stream: %+v diag=%+v", c, diag)
	}
	if ids := streamIDs(t, store, c.Channel.ID); len(ids) != 1 {
		t.Fatalf("plain channel streams = %v", ids)
	}
}

func TestKeywordConsolidateMergesVariants(t *testing.T) {
	ext := newFakeExternal()
	groups := []config.Group{{
		ID: 1, Name: "Sports", Mode: "consolidate",
		Keywords: []config.Keyword{{Variants: []string{"4K", "UHD", "2160p"}, Behavior: "consolidate"}},
	}}
	engine, store := newTestEngine(t, groups, ext)
	match := nbaMatch("ev1", time.Now().Add(time.Hour))

	a, diag := mustApply(t, engine, stream.Descriptor{ID: "s1", Text: "Lakers vs Celtics 4K", GroupID: 1}, match)
	if diag != nil || !a.Created {
		t.Fatalf("4K stream: %+v diag=%+v", a, diag)
	}
	b, diag := mustApply(t, engine, stream.Descriptor{ID: "s2", Text: "Lakers vs Celtics UHD", GroupID: 1}, match)
	if diag != nil || b.Created {
		t.Fatalf("UHD stream should merge: %+v diag=%+v", b, diag)
	}
	if b.Channel.ID != a.Channel.ID {
		t.Fatalf("UHD channel = %d, want %d", b.Channel.ID, a.Channel.ID)
	}
	if a.Channel.Identity.CanonicalKeyword != "4K" {
		t.Fatalf("canonical keyword = %q, want 4K", a.Channel.Identity.CanonicalKeyword)
	}
	if a.Channel.Name != "Los Angeles Lakers @ Boston Celtics (4K)" {
		t.Fatalf("name = %q", a.Channel.Name)
	}

	// The plain-quality stream gets its own channel.
	c, diag := mustApply(t, engine, stream.Descriptor{ID: "s3", Text: "Lakers vs Celtics", GroupID: 1}, match)
	if diag != nil || !c.Created {
		t.Fatalf("plain stream: %+v diag=%+v", c, diag)
	}
	if c.Channel.ID == a.Channel.ID {
		t.Fatal("plain stream merged into keyword channel")
	}
	if ids := streamIDs(t, store, a.Channel.ID); len(ids) != 2 {
		t.Fatalf("keyword channel streams = %v, want 2", ids)
	}
}

func TestChildSeparateStreamNeverMerges(t *testing.T) {
	ext := newFakeExternal()
	groups := []config.Group{
		{
			ID: 1, Name: "Sports", Mode: "consolidate",
			Keywords: []config.Keyword{{Variants: []string{"Multicam"}, Behavior: "separate"}},
		},
		{ID: 2, Name: "Sports Backup", Mode: "consolidate", Parent: 1},
	}
	engine, store := newTestEngine(t, groups, ext)
	match := nbaMatch("ev1", time.Now().Add(time.Hour))

	parent, diag := mustApply(t, engine, stream.Descriptor{ID: "p1", Text: "Lakers vs Celtics Multicam 1", GroupID: 1}, match)
	if diag != nil || !parent.Created {
		t.Fatalf("parent apply: %+v diag=%+v", parent, diag)
	}

	// A separate decision owns its channel per stream; the child stream
	// must not ride along on p1's channel even though it exists.
	_, diag = mustApply(t, engine, stream.Descriptor{ID: "c1", Text: "Lakers vs Celtics Multicam 2", GroupID: 2}, match)
	if diag == nil || diag.Reason != stream.ReasonChildNoParentChannel {
		t.Fatalf("diag = %+v, want CHILD_NO_PARENT_CHANNEL", diag)
	}
	got := streamIDs(t, store, parent.Channel.ID)
	if len(got) != 1 || got[0] != "p1" {
		t.Fatalf("parent channel streams = %v, want [p1]", got)
	}
	if len(ext.created) != 1 {
		t.Fatalf("external creates = %d, want 1", len(ext.created))
	}
}

func TestChildGroupAttachesNeverCreates(t *testing.T) {
	ext := newFakeExternal()
	groups := []config.Group{
		{ID: 1, Name: "Sports", Mode: "consolidate"},
		{ID: 2, Name: "Sports Backup", Mode: "consolidate", Parent: 1},
	}
	engine, store := newTestEngine(t, groups, ext)
	match := nbaMatch("ev1", time.Now().Add(time.Hour))

	// No parent channel yet: the child stream is dropped.
	_, diag := mustApply(t, engine, stream.Descriptor{ID: "c1", Text: "Lakers vs Celtics", GroupID: 2}, match)
	if diag == nil || diag.Reason != stream.ReasonChildNoParentChannel {
		t.Fatalf("diag = %+v, want CHILD_NO_PARENT_CHANNEL", diag)
	}

	parent, diag := mustApply(t, engine, stream.Descriptor{ID: "p1", Text: "Lakers vs Celtics", GroupID: 1}, match)
	if diag != nil || !parent.Created {
		t.Fatalf("parent apply: %+v diag=%+v", parent, diag)
	}

	child, diag := mustApply(t, engine, stream.Descriptor{ID: "c1", Text: "Lakers vs Celtics", GroupID: 2}, match)
	if diag != nil || child.Created || !child.Attached {
		t.Fatalf("child apply: %+v diag=%+v", child, diag)
	}
	if child.Channel.ID != parent.Channel.ID {
		t.Fatalf("child attached to %d, want %d", child.Channel.ID, parent.Channel.ID)
	}

	// A later own-group stream still orders before the child contribution.
	_, diag = mustApply(t, engine, stream.Descriptor{ID: "p2", Text: "Lakers vs Celtics HD", GroupID: 1}, match)
	if diag != nil {
		t.Fatalf("second parent stream diag = %+v", diag)
	}
	got := streamIDs(t, store, parent.Channel.ID)
	want := []string{"p1", "p2", "c1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stream order = %v, want %v", got, want)
		}
	}
	if len(ext.created) != 1 {
		t.Fatalf("external creates = %d, want 1", len(ext.created))
	}
}

func TestExternalCreateFailureParksChannel(t *testing.T) {
	ext := newFakeExternal()
	ext.failCreate = true
	engine, store := newTestEngine(t, []config.Group{{ID: 1, Name: "Sports", Mode: "consolidate"}}, ext)
	match := nbaMatch("ev1", time.Now().Add(time.Hour))

	outcome, diag := mustApply(t, engine, stream.Descriptor{ID: "s1", Text: "Lakers vs Celtics", GroupID: 1}, match)
	if diag != nil {
		t.Fatalf("diag = %+v", diag)
	}
	if outcome.Channel.Lifecycle != registry.LifecycleError {
		t.Fatalf("lifecycle = %s, want error", outcome.Channel.Lifecycle)
	}
	if outcome.Channel.LastError == "" {
		t.Fatal("last error not recorded")
	}

	// The registry entry survives for reconciliation to retry.
	found, err := store.FindByIdentity(context.Background(), registry.Identity{GroupID: 1, EventID: "ev1"})
	if err != nil || found == nil {
		t.Fatalf("find parked channel: %v %v", found, err)
	}
}

func TestScheduledDeletes(t *testing.T) {
	ext := newFakeExternal()
	engine, store := newTestEngine(t, []config.Group{{ID: 1, Name: "Sports", Mode: "consolidate"}}, ext)
	// Event started long enough ago that the retention window has passed.
	match := nbaMatch("ev1", time.Now().Add(-8*time.Hour))

	outcome, diag := mustApply(t, engine, stream.Descriptor{ID: "s1", Text: "Lakers vs Celtics", GroupID: 1}, match)
	if diag != nil {
		t.Fatalf("diag = %+v", diag)
	}

	deleted, err := engine.ScheduledDeletes(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("scheduled deletes: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if len(ext.deleted) != 1 || ext.deleted[0] != outcome.Channel.ExternalID {
		t.Fatalf("external deletes = %v", ext.deleted)
	}
	ch, err := store.GetChannel(context.Background(), outcome.Channel.ID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if ch.Lifecycle != registry.LifecycleDeleted {
		t.Fatalf("lifecycle = %s, want deleted", ch.Lifecycle)
	}
}
