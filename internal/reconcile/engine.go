// Package reconcile detects and repairs divergence between the channel
// registry and the external channel manager. The external marker is the sole
// join key: only channels carrying this system's marker are considered.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"lineup/internal/chanman"
	"lineup/internal/config"
	"lineup/internal/logging"
	"lineup/internal/policy"
	"lineup/internal/registry"
)

// Category classifies one reconciliation finding.
type Category string

const (
	// CategoryOrphanInternal is a registry channel whose external id no
	// longer resolves in the external system.
	CategoryOrphanInternal Category = "orphan_internal"
	// CategoryOrphanExternal is an external channel carrying this system's
	// marker with no registry entry behind it.
	CategoryOrphanExternal Category = "orphan_external"
	// CategoryDuplicate is more than one channel for the same (group, event)
	// outside valid separate or keyword-distinct cases, or a surplus external
	// copy sharing a marker with a registry-backed channel.
	CategoryDuplicate Category = "duplicate"
	// CategoryDrift is a field-level mismatch between registry expectation
	// and external actual.
	CategoryDrift Category = "drift"
)

// Finding is one detected inconsistency and whether it was repaired.
type Finding struct {
	Category   Category
	ChannelID  int64
	ExternalID string
	Detail     string
	Fixed      bool
}

// External is the slice of the channel manager the engine needs.
// *chanman.Client satisfies it.
type External interface {
	ListChannels(ctx context.Context) ([]chanman.Channel, error)
	CreateChannel(ctx context.Context, name string, number int64, grouping, marker string) (string, error)
	AssignStreams(ctx context.Context, channelID string, orderedStreamIDs []string) error
	DeleteChannel(ctx context.Context, channelID string) error
	Marker(eventID string) string
}

// Engine runs reconciliation passes.
type Engine struct {
	store    *registry.Store
	external External
	groups   *policy.GroupSet
	action   func(category string) policy.FixAction
	logger   *slog.Logger
}

// New builds an engine from validated configuration.
func New(store *registry.Store, external External, cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:    store,
		external: external,
		groups:   cfg.GroupSet(),
		action:   cfg.FixActionFor,
		logger:   logging.NewComponentLogger(logger, "reconcile"),
	}
}

// Run snapshots both sides, classifies inconsistencies, and applies fixes
// per the configured per-category policy. In dry-run mode nothing is
// mutated anywhere; findings report what a real pass would do.
func (e *Engine) Run(ctx context.Context, dryRun bool) ([]Finding, error) {
	if !dryRun {
		if err := e.retryErrored(ctx); err != nil {
			return nil, err
		}
	}

	live, err := e.store.Live(ctx)
	if err != nil {
		return nil, err
	}
	external, err := e.external.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list external channels: %w", err)
	}

	extByID := make(map[string]chanman.Channel, len(external))
	for _, ch := range external {
		extByID[ch.ID] = ch
	}
	claimed := make(map[string]int64, len(live))
	for _, ch := range live {
		if ch.ExternalID != "" {
			claimed[ch.ExternalID] = ch.ID
		}
	}

	var findings []Finding
	collect := func(f Finding) { findings = append(findings, f) }

	dupes, err := e.internalDuplicates(ctx, live, extByID, dryRun)
	if err != nil {
		return nil, err
	}
	for _, f := range dupes {
		collect(f)
	}

	// Duplicate merging may have deleted registry channels; reload.
	if len(dupes) > 0 && !dryRun {
		if live, err = e.store.Live(ctx); err != nil {
			return nil, err
		}
		claimed = make(map[string]int64, len(live))
		for _, ch := range live {
			if ch.ExternalID != "" {
				claimed[ch.ExternalID] = ch.ID
			}
		}
	}

	for _, ch := range live {
		if ch.Lifecycle == registry.LifecycleError || ch.ExternalID == "" {
			continue
		}
		ext, ok := extByID[ch.ExternalID]
		if !ok {
			f, err := e.fixOrphanInternal(ctx, ch, dryRun)
			if err != nil {
				return nil, err
			}
			collect(f)
			continue
		}
		f, found, err := e.checkDrift(ctx, ch, ext, dryRun)
		if err != nil {
			return nil, err
		}
		if found {
			collect(f)
		}
	}

	for _, ext := range external {
		if _, present := extByID[ext.ID]; !present {
			// Deleted during duplicate merging above.
			continue
		}
		if _, ok := claimed[ext.ID]; ok {
			continue
		}
		f, err := e.fixUnclaimedExternal(ctx, ext, claimedMarkers(live), dryRun)
		if err != nil {
			return nil, err
		}
		collect(f)
	}

	e.logger.Info("reconciliation pass complete",
		logging.Int("findings", len(findings)),
		logging.Bool("dry_run", dryRun),
	)
	return findings, nil
}

// retryErrored re-provisions channels parked in the error lifecycle by a
// failed external write.
func (e *Engine) retryErrored(ctx context.Context) error {
	errored, err := e.store.List(ctx, registry.LifecycleError)
	if err != nil {
		return err
	}
	for _, ch := range errored {
		if err := e.provision(ctx, ch); err != nil {
			e.logger.Warn("retry errored channel",
				logging.Int64(logging.FieldChannelID, ch.ID),
				logging.Error(err),
			)
			_ = e.store.SetLastError(ctx, ch.ID, err.Error())
			continue
		}
		if err := e.store.Transition(ctx, ch.ID, registry.LifecycleInSync); err != nil {
			return err
		}
		e.logger.Info("errored channel recovered", logging.Int64(logging.FieldChannelID, ch.ID))
	}
	return nil
}

// provision creates the external channel if missing and pushes the
// registry's stream assignment.
func (e *Engine) provision(ctx context.Context, ch *registry.Channel) error {
	externalID := ch.ExternalID
	if externalID == "" {
		grouping := e.groupingFor(ch.Identity.GroupID)
		id, err := e.external.CreateChannel(ctx, ch.Name, ch.Number, grouping, ch.Marker)
		if err != nil {
			return err
		}
		if err := e.store.SetExternal(ctx, ch.ID, id, ch.Number); err != nil {
			return err
		}
		externalID = id
	}
	ids, err := e.registryStreamIDs(ctx, ch.ID)
	if err != nil {
		return err
	}
	return e.external.AssignStreams(ctx, externalID, ids)
}

// internalDuplicates finds registry channels that collide on (group, event)
// outside valid separate or keyword-distinct cases. The fix keeps the
// lowest-numbered channel, merges the others' streams into it, and removes
// the rest; no stream is lost.
func (e *Engine) internalDuplicates(ctx context.Context, live []*registry.Channel, extByID map[string]chanman.Channel, dryRun bool) ([]Finding, error) {
	type bucketKey struct {
		group     int64
		event     string
		canonical string
	}
	buckets := make(map[bucketKey][]*registry.Channel)
	for _, ch := range live {
		key := bucketKey{ch.Identity.GroupID, ch.Identity.EventID, strings.ToLower(ch.Identity.CanonicalKeyword)}
		buckets[key] = append(buckets[key], ch)
	}

	var findings []Finding
	for key, set := range buckets {
		if len(set) < 2 {
			continue
		}
		if e.separateAllowed(key.group, set) {
			continue
		}
		sort.Slice(set, func(i, j int) bool { return set[i].Number < set[j].Number })
		keeper, extras := set[0], set[1:]
		detail := fmt.Sprintf("%d channels for group %d event %s; keeping #%d", len(set), key.group, key.event, keeper.Number)
		finding := Finding{Category: CategoryDuplicate, ChannelID: keeper.ID, ExternalID: keeper.ExternalID, Detail: detail}

		if !dryRun && e.action(string(CategoryDuplicate)) == policy.FixActionFix {
			for _, extra := range extras {
				if err := e.store.MoveStreams(ctx, extra.ID, keeper.ID); err != nil {
					return nil, err
				}
				if extra.ExternalID != "" {
					if err := e.external.DeleteChannel(ctx, extra.ExternalID); err != nil {
						return nil, fmt.Errorf("delete duplicate channel: %w", err)
					}
					delete(extByID, extra.ExternalID)
				}
				if err := e.store.Transition(ctx, extra.ID, registry.LifecycleDeleted); err != nil {
					return nil, err
				}
			}
			if keeper.ExternalID != "" {
				ids, err := e.registryStreamIDs(ctx, keeper.ID)
				if err != nil {
					return nil, err
				}
				if err := e.external.AssignStreams(ctx, keeper.ExternalID, ids); err != nil {
					return nil, fmt.Errorf("reassign merged streams: %w", err)
				}
			}
			finding.Fixed = true
		}
		if !dryRun {
			if err := e.audit(ctx, keeper.ID, CategoryDuplicate, detail, finding.Fixed); err != nil {
				return nil, err
			}
		}
		findings = append(findings, finding)
	}
	return findings, nil
}

// separateAllowed reports whether multiple channels for one (group, event)
// are legitimate under the group's current policy: a separate mode, or a
// separate keyword decision, keeps one channel per stream.
func (e *Engine) separateAllowed(groupID int64, set []*registry.Channel) bool {
	primaries := make(map[string]struct{}, len(set))
	for _, ch := range set {
		if ch.Identity.PrimaryStreamID == "" {
			return false
		}
		if _, dup := primaries[ch.Identity.PrimaryStreamID]; dup {
			return false
		}
		primaries[ch.Identity.PrimaryStreamID] = struct{}{}
	}
	group, ok := e.groups.Get(groupID)
	if !ok {
		return false
	}
	if group.Mode == policy.ModeSeparate {
		return true
	}
	for _, rule := range e.groups.RulesFor(groupID) {
		if rule.Behavior == policy.BehaviorSeparate {
			return true
		}
	}
	return false
}

// fixOrphanInternal handles a registry channel whose external id vanished.
// Report marks it orphaned; fix re-provisions the external side and returns
// the channel to in_sync.
func (e *Engine) fixOrphanInternal(ctx context.Context, ch *registry.Channel, dryRun bool) (Finding, error) {
	detail := fmt.Sprintf("external id %s not found", ch.ExternalID)
	finding := Finding{Category: CategoryOrphanInternal, ChannelID: ch.ID, ExternalID: ch.ExternalID, Detail: detail}
	if dryRun {
		return finding, nil
	}

	if registry.CanTransition(ch.Lifecycle, registry.LifecycleOrphaned) {
		if err := e.store.Transition(ctx, ch.ID, registry.LifecycleOrphaned); err != nil {
			return finding, err
		}
	}
	if e.action(string(CategoryOrphanInternal)) == policy.FixActionFix {
		fresh := *ch
		fresh.ExternalID = ""
		if err := e.provision(ctx, &fresh); err != nil {
			_ = e.store.SetLastError(ctx, ch.ID, err.Error())
			return finding, nil
		}
		if err := e.store.Transition(ctx, ch.ID, registry.LifecycleInSync); err != nil {
			return finding, err
		}
		finding.Fixed = true
	}
	return finding, e.audit(ctx, ch.ID, CategoryOrphanInternal, detail, finding.Fixed)
}

// checkDrift compares a registry channel against its external counterpart.
// Stream-set drift is restored in place via assignment; name, number, or
// grouping drift rebuilds the external channel, since the external interface
// has no update call.
func (e *Engine) checkDrift(ctx context.Context, ch *registry.Channel, ext chanman.Channel, dryRun bool) (Finding, bool, error) {
	wantStreams, err := e.registryStreamIDs(ctx, ch.ID)
	if err != nil {
		return Finding{}, false, err
	}
	gotStreams := externalStreamIDs(ext)

	var diffs []string
	if ext.Name != ch.Name {
		diffs = append(diffs, fmt.Sprintf("name %q != %q", ext.Name, ch.Name))
	}
	if ext.Number != ch.Number {
		diffs = append(diffs, fmt.Sprintf("number %d != %d", ext.Number, ch.Number))
	}
	if grouping := e.groupingFor(ch.Identity.GroupID); ext.Grouping != "" && ext.Grouping != grouping {
		diffs = append(diffs, fmt.Sprintf("grouping %q != %q", ext.Grouping, grouping))
	}
	streamDrift := !equalStrings(gotStreams, wantStreams)
	if streamDrift {
		diffs = append(diffs, fmt.Sprintf("streams %v != %v", gotStreams, wantStreams))
	}
	if len(diffs) == 0 {
		return Finding{}, false, nil
	}

	detail := strings.Join(diffs, "; ")
	finding := Finding{Category: CategoryDrift, ChannelID: ch.ID, ExternalID: ch.ExternalID, Detail: detail}
	if dryRun {
		return finding, true, nil
	}

	if registry.CanTransition(ch.Lifecycle, registry.LifecycleDrifted) {
		if err := e.store.Transition(ctx, ch.ID, registry.LifecycleDrifted); err != nil {
			return finding, true, err
		}
	}
	if e.action(string(CategoryDrift)) == policy.FixActionFix {
		fieldDrift := len(diffs) > 1 || !streamDrift
		if fieldDrift {
			if err := e.rebuildExternal(ctx, ch, wantStreams); err != nil {
				_ = e.store.SetLastError(ctx, ch.ID, err.Error())
				return finding, true, nil
			}
		} else if err := e.external.AssignStreams(ctx, ch.ExternalID, wantStreams); err != nil {
			_ = e.store.SetLastError(ctx, ch.ID, err.Error())
			return finding, true, nil
		}
		if err := e.store.Transition(ctx, ch.ID, registry.LifecycleInSync); err != nil {
			return finding, true, err
		}
		finding.Fixed = true
	}
	return finding, true, e.audit(ctx, ch.ID, CategoryDrift, detail, finding.Fixed)
}

// rebuildExternal replaces the external channel with one matching the
// registry's expectation.
func (e *Engine) rebuildExternal(ctx context.Context, ch *registry.Channel, streamIDs []string) error {
	if err := e.external.DeleteChannel(ctx, ch.ExternalID); err != nil {
		return err
	}
	grouping := e.groupingFor(ch.Identity.GroupID)
	id, err := e.external.CreateChannel(ctx, ch.Name, ch.Number, grouping, ch.Marker)
	if err != nil {
		return err
	}
	if err := e.store.SetExternal(ctx, ch.ID, id, ch.Number); err != nil {
		return err
	}
	return e.external.AssignStreams(ctx, id, streamIDs)
}

// fixUnclaimedExternal handles an external channel no registry entry points
// at. A marker already claimed by a registry-backed channel makes it a
// surplus duplicate copy; otherwise it is an external orphan. Fix deletes
// the external channel either way.
func (e *Engine) fixUnclaimedExternal(ctx context.Context, ext chanman.Channel, markers map[string]struct{}, dryRun bool) (Finding, error) {
	category := CategoryOrphanExternal
	detail := fmt.Sprintf("external channel %s (%q) has no registry entry", ext.ID, ext.Name)
	if _, ok := markers[ext.Marker]; ok {
		category = CategoryDuplicate
		detail = fmt.Sprintf("external channel %s duplicates marker %s", ext.ID, ext.Marker)
	}
	finding := Finding{Category: category, ExternalID: ext.ID, Detail: detail}
	if dryRun {
		return finding, nil
	}

	if e.action(string(category)) == policy.FixActionFix {
		if err := e.external.DeleteChannel(ctx, ext.ID); err != nil {
			return finding, fmt.Errorf("delete unclaimed channel: %w", err)
		}
		finding.Fixed = true
	}
	return finding, e.audit(ctx, 0, category, detail, finding.Fixed)
}

func (e *Engine) audit(ctx context.Context, channelID int64, category Category, detail string, fixed bool) error {
	suffix := "reported"
	if fixed {
		suffix = "fixed"
	}
	return e.store.AppendAudit(ctx, channelID, string(category), detail+" ("+suffix+")", "", "")
}

func (e *Engine) registryStreamIDs(ctx context.Context, channelID int64) ([]string, error) {
	streams, err := e.store.Streams(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(streams))
	for _, s := range streams {
		ids = append(ids, s.StreamID)
	}
	return ids, nil
}

func (e *Engine) groupingFor(groupID int64) string {
	if group, ok := e.groups.Get(groupID); ok {
		return group.Name
	}
	return ""
}

func claimedMarkers(live []*registry.Channel) map[string]struct{} {
	markers := make(map[string]struct{}, len(live))
	for _, ch := range live {
		markers[ch.Marker] = struct{}{}
	}
	return markers
}

func externalStreamIDs(ext chanman.Channel) []string {
	streams := append([]chanman.Stream(nil), ext.Streams...)
	sort.Slice(streams, func(i, j int) bool { return streams[i].Priority < streams[j].Priority })
	ids := make([]string, 0, len(streams))
	for _, s := range streams {
		ids = append(ids, s.ID)
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
