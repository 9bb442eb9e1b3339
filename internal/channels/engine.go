// Package channels turns resolved events into managed channels. It applies
// group modes and exception-keyword decisions, keeps the registry and the
// external channel manager in step, and executes scheduled deletions.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"lineup/internal/config"
	"lineup/internal/keywords"
	"lineup/internal/logging"
	"lineup/internal/policy"
	"lineup/internal/registry"
	"lineup/internal/resolve"
	"lineup/internal/stream"
)

// External is the slice of the channel manager the engine writes through.
// *chanman.Client satisfies it.
type External interface {
	CreateChannel(ctx context.Context, name string, number int64, grouping, marker string) (string, error)
	AssignStreams(ctx context.Context, channelID string, orderedStreamIDs []string) error
	DeleteChannel(ctx context.Context, channelID string) error
	Marker(eventID string) string
}

// Outcome reports what Apply did with a stream.
type Outcome struct {
	Channel  *registry.Channel
	Created  bool
	Attached bool
}

// Engine applies grouping decisions for matched streams.
type Engine struct {
	store       *registry.Store
	external    External
	groups      *policy.GroupSet
	numberStart int64
	deleteAfter time.Duration
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds an engine from validated configuration.
func New(store *registry.Store, external External, cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:       store,
		external:    external,
		groups:      cfg.GroupSet(),
		numberStart: int64(cfg.ChannelManager.NumberStart),
		deleteAfter: time.Duration(cfg.Lifecycle.DeleteAfterHours) * time.Hour,
		logger:      logging.NewComponentLogger(logger, "channels"),
		locks:       make(map[string]*sync.Mutex),
	}
}

// Apply maps one matched stream onto a channel. The decision order is fixed:
// an exception-keyword decision overrides the group default, child groups
// only ever attach to an existing parent channel, and identity lookups make
// the whole operation idempotent across reruns.
func (e *Engine) Apply(ctx context.Context, d stream.Descriptor, match resolve.Match) (*Outcome, *stream.Diagnostic, error) {
	group, ok := e.groups.Get(d.GroupID)
	if !ok {
		return nil, nil, fmt.Errorf("unknown stream group %d", d.GroupID)
	}

	cls := keywords.ClassifyForGroup(d.Text, group.ID, e.groups)
	behavior, canonical := effectiveBehavior(group, cls)

	if behavior == policy.BehaviorIgnore && cls.Matched {
		return nil, e.diag(d, stream.ReasonIgnoredByRule), nil
	}

	if group.IsChild() {
		return e.attachToParent(ctx, d, match, group, behavior, canonical)
	}

	identity := registry.Identity{GroupID: group.ID, EventID: match.Event.ID}
	switch behavior {
	case policy.BehaviorSeparate:
		identity.PrimaryStreamID = d.ID
	case policy.BehaviorConsolidate:
		identity.CanonicalKeyword = canonical
	}

	unlock := e.lockIdentity(identity)
	defer unlock()

	existing, err := e.store.FindByIdentity(ctx, identity)
	if err != nil {
		return nil, nil, err
	}

	if existing != nil {
		if behavior == policy.BehaviorIgnore {
			// First stream won; later streams for the same event are dropped.
			return nil, e.diag(d, stream.ReasonDuplicateEvent), nil
		}
		if behavior == policy.BehaviorSeparate {
			// Rerun of the same stream: the channel already carries it.
			return &Outcome{Channel: existing}, nil, nil
		}
		if err := e.attach(ctx, existing, d.ID, registry.SourceOwnGroup); err != nil {
			return nil, nil, err
		}
		return &Outcome{Channel: existing, Attached: true}, nil, nil
	}

	created, err := e.create(ctx, identity, match, group, d, canonical)
	if err != nil {
		return nil, nil, err
	}
	return &Outcome{Channel: created, Created: true, Attached: true}, nil, nil
}

// effectiveBehavior resolves the keyword decision against the group default.
func effectiveBehavior(group policy.Group, cls keywords.Classification) (policy.Behavior, string) {
	if cls.Matched {
		canonical := ""
		if cls.Behavior == policy.BehaviorConsolidate {
			canonical = cls.Canonical
		}
		return cls.Behavior, canonical
	}
	switch group.Mode {
	case policy.ModeSeparate:
		return policy.BehaviorSeparate, ""
	case policy.ModeConsolidate:
		return policy.BehaviorConsolidate, ""
	default:
		return policy.BehaviorIgnore, ""
	}
}

// attachToParent handles a child-group stream. Child groups never create
// channels: a matching stream joins the parent's channel for the event as a
// failover entry, or is dropped when no such channel exists.
func (e *Engine) attachToParent(ctx context.Context, d stream.Descriptor, match resolve.Match, group policy.Group, behavior policy.Behavior, canonical string) (*Outcome, *stream.Diagnostic, error) {
	parent, ok := e.groups.Parent(group.ID)
	if !ok {
		return nil, nil, fmt.Errorf("group %d references unknown parent %d", group.ID, group.ParentID)
	}

	candidates, err := e.store.ChannelsForEvent(ctx, parent.ID, match.Event.ID)
	if err != nil {
		return nil, nil, err
	}

	target := pickParentChannel(candidates, behavior, canonical)
	if target == nil {
		return nil, e.diag(d, stream.ReasonChildNoParentChannel), nil
	}

	unlock := e.lockIdentity(target.Identity)
	defer unlock()

	if err := e.attach(ctx, target, d.ID, registry.SourceChildGroup); err != nil {
		return nil, nil, err
	}
	return &Outcome{Channel: target, Attached: true}, nil, nil
}

// pickParentChannel selects the parent channel the child stream belongs to.
// Keyword consolidation joins the matching keyword channel; otherwise the
// lowest-numbered non-keyword shared channel wins.
func pickParentChannel(candidates []*registry.Channel, behavior policy.Behavior, canonical string) *registry.Channel {
	if behavior == policy.BehaviorSeparate {
		// Separate means one channel per stream, never shared. A child
		// stream cannot create one, so it has nowhere to attach.
		return nil
	}
	var best *registry.Channel
	for _, ch := range candidates {
		if ch.Lifecycle == registry.LifecycleDeleted {
			continue
		}
		if ch.Identity.PrimaryStreamID != "" {
			// Another stream's per-stream channel is never shared.
			continue
		}
		if canonical != "" {
			if !strings.EqualFold(ch.Identity.CanonicalKeyword, canonical) {
				continue
			}
		} else if ch.Identity.CanonicalKeyword != "" {
			continue
		}
		if best == nil || ch.Number < best.Number {
			best = ch
		}
	}
	return best
}

// create registers the channel, provisions it externally, and attaches the
// founding stream. An external write failure parks the channel in the error
// lifecycle with the cause recorded; the registry entry survives for the next
// reconciliation pass to retry.
func (e *Engine) create(ctx context.Context, identity registry.Identity, match resolve.Match, group policy.Group, d stream.Descriptor, canonical string) (*registry.Channel, error) {
	number, err := e.nextNumber(ctx)
	if err != nil {
		return nil, err
	}
	name := channelName(match, canonical)
	marker := e.external.Marker(match.Event.ID)

	ch, err := e.store.CreateChannel(ctx, registry.Channel{
		Identity:   identity,
		League:     match.League.Code,
		Sport:      match.League.Sport,
		EventStart: match.Event.Start,
		Name:       name,
		Number:     number,
		Marker:     marker,
	})
	if err != nil {
		return nil, err
	}
	if _, err := e.store.AddStream(ctx, ch.ID, d.ID, registry.SourceOwnGroup); err != nil {
		return nil, err
	}
	if e.deleteAfter > 0 {
		if err := e.store.SetDeleteAfter(ctx, ch.ID, match.Event.Start.Add(e.deleteAfter)); err != nil {
			return nil, err
		}
	}

	externalID, err := e.external.CreateChannel(ctx, name, number, group.Name, marker)
	if err != nil {
		e.markError(ctx, ch, err)
		return e.store.GetChannel(ctx, ch.ID)
	}
	if err := e.store.SetExternal(ctx, ch.ID, externalID, number); err != nil {
		return nil, err
	}
	if err := e.external.AssignStreams(ctx, externalID, []string{d.ID}); err != nil {
		e.markError(ctx, ch, err)
		return e.store.GetChannel(ctx, ch.ID)
	}
	if err := e.store.Transition(ctx, ch.ID, registry.LifecycleInSync); err != nil {
		return nil, err
	}
	if err := e.store.AppendAudit(ctx, ch.ID, "create", fmt.Sprintf("channel %q number %d", name, number), "", ""); err != nil {
		return nil, err
	}

	e.logger.Info("channel created",
		logging.Int64(logging.FieldChannelID, ch.ID),
		logging.String(logging.FieldStreamID, d.ID),
		logging.String(logging.FieldLeague, match.League.Code),
		logging.String("name", name),
		logging.Time("event_start", match.Event.Start),
	)
	return e.store.GetChannel(ctx, ch.ID)
}

// attach adds a failover stream and pushes the full assignment externally.
func (e *Engine) attach(ctx context.Context, ch *registry.Channel, streamID string, source registry.StreamSource) error {
	if _, err := e.store.AddStream(ctx, ch.ID, streamID, source); err != nil {
		return err
	}
	if err := e.pushAssignments(ctx, ch); err != nil {
		e.markError(ctx, ch, err)
		return nil
	}
	if err := e.store.AppendAudit(ctx, ch.ID, "stream", fmt.Sprintf("attached stream %s (%s)", streamID, source), "", ""); err != nil {
		return err
	}
	e.logger.Info("stream attached",
		logging.Int64(logging.FieldChannelID, ch.ID),
		logging.String(logging.FieldStreamID, streamID),
	)
	return nil
}

// pushAssignments mirrors the registry's stream ordering to the external
// channel. Channels without an external identity are left for reconciliation.
func (e *Engine) pushAssignments(ctx context.Context, ch *registry.Channel) error {
	if ch.ExternalID == "" {
		return nil
	}
	streams, err := e.store.Streams(ctx, ch.ID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(streams))
	for _, s := range streams {
		ids = append(ids, s.StreamID)
	}
	return e.external.AssignStreams(ctx, ch.ExternalID, ids)
}

// ScheduledDeletes deletes every channel whose retention window has passed.
// The external channel goes first; the registry entry is then transitioned
// to deleted, which is the only path that removes a channel from play.
func (e *Engine) ScheduledDeletes(ctx context.Context, now time.Time) (int, error) {
	due, err := e.store.DueForDeletion(ctx, now)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, ch := range due {
		if ch.ExternalID != "" {
			if err := e.external.DeleteChannel(ctx, ch.ExternalID); err != nil {
				e.markError(ctx, ch, err)
				continue
			}
		}
		if err := e.store.Transition(ctx, ch.ID, registry.LifecycleDeleted); err != nil {
			return deleted, err
		}
		deleted++
		e.logger.Info("channel deleted",
			logging.Int64(logging.FieldChannelID, ch.ID),
			logging.String("name", ch.Name),
		)
	}
	return deleted, nil
}

// markError records a failed external write without losing the channel.
func (e *Engine) markError(ctx context.Context, ch *registry.Channel, cause error) {
	if err := e.store.SetLastError(ctx, ch.ID, cause.Error()); err != nil {
		e.logger.Warn("record channel error", logging.Error(err))
	}
	if registry.CanTransition(ch.Lifecycle, registry.LifecycleError) {
		if err := e.store.Transition(ctx, ch.ID, registry.LifecycleError); err != nil {
			e.logger.Warn("transition channel to error", logging.Error(err))
		}
	}
	e.logger.Warn("external write failed",
		logging.Int64(logging.FieldChannelID, ch.ID),
		logging.Error(cause),
	)
}

func (e *Engine) nextNumber(ctx context.Context) (int64, error) {
	max, err := e.store.MaxNumber(ctx)
	if err != nil {
		return 0, err
	}
	next := max + 1
	if next < e.numberStart {
		next = e.numberStart
	}
	return next, nil
}

func (e *Engine) diag(d stream.Descriptor, reason stream.Reason) *stream.Diagnostic {
	return &stream.Diagnostic{StreamID: d.ID, StreamText: d.Text, Reason: reason}
}

// lockIdentity serializes mutations per channel identity so concurrent
// workers cannot race a create against an attach.
func (e *Engine) lockIdentity(identity registry.Identity) func() {
	key := fmt.Sprintf("%d|%s|%s|%s", identity.GroupID, identity.EventID, identity.PrimaryStreamID, strings.ToLower(identity.CanonicalKeyword))
	e.mu.Lock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	e.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func channelName(match resolve.Match, canonical string) string {
	name := fmt.Sprintf("%s @ %s", match.Event.Away.Name, match.Event.Home.Name)
	if canonical != "" {
		name = fmt.Sprintf("%s (%s)", name, canonical)
	}
	return name
}
