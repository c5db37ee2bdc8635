package webex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/webexclaw/internal/bus"
	"github.com/nextlevelbuilder/webexclaw/internal/channels"
)

const (
	pollRoomLimit    = 50 // most recently active rooms scanned per tick
	pollMessageLimit = 10 // newest messages fetched per room per tick
)

// pollAPI is the slice of the API client the poller needs.
type pollAPI interface {
	ListRooms(ctx context.Context, max int, sortBy string) ([]Room, error)
	ListMessages(ctx context.Context, roomID string, max int) ([]Message, error)
}

// Poller periodically scans the bot's rooms for new messages. It keeps a
// per-room watermark (the creation time of the newest message already
// handled) so messages are never reprocessed across ticks.
//
// Watermarks only ever advance, and advancement is guarded by a mutex, so
// even if two ticks were to observe the same room no message can be skipped
// forever. Ticks are additionally serialized: a tick that would start while
// the previous one is still running is skipped.
type Poller struct {
	api         pollAPI
	interval    time.Duration
	botID       string
	isSelf      func(personID, personEmail string) bool
	groupPolicy func() channels.GroupPolicy
	dedupe      *bus.DedupeCache
	dispatch    func(ctx context.Context, msg CanonicalMessage)

	mu         sync.Mutex
	watermarks map[string]time.Time

	ticking   atomic.Bool
	startedAt time.Time
}

// NewPoller creates a polling loop. dispatch is called for every message
// that passes normalization, dedup and the mention gate, in chronological
// order within each room.
func NewPoller(
	api pollAPI,
	interval time.Duration,
	botID string,
	isSelf func(personID, personEmail string) bool,
	groupPolicy func() channels.GroupPolicy,
	dedupe *bus.DedupeCache,
	dispatch func(ctx context.Context, msg CanonicalMessage),
) *Poller {
	return &Poller{
		api:         api,
		interval:    interval,
		botID:       botID,
		isSelf:      isSelf,
		groupPolicy: groupPolicy,
		dedupe:      dedupe,
		dispatch:    dispatch,
		watermarks:  make(map[string]time.Time),
	}
}

// Run blocks, firing a tick every interval, until ctx is cancelled.
// Rooms first seen by this poller start with a watermark of Run time, so
// only messages sent after startup are considered.
func (p *Poller) Run(ctx context.Context) {
	p.startedAt = time.Now()
	slog.Info("webex poller started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("webex poller stopped")
			return
		case <-ticker.C:
			go p.tick(ctx)
		}
	}
}

// tick scans all rooms once. Runs at most one tick at a time: if the
// previous tick is still in flight the new one is skipped rather than
// racing it on the watermark map.
func (p *Poller) tick(ctx context.Context) {
	if !p.ticking.CompareAndSwap(false, true) {
		slog.Debug("webex poll tick skipped, previous tick still running")
		return
	}
	defer p.ticking.Store(false)

	rooms, err := p.api.ListRooms(ctx, pollRoomLimit, "lastactivity")
	if err != nil {
		slog.Warn("webex poll: list rooms failed", "error", err)
		return
	}

	for _, room := range rooms {
		if err := p.processRoom(ctx, room); err != nil {
			// One room's failure must not halt the others.
			slog.Warn("webex poll: room processing failed",
				"room_id", room.ID, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// processRoom fetches the newest messages for one room and handles them in
// chronological order (oldest first).
func (p *Poller) processRoom(ctx context.Context, room Room) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	groupPolicy := p.groupPolicy()
	if room.Type != "direct" && groupPolicy == channels.GroupPolicyDisabled {
		return nil
	}

	messages, err := p.api.ListMessages(ctx, room.ID, pollMessageLimit)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	lastSeen := p.watermark(room.ID)

	// The API returns newest first; walk backwards for chronological order.
	for i := len(messages) - 1; i >= 0; i-- {
		msg := &messages[i]

		if !msg.Created.After(lastSeen) {
			continue // already processed
		}

		if p.isSelf(msg.PersonID, msg.PersonEmail) {
			p.advance(room.ID, msg.Created)
			continue
		}

		canonical := Normalize(msg, p.botID)

		// The watermark advances for every non-duplicate message — gated-out
		// and deduped messages included — otherwise they would be
		// reconsidered every tick.
		if p.dedupe != nil && p.dedupe.Seen(canonical.MessageID) {
			p.advance(room.ID, msg.Created)
			continue
		}

		if ShouldForward(canonical, groupPolicy.RequiresMention()) {
			p.dispatch(ctx, canonical)
		} else {
			slog.Debug("webex poll: message gated out",
				"room_id", room.ID, "message_id", canonical.MessageID)
		}
		p.advance(room.ID, msg.Created)
	}

	return nil
}

// watermark returns the room's last-seen timestamp, defaulting to the
// poller start time for rooms never observed before.
func (p *Poller) watermark(roomID string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.watermarks[roomID]; ok {
		return t
	}
	return p.startedAt
}

// advance moves a room's watermark forward. Monotonic: an older timestamp
// never regresses the stored value.
func (p *Poller) advance(roomID string, t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.watermarks[roomID]; !ok || t.After(cur) {
		p.watermarks[roomID] = t
	}
}
