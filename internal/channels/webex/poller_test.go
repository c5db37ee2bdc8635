package webex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/webexclaw/internal/bus"
	"github.com/nextlevelbuilder/webexclaw/internal/channels"
)

type fakePollAPI struct {
	mu      sync.Mutex
	rooms   []Room
	msgs    map[string][]Message // newest first, as the API returns them
	msgErr  map[string]error
	roomErr error
}

func (f *fakePollAPI) ListRooms(_ context.Context, _ int, _ string) ([]Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roomErr != nil {
		return nil, f.roomErr
	}
	return append([]Room(nil), f.rooms...), nil
}

func (f *fakePollAPI) ListMessages(_ context.Context, roomID string, _ int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.msgErr[roomID]; err != nil {
		return nil, err
	}
	return append([]Message(nil), f.msgs[roomID]...), nil
}

type dispatchRecorder struct {
	mu   sync.Mutex
	msgs []CanonicalMessage
}

func (d *dispatchRecorder) dispatch(_ context.Context, msg CanonicalMessage) {
	d.mu.Lock()
	d.msgs = append(d.msgs, msg)
	d.mu.Unlock()
}

func (d *dispatchRecorder) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.msgs))
	for i, m := range d.msgs {
		out[i] = m.MessageID
	}
	return out
}

var pollEpoch = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return pollEpoch.Add(time.Duration(sec) * time.Second) }

func newTestPoller(api pollAPI, rec *dispatchRecorder, groupPolicy channels.GroupPolicy) *Poller {
	p := NewPoller(
		api,
		time.Second,
		testBotID,
		func(id, _ string) bool { return id == testBotID },
		func() channels.GroupPolicy { return groupPolicy },
		bus.NewDedupeCache(time.Minute, 100),
		rec.dispatch,
	)
	p.startedAt = pollEpoch
	return p
}

// TestPoller_DispatchesChronologically: three messages at t=1,2,3 with
// watermark at 0 must be dispatched oldest first and leave the watermark
// at t=3.
func TestPoller_DispatchesChronologically(t *testing.T) {
	api := &fakePollAPI{
		rooms: []Room{{ID: "R", Type: "group"}},
		msgs: map[string][]Message{
			"R": {
				{ID: "m3", RoomID: "R", RoomType: "group", PersonID: "p1", Created: at(3)},
				{ID: "m2", RoomID: "R", RoomType: "group", PersonID: "p1", Created: at(2)},
				{ID: "m1", RoomID: "R", RoomType: "group", PersonID: "p1", Created: at(1)},
			},
		},
	}
	rec := &dispatchRecorder{}
	p := newTestPoller(api, rec, channels.GroupPolicyOpen)

	p.tick(context.Background())

	got := rec.ids()
	want := []string{"m1", "m2", "m3"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("dispatch order = %v, want %v", got, want)
	}
	if wm := p.watermark("R"); !wm.Equal(at(3)) {
		t.Errorf("watermark = %v, want %v", wm, at(3))
	}
}

func TestPoller_NeverDispatchesTwice(t *testing.T) {
	api := &fakePollAPI{
		rooms: []Room{{ID: "R", Type: "group"}},
		msgs: map[string][]Message{
			"R": {{ID: "m1", RoomID: "R", RoomType: "group", PersonID: "p1", Created: at(1)}},
		},
	}
	rec := &dispatchRecorder{}
	p := newTestPoller(api, rec, channels.GroupPolicyOpen)

	p.tick(context.Background())
	p.tick(context.Background())

	if got := rec.ids(); len(got) != 1 {
		t.Errorf("message dispatched %d times, want 1", len(got))
	}
}

func TestPoller_SelfMessagesAdvanceWatermarkWithoutDispatch(t *testing.T) {
	api := &fakePollAPI{
		rooms: []Room{{ID: "R", Type: "direct"}},
		msgs: map[string][]Message{
			"R": {{ID: "m1", RoomID: "R", RoomType: "direct", PersonID: testBotID, Created: at(5)}},
		},
	}
	rec := &dispatchRecorder{}
	p := newTestPoller(api, rec, channels.GroupPolicyOpen)

	p.tick(context.Background())

	if len(rec.ids()) != 0 {
		t.Error("self message must not be dispatched")
	}
	if wm := p.watermark("R"); !wm.Equal(at(5)) {
		t.Errorf("watermark = %v, want %v (must advance past self messages)", wm, at(5))
	}
}

// TestPoller_GatedOutMessagesAdvanceWatermark: a group message without a
// mention is dropped under mention gating, but the watermark still advances
// so the message is not reconsidered every tick.
func TestPoller_GatedOutMessagesAdvanceWatermark(t *testing.T) {
	api := &fakePollAPI{
		rooms: []Room{{ID: "R", Type: "group"}},
		msgs: map[string][]Message{
			"R": {{ID: "m1", RoomID: "R", RoomType: "group", PersonID: "p1", Created: at(2)}},
		},
	}
	rec := &dispatchRecorder{}
	p := newTestPoller(api, rec, channels.GroupPolicyMention)

	p.tick(context.Background())
	p.tick(context.Background())

	if len(rec.ids()) != 0 {
		t.Error("unmentioned group message must be gated out")
	}
	if wm := p.watermark("R"); !wm.Equal(at(2)) {
		t.Errorf("watermark = %v, want %v", wm, at(2))
	}
}

func TestPoller_OldMessagesBeforeStartAreSkipped(t *testing.T) {
	api := &fakePollAPI{
		rooms: []Room{{ID: "R", Type: "direct"}},
		msgs: map[string][]Message{
			"R": {{ID: "old", RoomID: "R", RoomType: "direct", PersonID: "p1", Created: pollEpoch.Add(-time.Hour)}},
		},
	}
	rec := &dispatchRecorder{}
	p := newTestPoller(api, rec, channels.GroupPolicyOpen)

	p.tick(context.Background())

	if len(rec.ids()) != 0 {
		t.Error("messages older than the poller start must not be dispatched")
	}
}

// TestPoller_RoomFailureIsolated: one room erroring must not prevent the
// other rooms in the same tick from being processed.
func TestPoller_RoomFailureIsolated(t *testing.T) {
	api := &fakePollAPI{
		rooms: []Room{{ID: "bad", Type: "group"}, {ID: "good", Type: "group"}},
		msgs: map[string][]Message{
			"good": {{ID: "m1", RoomID: "good", RoomType: "group", PersonID: "p1", Created: at(1)}},
		},
		msgErr: map[string]error{"bad": errors.New("rate limited")},
	}
	rec := &dispatchRecorder{}
	p := newTestPoller(api, rec, channels.GroupPolicyOpen)

	p.tick(context.Background())

	if got := rec.ids(); len(got) != 1 || got[0] != "m1" {
		t.Errorf("healthy room should still be processed, got %v", got)
	}
}

func TestPoller_GroupRoomsSkippedWhenGroupsDisabled(t *testing.T) {
	api := &fakePollAPI{
		rooms: []Room{{ID: "G", Type: "group"}, {ID: "D", Type: "direct"}},
		msgs: map[string][]Message{
			"G": {{ID: "g1", RoomID: "G", RoomType: "group", PersonID: "p1", Created: at(1)}},
			"D": {{ID: "d1", RoomID: "D", RoomType: "direct", PersonID: "p1", Created: at(1)}},
		},
	}
	rec := &dispatchRecorder{}
	p := newTestPoller(api, rec, channels.GroupPolicyDisabled)

	p.tick(context.Background())

	if got := rec.ids(); len(got) != 1 || got[0] != "d1" {
		t.Errorf("only the direct room should be processed, got %v", got)
	}
}

func TestPoller_DedupedMessagesAdvanceWatermark(t *testing.T) {
	api := &fakePollAPI{
		rooms: []Room{{ID: "R", Type: "direct"}},
		msgs: map[string][]Message{
			"R": {{ID: "m1", RoomID: "R", RoomType: "direct", PersonID: "p1", Created: at(3)}},
		},
	}
	rec := &dispatchRecorder{}
	p := newTestPoller(api, rec, channels.GroupPolicyOpen)

	// Simulate the webhook path having already delivered m1.
	p.dedupe.Seen("m1")

	p.tick(context.Background())

	if len(rec.ids()) != 0 {
		t.Error("message already delivered via webhook must not be dispatched again")
	}
	if wm := p.watermark("R"); !wm.Equal(at(3)) {
		t.Errorf("watermark = %v, want %v", wm, at(3))
	}
}

func TestPoller_OverlappingTickSkipped(t *testing.T) {
	api := &fakePollAPI{roomErr: errors.New("should not be called")}
	rec := &dispatchRecorder{}
	p := newTestPoller(api, rec, channels.GroupPolicyOpen)

	p.ticking.Store(true) // previous tick still in flight
	p.tick(context.Background())

	if !p.ticking.Load() {
		t.Error("skipped tick must not clear the in-flight flag")
	}
}

// TestPoller_WatermarkMonotonicUnderConcurrentAdvance: after concurrent
// advances from interleaved ticks the watermark equals the maximum
// timestamp seen by any of them — never less.
func TestPoller_WatermarkMonotonicUnderConcurrentAdvance(t *testing.T) {
	rec := &dispatchRecorder{}
	p := newTestPoller(&fakePollAPI{}, rec, channels.GroupPolicyOpen)

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(sec int) {
			defer wg.Done()
			p.advance("R", at(sec))
		}(i)
	}
	wg.Wait()

	if wm := p.watermark("R"); !wm.Equal(at(100)) {
		t.Errorf("watermark = %v, want %v", wm, at(100))
	}

	// A late, older advance must not regress it.
	p.advance("R", at(50))
	if wm := p.watermark("R"); !wm.Equal(at(100)) {
		t.Errorf("watermark regressed to %v", wm)
	}
}
