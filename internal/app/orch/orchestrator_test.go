package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Canvas/internal/app"
	"github.com/dkeye/Canvas/internal/core"
	"github.com/dkeye/Canvas/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type domain.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

type testConn struct {
	mu     sync.Mutex
	frames []frame
	full   bool
	closed bool
}

func (c *testConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.closed {
		return errors.New("unavailable")
	}
	var fr frame
	if err := json.Unmarshal(f, &fr); err != nil {
		return err
	}
	c.frames = append(c.frames, fr)
	return nil
}

func (c *testConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *testConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *testConn) types() []domain.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []domain.EventType{}
	for _, f := range c.frames {
		out = append(out, f.Type)
	}
	return out
}

func (c *testConn) last() frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[len(c.frames)-1]
}

func (c *testConn) first() frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[0]
}

func (c *testConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

type fakeStore struct {
	mu        sync.Mutex
	created   []domain.RoomID
	snapshots map[domain.RoomID]domain.Snapshot
	ops       []domain.Operation
	fail      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{snapshots: make(map[domain.RoomID]domain.Snapshot)}
}

func (s *fakeStore) LoadRoom(_ context.Context, id domain.RoomID) (domain.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return domain.Snapshot{}, false, s.fail
	}
	snap, ok := s.snapshots[id]
	return snap, ok, nil
}

func (s *fakeStore) CreateRoom(_ context.Context, id domain.RoomID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.created = append(s.created, id)
	return nil
}

func (s *fakeStore) SaveSnapshot(_ context.Context, id domain.RoomID, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.snapshots[id] = snap
	return nil
}

func (s *fakeStore) AppendOperation(_ context.Context, op domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.ops = append(s.ops, op)
	return nil
}

func (s *fakeStore) ClearOperations(_ context.Context, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	kept := s.ops[:0]
	for _, op := range s.ops {
		if op.RoomID != id {
			kept = append(kept, op)
		}
	}
	s.ops = kept
	return nil
}

func (s *fakeStore) TouchActivity(context.Context, domain.RoomID) error { return s.fail }

// stuckStore never answers before its context runs out.
type stuckStore struct{}

func (stuckStore) LoadRoom(ctx context.Context, _ domain.RoomID) (domain.Snapshot, bool, error) {
	<-ctx.Done()
	return domain.Snapshot{}, false, ctx.Err()
}

func (stuckStore) CreateRoom(ctx context.Context, _ domain.RoomID, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stuckStore) SaveSnapshot(ctx context.Context, _ domain.RoomID, _ domain.Snapshot) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stuckStore) AppendOperation(ctx context.Context, _ domain.Operation) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stuckStore) TouchActivity(ctx context.Context, _ domain.RoomID) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stuckStore) ClearOperations(ctx context.Context, _ domain.RoomID) error {
	<-ctx.Done()
	return ctx.Err()
}

type countObserver struct {
	mu        sync.Mutex
	handled   map[domain.EventType]int
	discarded map[string]int
	dropped   int
}

func newCountObserver() *countObserver {
	return &countObserver{handled: map[domain.EventType]int{}, discarded: map[string]int{}}
}

func (o *countObserver) EventHandled(t domain.EventType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handled[t]++
}

func (o *countObserver) EventDiscarded(_ domain.EventType, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.discarded[reason]++
}

func (o *countObserver) DeliveryDropped(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped += n
}

func newOrchestrator(t *testing.T) (*Orchestrator, *countObserver) {
	t.Helper()
	rooms := core.NewRoomTable(context.Background())
	t.Cleanup(rooms.Close)
	obs := newCountObserver()
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    rooms,
		Presence: core.Presence{Rooms: rooms},
		Policy:   app.SimplePolicy{},
		Observer: obs,
	}, obs
}

func withPersistence(t *testing.T, o *Orchestrator, store app.Store) *app.Persister {
	t.Helper()
	p := app.NewPersister(store, app.PersistOptions{})
	p.Start()
	t.Cleanup(p.Close)
	o.Persist = p
	o.Hydrate = true
	return p
}

func connect(t *testing.T, o *Orchestrator, id domain.ConnID) *testConn {
	t.Helper()
	c := &testConn{}
	require.NoError(t, o.Connect(id, c))
	return c
}

func snapshotWith(record string) domain.Snapshot {
	s := domain.EmptySnapshot()
	s.Paths = append(s.Paths, json.RawMessage(record))
	return s
}

func TestOrchestrator_TwoMemberScenario(t *testing.T) {
	o, _ := newOrchestrator(t)
	ctx := context.Background()
	a := connect(t, o, "A")
	b := connect(t, o, "B")

	require.NoError(t, o.Join(ctx, "A", "r1"))
	require.NoError(t, o.Join(ctx, "B", "r1"))
	a.reset()
	b.reset()

	require.True(t, o.CanvasUpdate("A", "r1", snapshotWith(`{"s":1}`)))
	assert.Empty(t, a.types())
	assert.Equal(t, []domain.EventType{domain.EventCanvasState}, b.types())

	require.True(t, o.Clear("B", "r1"))
	assert.Equal(t, []domain.EventType{domain.EventCanvasCleared}, a.types())
	assert.Equal(t, domain.EventCanvasCleared, b.last().Type)
	s, ok := o.Rooms.SnapshotOf("r1")
	require.True(t, ok)
	assert.True(t, s.IsEmpty())

	b.reset()
	o.Disconnect("A")
	require.Equal(t, []domain.EventType{domain.EventUserCount}, b.types())
	assert.JSONEq(t, `1`, string(b.last().Data))

	o.Disconnect("B")
	_, ok = o.Rooms.Get("r1")
	assert.False(t, ok)
	assert.Equal(t, 0, o.Registry.Len())
}

func TestOrchestrator_JoinUnknownConnection(t *testing.T) {
	o, obs := newOrchestrator(t)

	err := o.Join(context.Background(), "ghost", "r1")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, 1, obs.discarded[ReasonUnknownConn])
	_, ok := o.Rooms.Get("r1")
	assert.False(t, ok)
}

func TestOrchestrator_JoinInvalidRoom(t *testing.T) {
	o, _ := newOrchestrator(t)
	connect(t, o, "A")

	assert.ErrorIs(t, o.Join(context.Background(), "A", ""), domain.ErrRoomIDEmpty)
	_, ok := o.Registry.RoomOf("A")
	assert.False(t, ok)
}

func TestOrchestrator_MismatchedRoomIsDiscarded(t *testing.T) {
	o, obs := newOrchestrator(t)
	ctx := context.Background()
	connect(t, o, "A")
	b := connect(t, o, "B")
	require.NoError(t, o.Join(ctx, "A", "r1"))
	require.NoError(t, o.Join(ctx, "B", "r1"))
	b.reset()

	assert.False(t, o.CanvasUpdate("A", "other", snapshotWith(`{}`)))
	assert.False(t, o.CursorMove("A", "", 1, 2))
	assert.False(t, o.Clear("A", "other"))
	assert.Empty(t, b.types())
	assert.Equal(t, 3, obs.discarded[ReasonRoomMismatch])

	s, _ := o.Rooms.SnapshotOf("r1")
	assert.True(t, s.IsEmpty())
}

func TestOrchestrator_EventsBeforeJoinAreDiscarded(t *testing.T) {
	o, obs := newOrchestrator(t)
	connect(t, o, "A")

	assert.False(t, o.CanvasUpdate("A", "r1", snapshotWith(`{}`)))
	assert.False(t, o.Leave("A"))
	assert.Equal(t, 2, obs.discarded[ReasonNotJoined])
}

func TestOrchestrator_JoinAnotherRoomLeavesFirst(t *testing.T) {
	o, _ := newOrchestrator(t)
	ctx := context.Background()
	connect(t, o, "A")
	b := connect(t, o, "B")
	require.NoError(t, o.Join(ctx, "A", "r1"))
	require.NoError(t, o.Join(ctx, "B", "r1"))
	b.reset()

	require.NoError(t, o.Join(ctx, "A", "r2"))

	assert.Equal(t, []domain.EventType{domain.EventUserCount}, b.types())
	assert.JSONEq(t, `1`, string(b.last().Data))

	room, _ := o.Registry.RoomOf("A")
	assert.Equal(t, domain.RoomID("r2"), room)
	r1, _ := o.Rooms.Get("r1")
	assert.Equal(t, 1, r1.Info().MemberCount)
	r2, _ := o.Rooms.Get("r2")
	assert.Equal(t, 1, r2.Info().MemberCount)
}

func TestOrchestrator_RejoinSameRoomRehydratesOnly(t *testing.T) {
	o, _ := newOrchestrator(t)
	ctx := context.Background()
	a := connect(t, o, "A")
	b := connect(t, o, "B")
	require.NoError(t, o.Join(ctx, "A", "r1"))
	require.NoError(t, o.Join(ctx, "B", "r1"))
	a.reset()
	b.reset()

	require.NoError(t, o.Join(ctx, "A", "r1"))

	assert.Equal(t, []domain.EventType{domain.EventCanvasState}, a.types())
	assert.Empty(t, b.types())
	r1, _ := o.Rooms.Get("r1")
	assert.Equal(t, 2, r1.Info().MemberCount)
}

func TestOrchestrator_NewRoomHydratesEmpty(t *testing.T) {
	o, _ := newOrchestrator(t)
	a := connect(t, o, "A")

	require.NoError(t, o.Join(context.Background(), "A", "brand-new"))

	assert.Equal(t, []domain.EventType{domain.EventCanvasState, domain.EventUserCount}, a.types())
	assert.NotContains(t, a.types(), domain.EventUserJoined)
}

func TestOrchestrator_LeaveKeepsConnection(t *testing.T) {
	o, _ := newOrchestrator(t)
	connect(t, o, "A")
	require.NoError(t, o.Join(context.Background(), "A", "r1"))

	assert.True(t, o.Leave("A"))
	_, ok := o.Registry.RoomOf("A")
	assert.False(t, ok)
	_, ok = o.Registry.Get("A")
	assert.True(t, ok)
	_, ok = o.Rooms.Get("r1")
	assert.False(t, ok)
}

func TestOrchestrator_DisconnectIsIdempotent(t *testing.T) {
	o, _ := newOrchestrator(t)
	connect(t, o, "A")
	require.NoError(t, o.Join(context.Background(), "A", "r1"))

	o.Disconnect("A")
	o.Disconnect("A")
	assert.Equal(t, 0, o.Registry.Len())
}

func TestOrchestrator_BackpressureKicksSlowMember(t *testing.T) {
	o, obs := newOrchestrator(t)
	ctx := context.Background()
	connect(t, o, "A")
	slow := connect(t, o, "B")
	require.NoError(t, o.Join(ctx, "A", "r1"))
	require.NoError(t, o.Join(ctx, "B", "r1"))

	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	require.True(t, o.CanvasUpdate("A", "r1", snapshotWith(`{}`)))
	assert.True(t, slow.isClosed())
	assert.Equal(t, 1, obs.dropped)
}

func TestOrchestrator_SweepIdle(t *testing.T) {
	o, _ := newOrchestrator(t)
	a := connect(t, o, "A")

	assert.Equal(t, 0, o.SweepIdle(time.Now().Add(-time.Hour)))
	assert.Equal(t, 1, o.SweepIdle(time.Now().Add(time.Hour)))
	assert.True(t, a.isClosed())
}

func TestOrchestrator_CreateRoomPreCreates(t *testing.T) {
	o, _ := newOrchestrator(t)
	store := newFakeStore()
	p := withPersistence(t, o, store)

	info, created, err := o.CreateRoom("pre", "Planning")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Planning", info.Name)
	assert.Equal(t, 0, info.MemberCount)

	info, created, err = o.CreateRoom("pre", "Other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Planning", info.Name)

	_, _, err = o.CreateRoom("", "x")
	assert.Error(t, err)

	p.Close()
	assert.Equal(t, []domain.RoomID{"pre"}, store.created)
}

func TestOrchestrator_HydratesFromStore(t *testing.T) {
	o, _ := newOrchestrator(t)
	store := newFakeStore()
	store.snapshots["saved"] = snapshotWith(`{"kept":true}`)
	withPersistence(t, o, store)
	a := connect(t, o, "A")

	require.NoError(t, o.Join(context.Background(), "A", "saved"))

	first := a.types()[0]
	require.Equal(t, domain.EventCanvasState, first)
	s, ok := o.Rooms.SnapshotOf("saved")
	require.True(t, ok)
	require.Len(t, s.Paths, 1)
	assert.JSONEq(t, `{"kept":true}`, string(s.Paths[0]))
}

func TestOrchestrator_PersistsUpdatesAndHistory(t *testing.T) {
	o, _ := newOrchestrator(t)
	store := newFakeStore()
	p := withPersistence(t, o, store)
	ctx := context.Background()
	connect(t, o, "A")

	require.NoError(t, o.Join(ctx, "A", "r1"))
	require.True(t, o.CanvasUpdate("A", "r1", snapshotWith(`{"s":1}`)))
	require.True(t, o.CursorMove("A", "r1", 3, 4))
	require.True(t, o.Clear("A", "r1"))
	p.Close()

	assert.Equal(t, []domain.RoomID{"r1"}, store.created)
	assert.True(t, store.snapshots["r1"].IsEmpty())

	var kinds []domain.EventType
	for _, op := range store.ops {
		kinds = append(kinds, op.Kind)
	}
	assert.Equal(t, []domain.EventType{domain.EventClearCanvas}, kinds)
}

func TestOrchestrator_Throttled(t *testing.T) {
	o, obs := newOrchestrator(t)
	o.Throttled(domain.EventCursorMove, "A")
	assert.Equal(t, 1, obs.discarded[ReasonRateLimited])
}

func TestOrchestrator_JoinAfterClearSeesEmptyCanvas(t *testing.T) {
	o, _ := newOrchestrator(t)
	store := newFakeStore()
	store.snapshots["r1"] = snapshotWith(`{"old":true}`)
	p := app.NewPersister(store, app.PersistOptions{Debounce: 250 * time.Millisecond})
	p.Start()
	t.Cleanup(p.Close)
	o.Persist = p
	o.Hydrate = true
	ctx := context.Background()

	a := connect(t, o, "A")
	require.NoError(t, o.Join(ctx, "A", "r1"))
	require.Equal(t, domain.EventCanvasState, a.first().Type)
	assert.JSONEq(t, `{"paths":[{"old":true}],"shapes":[],"emojis":[]}`, string(a.first().Data))

	require.True(t, o.Clear("A", "r1"))
	o.Disconnect("A")
	_, live := o.Rooms.Get("r1")
	require.False(t, live)

	b := connect(t, o, "B")
	require.NoError(t, o.Join(ctx, "B", "r1"))
	require.Equal(t, domain.EventCanvasState, b.first().Type)
	assert.JSONEq(t, `{"paths":[],"shapes":[],"emojis":[]}`, string(b.first().Data))
}

func TestOrchestrator_JoinAfterUpdateSeesQueuedSnapshot(t *testing.T) {
	o, _ := newOrchestrator(t)
	store := newFakeStore()
	p := app.NewPersister(store, app.PersistOptions{Debounce: time.Hour})
	p.Start()
	t.Cleanup(p.Close)
	o.Persist = p
	o.Hydrate = true
	ctx := context.Background()

	connect(t, o, "A")
	require.NoError(t, o.Join(ctx, "A", "r1"))
	require.True(t, o.CanvasUpdate("A", "r1", snapshotWith(`{"s":1}`)))
	o.Disconnect("A")

	b := connect(t, o, "B")
	require.NoError(t, o.Join(ctx, "B", "r1"))
	s, ok := o.Rooms.SnapshotOf("r1")
	require.True(t, ok)
	require.Len(t, s.Paths, 1)
	assert.JSONEq(t, `{"s":1}`, string(s.Paths[0]))
	assert.Equal(t, domain.EventCanvasState, b.first().Type)
}

func TestOrchestrator_FailingStoreDoesNotStopDelivery(t *testing.T) {
	o, _ := newOrchestrator(t)
	store := newFakeStore()
	store.fail = errors.New("disk full")
	withPersistence(t, o, store)
	ctx := context.Background()

	connect(t, o, "A")
	b := connect(t, o, "B")
	require.NoError(t, o.Join(ctx, "A", "r1"))
	require.NoError(t, o.Join(ctx, "B", "r1"))
	b.reset()

	require.True(t, o.CanvasUpdate("A", "r1", snapshotWith(`{"s":1}`)))
	assert.Equal(t, []domain.EventType{domain.EventCanvasState}, b.types())
}

func TestOrchestrator_StuckStoreDoesNotStopDelivery(t *testing.T) {
	o, _ := newOrchestrator(t)
	p := app.NewPersister(stuckStore{}, app.PersistOptions{Timeout: 50 * time.Millisecond})
	p.Start()
	t.Cleanup(p.Close)
	o.Persist = p
	o.Hydrate = true
	ctx := context.Background()

	connect(t, o, "A")
	b := connect(t, o, "B")
	require.NoError(t, o.Join(ctx, "A", "r1"))
	require.NoError(t, o.Join(ctx, "B", "r1"))
	b.reset()

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.CanvasUpdate("A", "r1", snapshotWith(`{"s":1}`))
		o.Clear("A", "r1")
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("canvas events waited on the store")
	}
	assert.Equal(t, []domain.EventType{domain.EventCanvasState, domain.EventCanvasCleared}, b.types())
}

func TestOrchestrator_DrawingOperationRelaysAndRecords(t *testing.T) {
	o, obs := newOrchestrator(t)
	store := newFakeStore()
	p := withPersistence(t, o, store)
	ctx := context.Background()

	a := connect(t, o, "A")
	b := connect(t, o, "B")
	require.NoError(t, o.Join(ctx, "A", "r1"))
	require.NoError(t, o.Join(ctx, "B", "r1"))
	a.reset()
	b.reset()

	require.True(t, o.DrawingOperation("A", "r1", "pen", json.RawMessage(`{"x":1}`)))
	assert.Empty(t, a.types())
	require.Equal(t, []domain.EventType{domain.EventDrawingOperation}, b.types())

	var op core.DrawingOperation
	require.NoError(t, json.Unmarshal(b.last().Data, &op))
	assert.Equal(t, domain.ConnID("A"), op.UserID)
	assert.Equal(t, domain.RoomID("r1"), op.RoomID)
	assert.Equal(t, "pen", op.Type)
	assert.JSONEq(t, `{"x":1}`, string(op.Data))

	assert.False(t, o.DrawingOperation("A", "other", "pen", json.RawMessage(`{}`)))
	assert.Equal(t, 1, obs.discarded[ReasonRoomMismatch])

	s, _ := o.Rooms.SnapshotOf("r1")
	assert.True(t, s.IsEmpty())

	p.Close()
	last := store.ops[len(store.ops)-1]
	assert.Equal(t, domain.EventDrawingOperation, last.Kind)
	assert.Equal(t, domain.ConnID("A"), last.ConnID)
	assert.JSONEq(t, `{"type":"pen","data":{"x":1}}`, string(last.Payload))
}

func TestOrchestrator_ReplaceCanvasReachesEveryMember(t *testing.T) {
	o, _ := newOrchestrator(t)
	store := newFakeStore()
	p := withPersistence(t, o, store)
	ctx := context.Background()

	a := connect(t, o, "A")
	require.NoError(t, o.Join(ctx, "A", "r1"))
	a.reset()

	require.NoError(t, o.ReplaceCanvas("r1", snapshotWith(`{"rest":1}`)))
	require.Equal(t, []domain.EventType{domain.EventCanvasState}, a.types())
	s, _ := o.Rooms.SnapshotOf("r1")
	require.Len(t, s.Paths, 1)

	require.NoError(t, o.ReplaceCanvas("idle", snapshotWith(`{"rest":2}`)))
	stored, found := o.StoredSnapshot(ctx, "idle")
	require.True(t, found)
	assert.JSONEq(t, `{"rest":2}`, string(stored.Paths[0]))

	assert.ErrorIs(t, o.ReplaceCanvas("", domain.EmptySnapshot()), domain.ErrRoomIDEmpty)

	p.Close()
	assert.Len(t, store.snapshots["r1"].Paths, 1)
	assert.Len(t, store.snapshots["idle"].Paths, 1)
}

func TestOrchestrator_ReplaceCanvasWithoutStorage(t *testing.T) {
	o, _ := newOrchestrator(t)

	assert.ErrorIs(t, o.ReplaceCanvas("r1", domain.EmptySnapshot()), ErrRoomNotFound)
	assert.ErrorIs(t, o.ResetCanvas("r1"), ErrRoomNotFound)
	_, found := o.StoredSnapshot(context.Background(), "r1")
	assert.False(t, found)
}

func TestOrchestrator_ResetCanvasDropsHistory(t *testing.T) {
	o, _ := newOrchestrator(t)
	store := newFakeStore()
	p := withPersistence(t, o, store)
	ctx := context.Background()

	a := connect(t, o, "A")
	require.NoError(t, o.Join(ctx, "A", "r1"))
	require.True(t, o.CanvasUpdate("A", "r1", snapshotWith(`{"s":1}`)))
	a.reset()

	require.NoError(t, o.ResetCanvas("r1"))
	assert.Equal(t, []domain.EventType{domain.EventCanvasCleared}, a.types())
	s, _ := o.Rooms.SnapshotOf("r1")
	assert.True(t, s.IsEmpty())

	p.Close()
	assert.Empty(t, store.ops)
	assert.True(t, store.snapshots["r1"].IsEmpty())
}
