package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Canvas/internal/domain"
	"github.com/rs/zerolog/log"
)

// Store is the persistence collaborator. Nothing in the live path waits on it.
type Store interface {
	LoadRoom(ctx context.Context, id domain.RoomID) (domain.Snapshot, bool, error)
	CreateRoom(ctx context.Context, id domain.RoomID, name string) error
	SaveSnapshot(ctx context.Context, id domain.RoomID, s domain.Snapshot) error
	AppendOperation(ctx context.Context, op domain.Operation) error
	TouchActivity(ctx context.Context, id domain.RoomID) error
	ClearOperations(ctx context.Context, id domain.RoomID) error
}

// PersistObserver is told about jobs that failed or never ran.
type PersistObserver interface {
	PersistFailed(op string)
	PersistDropped(op string)
}

type PersistOptions struct {
	QueueSize int
	// Debounce batches snapshot saves per room; the latest snapshot wins.
	Debounce time.Duration
	Timeout  time.Duration
	Observer PersistObserver
}

const (
	opCreateRoom = "create_room"
	opSave       = "save_snapshot"
	opAppend     = "append_operation"
	opTouch      = "touch_activity"
	opClearOps   = "clear_operations"
)

type persistJob struct {
	op   string
	room domain.RoomID
	name string
	snap domain.Snapshot
	seq  uint64
	rec  domain.Operation
}

// unsaved is the newest snapshot accepted for a room that the store has
// not confirmed yet.
type unsaved struct {
	snap domain.Snapshot
	seq  uint64
}

// Persister queues writes for the store and runs them on its own goroutine.
type Persister struct {
	store Store
	opts  PersistOptions
	jobs  chan persistJob
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	latestMu sync.Mutex
	latest   map[domain.RoomID]unsaved
	seq      uint64
}

func NewPersister(store Store, opts PersistOptions) *Persister {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Persister{
		store:  store,
		opts:   opts,
		jobs:   make(chan persistJob, opts.QueueSize),
		latest: make(map[domain.RoomID]unsaved),
	}
}

// Start launches the worker. Close drains it.
func (p *Persister) Start() {
	p.wg.Add(1)
	go p.loop()
}

func (p *Persister) CreateRoom(id domain.RoomID, name string) {
	p.enqueue(persistJob{op: opCreateRoom, room: id, name: name})
}

// SaveSnapshot queues s for the store. Until the store confirms it, Load
// answers with s, so a room rebuilt from storage never goes back in time.
func (p *Persister) SaveSnapshot(id domain.RoomID, s domain.Snapshot) {
	s = s.Clone()
	p.latestMu.Lock()
	p.seq++
	seq := p.seq
	p.latest[id] = unsaved{snap: s, seq: seq}
	p.latestMu.Unlock()

	p.enqueue(persistJob{op: opSave, room: id, snap: s, seq: seq})
}

func (p *Persister) AppendOperation(op domain.Operation) {
	p.enqueue(persistJob{op: opAppend, room: op.RoomID, rec: op})
}

func (p *Persister) TouchActivity(id domain.RoomID) {
	p.enqueue(persistJob{op: opTouch, room: id})
}

// ClearOperations queues removal of a room's operation log. Jobs queued
// after it are kept.
func (p *Persister) ClearOperations(id domain.RoomID) {
	p.enqueue(persistJob{op: opClearOps, room: id})
}

// Load returns the newest snapshot of a room: one still waiting for the
// store if any, else the stored one, bounded by the configured timeout.
// Store failures are logged and reported as absent.
func (p *Persister) Load(ctx context.Context, id domain.RoomID) (domain.Snapshot, bool) {
	p.latestMu.Lock()
	u, ok := p.latest[id]
	p.latestMu.Unlock()
	if ok {
		return u.snap.Clone(), true
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()
	snap, ok, err := p.store.LoadRoom(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.persist").Str("room", string(id)).Msg("load room")
		p.failed("load_room")
		return domain.Snapshot{}, false
	}
	return snap, ok
}

// Close stops accepting jobs and waits for pending ones, including
// debounced snapshots, to be written.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Persister) enqueue(j persistJob) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped(j.op)
		return
	}
	select {
	case p.jobs <- j:
	default:
		log.Warn().Str("module", "app.persist").Str("room", string(j.room)).Str("op", j.op).Msg("persist queue full, job dropped")
		p.dropped(j.op)
	}
}

func (p *Persister) loop() {
	defer p.wg.Done()

	pending := make(map[domain.RoomID]persistJob)
	var tick <-chan time.Time
	if p.opts.Debounce > 0 {
		t := time.NewTicker(p.opts.Debounce)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case j, ok := <-p.jobs:
			if !ok {
				p.flush(pending)
				return
			}
			if j.op == opSave && p.opts.Debounce > 0 {
				pending[j.room] = j
				continue
			}
			p.run(j)
		case <-tick:
			p.flush(pending)
		}
	}
}

func (p *Persister) flush(pending map[domain.RoomID]persistJob) {
	for id, j := range pending {
		p.run(j)
		delete(pending, id)
	}
}

func (p *Persister) run(j persistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.Timeout)
	defer cancel()

	var err error
	switch j.op {
	case opCreateRoom:
		err = p.store.CreateRoom(ctx, j.room, j.name)
	case opSave:
		err = p.store.SaveSnapshot(ctx, j.room, j.snap)
	case opAppend:
		err = p.store.AppendOperation(ctx, j.rec)
	case opTouch:
		err = p.store.TouchActivity(ctx, j.room)
	case opClearOps:
		err = p.store.ClearOperations(ctx, j.room)
	}
	if err == nil && j.op == opSave {
		p.saved(j.room, j.seq)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "app.persist").Str("room", string(j.room)).Str("op", j.op).Msg("persist failed")
		p.failed(j.op)
	}
}

// saved forgets the unsaved snapshot once the store holds it, unless a
// newer one was accepted meanwhile.
func (p *Persister) saved(id domain.RoomID, seq uint64) {
	p.latestMu.Lock()
	defer p.latestMu.Unlock()
	if u, ok := p.latest[id]; ok && u.seq == seq {
		delete(p.latest, id)
	}
}

func (p *Persister) failed(op string) {
	if p.opts.Observer != nil {
		p.opts.Observer.PersistFailed(op)
	}
}

func (p *Persister) dropped(op string) {
	if p.opts.Observer != nil {
		p.opts.Observer.PersistDropped(op)
	}
}
