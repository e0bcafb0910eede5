package store

import (
	"context"
	"sync"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
	"go.uber.org/zap"
)

const memorySubBuffer = 16

type memoryDoc struct {
	version int64
	room    engine.Room
}

type memorySub struct {
	ch chan Change
}

// MemoryStore keeps rooms in process memory. It is the single-node store and
// the reference the networked stores are tested against.
type MemoryStore struct {
	opts Options

	mu   sync.Mutex
	docs map[string]memoryDoc
	subs map[string]map[*memorySub]struct{}
	// deleted remembers the version a room had when it was removed so a
	// re-created room keeps versions increasing for old subscribers.
	deleted map[string]int64
}

func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		docs:    make(map[string]memoryDoc),
		subs:    make(map[string]map[*memorySub]struct{}),
		deleted: make(map[string]int64),
	}
}

func (m *MemoryStore) Get(ctx context.Context, roomID string) (engine.Room, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[roomID]
	if !ok {
		return engine.Room{}, 0, ErrNotFound
	}
	return doc.room.Clone(), doc.version, nil
}

func (m *MemoryStore) Create(ctx context.Context, room engine.Room) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[room.ID]; ok {
		return 0, ErrAlreadyExists
	}
	version := m.deleted[room.ID] + 1
	delete(m.deleted, room.ID)
	m.commitLocked(room.ID, version, &room)
	return version, nil
}

func (m *MemoryStore) Transact(ctx context.Context, roomID string, fn TxFunc) (int64, error) {
	for attempt := 1; attempt <= m.opts.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		current, version, err := m.Get(ctx, roomID)
		if err != nil {
			return 0, err
		}

		next, err := fn(current)
		if err != nil {
			return 0, err
		}

		m.mu.Lock()
		doc, ok := m.docs[roomID]
		if !ok {
			m.mu.Unlock()
			return 0, ErrNotFound
		}
		if doc.version != version {
			m.mu.Unlock()
			zap.L().Debug("room transaction conflict",
				zap.String("room_id", roomID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		m.commitLocked(roomID, version+1, next)
		m.mu.Unlock()
		return version + 1, nil
	}
	return 0, ErrAborted
}

func (m *MemoryStore) Update(ctx context.Context, roomID string, patch PatchFunc) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[roomID]
	if !ok {
		return 0, ErrNotFound
	}
	room := doc.room.Clone()
	patch(&room)
	m.commitLocked(roomID, doc.version+1, &room)
	return doc.version + 1, nil
}

func (m *MemoryStore) Delete(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[roomID]
	if !ok {
		return ErrNotFound
	}
	m.commitLocked(roomID, doc.version+1, nil)
	return nil
}

// commitLocked writes (or deletes, for a nil room) and fans the change out.
// Callers hold m.mu.
func (m *MemoryStore) commitLocked(roomID string, version int64, room *engine.Room) {
	change := Change{RoomID: roomID, Version: version}
	if room == nil {
		delete(m.docs, roomID)
		m.deleted[roomID] = version
		change.Deleted = true
	} else {
		stored := room.Clone()
		m.docs[roomID] = memoryDoc{version: version, room: stored}
		published := stored.Clone()
		change.Room = &published
	}

	for sub := range m.subs[roomID] {
		deliverLatest(sub.ch, change)
	}
}

// deliverLatest never blocks the committer. When a subscriber falls behind
// the oldest pending snapshot is dropped: every snapshot supersedes the ones
// before it.
func deliverLatest(ch chan Change, c Change) {
	for {
		select {
		case ch <- c:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (m *MemoryStore) Subscribe(ctx context.Context, roomID string) (<-chan Change, error) {
	m.mu.Lock()
	doc, ok := m.docs[roomID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}

	sub := &memorySub{ch: make(chan Change, memorySubBuffer)}
	if m.subs[roomID] == nil {
		m.subs[roomID] = make(map[*memorySub]struct{})
	}
	m.subs[roomID][sub] = struct{}{}
	initial := doc.room.Clone()
	sub.ch <- Change{RoomID: roomID, Version: doc.version, Room: &initial}
	m.mu.Unlock()

	out := newChangeStream(0)
	go func() {
		defer close(out.out)
		defer m.unsubscribe(roomID, sub)

		for {
			select {
			case <-ctx.Done():
				return
			case c := <-sub.ch:
				if !out.send(ctx, c) {
					return
				}
				if c.Deleted {
					return
				}
			}
		}
	}()
	return out.out, nil
}

func (m *MemoryStore) unsubscribe(roomID string, sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subs[roomID], sub)
	if len(m.subs[roomID]) == 0 {
		delete(m.subs, roomID)
	}
}

func (m *MemoryStore) Close() error { return nil }
