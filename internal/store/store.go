// Package store is the shared room document store every process mutates
// rooms through. Implementations provide optimistic concurrency on a
// per-room version counter and a change feed of full-room snapshots.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
)

var (
	ErrNotFound      = errors.New("room not found")
	ErrAlreadyExists = errors.New("room already exists")
	// ErrAborted means a transaction kept losing to concurrent commits until
	// its retry budget ran out.
	ErrAborted = errors.New("transaction aborted")
)

// TxFunc computes the next room from a consistent snapshot. Returning a nil
// room deletes the document. Returning an error aborts without writing and
// the error is passed through to the Transact caller.
type TxFunc func(current engine.Room) (*engine.Room, error)

// PatchFunc edits a room in place for a non-transactional Update.
type PatchFunc func(room *engine.Room)

// Change is one delivery on a subscription. Exactly one of Room, Deleted or
// Err is meaningful.
type Change struct {
	RoomID  string
	Version int64
	Room    *engine.Room
	Deleted bool
	Err     error
}

type Store interface {
	Get(ctx context.Context, roomID string) (engine.Room, int64, error)
	Create(ctx context.Context, room engine.Room) (int64, error)
	// Transact runs fn against the current snapshot and commits only if no
	// other commit happened in between, retrying up to the configured bound.
	// It returns the committed version.
	Transact(ctx context.Context, roomID string, fn TxFunc) (int64, error)
	// Update is a last-write-wins write with no conflict detection.
	Update(ctx context.Context, roomID string, patch PatchFunc) (int64, error)
	Delete(ctx context.Context, roomID string) error
	// Subscribe delivers the current snapshot followed by every later commit,
	// never going backwards in version. The channel is closed when ctx ends
	// or after the room is deleted.
	Subscribe(ctx context.Context, roomID string) (<-chan Change, error)
	Close() error
}

type Options struct {
	// Namespace isolates rooms of different deployments sharing one backend.
	Namespace  string
	MaxRetries int
	// RoomTTL bounds how long an abandoned room lingers. Zero disables it.
	RoomTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = "default"
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	return o
}

// document is the persisted and published form of a room.
type document struct {
	Version int64        `json:"version"`
	Deleted bool         `json:"deleted,omitempty"`
	Room    *engine.Room `json:"room,omitempty"`
}

func encodeDocument(version int64, room *engine.Room) ([]byte, error) {
	data, err := json.Marshal(document{Version: version, Deleted: room == nil, Room: room})
	if err != nil {
		return nil, fmt.Errorf("encode room document: %w", err)
	}
	return data, nil
}

func decodeDocument(data []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("decode room document: %w", err)
	}
	return doc, nil
}

func (d document) change(roomID string) Change {
	return Change{RoomID: roomID, Version: d.Version, Room: d.Room, Deleted: d.Deleted}
}

// changeStream enforces monotonic delivery on a subscription channel.
type changeStream struct {
	out  chan Change
	last int64
}

func newChangeStream(buffer int) *changeStream {
	return &changeStream{out: make(chan Change, buffer)}
}

// send delivers c unless it is older than what was already delivered. It
// reports false once ctx is done.
func (s *changeStream) send(ctx context.Context, c Change) bool {
	if c.Err == nil && c.Version <= s.last {
		return true
	}
	select {
	case s.out <- c:
		if c.Err == nil {
			s.last = c.Version
		}
		return true
	case <-ctx.Done():
		return false
	}
}
