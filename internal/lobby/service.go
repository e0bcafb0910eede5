// Package lobby runs every room mutation as a versioned transaction against
// the shared store and feeds committed snapshots to connected clients.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
	"github.com/DoyleJ11/secret-word-backend/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxCodeAttempts = 10

var ErrNoFreeCode = fmt.Errorf("%w: no free room code", engine.ErrConflictExhausted)

// Session identifies who is acting in which room. It is passed into every
// action explicitly.
type Session struct {
	RoomID   string
	PlayerID string
}

// Result is the outcome of one mutation.
type Result struct {
	Room    engine.Room
	Version int64
	Events  []engine.Event
	// Deleted is set when the mutation removed the room.
	Deleted bool
	// Noop is set when the command was legal but the room had already moved
	// past it. Nothing was written.
	Noop bool
}

type Service struct {
	store store.Store
	rules engine.Rules
	codes CodeGenerator
	now   func() time.Time
}

type Option func(*Service)

// WithClock replaces the source of server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithCodes(codes CodeGenerator) Option {
	return func(s *Service) { s.codes = codes }
}

func NewService(st store.Store, rules engine.Rules, opts ...Option) *Service {
	s := &Service{
		store: st,
		rules: rules,
		codes: DefaultCodes,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Rules() engine.Rules { return s.rules }

// CreateRoom makes a fresh room with the caller as its only player and host.
func (s *Service) CreateRoom(ctx context.Context, name string) (Session, Result, error) {
	playerID := uuid.NewString()
	if err := engine.Validate(engine.Command{Type: engine.CmdJoin, ActorID: playerID, Name: name}, s.rules); err != nil {
		return Session{}, Result{}, err
	}
	host := engine.Player{ID: playerID, Name: engine.CleanName(name)}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return Session{}, Result{}, fmt.Errorf("generate room code: %w", err)
		}
		room := engine.NewRoom(code, host, s.rules)
		version, err := s.store.Create(ctx, room)
		if errors.Is(err, store.ErrAlreadyExists) {
			zap.L().Debug("room code collision", zap.String("room_id", code), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return Session{}, Result{}, err
		}

		zap.L().Info("room created", zap.String("room_id", code), zap.String("player_id", playerID))
		return Session{RoomID: code, PlayerID: playerID},
			Result{Room: room, Version: version},
			nil
	}
	return Session{}, Result{}, ErrNoFreeCode
}

// JoinRoom adds a player. An empty playerID mints a new identity; a
// playerID that is already a member rejoins without change.
func (s *Service) JoinRoom(ctx context.Context, roomID, name, playerID string) (Session, Result, error) {
	if playerID == "" {
		playerID = uuid.NewString()
	}
	sess := Session{RoomID: roomID, PlayerID: playerID}
	res, err := s.mutate(ctx, sess, engine.Command{Type: engine.CmdJoin, Name: name})
	if err != nil {
		return Session{}, Result{}, err
	}
	return sess, res, nil
}

func (s *Service) LeaveRoom(ctx context.Context, sess Session) (Result, error) {
	return s.mutate(ctx, sess, engine.Command{Type: engine.CmdLeave})
}

func (s *Service) StartGame(ctx context.Context, sess Session) (Result, error) {
	return s.mutate(ctx, sess, engine.Command{Type: engine.CmdStartGame})
}

func (s *Service) SubmitWord(ctx context.Context, sess Session, word string) (Result, error) {
	return s.mutate(ctx, sess, engine.Command{Type: engine.CmdSubmitWord, Text: word})
}

func (s *Service) SubmitGuess(ctx context.Context, sess Session, text string) (Result, error) {
	return s.mutate(ctx, sess, engine.Command{Type: engine.CmdSubmitGuess, Text: text})
}

// AdvanceRound moves past round, the round the caller saw complete. A call
// for a round that is no longer current is a no-op, so a delayed duplicate
// never skips a later round. Zero advances whatever round is complete.
func (s *Service) AdvanceRound(ctx context.Context, sess Session, round int) (Result, error) {
	return s.mutate(ctx, sess, engine.Command{Type: engine.CmdAdvanceRound, Round: round})
}

func (s *Service) PlayAgain(ctx context.Context, sess Session) (Result, error) {
	return s.mutate(ctx, sess, engine.Command{Type: engine.CmdPlayAgain})
}

// ExpireRound ends guessing for the given round if it is still running.
// Any number of callers may race; at most one commits.
func (s *Service) ExpireRound(ctx context.Context, roomID string, round int, startTime int64) (Result, error) {
	return s.mutate(ctx, Session{RoomID: roomID}, engine.Command{
		Type:      engine.CmdExpireRound,
		Round:     round,
		StartTime: startTime,
	})
}

func (s *Service) Room(ctx context.Context, roomID string) (engine.Room, int64, error) {
	room, version, err := s.store.Get(ctx, roomID)
	if err != nil {
		return engine.Room{}, 0, mapStoreError(roomID, err)
	}
	return room, version, nil
}

func (s *Service) Subscribe(ctx context.Context, roomID string) (<-chan store.Change, error) {
	ch, err := s.store.Subscribe(ctx, roomID)
	if err != nil {
		return nil, mapStoreError(roomID, err)
	}
	return ch, nil
}

// mutate runs cmd inside one store transaction. The transition is computed
// from the snapshot the transaction read, so a retry recomputes it from
// scratch.
func (s *Service) mutate(ctx context.Context, sess Session, cmd engine.Command) (Result, error) {
	cmd.ActorID = sess.PlayerID
	if err := engine.Validate(cmd, s.rules); err != nil {
		return Result{}, err
	}
	if sess.RoomID == "" {
		return Result{}, engine.ErrRoomNotFound
	}

	log := zap.L().With(
		zap.String("room_id", sess.RoomID),
		zap.String("player_id", sess.PlayerID),
		zap.String("command", string(cmd.Type)),
	)

	var res Result
	version, err := s.store.Transact(ctx, sess.RoomID, func(current engine.Room) (*engine.Room, error) {
		cmd.Now = s.now()
		events, next, err := engine.Apply(current, cmd, s.rules)
		if err != nil {
			res = Result{Room: current}
			return nil, err
		}
		res = Result{Room: next, Events: events}
		if engine.ContainsEvent(events, engine.EvtRoomEmptied) {
			res.Deleted = true
			return nil, nil
		}
		return &next, nil
	})

	switch {
	case err == nil:
		res.Version = version
		log.Debug("room mutated",
			zap.Int64("version", version),
			zap.String("phase", string(res.Room.Phase)),
			zap.Bool("deleted", res.Deleted),
		)
		return res, nil
	case errors.Is(err, engine.ErrNoop):
		log.Debug("room mutation had no effect", zap.Error(err))
		res.Noop = true
		res.Events = nil
		return res, nil
	case errors.Is(err, store.ErrAborted):
		log.Warn("room mutation retries exhausted")
	case errors.Is(err, store.ErrNotFound):
	default:
		if !isDomainError(err) {
			log.Warn("room mutation failed", zap.Error(err))
		}
	}
	return Result{}, mapStoreError(sess.RoomID, err)
}

func mapStoreError(roomID string, err error) error {
	switch {
	case errors.Is(err, store.ErrAborted):
		return fmt.Errorf("%w: room %s", engine.ErrConflictExhausted, roomID)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w %s", engine.ErrRoomNotFound, roomID)
	default:
		return err
	}
}

func isDomainError(err error) bool {
	for _, kind := range []error{engine.ErrValidation, engine.ErrAuthorization, engine.ErrNotFound, engine.ErrCapacity} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// Follow adapts the store subscription to snapshots, for callers that do not
// go through a hub.
func (s *Service) Follow(ctx context.Context, roomID string) (<-chan Snapshot, error) {
	changes, err := s.Subscribe(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		for c := range changes {
			if c.Err != nil {
				zap.L().Warn("room feed error", zap.String("room_id", roomID), zap.Error(c.Err))
				continue
			}
			snap := Snapshot{Version: c.Version, Closed: c.Deleted}
			if c.Room != nil {
				snap.Room = *c.Room
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
