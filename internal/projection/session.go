package projection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
	"github.com/DoyleJ11/secret-word-backend/internal/lobby"
	"go.uber.org/zap"
)

var ErrNotInRoom = errors.New("not in a room")

// Actions is the mutation surface a Session drives. *lobby.Service
// satisfies it.
type Actions interface {
	CreateRoom(ctx context.Context, name string) (lobby.Session, lobby.Result, error)
	JoinRoom(ctx context.Context, roomID, name, playerID string) (lobby.Session, lobby.Result, error)
	LeaveRoom(ctx context.Context, sess lobby.Session) (lobby.Result, error)
	StartGame(ctx context.Context, sess lobby.Session) (lobby.Result, error)
	SubmitWord(ctx context.Context, sess lobby.Session, word string) (lobby.Result, error)
	SubmitGuess(ctx context.Context, sess lobby.Session, text string) (lobby.Result, error)
	AdvanceRound(ctx context.Context, sess lobby.Session, round int) (lobby.Result, error)
	PlayAgain(ctx context.Context, sess lobby.Session) (lobby.Result, error)
	Rules() engine.Rules
}

// Feed delivers committed snapshots of a room until ctx ends or the room is
// deleted. Both *lobby.Service and *hub.Hub implement it.
type Feed interface {
	Follow(ctx context.Context, roomID string) (<-chan lobby.Snapshot, error)
}

const actionTimeout = 10 * time.Second

// Session is one client's view of the game. Actions return immediately;
// their effect arrives as a GameState on States, failures on Errors.
type Session struct {
	actions Actions
	feed    Feed
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	states chan GameState
	errs   chan error

	mu       sync.Mutex
	playerID string
	roomID   string
	feedGen  uint64
	stopFeed context.CancelFunc
}

// NewSession starts on the landing state. playerID may be empty, in which
// case an identity is minted by the first create or join.
func NewSession(parent context.Context, actions Actions, feed Feed, playerID string) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		actions:  actions,
		feed:     feed,
		ctx:      ctx,
		cancel:   cancel,
		states:   make(chan GameState, 8),
		errs:     make(chan error, 8),
		playerID: playerID,
	}
	s.publish(Landing())
	return s
}

func (s *Session) States() <-chan GameState { return s.states }
func (s *Session) Errors() <-chan error      { return s.errs }

func (s *Session) Current() lobby.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lobby.Session{RoomID: s.roomID, PlayerID: s.playerID}
}

// Attach follows roomID as an existing member without a join round trip.
func (s *Session) Attach(roomID string) error {
	return s.follow(roomID)
}

func (s *Session) CreateRoom(name string) {
	s.publish(Loading())
	s.run(func(ctx context.Context) error {
		sess, _, err := s.actions.CreateRoom(ctx, name)
		if err != nil {
			s.publish(Landing())
			return err
		}
		s.setPlayer(sess.PlayerID)
		return s.follow(sess.RoomID)
	})
}

func (s *Session) JoinRoom(roomID, name string) {
	s.publish(Loading())
	s.run(func(ctx context.Context) error {
		sess, _, err := s.actions.JoinRoom(ctx, roomID, name, s.Current().PlayerID)
		if err != nil {
			s.publish(Landing())
			return err
		}
		s.setPlayer(sess.PlayerID)
		return s.follow(sess.RoomID)
	})
}

// LeaveRoom drops local room state at once and tells the store afterwards.
// A failure there is logged, never surfaced.
func (s *Session) LeaveRoom() {
	sess := s.detach()
	s.publish(Landing())
	if sess.RoomID == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if _, err := s.actions.LeaveRoom(ctx, sess); err != nil {
			zap.L().Warn("leave room failed",
				zap.String("room_id", sess.RoomID),
				zap.String("player_id", sess.PlayerID),
				zap.Error(err),
			)
		}
	}()
}

func (s *Session) StartGame() {
	s.inRoom(func(ctx context.Context, sess lobby.Session) (lobby.Result, error) {
		return s.actions.StartGame(ctx, sess)
	})
}

func (s *Session) SubmitWord(word string) {
	s.inRoom(func(ctx context.Context, sess lobby.Session) (lobby.Result, error) {
		return s.actions.SubmitWord(ctx, sess, word)
	})
}

func (s *Session) SubmitGuess(text string) {
	s.inRoom(func(ctx context.Context, sess lobby.Session) (lobby.Result, error) {
		return s.actions.SubmitGuess(ctx, sess, text)
	})
}

// AdvanceRound moves past round, the round number shown to the player.
func (s *Session) AdvanceRound(round int) {
	s.inRoom(func(ctx context.Context, sess lobby.Session) (lobby.Result, error) {
		return s.actions.AdvanceRound(ctx, sess, round)
	})
}

func (s *Session) PlayAgain() {
	s.inRoom(func(ctx context.Context, sess lobby.Session) (lobby.Result, error) {
		return s.actions.PlayAgain(ctx, sess)
	})
}

// Close stops following the room and waits for in-flight actions. It does
// not leave the room.
func (s *Session) Close() {
	s.detach()
	s.cancel()
	s.wg.Wait()
}

func (s *Session) inRoom(action func(context.Context, lobby.Session) (lobby.Result, error)) {
	sess := s.Current()
	if sess.RoomID == "" {
		s.report(ErrNotInRoom)
		return
	}
	s.run(func(ctx context.Context) error {
		_, err := action(ctx, sess)
		return err
	})
}

func (s *Session) run(action func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, actionTimeout)
		defer cancel()
		if err := action(ctx); err != nil {
			s.report(err)
		}
	}()
}

func (s *Session) setPlayer(playerID string) {
	s.mu.Lock()
	s.playerID = playerID
	s.mu.Unlock()
}

// follow replaces the current feed with one for roomID.
func (s *Session) follow(roomID string) error {
	s.mu.Lock()
	if s.stopFeed != nil {
		s.stopFeed()
	}
	s.feedGen++
	gen := s.feedGen
	ctx, cancel := context.WithCancel(s.ctx)
	s.roomID = roomID
	s.stopFeed = cancel
	s.mu.Unlock()

	snaps, err := s.feed.Follow(ctx, roomID)
	if err != nil {
		cancel()
		s.clearIf(gen)
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consume(ctx, gen, roomID, snaps)
	}()
	return nil
}

func (s *Session) consume(ctx context.Context, gen uint64, roomID string, snaps <-chan lobby.Snapshot) {
	duration := s.actions.Rules().RoundDuration
	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				if ctx.Err() != nil || !s.current(gen) {
					return
				}
				// The feed dropped us without the room closing; pick it up again.
				zap.L().Debug("room feed lost, resubscribing", zap.String("room_id", roomID))
				if err := s.follow(roomID); err != nil {
					s.publish(Landing())
					s.report(err)
				}
				return
			}
			if !s.current(gen) {
				return
			}
			if snap.Closed {
				s.clearIf(gen)
				return
			}
			if snap.Version <= last {
				continue
			}
			last = snap.Version
			s.publish(StateFor(snap.Room, snap.Version, s.Current().PlayerID, duration))
		}
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedGen == gen
}

// clearIf returns to landing if feed gen is still the active one.
func (s *Session) clearIf(gen uint64) {
	s.mu.Lock()
	if s.feedGen != gen {
		s.mu.Unlock()
		return
	}
	s.roomID = ""
	if s.stopFeed != nil {
		s.stopFeed()
		s.stopFeed = nil
	}
	s.feedGen++
	s.mu.Unlock()
	s.publish(Landing())
}

func (s *Session) detach() lobby.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := lobby.Session{RoomID: s.roomID, PlayerID: s.playerID}
	s.roomID = ""
	if s.stopFeed != nil {
		s.stopFeed()
		s.stopFeed = nil
	}
	s.feedGen++
	return sess
}

// publish never blocks: a reader that falls behind only needs the newest
// state, so the oldest pending one is dropped.
func (s *Session) publish(st GameState) {
	for {
		select {
		case s.states <- st:
			return
		default:
		}
		select {
		case <-s.states:
		default:
		}
	}
}

func (s *Session) report(err error) {
	select {
	case s.errs <- err:
	default:
		zap.L().Debug("session error dropped", zap.Error(err))
	}
}
