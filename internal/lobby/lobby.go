package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
	"github.com/DoyleJ11/secret-word-backend/internal/store"
	"go.uber.org/zap"
)

type Msg interface{ isLobbyMsg() }

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this client wants to receive snapshots
}

func (Join) isLobbyMsg() {}

type Leave struct{ ClientID string }

func (Leave) isLobbyMsg() {}

type Shutdown struct{}

func (Shutdown) isLobbyMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isLobbyMsg() {}

// changed carries one delivery from the store subscription into the loop.
type changed struct{ change store.Change }

func (changed) isLobbyMsg() {}

type feedClosed struct{}

func (feedClosed) isLobbyMsg() {}

// deadlineFired is sent by the round timer. gen identifies the arming so a
// timer that was superseded is ignored.
type deadlineFired struct {
	gen       uint64
	round     int
	startTime int64
}

func (deadlineFired) isLobbyMsg() {}

// Snapshot is the unredacted room at a version. Closed marks the final
// delivery after the room was deleted.
type Snapshot struct {
	Version int64
	Room    engine.Room
	Closed  bool
}

type View struct {
	Version    int64
	NumClients int
	Room       engine.Room
	// DeadlineArmed reports whether a round timer is pending.
	DeadlineArmed bool
}

type roundKey struct {
	round     int
	startTime int64
}

// Lobby follows one room's change feed in this process: it fans committed
// snapshots out to local clients and enforces the guessing deadline.
type Lobby struct {
	roomID  string
	svc     *Service
	inbox   chan Msg
	room    engine.Room
	version int64
	clients map[string]chan Snapshot

	timer    *time.Timer
	timerGen uint64
	armedFor roundKey

	onClose func(*Lobby)
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// stopping is closed when shutdown begins. sendMu keeps Send from
	// queueing anything after shutdown drained the inbox.
	stopping chan struct{}
	sendMu   sync.RWMutex
	stopped  bool
}

// NewLobby subscribes to roomID and starts the loop. onClose, if set, runs
// once after the lobby stopped.
func NewLobby(parent context.Context, svc *Service, roomID string, onClose func(*Lobby)) (*Lobby, error) {
	ctx, cancel := context.WithCancel(parent)

	changes, err := svc.Subscribe(ctx, roomID)
	if err != nil {
		cancel()
		return nil, err
	}

	l := &Lobby{
		roomID:  roomID,
		svc:     svc,
		inbox:   make(chan Msg, 64),
		clients: make(map[string]chan Snapshot),
		onClose: onClose,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),

		stopping: make(chan struct{}),
	}

	go l.relay(changes)
	go l.loop()
	return l, nil
}

func (l *Lobby) RoomID() string { return l.roomID }

// Done is closed once the lobby stopped.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Expose the inbox so the hub or the WS layer can send messages.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Send delivers m unless the lobby already stopped. A Join accepted by Send
// always has its Outbox closed eventually, even if the lobby stops before
// reading it.
func (l *Lobby) Send(m Msg) bool {
	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.stopped {
		return false
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.stopping:
		return false
	}
}

func (l *Lobby) relay(changes <-chan store.Change) {
	for c := range changes {
		select {
		case l.inbox <- changed{change: c}:
		case <-l.ctx.Done():
			return
		}
	}
	select {
	case l.inbox <- feedClosed{}:
	case <-l.ctx.Done():
	}
}

func (l *Lobby) loop() {
	defer close(l.done)

	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.clients[msg.ClientID] = msg.Outbox
				if l.version > 0 {
					l.deliver(msg.ClientID, msg.Outbox, Snapshot{Version: l.version, Room: l.room.Clone()})
				}

			case Leave:
				delete(l.clients, msg.ClientID)

			case changed:
				if l.apply(msg.change) {
					l.shutdown()
					return
				}

			case feedClosed:
				zap.L().Info("room feed ended", zap.String("room_id", l.roomID))
				l.shutdown()
				return

			case deadlineFired:
				if msg.gen != l.timerGen {
					break
				}
				l.timer = nil
				l.armedFor = roundKey{}
				go l.expire(msg.round, msg.startTime)

			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- View{
					Version:       l.version,
					NumClients:    len(l.clients),
					Room:          l.room.Clone(),
					DeadlineArmed: l.timer != nil,
				}

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

// apply folds one change into local state. It reports true when the room is
// gone and the lobby should stop.
func (l *Lobby) apply(c store.Change) bool {
	if c.Err != nil {
		zap.L().Warn("room feed error", zap.String("room_id", l.roomID), zap.Error(c.Err))
		return false
	}
	if c.Version <= l.version {
		return false
	}
	l.version = c.Version

	if c.Deleted {
		l.broadcast(Snapshot{Version: c.Version, Closed: true})
		return true
	}

	l.room = *c.Room
	l.armDeadline()
	l.broadcast(Snapshot{Version: l.version, Room: l.room})
	return false
}

// armDeadline keeps exactly one timer pending for the round being guessed.
func (l *Lobby) armDeadline() {
	rd := l.room.CurrentRoundData
	if l.room.Phase != engine.PhaseGuessing || rd == nil || rd.StartTime == 0 {
		l.disarm()
		return
	}
	key := roundKey{round: rd.RoundNumber, startTime: rd.StartTime}
	if l.timer != nil && l.armedFor == key {
		return
	}
	l.disarm()

	wait := engine.Deadline(rd, l.svc.rules.RoundDuration).Sub(l.svc.now())
	if wait < 0 {
		wait = 0
	}
	gen := l.timerGen
	l.armedFor = key
	l.timer = time.AfterFunc(wait, func() {
		select {
		case l.inbox <- deadlineFired{gen: gen, round: key.round, startTime: key.startTime}:
		case <-l.ctx.Done():
		}
	})
}

func (l *Lobby) disarm() {
	l.timerGen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.armedFor = roundKey{}
}

func (l *Lobby) expire(round int, startTime int64) {
	ctx, cancel := context.WithTimeout(l.ctx, 5*time.Second)
	defer cancel()

	res, err := l.svc.ExpireRound(ctx, l.roomID, round, startTime)
	if err != nil {
		if l.ctx.Err() == nil {
			zap.L().Warn("expire round failed",
				zap.String("room_id", l.roomID),
				zap.Int("round", round),
				zap.Error(err),
			)
		}
		return
	}
	if !res.Noop {
		zap.L().Info("round expired", zap.String("room_id", l.roomID), zap.Int("round", round))
	}
}

func (l *Lobby) shutdown() {
	l.disarm()
	for id, ch := range l.clients {
		close(ch) // Tell client no more snapshots
		delete(l.clients, id)
	}

	close(l.stopping)
	l.sendMu.Lock()
	l.stopped = true
	l.sendMu.Unlock()
	l.drainJoins()

	l.cancel()
	if l.onClose != nil {
		go l.onClose(l)
	}
}

// drainJoins closes the outbox of every Join still queued, so a client that
// raced the shutdown is not left waiting.
func (l *Lobby) drainJoins() {
	for {
		select {
		case m := <-l.inbox:
			if j, ok := m.(Join); ok && j.Outbox != nil {
				close(j.Outbox)
			}
		default:
			return
		}
	}
}

func (l *Lobby) broadcast(snap Snapshot) {
	for id, ch := range l.clients {
		l.deliver(id, ch, Snapshot{Version: snap.Version, Room: snap.Room.Clone(), Closed: snap.Closed})
	}
}

func (l *Lobby) deliver(id string, ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
	default:
		// Client is slow/full - drop them.
		zap.L().Warn("dropping slow client", zap.String("room_id", l.roomID), zap.String("client_id", id))
		close(ch)
		delete(l.clients, id)
	}
}
