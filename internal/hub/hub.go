// Package hub owns the lobbies this process is following, one per room code.
package hub

import (
	"context"
	"fmt"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
	"github.com/DoyleJ11/secret-word-backend/internal/lobby"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type HubMsg interface{ isHubMsg() }

type GetLobby struct {
	Code  string
	Reply chan *lobby.Lobby
}

// EnsureLobby returns the running lobby for Code, starting one if needed.
// Starting fails when the room does not exist in the store.
type EnsureLobby struct {
	Code  string
	Reply chan EnsureResult
}

type EnsureResult struct {
	Lobby *lobby.Lobby
	Err   error
}

// RemoveLobby forgets Lobby if it is still the one registered for Code.
type RemoveLobby struct {
	Code  string
	Lobby *lobby.Lobby
}

type CountLobbies struct {
	Reply chan int
}

type ShutdownHub struct{}

func (GetLobby) isHubMsg()     {}
func (EnsureLobby) isHubMsg()  {}
func (RemoveLobby) isHubMsg()  {}
func (CountLobbies) isHubMsg() {}
func (ShutdownHub) isHubMsg()  {}

type Hub struct {
	svc     *lobby.Service
	inbox   chan HubMsg
	lobbies map[string]*lobby.Lobby
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHub(parent context.Context, svc *lobby.Service) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		svc:     svc,
		inbox:   make(chan HubMsg, 64),
		lobbies: make(map[string]*lobby.Lobby),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub stopped and told every lobby to shut down.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Ensure is the request/reply form of EnsureLobby.
func (h *Hub) Ensure(ctx context.Context, code string) (*lobby.Lobby, error) {
	select {
	case <-h.done:
		return nil, context.Canceled
	default:
	}
	reply := make(chan EnsureResult, 1)
	select {
	case h.inbox <- EnsureLobby{Code: code, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, context.Canceled
	}
	select {
	case res := <-reply:
		return res.Lobby, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, context.Canceled
	}
}

func (h *Hub) loop() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetLobby:
				msg.Reply <- h.live(msg.Code) // May be nil

			case EnsureLobby:
				if lb := h.live(msg.Code); lb != nil {
					msg.Reply <- EnsureResult{Lobby: lb}
					break
				}
				lb, err := lobby.NewLobby(h.ctx, h.svc, msg.Code, h.lobbyClosed)
				if err != nil {
					msg.Reply <- EnsureResult{Err: err}
					break
				}
				h.lobbies[msg.Code] = lb
				zap.L().Debug("lobby started", zap.String("room_id", msg.Code))
				msg.Reply <- EnsureResult{Lobby: lb}

			case RemoveLobby:
				if h.lobbies[msg.Code] == msg.Lobby {
					delete(h.lobbies, msg.Code)
					zap.L().Debug("lobby removed", zap.String("room_id", msg.Code))
				}

			case CountLobbies:
				msg.Reply <- len(h.lobbies)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// live returns the registered lobby for code unless it already stopped.
func (h *Hub) live(code string) *lobby.Lobby {
	lb := h.lobbies[code]
	if lb == nil {
		return nil
	}
	select {
	case <-lb.Done():
		delete(h.lobbies, code)
		return nil
	default:
		return lb
	}
}

func (h *Hub) lobbyClosed(lb *lobby.Lobby) {
	select {
	case h.inbox <- RemoveLobby{Code: lb.RoomID(), Lobby: lb}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) shutdown() {
	for _, lb := range h.lobbies {
		lb.Send(lobby.Shutdown{})
	}
	clear(h.lobbies)
	h.cancel()
}

const followBuffer = 16

// Follow joins a new local client to the room's lobby and returns its
// snapshots. The client leaves when ctx ends. The channel is closed when the
// lobby stops or drops the client for falling behind.
func (h *Hub) Follow(ctx context.Context, roomID string) (<-chan lobby.Snapshot, error) {
	lb, err := h.Ensure(ctx, roomID)
	if err != nil {
		return nil, err
	}

	clientID := uuid.NewString()
	out := make(chan lobby.Snapshot, followBuffer)
	if !lb.Send(lobby.Join{ClientID: clientID, Outbox: out}) {
		return nil, fmt.Errorf("%w %s", engine.ErrRoomNotFound, roomID)
	}

	go func() {
		select {
		case <-ctx.Done():
			lb.Send(lobby.Leave{ClientID: clientID})
		case <-lb.Done():
		}
	}()
	return out, nil
}
