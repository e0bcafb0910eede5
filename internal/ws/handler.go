package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
	"github.com/DoyleJ11/secret-word-backend/internal/hub"
	"github.com/DoyleJ11/secret-word-backend/internal/lobby"
	"github.com/DoyleJ11/secret-word-backend/internal/projection"
	"github.com/DoyleJ11/secret-word-backend/pkg/types"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeTimeout = 3 * time.Second
	pingInterval = 20 * time.Second
)

var errRateLimited = errors.New("too many guesses")

type Options struct {
	GuessRate  rate.Limit
	GuessBurst int
	// OriginPatterns loosens the same-origin check, e.g. for local dev.
	OriginPatterns []string
}

func Handler(h *hub.Hub, svc *lobby.Service, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		playerID := r.URL.Query().Get("player_id")
		if code == "" || playerID == "" {
			http.Error(w, "missing code or player_id", http.StatusBadRequest)
			return
		}

		room, _, err := svc.Room(r.Context(), code)
		if errors.Is(err, engine.ErrNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
		if _, ok := room.Player(playerID); !ok {
			http.Error(w, "not a member of this room", http.StatusForbidden)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		log := zap.L().With(zap.String("room_id", code), zap.String("player_id", playerID))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sess := projection.NewSession(ctx, svc, h, playerID)
		defer sess.Close()
		if err := sess.Attach(code); err != nil {
			conn.Close(websocket.StatusPolicyViolation, "room unavailable")
			return
		}

		// Writer goroutine
		go func() {
			defer cancel()
			writeLoop(ctx, conn, sess, log)
		}()

		limiter := rate.NewLimiter(opts.GuessRate, opts.GuessBurst)

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if ctx.Err() == nil {
						log.Debug("websocket read failed", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(ctx, conn, "bad_request", "bad json")
				continue
			}

			switch cm.Type {
			case types.MsgStartGame:
				sess.StartGame()
			case types.MsgSubmitWord:
				sess.SubmitWord(cm.Word)
			case types.MsgSubmitGuess:
				if !limiter.Allow() {
					writeError(ctx, conn, "rate_limited", errRateLimited.Error())
					continue
				}
				sess.SubmitGuess(cm.Text)
			case types.MsgAdvanceRound:
				sess.AdvanceRound(cm.Round)
			case types.MsgPlayAgain:
				sess.PlayAgain()
			case types.MsgLeaveRoom:
				sess.LeaveRoom()
			default:
				writeError(ctx, conn, "bad_request", "unknown type")
			}
		}
	}
}

// writeLoop forwards session states and errors to the socket until the
// session returns to landing or the connection ends.
func writeLoop(ctx context.Context, conn *websocket.Conn, sess *projection.Session, log *zap.Logger) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	inRoom := false
	for {
		select {
		case <-ctx.Done():
			return

		case st := <-sess.States():
			switch st.Phase {
			case projection.PhaseLoading:
				continue
			case projection.PhaseLanding:
				if !inRoom {
					continue
				}
				write(ctx, conn, types.ServerMessage{Type: types.MsgRoomClosed})
				conn.Close(websocket.StatusNormalClosure, "room closed")
				return
			}
			inRoom = true
			state := st
			if err := write(ctx, conn, types.ServerMessage{Type: types.MsgStateSnapshot, Version: st.Version, State: &state}); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}

		case err := <-sess.Errors():
			writeError(ctx, conn, engine.Kind(err), err.Error())

		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, msg)
}

func writeError(ctx context.Context, conn *websocket.Conn, code, message string) {
	_ = write(ctx, conn, types.ServerMessage{Type: types.MsgError, Code: code, Error: message})
}
