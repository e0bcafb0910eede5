package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
	"github.com/DoyleJ11/secret-word-backend/internal/store"
	"github.com/stretchr/testify/require"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvNoSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) {
	t.Helper()
	select {
	case s, ok := <-ch:
		if !ok {
			// channel closed → that's fine; no further snapshots possible
			return
		}
		t.Fatalf("expected no snapshot within %v, but got: %+v", within, s)
	case <-time.After(within):
		// good: no snapshot
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

// recvUntil drains snapshots until one satisfies ok.
func recvUntil(t *testing.T, ch <-chan Snapshot, within time.Duration, ok func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case snap, open := <-ch:
			if !open {
				t.Fatalf("client outbox closed before expected snapshot")
			}
			if ok(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for matching snapshot")
			return Snapshot{}
		}
	}
}

func getView(t *testing.T, l *Lobby) View {
	t.Helper()
	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	return recvView(t, reply, 500*time.Millisecond)
}

func newLiveService(rules engine.Rules) *Service {
	return NewService(store.NewMemoryStore(store.Options{MaxRetries: 20}), rules)
}

func TestLobby_BroadcastsCommittedSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := newLiveService(engine.DefaultRules())
	s := setupRoom(t, svc, "A", "B")

	l, err := NewLobby(ctx, svc, s[0].RoomID, nil)
	require.NoError(t, err)

	clientOut := make(chan Snapshot, 4)
	l.Inbox() <- Join{ClientID: "c1", Outbox: clientOut}

	first := recvSnapshot(t, clientOut, 500*time.Millisecond)
	if first.Version != 2 {
		t.Fatalf("after join: want version=2, got %d", first.Version)
	}
	if len(first.Room.Players) != 2 {
		t.Fatalf("after join: want 2 players, got %+v", first.Room.Players)
	}

	_, err = svc.StartGame(ctx, s[0])
	require.NoError(t, err)

	next := recvSnapshot(t, clientOut, 500*time.Millisecond)
	if next.Version != 3 {
		t.Fatalf("after start: want version=3, got %d", next.Version)
	}
	if next.Room.Phase != engine.PhaseWordInput {
		t.Fatalf("after start: want phase word-input, got %v", next.Room.Phase)
	}

	l.Inbox() <- Shutdown{}
}

func TestLobby_DropSlowClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := newLiveService(engine.DefaultRules())
	s := setupRoom(t, svc, "A", "B")

	l, err := NewLobby(ctx, svc, s[0].RoomID, nil)
	require.NoError(t, err)

	clientOut := make(chan Snapshot, 1)
	l.Inbox() <- Join{ClientID: "c1", Outbox: clientOut}

	_, err = svc.StartGame(ctx, s[0])
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return getView(t, l).NumClients == 0
	}, time.Second, 10*time.Millisecond, "expected slow client to be dropped")
}

func TestLobby_DeadlineExpiresRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rules := engine.DefaultRules()
	rules.RoundDuration = 100 * time.Millisecond
	svc := newLiveService(rules)
	s := setupRoom(t, svc, "A", "B", "C")

	l, err := NewLobby(ctx, svc, s[0].RoomID, nil)
	require.NoError(t, err)
	out := make(chan Snapshot, 8)
	l.Inbox() <- Join{ClientID: "c1", Outbox: out}

	_, err = svc.StartGame(ctx, s[0])
	require.NoError(t, err)
	_, err = svc.SubmitWord(ctx, s[0], "river")
	require.NoError(t, err)

	done := recvUntil(t, out, 2*time.Second, func(snap Snapshot) bool {
		return snap.Room.Phase == engine.PhaseRoundComplete
	})
	if done.Room.CurrentRoundData.RoundNumber != 1 {
		t.Fatalf("want round 1 expired, got %d", done.Room.CurrentRoundData.RoundNumber)
	}
	for _, p := range done.Room.Players {
		if p.Score != 0 {
			t.Fatalf("expiry must not award points, got %+v", p)
		}
	}

	l.Inbox() <- Shutdown{}
}

func TestLobby_TimerGen_DropsStaleFires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rules := engine.DefaultRules()
	rules.RoundDuration = 300 * time.Millisecond
	svc := newLiveService(rules)
	s := setupRoom(t, svc, "A", "B")

	l, err := NewLobby(ctx, svc, s[0].RoomID, nil)
	require.NoError(t, err)
	out := make(chan Snapshot, 8)
	l.Inbox() <- Join{ClientID: "c1", Outbox: out}

	_, err = svc.StartGame(ctx, s[0])
	require.NoError(t, err)
	_, err = svc.SubmitWord(ctx, s[0], "cloud")
	require.NoError(t, err)

	recvUntil(t, out, time.Second, func(snap Snapshot) bool {
		return snap.Room.Phase == engine.PhaseGuessing
	})
	if !getView(t, l).DeadlineArmed {
		t.Fatalf("expected deadline armed while guessing")
	}

	// BEFORE the deadline, the round ends on its own
	_, err = svc.SubmitGuess(ctx, s[1], "cloud")
	require.NoError(t, err)
	completed := recvUntil(t, out, time.Second, func(snap Snapshot) bool {
		return snap.Room.Phase == engine.PhaseRoundComplete
	})

	if getView(t, l).DeadlineArmed {
		t.Fatalf("expected deadline disarmed after round completed")
	}
	recvNoSnapshot(t, out, 500*time.Millisecond)

	view := getView(t, l)
	if view.Version != completed.Version {
		t.Fatalf("stale timer must not write: want version=%d, got %d", completed.Version, view.Version)
	}
	l.Inbox() <- Shutdown{}
}

func TestLobby_Shutdown_StopsTimer_NoFire(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rules := engine.DefaultRules()
	rules.RoundDuration = 200 * time.Millisecond
	svc := newLiveService(rules)
	s := setupRoom(t, svc, "A", "B")

	l, err := NewLobby(ctx, svc, s[0].RoomID, nil)
	require.NoError(t, err)
	out := make(chan Snapshot, 8)
	l.Inbox() <- Join{ClientID: "c1", Outbox: out}

	_, err = svc.StartGame(ctx, s[0])
	require.NoError(t, err)
	_, err = svc.SubmitWord(ctx, s[0], "stone")
	require.NoError(t, err)
	recvUntil(t, out, time.Second, func(snap Snapshot) bool {
		return snap.Room.Phase == engine.PhaseGuessing
	})

	l.Inbox() <- Shutdown{}
	recvNoSnapshot(t, out, 400*time.Millisecond)
	<-l.Done()
	time.Sleep(300 * time.Millisecond) // past the round deadline

	room, _, err := svc.Room(ctx, s[0].RoomID)
	require.NoError(t, err)
	if room.Phase != engine.PhaseGuessing {
		t.Fatalf("stopped lobby must not expire the round, got phase %v", room.Phase)
	}
}

func TestLobby_RoomDeletedClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := newLiveService(engine.DefaultRules())
	s := setupRoom(t, svc, "A")

	closed := make(chan *Lobby, 1)
	l, err := NewLobby(ctx, svc, s[0].RoomID, func(l *Lobby) { closed <- l })
	require.NoError(t, err)
	out := make(chan Snapshot, 4)
	l.Inbox() <- Join{ClientID: "c1", Outbox: out}
	recvSnapshot(t, out, 500*time.Millisecond)

	_, err = svc.LeaveRoom(ctx, s[0])
	require.NoError(t, err)

	last := recvSnapshot(t, out, 500*time.Millisecond)
	if !last.Closed {
		t.Fatalf("want closing snapshot, got %+v", last)
	}
	recvNoSnapshot(t, out, 200*time.Millisecond)

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatalf("lobby did not stop after room deletion")
	}
	select {
	case got := <-closed:
		require.Same(t, l, got)
	case <-time.After(time.Second):
		t.Fatalf("onClose not called")
	}
	if l.Send(Leave{ClientID: "c1"}) {
		t.Fatalf("send to stopped lobby should report false")
	}
}

func TestNewLobby_MissingRoom(t *testing.T) {
	svc := newLiveService(engine.DefaultRules())
	_, err := NewLobby(context.Background(), svc, "nope", nil)
	require.ErrorIs(t, err, engine.ErrRoomNotFound)
}

func TestLobby_JoinQueuedAtShutdownIsClosed(t *testing.T) {
	svc := newLiveService(engine.DefaultRules())
	s := setupRoom(t, svc, "A")

	for i := 0; i < 20; i++ {
		l, err := NewLobby(context.Background(), svc, s[0].RoomID, nil)
		require.NoError(t, err)

		// Shutdown is ahead of the Join in the inbox, so the loop never
		// registers this client.
		l.Inbox() <- Shutdown{}
		out := make(chan Snapshot, 4)
		accepted := l.Send(Join{ClientID: "late", Outbox: out})
		<-l.Done()
		if !accepted {
			continue
		}

		select {
		case _, ok := <-out:
			if ok {
				t.Fatalf("stopped lobby must not deliver snapshots")
			}
		case <-time.After(time.Second):
			t.Fatalf("outbox of a queued join was never closed")
		}
	}
}
