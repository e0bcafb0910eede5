package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func newTestRoom(ids ...string) Room {
	r := NewRoom("1234", Player{ID: ids[0], Name: ids[0]}, DefaultRules())
	for _, id := range ids[1:] {
		r.Players = append(r.Players, Player{ID: id, Name: id})
	}
	return r
}

func mustApply(t *testing.T, r Room, cmd Command) Room {
	t.Helper()
	if cmd.Now.IsZero() {
		cmd.Now = testNow
	}
	_, next, err := Apply(r, cmd, DefaultRules())
	require.NoError(t, err, "apply %s", cmd.Type)
	assertPhaseInvariant(t, next)
	return next
}

func assertPhaseInvariant(t *testing.T, r Room) {
	t.Helper()
	assert.Equal(t, r.Phase.HasRound(), r.CurrentRoundData != nil,
		"phase %s with round data %v", r.Phase, r.CurrentRoundData != nil)
	hosts := 0
	for _, p := range r.Players {
		if p.IsHost {
			hosts++
			assert.Equal(t, r.HostID, p.ID)
		}
	}
	if len(r.Players) > 0 {
		assert.Equal(t, 1, hosts, "exactly one host")
	}
}

func score(r Room, id string) int {
	p, _ := r.Player(id)
	return p.Score
}

func TestScenario_TwoRoundGame(t *testing.T) {
	r := newTestRoom("A", "B", "C")
	r.TotalRounds = 2

	r = mustApply(t, r, Command{Type: CmdStartGame, ActorID: "A"})
	require.Equal(t, PhaseWordInput, r.Phase)
	require.Equal(t, 1, r.CurrentRound)
	require.Equal(t, "A", r.CurrentRoundData.WriterID)

	r = mustApply(t, r, Command{Type: CmdSubmitWord, ActorID: "A", Text: "Banana"})
	require.Equal(t, PhaseGuessing, r.Phase)
	assert.Equal(t, "banana", r.CurrentRoundData.Word)
	assert.Equal(t, "B_____", r.CurrentRoundData.WordHint)
	assert.Equal(t, testNow.UnixMilli(), r.CurrentRoundData.StartTime)

	r = mustApply(t, r, Command{Type: CmdSubmitGuess, ActorID: "B", Text: "banana"})
	assert.Equal(t, 100, score(r, "B"))
	assert.Equal(t, "B", r.CurrentRoundData.FirstCorrectPlayerID)
	assert.Equal(t, PhaseGuessing, r.Phase)

	r = mustApply(t, r, Command{Type: CmdSubmitGuess, ActorID: "C", Text: "apple"})
	assert.Equal(t, 0, score(r, "C"))
	assert.Equal(t, PhaseGuessing, r.Phase)

	r = mustApply(t, r, Command{Type: CmdSubmitGuess, ActorID: "C", Text: "Banana "})
	assert.Equal(t, 50, score(r, "C"))
	assert.Equal(t, 50, score(r, "A"))
	assert.Equal(t, PhaseRoundComplete, r.Phase)
	assert.Len(t, r.CurrentRoundData.Guesses, 3)

	r = mustApply(t, r, Command{Type: CmdAdvanceRound, ActorID: "A"})
	assert.Equal(t, 2, r.CurrentRound)
	assert.Equal(t, "B", r.CurrentRoundData.WriterID)
	assert.Equal(t, PhaseWordInput, r.Phase)
	assert.Empty(t, r.CurrentRoundData.Word)
	assert.Zero(t, r.CurrentRoundData.StartTime)

	r = mustApply(t, r, Command{Type: CmdSubmitWord, ActorID: "B", Text: "kiwi"})
	r = mustApply(t, r, Command{Type: CmdSubmitGuess, ActorID: "C", Text: "kiwi"})
	r = mustApply(t, r, Command{Type: CmdSubmitGuess, ActorID: "A", Text: "kiwi"})
	require.Equal(t, PhaseRoundComplete, r.Phase)

	r = mustApply(t, r, Command{Type: CmdAdvanceRound, ActorID: "A"})
	assert.Equal(t, PhaseGameOver, r.Phase)
	assert.Nil(t, r.CurrentRoundData)
	assert.Equal(t, 2, r.CurrentRound)

	r = mustApply(t, r, Command{Type: CmdPlayAgain, ActorID: "A"})
	assert.Equal(t, PhaseLobby, r.Phase)
	assert.Zero(t, r.CurrentRound)
	for _, p := range r.Players {
		assert.Zero(t, p.Score, p.ID)
	}
	assert.Len(t, r.Players, 3)
}

func TestApply_Rejections(t *testing.T) {
	lobby := newTestRoom("A", "B")
	wordInput := mustApply(t, lobby, Command{Type: CmdStartGame, ActorID: "A"})
	guessing := mustApply(t, wordInput, Command{Type: CmdSubmitWord, ActorID: "A", Text: "pear"})

	cases := []struct {
		name    string
		setup   Room
		cmd     Command
		wantErr error
		kind    error
	}{
		{"start by non-host", lobby, Command{Type: CmdStartGame, ActorID: "B"}, ErrNotHost, ErrAuthorization},
		{"start alone", newTestRoom("A"), Command{Type: CmdStartGame, ActorID: "A"}, ErrNotEnoughPlayers, ErrValidation},
		{"word by non-writer", wordInput, Command{Type: CmdSubmitWord, ActorID: "B", Text: "pear"}, ErrNotWriter, ErrAuthorization},
		{"one letter word", wordInput, Command{Type: CmdSubmitWord, ActorID: "A", Text: " x "}, ErrWordTooShort, ErrValidation},
		{"word while guessing", guessing, Command{Type: CmdSubmitWord, ActorID: "A", Text: "plum"}, ErrWrongPhase, ErrValidation},
		{"writer guesses", guessing, Command{Type: CmdSubmitGuess, ActorID: "A", Text: "pear"}, ErrWriterCannotGuess, ErrValidation},
		{"guess before word", wordInput, Command{Type: CmdSubmitGuess, ActorID: "B", Text: "pear"}, ErrRoundNotActive, ErrValidation},
		{"guess by stranger", guessing, Command{Type: CmdSubmitGuess, ActorID: "Z", Text: "pear"}, ErrNotMember, ErrAuthorization},
		{"empty guess", guessing, Command{Type: CmdSubmitGuess, ActorID: "B", Text: "  "}, ErrEmptyGuess, ErrValidation},
		{"anonymous", lobby, Command{Type: CmdStartGame}, ErrUnauthenticated, ErrValidation},
		{"advance by non-host", guessing, Command{Type: CmdAdvanceRound, ActorID: "B"}, ErrNotHost, ErrAuthorization},
		{"advance mid round", guessing, Command{Type: CmdAdvanceRound, ActorID: "A"}, ErrStale, ErrNoop},
		{"play again mid game", guessing, Command{Type: CmdPlayAgain, ActorID: "A"}, ErrStale, ErrNoop},
		{"restart started game", wordInput, Command{Type: CmdStartGame, ActorID: "A"}, ErrStale, ErrNoop},
		{"unknown command", lobby, Command{Type: "Dance", ActorID: "A"}, ErrUnsupportedCommand, ErrValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.cmd.Now.IsZero() {
				tc.cmd.Now = testNow
			}
			events, got, err := Apply(tc.setup, tc.cmd, DefaultRules())
			require.ErrorIs(t, err, tc.wantErr)
			assert.ErrorIs(t, err, tc.kind)
			assert.Nil(t, events)
			assert.Equal(t, tc.setup, got, "rejected command must not change state")
		})
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	r := newTestRoom("A", "B")
	r = mustApply(t, r, Command{Type: CmdStartGame, ActorID: "A"})
	r = mustApply(t, r, Command{Type: CmdSubmitWord, ActorID: "A", Text: "pear"})
	before := r.Clone()

	_ = mustApply(t, r, Command{Type: CmdSubmitGuess, ActorID: "B", Text: "pear"})

	assert.Equal(t, before, r)
	assert.Empty(t, r.CurrentRoundData.Guesses)
}

func TestJoin(t *testing.T) {
	t.Run("appends new player", func(t *testing.T) {
		r := mustApply(t, newTestRoom("A"), Command{Type: CmdJoin, ActorID: "B", Name: "  Bea  "})
		require.Len(t, r.Players, 2)
		assert.Equal(t, Player{ID: "B", Name: "Bea"}, r.Players[1])
	})

	t.Run("rejoin is a no-op that keeps score", func(t *testing.T) {
		r := newTestRoom("A", "B")
		r.Players[1].Score = 150
		_, got, err := Apply(r, Command{Type: CmdJoin, ActorID: "B", Name: "B2"}, DefaultRules())
		require.ErrorIs(t, err, ErrNoop)
		assert.Len(t, got.Players, 2)
		assert.Equal(t, 150, score(got, "B"))
	})

	t.Run("capacity", func(t *testing.T) {
		ids := make([]string, 10)
		for i := range ids {
			ids[i] = fmt.Sprintf("p%d", i)
		}
		r := newTestRoom(ids...)
		_, got, err := Apply(r, Command{Type: CmdJoin, ActorID: "late", Name: "Late"}, DefaultRules())
		require.ErrorIs(t, err, ErrCapacity)
		assert.Len(t, got.Players, 10)
	})

	t.Run("empty name", func(t *testing.T) {
		_, _, err := Apply(newTestRoom("A"), Command{Type: CmdJoin, ActorID: "B", Name: " "}, DefaultRules())
		require.ErrorIs(t, err, ErrEmptyName)
	})
}

func TestLeave(t *testing.T) {
	t.Run("last player empties room", func(t *testing.T) {
		events, r, err := Apply(newTestRoom("A"), Command{Type: CmdLeave, ActorID: "A"}, DefaultRules())
		require.NoError(t, err)
		assert.Empty(t, r.Players)
		assert.True(t, ContainsEvent(events, EvtRoomEmptied))
	})

	t.Run("host leaving promotes first remaining player", func(t *testing.T) {
		r := mustApply(t, newTestRoom("A", "B", "C"), Command{Type: CmdLeave, ActorID: "A"})
		assert.Equal(t, "B", r.HostID)
		assert.True(t, r.Players[0].IsHost)
		assert.False(t, r.Players[1].IsHost)
	})

	t.Run("non-host leaving keeps host", func(t *testing.T) {
		r := mustApply(t, newTestRoom("A", "B", "C"), Command{Type: CmdLeave, ActorID: "B"})
		assert.Equal(t, "A", r.HostID)
		assert.Equal(t, []string{"A", "C"}, ids(r))
	})

	t.Run("unknown player is a no-op", func(t *testing.T) {
		_, _, err := Apply(newTestRoom("A"), Command{Type: CmdLeave, ActorID: "Z"}, DefaultRules())
		require.ErrorIs(t, err, ErrNoop)
	})

	t.Run("writer leaving skips the round without bonus", func(t *testing.T) {
		r := newTestRoom("A", "B", "C")
		r = mustApply(t, r, Command{Type: CmdStartGame, ActorID: "A"})
		r = mustApply(t, r, Command{Type: CmdSubmitWord, ActorID: "A", Text: "pear"})
		r = mustApply(t, r, Command{Type: CmdLeave, ActorID: "A"})
		assert.Equal(t, PhaseRoundComplete, r.Phase)
		assert.Equal(t, "B", r.HostID)
		assert.Zero(t, score(r, "B")+score(r, "C"))
	})

	t.Run("last unguessed guesser leaving completes the round", func(t *testing.T) {
		r := newTestRoom("A", "B", "C")
		r = mustApply(t, r, Command{Type: CmdStartGame, ActorID: "A"})
		r = mustApply(t, r, Command{Type: CmdSubmitWord, ActorID: "A", Text: "pear"})
		r = mustApply(t, r, Command{Type: CmdSubmitGuess, ActorID: "B", Text: "pear"})
		require.Equal(t, PhaseGuessing, r.Phase)
		r = mustApply(t, r, Command{Type: CmdLeave, ActorID: "C"})
		assert.Equal(t, PhaseRoundComplete, r.Phase)
		assert.Equal(t, 50, score(r, "A"))
	})

	t.Run("only writer left skips the round", func(t *testing.T) {
		r := newTestRoom("A", "B")
		r = mustApply(t, r, Command{Type: CmdStartGame, ActorID: "A"})
		r = mustApply(t, r, Command{Type: CmdLeave, ActorID: "B"})
		assert.Equal(t, PhaseRoundComplete, r.Phase)
		assert.Zero(t, score(r, "A"))
	})
}

func TestGuess_DuplicateCorrectIsNoop(t *testing.T) {
	r := newTestRoom("A", "B", "C")
	r = mustApply(t, r, Command{Type: CmdStartGame, ActorID: "A"})
	r = mustApply(t, r, Command{Type: CmdSubmitWord, ActorID: "A", Text: "pear"})
	r = mustApply(t, r, Command{Type: CmdSubmitGuess, ActorID: "B", Text: "pear"})

	_, got, err := Apply(r, Command{Type: CmdSubmitGuess, ActorID: "B", Text: "pear", Now: testNow}, DefaultRules())
	require.ErrorIs(t, err, ErrAlreadyGuessed)
	assert.Equal(t, 100, score(got, "B"))
	assert.Len(t, got.CurrentRoundData.Guesses, 1)
}

func TestExpireRound(t *testing.T) {
	r := newTestRoom("A", "B")
	r = mustApply(t, r, Command{Type: CmdStartGame, ActorID: "A"})
	r = mustApply(t, r, Command{Type: CmdSubmitWord, ActorID: "A", Text: "pear"})
	start := r.CurrentRoundData.StartTime

	_, _, err := Apply(r, Command{Type: CmdExpireRound, Round: 1, StartTime: start + 1}, DefaultRules())
	require.ErrorIs(t, err, ErrStale, "timer armed for another word must not fire")

	r = mustApply(t, r, Command{Type: CmdExpireRound, Round: 1, StartTime: start})
	assert.Equal(t, PhaseRoundComplete, r.Phase)
	assert.Zero(t, score(r, "A"), "no writer bonus on expiry")

	_, _, err = Apply(r, Command{Type: CmdExpireRound, Round: 1, StartTime: start}, DefaultRules())
	require.ErrorIs(t, err, ErrStale)
}

func TestAdvance_PinnedRoundLosesRace(t *testing.T) {
	r := newTestRoom("A", "B")
	r.TotalRounds = 3
	r = mustApply(t, r, Command{Type: CmdStartGame, ActorID: "A"})
	r = mustApply(t, r, Command{Type: CmdSubmitWord, ActorID: "A", Text: "pear"})
	r = mustApply(t, r, Command{Type: CmdSubmitGuess, ActorID: "B", Text: "pear"})
	require.Equal(t, PhaseRoundComplete, r.Phase)

	_, _, err := Apply(r, Command{Type: CmdAdvanceRound, ActorID: "A", Round: 2}, DefaultRules())
	require.True(t, errors.Is(err, ErrStale))
}

func ids(r Room) []string {
	out := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, p.ID)
	}
	return out
}
