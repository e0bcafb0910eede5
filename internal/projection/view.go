// Package projection is what a single client sees of a room: a redacted
// view and the action surface that drives it.
package projection

import (
	"time"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
)

// Client-only phases. A room never stores these.
const (
	PhaseLanding engine.Phase = "landing"
	PhaseLoading engine.Phase = "loading"
)

type GameState struct {
	Room    *engine.Room `json:"room"`
	Phase   engine.Phase `json:"phase"`
	Version int64        `json:"version,omitempty"`
	// Deadline is when guessing ends, in unix milliseconds. Zero when no
	// round timer is running.
	Deadline int64 `json:"deadline,omitempty"`
}

// View returns a copy of room as viewerID may see it. Until the round is
// complete the secret word is blanked for everyone except the writer, and so
// is the text of a correct guess for anyone but the writer and its author.
func View(room engine.Room, viewerID string) engine.Room {
	out := room.Clone()
	rd := out.CurrentRoundData
	if rd == nil || rd.WriterID == viewerID || out.Phase == engine.PhaseRoundComplete {
		return out
	}
	rd.Word = ""
	for i := range rd.Guesses {
		if rd.Guesses[i].IsCorrect && rd.Guesses[i].PlayerID != viewerID {
			rd.Guesses[i].Text = ""
		}
	}
	return out
}

// StateFor is the game state viewerID renders at version.
func StateFor(room engine.Room, version int64, viewerID string, roundDuration time.Duration) GameState {
	view := View(room, viewerID)
	st := GameState{Room: &view, Phase: view.Phase, Version: version}
	if d := engine.Deadline(view.CurrentRoundData, roundDuration); !d.IsZero() && view.Phase == engine.PhaseGuessing {
		st.Deadline = d.UnixMilli()
	}
	return st
}

func Landing() GameState { return GameState{Phase: PhaseLanding} }

func Loading() GameState { return GameState{Phase: PhaseLoading} }
