package engine

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// HintMask replaces every character of the word after the first.
const HintMask = '_'

// NewRoom is the lobby state of a freshly created room with a single host.
func NewRoom(id string, host Player, rules Rules) Room {
	host.Score = 0
	host.IsHost = true
	return Room{
		ID:          id,
		Players:     []Player{host},
		TotalRounds: rules.TotalRounds,
		Phase:       PhaseLobby,
		HostID:      host.ID,
	}
}

// Clone deep-copies the room so a transition never aliases its input.
func (r Room) Clone() Room {
	out := r
	out.Players = append([]Player(nil), r.Players...)
	if r.CurrentRoundData != nil {
		rd := *r.CurrentRoundData
		rd.Guesses = append([]Guess(nil), r.CurrentRoundData.Guesses...)
		out.CurrentRoundData = &rd
	}
	return out
}

func (r Room) Player(id string) (Player, bool) {
	if i := playerIndex(r.Players, id); i >= 0 {
		return r.Players[i], true
	}
	return Player{}, false
}

func (r Room) IsWriter(playerID string) bool {
	return r.CurrentRoundData != nil && r.CurrentRoundData.WriterID == playerID
}

// NormalizeWord is the canonical form used for storage and comparison.
func NormalizeWord(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Hint renders the word as its uppercased first character followed by one
// mask character per remaining character.
func Hint(word string) string {
	if word == "" {
		return ""
	}
	first, size := utf8.DecodeRuneInString(word)
	rest := utf8.RuneCountInString(word[size:])
	return string(unicode.ToUpper(first)) + strings.Repeat(string(HintMask), rest)
}

// Deadline is when guessing for the round ends, or the zero time when the
// round timer is not running.
func Deadline(round *Round, d time.Duration) time.Time {
	if round == nil || round.StartTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(round.StartTime).Add(d)
}

func playerIndex(players []Player, id string) int {
	for i, p := range players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func newRound(number, writerIndex int, players []Player) *Round {
	return &Round{
		RoundNumber: number,
		WriterID:    players[writerIndex].ID,
		WriterIndex: writerIndex,
		Guesses:     []Guess{},
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
