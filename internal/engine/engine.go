package engine

import (
	"strings"
	"unicode/utf8"
)

const maxNameLength = 20

// Validate rejects malformed input before any store round trip.
func Validate(cmd Command, rules Rules) error {
	if cmd.Type != CmdExpireRound && cmd.ActorID == "" {
		return ErrUnauthenticated
	}

	switch cmd.Type {
	case CmdJoin:
		if CleanName(cmd.Name) == "" {
			return ErrEmptyName
		}
	case CmdSubmitWord:
		if utf8.RuneCountInString(NormalizeWord(cmd.Text)) < rules.MinWordLength {
			return ErrWordTooShort
		}
	case CmdSubmitGuess:
		if NormalizeWord(cmd.Text) == "" {
			return ErrEmptyGuess
		}
	case CmdLeave, CmdStartGame, CmdAdvanceRound, CmdPlayAgain, CmdExpireRound:
	default:
		return ErrUnsupportedCommand
	}
	return nil
}

// CleanName trims a display name and caps its length.
func CleanName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	return name
}

// Apply computes the next room from a snapshot and a command. It never
// mutates s. On error the returned room is s unchanged.
func Apply(s Room, cmd Command, rules Rules) ([]Event, Room, error) {
	if err := Validate(cmd, rules); err != nil {
		return nil, s, err
	}

	next := s.Clone()
	var events []Event
	var err error

	switch cmd.Type {
	case CmdJoin:
		events, err = applyJoin(&next, cmd, rules)
	case CmdLeave:
		events, err = applyLeave(&next, cmd, rules)
	case CmdStartGame:
		events, err = applyStart(&next, cmd)
	case CmdSubmitWord:
		events, err = applySubmitWord(&next, cmd)
	case CmdSubmitGuess:
		events, err = applyGuess(&next, cmd, rules)
	case CmdAdvanceRound:
		events, err = applyAdvance(&next, cmd)
	case CmdPlayAgain:
		events, err = applyPlayAgain(&next, cmd)
	case CmdExpireRound:
		events, err = applyExpire(&next, cmd)
	default:
		err = ErrUnsupportedCommand
	}
	if err != nil {
		return nil, s, err
	}
	return events, next, nil
}

func applyJoin(r *Room, cmd Command, rules Rules) ([]Event, error) {
	if _, ok := r.Player(cmd.ActorID); ok {
		return nil, ErrAlreadyMember
	}
	if len(r.Players) >= rules.MaxPlayers {
		return nil, ErrRoomFull
	}
	r.Players = append(r.Players, Player{ID: cmd.ActorID, Name: CleanName(cmd.Name)})
	return []Event{{Type: EvtPlayerJoined, PlayerID: cmd.ActorID}}, nil
}

func applyLeave(r *Room, cmd Command, rules Rules) ([]Event, error) {
	idx := playerIndex(r.Players, cmd.ActorID)
	if idx < 0 {
		return nil, ErrAlreadyLeft
	}
	r.Players = append(r.Players[:idx], r.Players[idx+1:]...)
	events := []Event{{Type: EvtPlayerLeft, PlayerID: cmd.ActorID}}

	if len(r.Players) == 0 {
		return append(events, Event{Type: EvtRoomEmptied}), nil
	}

	if r.HostID == cmd.ActorID {
		for i := range r.Players {
			r.Players[i].IsHost = i == 0
		}
		r.HostID = r.Players[0].ID
		events = append(events, Event{Type: EvtHostReassigned, PlayerID: r.HostID})
	}

	rd := r.CurrentRoundData
	if rd == nil {
		return events, nil
	}

	switch r.Phase {
	case PhaseWordInput, PhaseGuessing:
		if rd.WriterID == cmd.ActorID {
			r.Phase = PhaseRoundComplete
			events = append(events, Event{Type: EvtRoundSkipped, PlayerID: cmd.ActorID})
			break
		}
		if len(r.Players) == 1 {
			r.Phase = PhaseRoundComplete
			events = append(events, Event{Type: EvtRoundSkipped, PlayerID: cmd.ActorID})
			break
		}
		if r.Phase == PhaseGuessing && allGuessersCorrect(r.Players, rd) {
			events = append(events, completeWithBonus(r, rules)...)
		}
	}
	return events, nil
}

func applyStart(r *Room, cmd Command) ([]Event, error) {
	if r.HostID != cmd.ActorID {
		return nil, ErrNotHost
	}
	if r.Phase != PhaseLobby {
		return nil, ErrStale
	}
	if len(r.Players) < 2 {
		return nil, ErrNotEnoughPlayers
	}

	writer, err := NextWriterIndex(r.Players, "", -1)
	if err != nil {
		return nil, err
	}
	r.CurrentRound = 1
	r.CurrentRoundData = newRound(1, writer, r.Players)
	r.Phase = PhaseWordInput

	return []Event{
		{Type: EvtGameStarted, PlayerID: cmd.ActorID},
		{Type: EvtRoundStarted, PlayerID: r.CurrentRoundData.WriterID},
	}, nil
}

func applySubmitWord(r *Room, cmd Command) ([]Event, error) {
	rd := r.CurrentRoundData
	if r.Phase != PhaseWordInput || rd == nil {
		return nil, ErrWrongPhase
	}
	if rd.WriterID != cmd.ActorID {
		return nil, ErrNotWriter
	}

	rd.Word = NormalizeWord(cmd.Text)
	rd.WordHint = Hint(rd.Word)
	rd.StartTime = cmd.Now.UnixMilli()
	r.Phase = PhaseGuessing

	return []Event{{Type: EvtWordSubmitted, PlayerID: cmd.ActorID}}, nil
}

func applyGuess(r *Room, cmd Command, rules Rules) ([]Event, error) {
	player, ok := r.Player(cmd.ActorID)
	if !ok {
		return nil, ErrNotMember
	}
	rd := r.CurrentRoundData
	if r.Phase != PhaseGuessing || rd == nil {
		return nil, ErrRoundNotActive
	}
	if rd.WriterID == cmd.ActorID {
		return nil, ErrWriterCannotGuess
	}
	if hasCorrectGuess(rd, cmd.ActorID) {
		return nil, ErrAlreadyGuessed
	}

	correct := NormalizeWord(cmd.Text) == rd.Word
	rd.Guesses = append(rd.Guesses, Guess{
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Text:       cmd.Text,
		IsCorrect:  correct,
		Timestamp:  cmd.Now.UnixMilli(),
	})
	events := []Event{{Type: EvtGuessRecorded, PlayerID: player.ID}}
	if !correct {
		return events, nil
	}

	first := rd.FirstCorrectPlayerID == ""
	points := rules.ScoreForGuess(first)
	addScore(r.Players, player.ID, points)
	if first {
		rd.FirstCorrectPlayerID = player.ID
	}
	events = append(events, Event{Type: EvtCorrectGuess, PlayerID: player.ID, Points: points})

	if allGuessersCorrect(r.Players, rd) {
		events = append(events, completeWithBonus(r, rules)...)
	}
	return events, nil
}

func completeWithBonus(r *Room, rules Rules) []Event {
	rd := r.CurrentRoundData
	var events []Event
	bonus := rules.WriterBonusScore()
	if addScore(r.Players, rd.WriterID, bonus) {
		events = append(events, Event{Type: EvtWriterBonus, PlayerID: rd.WriterID, Points: bonus})
	}
	r.Phase = PhaseRoundComplete
	return append(events, Event{Type: EvtRoundCompleted})
}

func applyAdvance(r *Room, cmd Command) ([]Event, error) {
	if r.HostID != cmd.ActorID {
		return nil, ErrNotHost
	}
	if r.Phase != PhaseRoundComplete {
		return nil, ErrStale
	}
	if cmd.Round != 0 && cmd.Round != r.CurrentRound {
		return nil, ErrStale
	}

	if r.CurrentRound >= r.TotalRounds {
		r.Phase = PhaseGameOver
		r.CurrentRoundData = nil
		return []Event{{Type: EvtGameOver}}, nil
	}

	prevID, prevIdx := "", -1
	if rd := r.CurrentRoundData; rd != nil {
		prevID, prevIdx = rd.WriterID, rd.WriterIndex
	}
	writer, err := NextWriterIndex(r.Players, prevID, prevIdx)
	if err != nil {
		return nil, err
	}

	r.CurrentRound++
	r.CurrentRoundData = newRound(r.CurrentRound, writer, r.Players)
	r.Phase = PhaseWordInput
	return []Event{{Type: EvtRoundStarted, PlayerID: r.CurrentRoundData.WriterID}}, nil
}

func applyPlayAgain(r *Room, cmd Command) ([]Event, error) {
	if r.HostID != cmd.ActorID {
		return nil, ErrNotHost
	}
	if r.Phase != PhaseGameOver {
		return nil, ErrStale
	}

	for i := range r.Players {
		r.Players[i].Score = 0
	}
	r.CurrentRound = 0
	r.CurrentRoundData = nil
	r.Phase = PhaseLobby
	return []Event{{Type: EvtGameReset, PlayerID: cmd.ActorID}}, nil
}

func applyExpire(r *Room, cmd Command) ([]Event, error) {
	rd := r.CurrentRoundData
	if r.Phase != PhaseGuessing || rd == nil {
		return nil, ErrStale
	}
	if rd.RoundNumber != cmd.Round || rd.StartTime != cmd.StartTime {
		return nil, ErrStale
	}
	r.Phase = PhaseRoundComplete
	return []Event{{Type: EvtRoundExpired}}, nil
}
