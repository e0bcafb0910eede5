package engine

import "time"

type Phase string

const (
	PhaseLobby         Phase = "lobby"
	PhaseWordInput     Phase = "word-input"
	PhaseGuessing      Phase = "guessing"
	PhaseRoundComplete Phase = "round-complete"
	PhaseGameOver      Phase = "game-over"
)

// HasRound reports whether a room in this phase carries round data.
func (p Phase) HasRound() bool {
	switch p {
	case PhaseWordInput, PhaseGuessing, PhaseRoundComplete:
		return true
	}
	return false
}

type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
	IsHost bool   `json:"isHost"`
}

type Guess struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"isCorrect"`
	Timestamp  int64  `json:"timestamp"` // unix ms
}

type Round struct {
	RoundNumber int    `json:"roundNumber"`
	WriterID    string `json:"writerId"`
	// WriterIndex is the writer's position in Room.Players when the round
	// started. Rotation falls back to it if the writer leaves.
	WriterIndex          int     `json:"writerIndex"`
	Word                 string  `json:"word"`
	WordHint             string  `json:"wordHint"`
	Guesses              []Guess `json:"guesses"`
	StartTime            int64   `json:"startTime"` // unix ms, 0 until the word is submitted
	FirstCorrectPlayerID string  `json:"firstCorrectPlayerId,omitempty"`
}

type Room struct {
	ID               string   `json:"id"`
	Players          []Player `json:"players"`
	CurrentRound     int      `json:"currentRound"`
	TotalRounds      int      `json:"totalRounds"`
	Phase            Phase    `json:"phase"`
	CurrentRoundData *Round   `json:"currentRoundData"`
	HostID           string   `json:"hostId"`
}

// Rules are the configured constants every transition is evaluated against.
type Rules struct {
	MaxPlayers        int
	TotalRounds       int
	MinWordLength     int
	FirstCorrectScore int
	OtherCorrectScore int
	WriterBonus       int
	RoundDuration     time.Duration
}

func DefaultRules() Rules {
	return Rules{
		MaxPlayers:        10,
		TotalRounds:       5,
		MinWordLength:     2,
		FirstCorrectScore: 100,
		OtherCorrectScore: 50,
		WriterBonus:       50,
		RoundDuration:     90 * time.Second,
	}
}

type CommandType string

const (
	CmdJoin         CommandType = "Join"
	CmdLeave        CommandType = "Leave"
	CmdStartGame    CommandType = "StartGame"
	CmdSubmitWord   CommandType = "SubmitWord"
	CmdSubmitGuess  CommandType = "SubmitGuess"
	CmdAdvanceRound CommandType = "AdvanceRound"
	CmdPlayAgain    CommandType = "PlayAgain"
	CmdExpireRound  CommandType = "ExpireRound"
)

type Command struct {
	Type    CommandType
	ActorID string
	Name    string // join
	Text    string // word or guess
	// Round and StartTime pin ExpireRound (and optionally AdvanceRound) to
	// the round the caller observed.
	Round     int
	StartTime int64
	Now       time.Time
}

type EventType string

const (
	EvtPlayerJoined    EventType = "PlayerJoined"
	EvtPlayerLeft      EventType = "PlayerLeft"
	EvtHostReassigned  EventType = "HostReassigned"
	EvtRoomEmptied     EventType = "RoomEmptied"
	EvtGameStarted     EventType = "GameStarted"
	EvtRoundStarted    EventType = "RoundStarted"
	EvtWordSubmitted   EventType = "WordSubmitted"
	EvtGuessRecorded   EventType = "GuessRecorded"
	EvtCorrectGuess    EventType = "CorrectGuess"
	EvtWriterBonus     EventType = "WriterBonus"
	EvtRoundCompleted  EventType = "RoundCompleted"
	EvtRoundExpired    EventType = "RoundExpired"
	EvtRoundSkipped    EventType = "RoundSkipped"
	EvtGameOver        EventType = "GameOver"
	EvtGameReset       EventType = "GameReset"
)

type Event struct {
	Type     EventType
	PlayerID string
	Points   int
}
