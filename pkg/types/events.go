package types

import (
	"encoding/json"
	"fmt"
)

// Server -> Client
// Broadcast to every member of a lobby's channel unless noted.
//
// lobby-updated:     lobby
// lobby-closed:      {}
// game-started:      lobby, gameState
// game-phase-update: phase, roundNumber (discussion only)
// topic-selected:    topic
// game-timer:        timeRemaining
// round-results:     votes, majorityOption (null on a tie), topic
// scoreboard-update: scores
// game-ended:        finalScores
// sync-game-state:   gameState, lobby, userVote (unicast to one client)
// error:             message (unicast, answer to a frame that failed to decode)

// ServerEvent is any payload the server pushes down a channel. Payloads
// must not share maps with live session state.
type ServerEvent interface {
	EventName() string
}

type LobbyUpdated struct {
	Lobby LobbyView `json:"lobby"`
}

type LobbyClosed struct{}

type GameStarted struct {
	Lobby     LobbyView     `json:"lobby"`
	GameState GameStateView `json:"gameState"`
}

type PhaseUpdate struct {
	Phase       Phase `json:"phase"`
	RoundNumber int   `json:"roundNumber,omitempty"`
}

type TopicSelected struct {
	Topic Topic `json:"topic"`
}

type TimerTick struct {
	TimeRemaining int `json:"timeRemaining"`
}

type RoundResults struct {
	Votes          VoteResults `json:"votes"`
	MajorityOption *Choice     `json:"majorityOption"`
	Topic          *Topic      `json:"topic"`
}

type ScoreboardUpdate struct {
	Scores map[string]int `json:"scores"`
}

type GameEnded struct {
	FinalScores map[string]int `json:"finalScores"`
}

type SyncGameState struct {
	GameState GameStateView `json:"gameState"`
	Lobby     LobbyView     `json:"lobby"`
	UserVote  *Choice       `json:"userVote"`
}

// ErrorNotice tells a single client its last frame was rejected.
type ErrorNotice struct {
	Message string `json:"message"`
}

func (LobbyUpdated) EventName() string     { return "lobby-updated" }
func (LobbyClosed) EventName() string      { return "lobby-closed" }
func (GameStarted) EventName() string      { return "game-started" }
func (PhaseUpdate) EventName() string      { return "game-phase-update" }
func (TopicSelected) EventName() string    { return "topic-selected" }
func (TimerTick) EventName() string        { return "game-timer" }
func (RoundResults) EventName() string     { return "round-results" }
func (ScoreboardUpdate) EventName() string { return "scoreboard-update" }
func (GameEnded) EventName() string        { return "game-ended" }
func (SyncGameState) EventName() string    { return "sync-game-state" }
func (ErrorNotice) EventName() string      { return "error" }

// EncodeEvent wraps ev in a Frame and marshals it.
func EncodeEvent(ev ServerEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	return json.Marshal(Frame{Event: ev.EventName(), Data: data})
}
