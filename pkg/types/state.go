package types

import "time"

// Phase is one step of the per-round state machine.
type Phase string

const (
	PhaseDiscussion Phase = "discussion"
	PhaseVoting     Phase = "voting"
	PhaseResults    Phase = "results"
	PhaseScoreboard Phase = "scoreboard"
	PhaseWaiting    Phase = "waiting"
	PhaseEnded      Phase = "ended"
)

// Choice is the tag of a vote. The option text itself is never sent back.
type Choice string

const (
	Option1 Choice = "option1"
	Option2 Choice = "option2"
)

func (c Choice) Valid() bool {
	return c == Option1 || c == Option2
}

type Topic struct {
	Option1 string `json:"option1"`
	Option2 string `json:"option2"`
}

type VoteResults struct {
	Option1 int `json:"option1"`
	Option2 int `json:"option2"`
}

func (v VoteResults) Total() int { return v.Option1 + v.Option2 }

type Participant struct {
	Username  string `json:"username"`
	IsHost    bool   `json:"isHost"`
	Connected bool   `json:"connected"`
}

// LobbyView is the roster as clients see it.
type LobbyView struct {
	Code         string        `json:"code"`
	Host         string        `json:"host"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
	GameStarted  bool          `json:"gameStarted"`
}

// GameStateView is the subset of a round engine's state that is safe to
// hand to every client. Individual votes are not part of it; a client
// only learns its own vote through the sync snapshot.
type GameStateView struct {
	Phase        Phase          `json:"phase"`
	RoundNumber  int            `json:"roundNumber"`
	TotalRounds  int            `json:"totalRounds"`
	CurrentTopic *Topic         `json:"currentTopic"`
	Timer        int            `json:"timer"`
	Scores       map[string]int `json:"scores"`
	VoteResults  VoteResults    `json:"voteResults"`
}

// GameSummary is what is kept of a game once it ended.
type GameSummary struct {
	Code         string
	Host         string
	Players      []string
	TotalRounds  int
	RoundsPlayed int
	FinalScores  map[string]int
	StartedAt    time.Time
	EndedAt      time.Time
}
