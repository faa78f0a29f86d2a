package engine

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/choco0031/thisorthat/internal/lobby"
	"github.com/choco0031/thisorthat/internal/topics"
	"github.com/choco0031/thisorthat/pkg/types"
)

var ErrPreconditionNotMet = errors.New("precondition not met")
var ErrWrongPhase = errors.New("wrong phase")
var ErrNotParticipant = errors.New("not a participant")

const (
	DefaultTotalRounds = 20
	MinPlayers         = 2
)

// Timings holds every fixed delay of a game.
type Timings struct {
	LeadIn            time.Duration
	Tick              time.Duration
	Settle            time.Duration
	Results           time.Duration
	Scoreboard        time.Duration
	Waiting           time.Duration
	DiscussionSeconds int
	VotingSeconds     int
}

func DefaultTimings() Timings {
	return Timings{
		LeadIn:            2 * time.Second,
		Tick:              time.Second,
		Settle:            time.Second,
		Results:           5 * time.Second,
		Scoreboard:        5 * time.Second,
		Waiting:           3 * time.Second,
		DiscussionSeconds: 90,
		VotingSeconds:     30,
	}
}

// Step names the continuation a timer runs when it fires.
type Step int

const (
	StepNone Step = iota
	StepEnterDiscussion
	StepEnterVoting
	StepTick
	StepComputeResults
	StepShowScoreboard
	StepAdvanceRound
)

func (s Step) String() string {
	switch s {
	case StepEnterDiscussion:
		return "enter-discussion"
	case StepEnterVoting:
		return "enter-voting"
	case StepTick:
		return "tick"
	case StepComputeResults:
		return "compute-results"
	case StepShowScoreboard:
		return "show-scoreboard"
	case StepAdvanceRound:
		return "advance-round"
	default:
		return "none"
	}
}

// Scheduler is a session's single timer slot. Schedule replaces whatever
// was pending, so at most one step is ever armed.
type Scheduler interface {
	Schedule(d time.Duration, step Step)
	Cancel()
}

type Broadcaster interface {
	Broadcast(code string, ev types.ServerEvent)
}

type State struct {
	Phase        types.Phase
	RoundNumber  int
	TotalRounds  int
	CurrentTopic *types.Topic
	Votes        map[string]types.Choice
	Scores       map[string]int
	UsedTopics   map[int]struct{}
	Timer        int
	VoteResults  types.VoteResults
}

type Config struct {
	Pool        *topics.Pool
	Out         Broadcaster
	Timer       Scheduler
	Timings     Timings
	TotalRounds int
	// Rand picks topics; nil uses the global source.
	Rand *rand.Rand
}

// Round is the phase machine of one session. Every method must be called
// from the hub goroutine.
type Round struct {
	lobby   *lobby.Lobby
	pool    *topics.Pool
	out     Broadcaster
	timer   Scheduler
	timings Timings
	intN    func(int) int

	state    State
	expire   Step // what the running countdown does at zero
	settling bool // all connected voted; results already scheduled
}

// CanStart checks who may start a game and with how many players.
func CanStart(l *lobby.Lobby, username string) error {
	if !l.IsHost(username) || l.Len() < MinPlayers {
		return ErrPreconditionNotMet
	}
	return nil
}

func New(l *lobby.Lobby, cfg Config) *Round {
	if cfg.TotalRounds <= 0 {
		cfg.TotalRounds = DefaultTotalRounds
	}
	intN := rand.IntN
	if cfg.Rand != nil {
		intN = cfg.Rand.IntN
	}
	r := &Round{
		lobby:   l,
		pool:    cfg.Pool,
		out:     cfg.Out,
		timer:   cfg.Timer,
		timings: cfg.Timings,
		intN:    intN,
	}
	r.state = State{
		TotalRounds: cfg.TotalRounds,
		Votes:       map[string]types.Choice{},
		Scores:      map[string]int{},
		UsedTopics:  map[int]struct{}{},
	}
	return r
}

// Start zeroes every current participant, announces the game and arms the
// lead-in to the first discussion.
func (r *Round) Start() {
	r.reset()
	for _, name := range r.lobby.Usernames() {
		r.state.Scores[name] = 0
	}
	r.announce()
}

// Restart is host-only and skips the player-count check.
func (r *Round) Restart(username string) error {
	if !r.lobby.IsHost(username) {
		return ErrPreconditionNotMet
	}
	r.timer.Cancel()
	r.reset()
	for _, name := range r.lobby.Usernames() {
		r.state.Scores[name] = 0
	}
	r.announce()
	return nil
}

func (r *Round) reset() {
	r.state.Phase = types.PhaseDiscussion
	r.state.RoundNumber = 1
	r.state.CurrentTopic = nil
	r.state.Votes = map[string]types.Choice{}
	r.state.UsedTopics = map[int]struct{}{}
	r.state.Timer = r.timings.DiscussionSeconds
	r.state.VoteResults = types.VoteResults{}
	r.expire = StepNone
	r.settling = false
}

func (r *Round) announce() {
	r.emit(types.GameStarted{Lobby: r.lobby.View(), GameState: r.View()})
	r.timer.Schedule(r.timings.LeadIn, StepEnterDiscussion)
}

// Fire runs a step whose timer expired. Nothing runs once the game ended.
func (r *Round) Fire(step Step) {
	if r.state.Phase == types.PhaseEnded {
		return
	}
	switch step {
	case StepEnterDiscussion:
		r.enterDiscussion()
	case StepEnterVoting:
		r.enterVoting()
	case StepTick:
		r.tick()
	case StepComputeResults:
		r.computeResults()
	case StepShowScoreboard:
		r.showScoreboard()
	case StepAdvanceRound:
		r.advanceRound()
	}
}

func (r *Round) enterDiscussion() {
	unused := r.pool.Unused(r.state.UsedTopics)
	if len(unused) == 0 {
		r.End()
		return
	}
	idx := unused[r.intN(len(unused))]
	topic := r.pool.At(idx)

	r.state.UsedTopics[idx] = struct{}{}
	r.state.CurrentTopic = &topic
	r.state.Phase = types.PhaseDiscussion
	r.state.Votes = map[string]types.Choice{}
	r.settling = false

	r.emit(types.TopicSelected{Topic: topic})
	r.emit(types.PhaseUpdate{Phase: types.PhaseDiscussion, RoundNumber: r.state.RoundNumber})
	r.countdown(r.timings.DiscussionSeconds, StepEnterVoting)
}

func (r *Round) enterVoting() {
	r.state.Phase = types.PhaseVoting
	r.settling = false

	r.emit(types.PhaseUpdate{Phase: types.PhaseVoting})
	r.countdown(r.timings.VotingSeconds, StepComputeResults)
}

func (r *Round) countdown(seconds int, then Step) {
	r.state.Timer = seconds
	r.expire = then
	r.timer.Schedule(r.timings.Tick, StepTick)
}

func (r *Round) tick() {
	if r.expire == StepNone {
		return
	}
	r.state.Timer = max(r.state.Timer-1, 0)
	r.emit(types.TimerTick{TimeRemaining: r.state.Timer})

	if r.state.Timer > 0 {
		r.timer.Schedule(r.timings.Tick, StepTick)
		return
	}
	next := r.expire
	r.expire = StepNone
	r.Fire(next)
}

// CastVote records the latest choice of username. Once every connected
// participant has a vote the countdown is replaced by a short settle
// delay before results.
func (r *Round) CastVote(username string, choice types.Choice) error {
	if r.state.Phase != types.PhaseVoting {
		return ErrWrongPhase
	}
	if r.lobby.Find(username) == nil {
		return ErrNotParticipant
	}
	r.state.Votes[username] = choice
	r.checkAllVoted()
	return nil
}

// Reevaluate re-runs the all-voted check after the roster's connection
// flags changed.
func (r *Round) Reevaluate() {
	if r.state.Phase == types.PhaseVoting {
		r.checkAllVoted()
	}
}

func (r *Round) checkAllVoted() {
	if r.settling || !AllVoted(r.state.Votes, r.lobby.Connected()) {
		return
	}
	r.settling = true
	r.expire = StepNone
	r.timer.Schedule(r.timings.Settle, StepComputeResults)
}

func (r *Round) computeResults() {
	if r.state.Phase != types.PhaseVoting {
		return
	}
	results, majority := Tally(r.state.Votes, r.lobby.Connected())
	Award(r.state.Scores, r.state.Votes, r.lobby.Usernames(), majority)

	r.state.VoteResults = results
	r.state.Phase = types.PhaseResults
	r.state.Timer = 0
	r.expire = StepNone
	r.settling = false

	r.emit(types.PhaseUpdate{Phase: types.PhaseResults})
	r.emit(types.RoundResults{Votes: results, MajorityOption: majority, Topic: copyTopic(r.state.CurrentTopic)})
	r.timer.Schedule(r.timings.Results, StepShowScoreboard)
}

func (r *Round) showScoreboard() {
	r.state.Phase = types.PhaseScoreboard

	r.emit(types.PhaseUpdate{Phase: types.PhaseScoreboard})
	r.emit(types.ScoreboardUpdate{Scores: cloneScores(r.state.Scores)})
	r.timer.Schedule(r.timings.Scoreboard, StepAdvanceRound)
}

// advanceRound ends the game when the round budget or the topic pool runs
// out, otherwise parks in waiting before the next discussion.
func (r *Round) advanceRound() {
	r.state.RoundNumber++
	if r.state.RoundNumber > r.state.TotalRounds || len(r.state.UsedTopics) >= r.pool.Len() {
		r.End()
		return
	}
	r.state.Phase = types.PhaseWaiting
	r.emit(types.PhaseUpdate{Phase: types.PhaseWaiting})
	r.timer.Schedule(r.timings.Waiting, StepEnterDiscussion)
}

// End is terminal for this round engine; the lobby stays until closed.
func (r *Round) End() {
	r.timer.Cancel()
	r.state.Phase = types.PhaseEnded
	r.state.Timer = 0
	r.expire = StepNone
	r.settling = false
	r.emit(types.GameEnded{FinalScores: cloneScores(r.state.Scores)})
}

// AddPlayer gives a late joiner a zero score.
func (r *Round) AddPlayer(username string) {
	r.state.Scores[username] = 0
}

func (r *Round) Phase() types.Phase { return r.state.Phase }

func (r *Round) Ended() bool { return r.state.Phase == types.PhaseEnded }

// Active reports whether leaving now should keep the seat for a reconnect.
func (r *Round) Active() bool {
	return r.state.Phase != types.PhaseWaiting && r.state.Phase != types.PhaseEnded
}

func (r *Round) emit(ev types.ServerEvent) {
	r.out.Broadcast(r.lobby.Code, ev)
}
