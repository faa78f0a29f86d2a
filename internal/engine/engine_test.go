package engine

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choco0031/thisorthat/internal/lobby"
	"github.com/choco0031/thisorthat/internal/topics"
	"github.com/choco0031/thisorthat/pkg/types"
)

// fakeTimer is a single slot the test fires by hand.
type fakeTimer struct {
	armed   bool
	step    Step
	after   time.Duration
	cancels int
}

func (f *fakeTimer) Schedule(d time.Duration, step Step) {
	f.armed, f.step, f.after = true, step, d
}

func (f *fakeTimer) Cancel() {
	f.armed, f.step = false, StepNone
	f.cancels++
}

func (f *fakeTimer) fire(t *testing.T, r *Round) {
	t.Helper()
	require.True(t, f.armed, "expected an armed timer")
	step := f.step
	f.armed, f.step = false, StepNone
	r.Fire(step)
}

// fireUntil keeps firing the armed step until the round reaches phase.
func (f *fakeTimer) fireUntil(t *testing.T, r *Round, phase types.Phase) {
	t.Helper()
	for range 1000 {
		if !f.armed {
			break
		}
		f.fire(t, r)
		if r.Phase() == phase {
			return
		}
	}
	t.Fatalf("never reached phase %q, stuck in %q", phase, r.Phase())
}

type recorder struct {
	events []types.ServerEvent
}

func (r *recorder) Broadcast(_ string, ev types.ServerEvent) {
	r.events = append(r.events, ev)
}

func (r *recorder) names() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventName())
	}
	return out
}

func (r *recorder) reset() { r.events = nil }

func lastOf[T types.ServerEvent](t *testing.T, rec *recorder) T {
	t.Helper()
	for i := len(rec.events) - 1; i >= 0; i-- {
		if ev, ok := rec.events[i].(T); ok {
			return ev
		}
	}
	var zero T
	t.Fatalf("no %T event recorded", zero)
	return zero
}

func countOf[T types.ServerEvent](rec *recorder) int {
	n := 0
	for _, ev := range rec.events {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func shortTimings() Timings {
	t := DefaultTimings()
	t.DiscussionSeconds = 2
	t.VotingSeconds = 2
	return t
}

func pool(n int) *topics.Pool {
	ts := make([]types.Topic, n)
	for i := range ts {
		ts[i] = types.Topic{Option1: string(rune('a' + i)), Option2: string(rune('A' + i))}
	}
	return topics.New(ts)
}

type fixture struct {
	round *Round
	lobby *lobby.Lobby
	timer *fakeTimer
	rec   *recorder
}

func newFixture(t *testing.T, p *topics.Pool, timings Timings, players ...string) fixture {
	t.Helper()
	require.NotEmpty(t, players)
	l := lobby.New("ABC123", players[0], time.Now())
	for _, name := range players[1:] {
		l.Add(name)
	}
	ft := &fakeTimer{}
	rec := &recorder{}
	r := New(l, Config{
		Pool:    p,
		Out:     rec,
		Timer:   ft,
		Timings: timings,
		Rand:    rand.New(rand.NewPCG(1, 2)),
	})
	return fixture{round: r, lobby: l, timer: ft, rec: rec}
}

// toVoting starts the game and runs the clock into the voting phase.
func (fx fixture) toVoting(t *testing.T) {
	t.Helper()
	fx.round.Start()
	fx.timer.fireUntil(t, fx.round, types.PhaseVoting)
}

func TestCanStart(t *testing.T) {
	l := lobby.New("ABC123", "alice", time.Now())
	assert.ErrorIs(t, CanStart(l, "alice"), ErrPreconditionNotMet, "one player is not enough")

	l.Add("bob")
	assert.ErrorIs(t, CanStart(l, "bob"), ErrPreconditionNotMet, "only the host may start")
	assert.NoError(t, CanStart(l, "alice"))
}

func TestStart_LeadInThenDiscussion(t *testing.T) {
	fx := newFixture(t, pool(5), DefaultTimings(), "alice", "bob")

	fx.round.Start()

	started := lastOf[types.GameStarted](t, fx.rec)
	assert.Len(t, started.Lobby.Participants, 2)
	assert.Equal(t, map[string]int{"alice": 0, "bob": 0}, started.GameState.Scores)
	assert.Equal(t, 1, started.GameState.RoundNumber)
	assert.Equal(t, DefaultTotalRounds, started.GameState.TotalRounds)

	require.True(t, fx.timer.armed)
	assert.Equal(t, StepEnterDiscussion, fx.timer.step)
	assert.Equal(t, 2*time.Second, fx.timer.after)

	fx.timer.fire(t, fx.round)

	st := fx.round.State()
	assert.Equal(t, types.PhaseDiscussion, st.Phase)
	require.NotNil(t, st.CurrentTopic)
	assert.Equal(t, 90, st.Timer)
	assert.Len(t, st.UsedTopics, 1)
	assert.Equal(t, []string{"game-started", "topic-selected", "game-phase-update"}, fx.rec.names())
	assert.Equal(t, types.PhaseUpdate{Phase: types.PhaseDiscussion, RoundNumber: 1}, lastOf[types.PhaseUpdate](t, fx.rec))
	assert.Equal(t, StepTick, fx.timer.step)
}

func TestCountdown_TicksThenVoting(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "alice", "bob")
	fx.round.Start()
	fx.timer.fire(t, fx.round) // lead-in
	fx.rec.reset()

	fx.timer.fire(t, fx.round)
	assert.Equal(t, types.TimerTick{TimeRemaining: 1}, lastOf[types.TimerTick](t, fx.rec))
	assert.Equal(t, types.PhaseDiscussion, fx.round.Phase())

	fx.timer.fire(t, fx.round)
	assert.Equal(t, types.PhaseVoting, fx.round.Phase())
	assert.Equal(t, 2, fx.round.State().Timer)
	assert.Equal(t, []string{"game-timer", "game-timer", "game-phase-update"}, fx.rec.names())
}

func TestTally(t *testing.T) {
	o1, o2 := types.Option1, types.Option2
	cases := []struct {
		name      string
		votes     map[string]types.Choice
		connected []string
		want      types.VoteResults
		majority  *types.Choice
	}{
		{
			name:      "option1 majority",
			votes:     map[string]types.Choice{"A": o1, "B": o1, "C": o2},
			connected: []string{"A", "B", "C"},
			want:      types.VoteResults{Option1: 2, Option2: 1},
			majority:  &o1,
		},
		{
			name:      "tie",
			votes:     map[string]types.Choice{"A": o1, "B": o2},
			connected: []string{"A", "B"},
			want:      types.VoteResults{Option1: 1, Option2: 1},
		},
		{
			name:      "disconnected vote is excluded",
			votes:     map[string]types.Choice{"A": o2, "B": o1, "C": o1},
			connected: []string{"A", "B"},
			want:      types.VoteResults{Option1: 1, Option2: 1},
		},
		{
			name:      "nobody voted",
			votes:     map[string]types.Choice{},
			connected: []string{"A", "B"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, majority := Tally(tc.votes, tc.connected)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.majority, majority)
			assert.LessOrEqual(t, got.Total(), len(tc.connected))
		})
	}
}

func TestComputeResults_MajorityScoring(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B", "C")
	fx.toVoting(t)

	require.NoError(t, fx.round.CastVote("A", types.Option1))
	require.NoError(t, fx.round.CastVote("B", types.Option1))
	assert.Equal(t, StepTick, fx.timer.step, "countdown keeps running until everyone voted")

	require.NoError(t, fx.round.CastVote("C", types.Option2))
	assert.Equal(t, StepComputeResults, fx.timer.step)
	assert.Equal(t, time.Second, fx.timer.after)

	fx.timer.fire(t, fx.round)

	st := fx.round.State()
	assert.Equal(t, types.PhaseResults, st.Phase)
	assert.Equal(t, types.VoteResults{Option1: 2, Option2: 1}, st.VoteResults)
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 0}, st.Scores)

	res := lastOf[types.RoundResults](t, fx.rec)
	require.NotNil(t, res.MajorityOption)
	assert.Equal(t, types.Option1, *res.MajorityOption)
	assert.Equal(t, st.CurrentTopic, res.Topic)
	assert.Equal(t, StepShowScoreboard, fx.timer.step)
	assert.Equal(t, 5*time.Second, fx.timer.after)
}

func TestComputeResults_TieAwardsNothing(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.toVoting(t)

	require.NoError(t, fx.round.CastVote("A", types.Option1))
	require.NoError(t, fx.round.CastVote("B", types.Option2))
	fx.timer.fire(t, fx.round)

	res := lastOf[types.RoundResults](t, fx.rec)
	assert.Nil(t, res.MajorityOption)
	assert.Equal(t, map[string]int{"A": 0, "B": 0}, fx.round.State().Scores)
}

func TestComputeResults_DisconnectedVoteStaysStoredButUncounted(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B", "C")
	fx.toVoting(t)

	require.NoError(t, fx.round.CastVote("A", types.Option1))
	require.NoError(t, fx.round.CastVote("B", types.Option1))
	fx.lobby.SetConnected("B", false)
	require.NoError(t, fx.round.CastVote("C", types.Option2))
	fx.timer.fire(t, fx.round)

	st := fx.round.State()
	assert.Equal(t, types.Option1, st.Votes["B"], "vote stays on record")
	assert.Equal(t, types.VoteResults{Option1: 1, Option2: 1}, st.VoteResults)
	assert.LessOrEqual(t, st.VoteResults.Total(), len(fx.lobby.Connected()))
	assert.Equal(t, map[string]int{"A": 0, "B": 0, "C": 0}, st.Scores)
}

func TestCastVote_OutsideVotingIsIgnored(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.round.Start()

	err := fx.round.CastVote("A", types.Option1)
	assert.ErrorIs(t, err, ErrWrongPhase)

	fx.timer.fire(t, fx.round) // discussion
	err = fx.round.CastVote("A", types.Option1)
	assert.True(t, errors.Is(err, ErrWrongPhase))
	assert.Empty(t, fx.round.State().Votes)
	assert.Equal(t, types.VoteResults{}, fx.round.State().VoteResults)
}

func TestCastVote_NonParticipantRejected(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.toVoting(t)

	assert.ErrorIs(t, fx.round.CastVote("mallory", types.Option1), ErrNotParticipant)
	assert.Empty(t, fx.round.State().Votes)
}

func TestCastVote_LastWriteWins(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.toVoting(t)

	require.NoError(t, fx.round.CastVote("A", types.Option1))
	require.NoError(t, fx.round.CastVote("A", types.Option2))
	assert.Equal(t, map[string]types.Choice{"A": types.Option2}, fx.round.State().Votes)
}

func TestVoting_NaturalExpiry(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.toVoting(t)
	require.NoError(t, fx.round.CastVote("A", types.Option2))

	fx.timer.fire(t, fx.round)
	assert.Equal(t, types.PhaseVoting, fx.round.Phase())
	fx.timer.fire(t, fx.round)

	st := fx.round.State()
	assert.Equal(t, types.PhaseResults, st.Phase)
	assert.Equal(t, map[string]int{"A": 1, "B": 0}, st.Scores)
}

func TestVoting_SettleAndExpiryAreMutuallyExclusive(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.toVoting(t)

	require.NoError(t, fx.round.CastVote("A", types.Option1))
	require.NoError(t, fx.round.CastVote("B", types.Option1))
	require.Equal(t, StepComputeResults, fx.timer.step)

	// a late re-vote must not re-arm anything
	fx.timer.after = 0
	require.NoError(t, fx.round.CastVote("B", types.Option1))
	assert.Equal(t, time.Duration(0), fx.timer.after)

	fx.timer.fire(t, fx.round)
	scores := fx.round.State().Scores

	// a stale countdown tick or second results trigger are no-ops
	fx.round.Fire(StepTick)
	fx.round.Fire(StepComputeResults)
	assert.Equal(t, scores, fx.round.State().Scores)
	assert.Equal(t, 1, countOf[types.RoundResults](fx.rec))
}

func TestReevaluate_DisconnectCompletesVoting(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.toVoting(t)

	require.NoError(t, fx.round.CastVote("A", types.Option1))
	assert.Equal(t, StepTick, fx.timer.step)

	fx.lobby.SetConnected("B", false)
	fx.round.Reevaluate()
	assert.Equal(t, StepComputeResults, fx.timer.step)
}

func TestFullRound_ScoreboardWaitingNextDiscussion(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.toVoting(t)
	fx.timer.fireUntil(t, fx.round, types.PhaseResults)

	fx.timer.fire(t, fx.round)
	assert.Equal(t, types.PhaseScoreboard, fx.round.Phase())
	assert.Equal(t, StepAdvanceRound, fx.timer.step)

	fx.timer.fire(t, fx.round)
	assert.Equal(t, types.PhaseWaiting, fx.round.Phase())
	assert.Equal(t, 2, fx.round.State().RoundNumber)
	assert.Equal(t, 3*time.Second, fx.timer.after)

	fx.timer.fire(t, fx.round)
	st := fx.round.State()
	assert.Equal(t, types.PhaseDiscussion, st.Phase)
	assert.Empty(t, st.Votes, "votes are cleared for the new round")
	assert.Len(t, st.UsedTopics, 2)
}

func TestTopicExhaustionEndsGameEarly(t *testing.T) {
	fx := newFixture(t, pool(2), shortTimings(), "A", "B")
	fx.round.Start()

	seen := map[types.Topic]bool{}
	for fx.round.Phase() != types.PhaseEnded {
		if ev, ok := fx.rec.events[len(fx.rec.events)-1].(types.PhaseUpdate); ok && ev.Phase == types.PhaseDiscussion {
			topic := lastOf[types.TopicSelected](t, fx.rec).Topic
			require.False(t, seen[topic], "topic %v repeated", topic)
			seen[topic] = true
		}
		fx.timer.fire(t, fx.round)
	}

	st := fx.round.State()
	assert.Len(t, seen, 2)
	assert.Len(t, st.UsedTopics, 2)
	assert.LessOrEqual(t, st.RoundNumber, 3)
	assert.Equal(t, 1, countOf[types.GameEnded](fx.rec))
	assert.False(t, fx.timer.armed)
}

func TestRoundBudgetEndsGame(t *testing.T) {
	l := lobby.New("ABC123", "A", time.Now())
	l.Add("B")
	ft := &fakeTimer{}
	rec := &recorder{}
	r := New(l, Config{Pool: pool(10), Out: rec, Timer: ft, Timings: shortTimings(), TotalRounds: 2})

	r.Start()
	ft.fireUntil(t, r, types.PhaseEnded)

	st := r.State()
	assert.Equal(t, 3, st.RoundNumber)
	assert.Len(t, st.UsedTopics, 2)
	ended := lastOf[types.GameEnded](t, rec)
	assert.Equal(t, map[string]int{"A": 0, "B": 0}, ended.FinalScores)
}

func TestEmptyPoolEndsImmediately(t *testing.T) {
	fx := newFixture(t, topics.New(nil), shortTimings(), "A", "B")
	fx.round.Start()
	fx.timer.fire(t, fx.round)

	assert.True(t, fx.round.Ended())
	assert.Equal(t, 1, countOf[types.GameEnded](fx.rec))
}

func TestEnded_IsTerminal(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.toVoting(t)
	fx.round.End()
	fx.rec.reset()

	for _, s := range []Step{StepEnterDiscussion, StepEnterVoting, StepTick, StepComputeResults, StepShowScoreboard, StepAdvanceRound} {
		fx.round.Fire(s)
	}
	assert.Empty(t, fx.rec.events)
	assert.Equal(t, types.PhaseEnded, fx.round.Phase())
	assert.False(t, fx.round.Active())
}

func TestRestart(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.toVoting(t)
	require.NoError(t, fx.round.CastVote("A", types.Option1))
	require.NoError(t, fx.round.CastVote("B", types.Option1))
	fx.timer.fireUntil(t, fx.round, types.PhaseWaiting)
	require.Equal(t, map[string]int{"A": 1, "B": 1}, fx.round.State().Scores)

	assert.ErrorIs(t, fx.round.Restart("B"), ErrPreconditionNotMet)
	assert.Equal(t, types.PhaseWaiting, fx.round.Phase())

	fx.lobby.Remove("B")
	cancels := fx.timer.cancels
	require.NoError(t, fx.round.Restart("A"), "restart skips the player-count check")

	st := fx.round.State()
	assert.Equal(t, cancels+1, fx.timer.cancels)
	assert.Equal(t, 1, st.RoundNumber)
	assert.Empty(t, st.UsedTopics)
	assert.Equal(t, 0, st.Scores["A"])
	assert.Equal(t, 1, st.Scores["B"], "only current participants are zeroed")
	assert.Equal(t, StepEnterDiscussion, fx.timer.step)
	assert.IsType(t, types.GameStarted{}, fx.rec.events[len(fx.rec.events)-1])
}

func TestSnapshot_IncludesOwnVote(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.toVoting(t)
	require.NoError(t, fx.round.CastVote("A", types.Option2))

	snap := fx.round.Snapshot("A")
	require.NotNil(t, snap.UserVote)
	assert.Equal(t, types.Option2, *snap.UserVote)
	assert.Equal(t, types.PhaseVoting, snap.GameState.Phase)
	assert.Equal(t, 1, snap.GameState.RoundNumber)
	assert.NotNil(t, snap.GameState.CurrentTopic)
	assert.Equal(t, "ABC123", snap.Lobby.Code)

	assert.Nil(t, fx.round.Snapshot("B").UserVote)
}

func TestAddPlayer_LateJoinerStartsAtZero(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.toVoting(t)
	require.NoError(t, fx.round.CastVote("A", types.Option1))
	require.NoError(t, fx.round.CastVote("B", types.Option1))
	fx.timer.fire(t, fx.round)

	fx.lobby.Add("C")
	fx.round.AddPlayer("C")
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 0}, fx.round.State().Scores)
}

func TestEventsDoNotAliasState(t *testing.T) {
	fx := newFixture(t, pool(5), shortTimings(), "A", "B")
	fx.toVoting(t)
	require.NoError(t, fx.round.CastVote("A", types.Option1))
	require.NoError(t, fx.round.CastVote("B", types.Option1))
	fx.timer.fireUntil(t, fx.round, types.PhaseScoreboard)

	board := lastOf[types.ScoreboardUpdate](t, fx.rec)
	board.Scores["A"] = 100
	assert.Equal(t, 1, fx.round.State().Scores["A"])
}
