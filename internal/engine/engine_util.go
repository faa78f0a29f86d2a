package engine

import (
	"maps"

	"github.com/choco0031/thisorthat/pkg/types"
)

// View copies the broadcastable part of the state.
func (r *Round) View() types.GameStateView {
	return types.GameStateView{
		Phase:        r.state.Phase,
		RoundNumber:  r.state.RoundNumber,
		TotalRounds:  r.state.TotalRounds,
		CurrentTopic: copyTopic(r.state.CurrentTopic),
		Timer:        r.state.Timer,
		Scores:       cloneScores(r.state.Scores),
		VoteResults:  r.state.VoteResults,
	}
}

// Snapshot is the full resync payload for one client.
func (r *Round) Snapshot(username string) types.SyncGameState {
	snap := types.SyncGameState{
		GameState: r.View(),
		Lobby:     r.lobby.View(),
	}
	if v, ok := r.state.Votes[username]; ok {
		snap.UserVote = &v
	}
	return snap
}

// State returns a deep copy for inspection.
func (r *Round) State() State {
	s := r.state
	s.CurrentTopic = copyTopic(r.state.CurrentTopic)
	s.Votes = maps.Clone(r.state.Votes)
	s.Scores = cloneScores(r.state.Scores)
	s.UsedTopics = maps.Clone(r.state.UsedTopics)
	return s
}

func cloneScores(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	maps.Copy(out, m)
	return out
}

func copyTopic(t *types.Topic) *types.Topic {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
