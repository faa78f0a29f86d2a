package engine

import "github.com/choco0031/thisorthat/pkg/types"

// Tally counts the votes of connected participants only. A stored vote of
// someone who dropped before the tally is ignored. majority is nil on a tie.
func Tally(votes map[string]types.Choice, connected []string) (results types.VoteResults, majority *types.Choice) {
	for _, name := range connected {
		switch votes[name] {
		case types.Option1:
			results.Option1++
		case types.Option2:
			results.Option2++
		}
	}

	switch {
	case results.Option1 > results.Option2:
		c := types.Option1
		majority = &c
	case results.Option2 > results.Option1:
		c := types.Option2
		majority = &c
	}
	return results, majority
}

// Award gives one point to every roster member whose vote matches majority.
func Award(scores map[string]int, votes map[string]types.Choice, roster []string, majority *types.Choice) {
	if majority == nil {
		return
	}
	for _, name := range roster {
		if votes[name] == *majority {
			scores[name]++
		}
	}
}

// AllVoted is true when there is at least one connected participant and
// each of them has a vote on record.
func AllVoted(votes map[string]types.Choice, connected []string) bool {
	if len(connected) == 0 {
		return false
	}
	for _, name := range connected {
		if _, ok := votes[name]; !ok {
			return false
		}
	}
	return true
}
