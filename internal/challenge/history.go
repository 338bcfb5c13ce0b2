package challenge

import (
	"math"
	"sort"

	"github.com/MarcoPoloResearchLab/bookworm/internal/tracker"
)

// Summary aggregates past challenges.
type Summary struct {
	Total          int `json:"total_challenges" yaml:"total_challenges"`
	Completed      int `json:"completed_challenges" yaml:"completed_challenges"`
	CompletionRate int `json:"completion_rate" yaml:"completion_rate"`
	CurrentStreak  int `json:"current_streak" yaml:"current_streak"`
}

// History returns the challenges dated before today, newest first, with their summary.
func (e *Engine) History() ([]tracker.DailyChallenge, Summary) {
	return Summarize(e.state.DailyChallenges(), e.Today())
}

// Summarize filters challenges to those before today and computes the rate and the current
// streak of consecutive completed challenges counted back from the most recent one.
func Summarize(challenges []tracker.DailyChallenge, today string) ([]tracker.DailyChallenge, Summary) {
	past := make([]tracker.DailyChallenge, 0, len(challenges))
	for _, challenge := range challenges {
		if challenge.ChallengeDate < today {
			past = append(past, challenge)
		}
	}
	sort.SliceStable(past, func(i, j int) bool {
		return past[i].ChallengeDate > past[j].ChallengeDate
	})

	summary := Summary{Total: len(past)}
	streakOpen := true
	for _, challenge := range past {
		if challenge.IsCompleted {
			summary.Completed++
			if streakOpen {
				summary.CurrentStreak++
			}
			continue
		}
		streakOpen = false
	}
	if summary.Total > 0 {
		summary.CompletionRate = int(math.Round(float64(summary.Completed) / float64(summary.Total) * 100))
	}
	return past, summary
}
