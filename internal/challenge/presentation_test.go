package challenge

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/bookworm/internal/tracker"
	"github.com/stretchr/testify/assert"
)

func TestDescribeAndProgressText(t *testing.T) {
	testCases := []struct {
		challenge tracker.DailyChallenge
		text      string
		progress  string
	}{
		{
			challenge: tracker.DailyChallenge{Type: tracker.ChallengeTypePages, TargetValue: 20, CurrentProgress: 25},
			text:      "Read 20 pages",
			progress:  "25 / 20 pages",
		},
		{
			challenge: tracker.DailyChallenge{Type: tracker.ChallengeTypeMinutes, TargetValue: 45, CurrentProgress: 10},
			text:      "Read for 45 minutes",
			progress:  "10 / 45 minutes",
		},
		{
			challenge: tracker.DailyChallenge{Type: tracker.ChallengeTypeBook, TargetValue: 1},
			text:      "Complete a book",
			progress:  "0 / 1 book",
		},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.text, Describe(testCase.challenge))
		assert.Equal(t, testCase.progress, ProgressText(testCase.challenge))
	}
}

func TestPercentIsCapped(t *testing.T) {
	assert.Equal(t, float64(50), Percent(tracker.DailyChallenge{TargetValue: 20, CurrentProgress: 10}))
	assert.Equal(t, float64(100), Percent(tracker.DailyChallenge{TargetValue: 20, CurrentProgress: 45}))
	assert.Equal(t, float64(0), Percent(tracker.DailyChallenge{}))
}

func TestRemainingAndExpiry(t *testing.T) {
	challenge := tracker.DailyChallenge{ExpiresAt: time.Date(2026, 6, 11, 0, 0, 0, 0, time.UTC)}
	now := time.Date(2026, 6, 10, 20, 54, 55, 0, time.UTC)

	assert.False(t, IsExpired(challenge, now))
	assert.Equal(t, "3h 5m 5s", FormatRemaining(challenge, now))

	assert.True(t, IsExpired(challenge, challenge.ExpiresAt))
	assert.Equal(t, "Expired", FormatRemaining(challenge, challenge.ExpiresAt.Add(time.Second)))
	assert.Zero(t, Remaining(challenge, challenge.ExpiresAt.Add(time.Hour)))
}

func TestSummarizeExcludesTodayAndCountsStreak(t *testing.T) {
	challenges := []tracker.DailyChallenge{
		{ID: "today", ChallengeDate: "2026-06-10", IsCompleted: true},
		{ID: "d7", ChallengeDate: "2026-06-07", IsCompleted: false},
		{ID: "d9", ChallengeDate: "2026-06-09", IsCompleted: true},
		{ID: "d8", ChallengeDate: "2026-06-08", IsCompleted: true},
		{ID: "d6", ChallengeDate: "2026-06-06", IsCompleted: true},
	}

	past, summary := Summarize(challenges, "2026-06-10")

	ids := make([]string, 0, len(past))
	for _, challenge := range past {
		ids = append(ids, challenge.ID)
	}
	assert.Equal(t, []string{"d9", "d8", "d7", "d6"}, ids)
	assert.Equal(t, Summary{Total: 4, Completed: 3, CompletionRate: 75, CurrentStreak: 2}, summary)
}

func TestSummarizeEmpty(t *testing.T) {
	past, summary := Summarize(nil, "2026-06-10")
	assert.Empty(t, past)
	assert.Equal(t, Summary{}, summary)
}
