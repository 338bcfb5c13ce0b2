package challenge

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/bookworm/internal/tracker"
)

// Describe returns the goal as shown to the reader.
func Describe(challenge tracker.DailyChallenge) string {
	switch challenge.Type {
	case tracker.ChallengeTypePages:
		return fmt.Sprintf("Read %d pages", challenge.TargetValue)
	case tracker.ChallengeTypeMinutes:
		return fmt.Sprintf("Read for %d minutes", challenge.TargetValue)
	case tracker.ChallengeTypeBook:
		return "Complete a book"
	default:
		return "Daily Challenge"
	}
}

// ProgressText renders "current / target unit".
func ProgressText(challenge tracker.DailyChallenge) string {
	unit := "pages"
	switch challenge.Type {
	case tracker.ChallengeTypeMinutes:
		unit = "minutes"
	case tracker.ChallengeTypeBook:
		unit = "book"
	}
	return fmt.Sprintf("%d / %d %s", challenge.CurrentProgress, challenge.TargetValue, unit)
}

// Percent is the display progress, capped at 100 even when the stored value exceeds the target.
func Percent(challenge tracker.DailyChallenge) float64 {
	if challenge.TargetValue <= 0 {
		return 0
	}
	return min(float64(challenge.CurrentProgress)/float64(challenge.TargetValue)*100, 100)
}

// IsExpired reports whether the challenge's day has ended.
func IsExpired(challenge tracker.DailyChallenge, now time.Time) bool {
	return !now.Before(challenge.ExpiresAt)
}

// Remaining returns the time left before expiry, or zero once expired.
func Remaining(challenge tracker.DailyChallenge, now time.Time) time.Duration {
	if IsExpired(challenge, now) {
		return 0
	}
	return challenge.ExpiresAt.Sub(now)
}

// FormatRemaining renders the countdown as "Xh Ym Zs", or "Expired".
func FormatRemaining(challenge tracker.DailyChallenge, now time.Time) string {
	if IsExpired(challenge, now) {
		return "Expired"
	}
	remaining := Remaining(challenge, now)
	hours := int(remaining / time.Hour)
	minutes := int(remaining % time.Hour / time.Minute)
	seconds := int(remaining % time.Minute / time.Second)
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
