package tracker

import (
	"encoding/json"
	"time"
)

func cloneSnapshot(snapshot Snapshot) Snapshot {
	achievements := make([]Achievement, 0, len(snapshot.Achievements))
	for _, achievement := range snapshot.Achievements {
		achievements = append(achievements, cloneAchievement(achievement))
	}
	return Snapshot{
		Books:           cloneBooks(snapshot.Books),
		ProgressEntries: append(make([]ProgressEntry, 0, len(snapshot.ProgressEntries)), snapshot.ProgressEntries...),
		Notes:           append(make([]Note, 0, len(snapshot.Notes)), snapshot.Notes...),
		Achievements:    achievements,
		DailyChallenges: append(make([]DailyChallenge, 0, len(snapshot.DailyChallenges)), snapshot.DailyChallenges...),
		ReadingStats:    append(make([]ReadingStats, 0, len(snapshot.ReadingStats)), snapshot.ReadingStats...),
		LastSyncedAt:    cloneTime(snapshot.LastSyncedAt),
	}
}

func cloneBooks(books []Book) []Book {
	copies := make([]Book, 0, len(books))
	for _, book := range books {
		copies = append(copies, cloneBook(book))
	}
	return copies
}

func cloneBook(book Book) Book {
	book.Genres = cloneStrings(book.Genres)
	book.Rating = cloneInt(book.Rating)
	book.Review = cloneString(book.Review)
	book.CompletedAt = cloneTime(book.CompletedAt)
	return book
}

func cloneAchievement(achievement Achievement) Achievement {
	achievement.Metadata = cloneRaw(achievement.Metadata)
	return achievement
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append(make([]string, 0, len(values)), values...)
}

func cloneRaw(value json.RawMessage) json.RawMessage {
	if value == nil {
		return nil
	}
	return append(json.RawMessage(nil), value...)
}

func cloneInt(value *int) *int {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}

func orEmpty[T any](values []T) []T {
	if values == nil {
		return make([]T, 0)
	}
	return values
}
