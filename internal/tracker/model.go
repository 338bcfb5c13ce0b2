package tracker

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that an operation referenced an identifier absent from the store.
	ErrNotFound = errors.New("tracker: not found")
	// ErrValidation indicates malformed or out-of-range input rejected before any mutation.
	ErrValidation = errors.New("tracker: validation failed")
)

// ChallengeType enumerates the supported daily challenge kinds.
type ChallengeType string

const (
	// ChallengeTypePages asks the reader to read a number of pages today.
	ChallengeTypePages ChallengeType = "pages"
	// ChallengeTypeMinutes asks the reader to read for a number of minutes today.
	ChallengeTypeMinutes ChallengeType = "time"
	// ChallengeTypeBook asks the reader to complete a book today.
	ChallengeTypeBook ChallengeType = "book"
)

// AchievementBookCompleted is awarded once per finished book.
const AchievementBookCompleted = "book_completed"

// Book is a tracked book with reading progress.
type Book struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Author      string     `json:"author"`
	ISBN        string     `json:"isbn"`
	TotalPages  int        `json:"total_pages"`
	CurrentPage int        `json:"current_page"`
	CoverURL    string     `json:"cover_url,omitempty"`
	Genres      []string   `json:"genres,omitempty"`
	IsCompleted bool       `json:"is_completed"`
	Rating      *int       `json:"rating,omitempty"`
	Review      *string    `json:"review,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ProgressEntry is an append-only reading session record.
type ProgressEntry struct {
	ID               string    `json:"id"`
	BookID           string    `json:"book_id"`
	PagesRead        int       `json:"pages_read"`
	TimeSpentMinutes int       `json:"time_spent_minutes"`
	CreatedAt        time.Time `json:"created_at"`
}

// Note is an append-only free-text note attached to a book.
type Note struct {
	ID        string    `json:"id"`
	BookID    string    `json:"book_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Achievement records an earned badge.
type Achievement struct {
	ID       string          `json:"id"`
	Type     string          `json:"achievement_type"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	EarnedAt time.Time       `json:"earned_at"`
}

// DailyChallenge is a per-day goal whose progress is derived from logged activity.
type DailyChallenge struct {
	ID              string        `json:"id"`
	Type            ChallengeType `json:"challenge_type"`
	TargetValue     int           `json:"target_value"`
	CurrentProgress int           `json:"current_progress"`
	IsCompleted     bool          `json:"is_completed"`
	ChallengeDate   string        `json:"challenge_date"`
	ExpiresAt       time.Time     `json:"expires_at"`
	CreatedAt       time.Time     `json:"created_at"`
}

// ReadingStats is the weekly aggregate keyed by week-start date.
type ReadingStats struct {
	ID             string    `json:"id"`
	WeekStart      string    `json:"week_start"`
	TotalMinutes   int       `json:"total_minutes"`
	TotalPages     int       `json:"total_pages"`
	BooksCompleted int       `json:"books_completed"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Snapshot is the full serialized state exchanged with the remote store.
type Snapshot struct {
	Books           []Book           `json:"books"`
	ProgressEntries []ProgressEntry  `json:"progressEntries"`
	Notes           []Note           `json:"notes"`
	Achievements    []Achievement    `json:"achievements"`
	DailyChallenges []DailyChallenge `json:"dailyChallenges"`
	ReadingStats    []ReadingStats   `json:"readingStats"`
	LastSyncedAt    *time.Time       `json:"lastSyncedAt"`
}

// NewBook describes the caller-supplied fields of a book.
type NewBook struct {
	Title       string   `json:"title" validate:"required,max=500"`
	Author      string   `json:"author" validate:"max=500"`
	ISBN        string   `json:"isbn" validate:"max=32"`
	TotalPages  int      `json:"total_pages" validate:"gte=1"`
	CurrentPage int      `json:"current_page" validate:"gte=0,ltefield=TotalPages"`
	CoverURL    string   `json:"cover_url" validate:"omitempty,url"`
	Genres      []string `json:"genres" validate:"dive,required"`
	IsCompleted bool     `json:"is_completed"`
	Rating      *int     `json:"rating" validate:"omitempty,gte=1,lte=5"`
	Review      *string  `json:"review"`
}

// BookUpdate carries a partial update; nil fields are left untouched.
type BookUpdate struct {
	Title       *string    `json:"title" validate:"omitempty,min=1,max=500"`
	Author      *string    `json:"author" validate:"omitempty,max=500"`
	ISBN        *string    `json:"isbn" validate:"omitempty,max=32"`
	TotalPages  *int       `json:"total_pages" validate:"omitempty,gte=1"`
	CurrentPage *int       `json:"current_page" validate:"omitempty,gte=0"`
	CoverURL    *string    `json:"cover_url" validate:"omitempty,url"`
	Genres      *[]string  `json:"genres"`
	IsCompleted *bool      `json:"is_completed"`
	Rating      *int       `json:"rating" validate:"omitempty,gte=1,lte=5"`
	Review      *string    `json:"review"`
	CompletedAt *time.Time `json:"completed_at"`
	// ResetProgress permits CurrentPage to move backwards and clears completion.
	ResetProgress bool `json:"-"`
}

// NewProgressEntry describes a reading session to append.
type NewProgressEntry struct {
	BookID           string `json:"book_id" validate:"required"`
	PagesRead        int    `json:"pages_read" validate:"gte=0"`
	TimeSpentMinutes int    `json:"time_spent_minutes" validate:"gte=0"`
}

// NewNote describes a note to append.
type NewNote struct {
	BookID  string `json:"book_id" validate:"required"`
	Content string `json:"content" validate:"required,max=10000"`
}

// NewAchievement describes an achievement to append.
type NewAchievement struct {
	Type     string          `json:"achievement_type" validate:"required,max=64"`
	Metadata json.RawMessage `json:"metadata"`
}

// ReadingStatsUpdate carries a partial weekly aggregate; nil fields are left untouched.
type ReadingStatsUpdate struct {
	TotalMinutes   *int `json:"total_minutes" validate:"omitempty,gte=0"`
	TotalPages     *int `json:"total_pages" validate:"omitempty,gte=0"`
	BooksCompleted *int `json:"books_completed" validate:"omitempty,gte=0"`
}
