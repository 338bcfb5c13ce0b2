// Package reading implements the user-facing reading operations on top of the tracker store.
// Every successful mutation uploads a snapshot and re-evaluates the daily challenge.
package reading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/bookworm/internal/booklookup"
	"github.com/MarcoPoloResearchLab/bookworm/internal/challenge"
	"github.com/MarcoPoloResearchLab/bookworm/internal/stats"
	"github.com/MarcoPoloResearchLab/bookworm/internal/tracker"
	"go.uber.org/zap"
)

var (
	// ErrLookupUnavailable indicates that no book lookup client is configured.
	ErrLookupUnavailable = errors.New("reading: isbn lookup is not configured")
	// ErrVolumeNotFound indicates that the metadata API has no volume for the ISBN.
	ErrVolumeNotFound = errors.New("reading: no volume found for isbn")

	errMissingStore = errors.New("reading: tracker store is required")
	noOpLogger      = zap.NewNop()
)

// Uploader pushes the local snapshot after a mutation.
type Uploader = challenge.Uploader

// Evaluator recomputes the daily challenge.
type Evaluator interface {
	Evaluate(ctx context.Context) (challenge.Evaluation, error)
}

// Lookup resolves an ISBN to book metadata; nil without error means unknown.
type Lookup interface {
	LookupISBN(ctx context.Context, isbn string) (*booklookup.Volume, error)
}

// Config describes the service dependencies. Only Store is required.
type Config struct {
	Store      *tracker.Store
	Uploader   Uploader
	Challenges Evaluator
	Lookup     Lookup
	Location   *time.Location
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service applies reading operations to the store.
type Service struct {
	store      *tracker.Store
	uploader   Uploader
	challenges Evaluator
	lookup     Lookup
	location   *time.Location
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs a reading service with defaults for the optional dependencies.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:      cfg.Store,
		uploader:   cfg.Uploader,
		challenges: cfg.Challenges,
		lookup:     cfg.Lookup,
		location:   location,
		clock:      clock,
		logger:     logger,
	}, nil
}

// ProgressLog is one reading session. At least one of the values must be positive.
type ProgressLog struct {
	BookID  string
	Pages   int
	Minutes int
}

// ProgressResult describes the effect of LogProgress.
type ProgressResult struct {
	Book      tracker.Book
	Entry     tracker.ProgressEntry
	Completed bool
	Challenge *challenge.Evaluation
}

// Completion carries the optional rating and review recorded when a book is finished.
type Completion struct {
	Rating *int
	Review string
}

func (s *Service) AddBook(ctx context.Context, input tracker.NewBook) (tracker.Book, error) {
	book, err := s.store.AddBook(input)
	if err != nil {
		return tracker.Book{}, err
	}
	if book.IsCompleted {
		s.recordCompletion(book)
	}
	s.afterMutation(ctx)
	return book, nil
}

// AddBookByISBN prefills the book from the metadata API. Non-empty fields of input win.
func (s *Service) AddBookByISBN(ctx context.Context, isbn string, input tracker.NewBook) (tracker.Book, error) {
	if s.lookup == nil {
		return tracker.Book{}, ErrLookupUnavailable
	}
	volume, err := s.lookup.LookupISBN(ctx, isbn)
	if err != nil {
		return tracker.Book{}, fmt.Errorf("isbn lookup: %w", err)
	}
	if volume == nil {
		return tracker.Book{}, fmt.Errorf("%w: %s", ErrVolumeNotFound, isbn)
	}
	input.ISBN = isbn
	if input.Title == "" {
		input.Title = volume.Title
	}
	if input.Author == "" {
		input.Author = volume.Author()
	}
	if input.TotalPages == 0 {
		input.TotalPages = volume.PageCount
	}
	if input.CoverURL == "" {
		input.CoverURL = volume.Thumbnail
	}
	if len(input.Genres) == 0 {
		input.Genres = volume.Categories
	}
	return s.AddBook(ctx, input)
}

func (s *Service) UpdateBook(ctx context.Context, id string, update tracker.BookUpdate) (tracker.Book, error) {
	before, ok := s.store.GetBook(id)
	if !ok {
		return tracker.Book{}, fmt.Errorf("%w: book %s", tracker.ErrNotFound, id)
	}
	book, err := s.store.UpdateBook(id, update)
	if err != nil {
		return tracker.Book{}, err
	}
	if book.IsCompleted && !before.IsCompleted {
		s.recordCompletion(book)
	}
	s.afterMutation(ctx)
	return book, nil
}

func (s *Service) DeleteBook(ctx context.Context, id string) error {
	if err := s.store.DeleteBook(id); err != nil {
		return err
	}
	s.afterMutation(ctx)
	return nil
}

// LogProgress appends a session and advances current_page by pages, clamped to total_pages.
// Reaching total_pages completes the book.
func (s *Service) LogProgress(ctx context.Context, log ProgressLog) (ProgressResult, error) {
	fields := map[string]string{}
	if log.Pages < 0 {
		fields["pages_read"] = "must not be negative"
	}
	if log.Minutes < 0 {
		fields["time_spent_minutes"] = "must not be negative"
	}
	if log.Pages <= 0 && log.Minutes <= 0 && len(fields) == 0 {
		fields["pages_read"] = "pages or minutes must be positive"
	}
	if len(fields) > 0 {
		return ProgressResult{}, &tracker.ValidationError{Fields: fields}
	}

	book, ok := s.store.GetBook(log.BookID)
	if !ok {
		return ProgressResult{}, fmt.Errorf("%w: book %s", tracker.ErrNotFound, log.BookID)
	}
	entry, err := s.store.AddProgressEntry(tracker.NewProgressEntry{
		BookID:           log.BookID,
		PagesRead:        log.Pages,
		TimeSpentMinutes: log.Minutes,
	})
	if err != nil {
		return ProgressResult{}, err
	}

	result := ProgressResult{Book: book, Entry: entry}
	if log.Pages > 0 {
		nextPage := min(book.CurrentPage+log.Pages, book.TotalPages)
		update := tracker.BookUpdate{CurrentPage: &nextPage}
		finished := nextPage >= book.TotalPages && !book.IsCompleted
		if finished {
			completed := true
			update.IsCompleted = &completed
		}
		updated, err := s.store.UpdateBook(book.ID, update)
		if err != nil {
			return ProgressResult{}, err
		}
		result.Book = updated
		if finished {
			result.Completed = true
			s.recordCompletion(updated)
		}
	}
	s.addWeeklyActivity(entry.CreatedAt, log.Pages, log.Minutes, 0)

	result.Challenge = s.afterMutation(ctx)
	return result, nil
}

// CompleteBook marks the book finished with an optional rating and trimmed review.
func (s *Service) CompleteBook(ctx context.Context, id string, completion Completion) (tracker.Book, error) {
	before, ok := s.store.GetBook(id)
	if !ok {
		return tracker.Book{}, fmt.Errorf("%w: book %s", tracker.ErrNotFound, id)
	}
	completed := true
	update := tracker.BookUpdate{IsCompleted: &completed, Rating: completion.Rating}
	if review := strings.TrimSpace(completion.Review); review != "" {
		update.Review = &review
	}
	book, err := s.store.UpdateBook(id, update)
	if err != nil {
		return tracker.Book{}, err
	}
	if !before.IsCompleted {
		s.recordCompletion(book)
	}
	s.afterMutation(ctx)
	return book, nil
}

func (s *Service) AddNote(ctx context.Context, bookID, content string) (tracker.Note, error) {
	note, err := s.store.AddNote(tracker.NewNote{BookID: bookID, Content: strings.TrimSpace(content)})
	if err != nil {
		return tracker.Note{}, err
	}
	s.afterMutation(ctx)
	return note, nil
}

func (s *Service) DeleteNote(ctx context.Context, id string) error {
	if err := s.store.DeleteNote(id); err != nil {
		return err
	}
	s.afterMutation(ctx)
	return nil
}

// recordCompletion awards the completion achievement once per book and counts it in the week.
func (s *Service) recordCompletion(book tracker.Book) {
	for _, achievement := range s.store.Achievements() {
		if achievement.Type != tracker.AchievementBookCompleted {
			continue
		}
		var metadata struct {
			BookID string `json:"book_id"`
		}
		if json.Unmarshal(achievement.Metadata, &metadata) == nil && metadata.BookID == book.ID {
			return
		}
	}
	metadata, err := json.Marshal(map[string]string{"book_id": book.ID, "title": book.Title})
	if err != nil {
		s.logError("reading.complete", "metadata_encode_failed", err, zap.String("book_id", book.ID))
		return
	}
	if _, err := s.store.AddAchievement(tracker.NewAchievement{Type: tracker.AchievementBookCompleted, Metadata: metadata}); err != nil {
		s.logError("reading.complete", "achievement_failed", err, zap.String("book_id", book.ID))
	}
	completedAt := s.clock()
	if book.CompletedAt != nil {
		completedAt = *book.CompletedAt
	}
	s.addWeeklyActivity(completedAt, 0, 0, 1)
	s.logger.Info("book completed", zap.String("book_id", book.ID), zap.String("title", book.Title))
}

func (s *Service) addWeeklyActivity(at time.Time, pages, minutes, booksCompleted int) {
	weekStart := stats.WeekStart(at, s.location)
	current, _ := s.store.ReadingStats(weekStart)
	totalPages := current.TotalPages + max(pages, 0)
	totalMinutes := current.TotalMinutes + max(minutes, 0)
	totalBooks := current.BooksCompleted + booksCompleted
	if _, err := s.store.UpdateReadingStats(weekStart, tracker.ReadingStatsUpdate{
		TotalPages:     &totalPages,
		TotalMinutes:   &totalMinutes,
		BooksCompleted: &totalBooks,
	}); err != nil {
		s.logError("reading.weekly_stats", "update_failed", err, zap.String("week_start", weekStart))
	}
}

func (s *Service) afterMutation(ctx context.Context) *challenge.Evaluation {
	if s.uploader != nil {
		s.uploader.UploadSnapshot(ctx)
	}
	if s.challenges == nil {
		return nil
	}
	evaluation, err := s.challenges.Evaluate(ctx)
	if err != nil {
		s.logError("reading.challenge", "evaluate_failed", err)
		return nil
	}
	return &evaluation
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("reading service error", attrs...)
}
