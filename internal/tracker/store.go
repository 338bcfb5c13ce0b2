package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StateKey is the storage key holding the persisted store document.
const StateKey = "app-storage"

var (
	errMissingStorage    = errors.New("tracker: key-value storage is required")
	errMissingIDProvider = errors.New("tracker: id provider is required")
	noOpLogger           = zap.NewNop()
)

// KeyValueStorage is the durable local medium backing the store.
type KeyValueStorage interface {
	Read(key string) ([]byte, bool, error)
	Write(key string, value []byte) error
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Storage    KeyValueStorage
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store is the process-wide source of truth for reading-tracker entities.
// Every mutation is written through to the configured storage before it returns.
type Store struct {
	mu         sync.RWMutex
	storage    KeyValueStorage
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	validator  *inputValidator

	books           []Book
	progressEntries []ProgressEntry
	notes           []Note
	achievements    []Achievement
	dailyChallenges []DailyChallenge
	readingStats    []ReadingStats
	lastSyncedAt    *time.Time
}

// NewStore constructs a Store and rehydrates it from storage.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	store := &Store{
		storage:    cfg.Storage,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
		validator:  newInputValidator(),
	}
	store.replaceLocked(Snapshot{})
	store.load()
	return store, nil
}

func (s *Store) load() {
	raw, found, err := s.storage.Read(StateKey)
	if err != nil {
		s.logPersistenceError("read_failed", err)
		return
	}
	if !found {
		return
	}
	var persisted Snapshot
	if err := json.Unmarshal(raw, &persisted); err != nil {
		s.logPersistenceError("decode_failed", err)
		return
	}
	s.replaceLocked(persisted)
	s.logger.Debug("local state restored",
		zap.Int("books", len(s.books)),
		zap.Int("progress_entries", len(s.progressEntries)))
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

func (s *Store) newID() (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		return "", fmt.Errorf("tracker: id generation failed: %w", err)
	}
	return id, nil
}

// AddBook assigns an identifier and timestamps, then appends the book.
// Duplicate ISBNs are accepted.
func (s *Store) AddBook(input NewBook) (Book, error) {
	if err := s.validator.check(input); err != nil {
		return Book{}, err
	}
	id, err := s.newID()
	if err != nil {
		return Book{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	book := Book{
		ID:          id,
		Title:       input.Title,
		Author:      input.Author,
		ISBN:        input.ISBN,
		TotalPages:  input.TotalPages,
		CurrentPage: input.CurrentPage,
		CoverURL:    input.CoverURL,
		Genres:      cloneStrings(input.Genres),
		IsCompleted: input.IsCompleted,
		Rating:      cloneInt(input.Rating),
		Review:      cloneString(input.Review),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if book.IsCompleted {
		book.CurrentPage = book.TotalPages
		book.CompletedAt = &now
	}
	s.books = append(s.books, book)
	s.persistLocked()
	return cloneBook(book), nil
}

// UpdateBook merges the non-nil fields into the matching book and refreshes updated_at.
func (s *Store) UpdateBook(id string, update BookUpdate) (Book, error) {
	if err := s.validator.check(update); err != nil {
		return Book{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.bookIndexLocked(id)
	if index < 0 {
		return Book{}, fmt.Errorf("%w: book %s", ErrNotFound, id)
	}
	updated := cloneBook(s.books[index])
	if update.Title != nil {
		updated.Title = *update.Title
	}
	if update.Author != nil {
		updated.Author = *update.Author
	}
	if update.ISBN != nil {
		updated.ISBN = *update.ISBN
	}
	if update.CoverURL != nil {
		updated.CoverURL = *update.CoverURL
	}
	if update.Genres != nil {
		updated.Genres = cloneStrings(*update.Genres)
	}
	if update.Rating != nil {
		updated.Rating = cloneInt(update.Rating)
	}
	if update.Review != nil {
		updated.Review = cloneString(update.Review)
	}
	if update.TotalPages != nil {
		updated.TotalPages = *update.TotalPages
	}
	if update.CurrentPage != nil {
		if *update.CurrentPage < updated.CurrentPage && !update.ResetProgress {
			return Book{}, newFieldError("current_page", "must not decrease without a reset")
		}
		updated.CurrentPage = *update.CurrentPage
	}
	if update.ResetProgress && updated.CurrentPage < updated.TotalPages {
		updated.IsCompleted = false
	}
	if update.IsCompleted != nil {
		updated.IsCompleted = *update.IsCompleted
	}

	now := s.now()
	if updated.IsCompleted {
		updated.CurrentPage = updated.TotalPages
		switch {
		case update.CompletedAt != nil:
			completedAt := update.CompletedAt.UTC()
			updated.CompletedAt = &completedAt
		case updated.CompletedAt == nil:
			updated.CompletedAt = &now
		}
	} else {
		updated.CompletedAt = nil
	}
	if updated.CurrentPage > updated.TotalPages {
		return Book{}, newFieldError("current_page", "must not exceed total_pages")
	}

	updated.UpdatedAt = now
	s.books[index] = updated
	s.persistLocked()
	return cloneBook(updated), nil
}

// DeleteBook removes the book together with its progress entries and notes.
func (s *Store) DeleteBook(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := s.bookIndexLocked(id)
	if index < 0 {
		return fmt.Errorf("%w: book %s", ErrNotFound, id)
	}
	s.books = append(s.books[:index], s.books[index+1:]...)

	entries := s.progressEntries[:0]
	for _, entry := range s.progressEntries {
		if entry.BookID != id {
			entries = append(entries, entry)
		}
	}
	s.progressEntries = entries

	notes := s.notes[:0]
	for _, note := range s.notes {
		if note.BookID != id {
			notes = append(notes, note)
		}
	}
	s.notes = notes

	s.persistLocked()
	return nil
}

// GetBook returns a copy of the book with the given id.
func (s *Store) GetBook(id string) (Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index := s.bookIndexLocked(id)
	if index < 0 {
		return Book{}, false
	}
	return cloneBook(s.books[index]), true
}

// Books returns copies of all books in insertion order.
func (s *Store) Books() []Book {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBooks(s.books)
}

// AddProgressEntry appends a reading session for an existing book.
func (s *Store) AddProgressEntry(input NewProgressEntry) (ProgressEntry, error) {
	if err := s.validator.check(input); err != nil {
		return ProgressEntry{}, err
	}
	id, err := s.newID()
	if err != nil {
		return ProgressEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bookIndexLocked(input.BookID) < 0 {
		return ProgressEntry{}, fmt.Errorf("%w: book %s", ErrNotFound, input.BookID)
	}
	entry := ProgressEntry{
		ID:               id,
		BookID:           input.BookID,
		PagesRead:        input.PagesRead,
		TimeSpentMinutes: input.TimeSpentMinutes,
		CreatedAt:        s.now(),
	}
	s.progressEntries = append(s.progressEntries, entry)
	s.persistLocked()
	return entry, nil
}

// ProgressEntries returns the entries whose book_id matches.
func (s *Store) ProgressEntries(bookID string) []ProgressEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]ProgressEntry, 0)
	for _, entry := range s.progressEntries {
		if entry.BookID == bookID {
			matches = append(matches, entry)
		}
	}
	return matches
}

// AllProgressEntries returns every progress entry in insertion order.
func (s *Store) AllProgressEntries() []ProgressEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]ProgressEntry, 0, len(s.progressEntries)), s.progressEntries...)
}

// AddNote appends a note for an existing book.
func (s *Store) AddNote(input NewNote) (Note, error) {
	if err := s.validator.check(input); err != nil {
		return Note{}, err
	}
	id, err := s.newID()
	if err != nil {
		return Note{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bookIndexLocked(input.BookID) < 0 {
		return Note{}, fmt.Errorf("%w: book %s", ErrNotFound, input.BookID)
	}
	note := Note{
		ID:        id,
		BookID:    input.BookID,
		Content:   input.Content,
		CreatedAt: s.now(),
	}
	s.notes = append(s.notes, note)
	s.persistLocked()
	return note, nil
}

// Notes returns the notes whose book_id matches.
func (s *Store) Notes(bookID string) []Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]Note, 0)
	for _, note := range s.notes {
		if note.BookID == bookID {
			matches = append(matches, note)
		}
	}
	return matches
}

// DeleteNote removes a single note.
func (s *Store) DeleteNote(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for index, note := range s.notes {
		if note.ID == id {
			s.notes = append(s.notes[:index], s.notes[index+1:]...)
			s.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: note %s", ErrNotFound, id)
}

// AddAchievement appends an earned achievement.
func (s *Store) AddAchievement(input NewAchievement) (Achievement, error) {
	if err := s.validator.check(input); err != nil {
		return Achievement{}, err
	}
	if len(input.Metadata) > 0 && !json.Valid(input.Metadata) {
		return Achievement{}, newFieldError("metadata", "must be valid JSON")
	}
	id, err := s.newID()
	if err != nil {
		return Achievement{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	achievement := Achievement{
		ID:       id,
		Type:     input.Type,
		Metadata: cloneRaw(input.Metadata),
		EarnedAt: s.now(),
	}
	s.achievements = append(s.achievements, achievement)
	s.persistLocked()
	return cloneAchievement(achievement), nil
}

// Achievements returns copies of every achievement.
func (s *Store) Achievements() []Achievement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	achievements := make([]Achievement, 0, len(s.achievements))
	for _, achievement := range s.achievements {
		achievements = append(achievements, cloneAchievement(achievement))
	}
	return achievements
}

// SetDailyChallenge places the challenge first, replacing any challenge with the same id.
// It does not enforce one challenge per date.
func (s *Store) SetDailyChallenge(challenge DailyChallenge) error {
	if challenge.ID == "" {
		return newFieldError("id", "is required")
	}
	if challenge.TargetValue <= 0 {
		return newFieldError("target_value", "must be greater than 0")
	}
	if challenge.CurrentProgress < 0 {
		return newFieldError("current_progress", "must be greater than or equal to 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	challenge.IsCompleted = challenge.CurrentProgress >= challenge.TargetValue
	challenges := make([]DailyChallenge, 0, len(s.dailyChallenges)+1)
	challenges = append(challenges, challenge)
	for _, existing := range s.dailyChallenges {
		if existing.ID != challenge.ID {
			challenges = append(challenges, existing)
		}
	}
	s.dailyChallenges = challenges
	s.persistLocked()
	return nil
}

// UpdateChallengeProgress sets current_progress and recomputes is_completed.
func (s *Store) UpdateChallengeProgress(id string, progress int) (DailyChallenge, error) {
	if progress < 0 {
		return DailyChallenge{}, newFieldError("current_progress", "must be greater than or equal to 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for index := range s.dailyChallenges {
		if s.dailyChallenges[index].ID != id {
			continue
		}
		s.dailyChallenges[index].CurrentProgress = progress
		s.dailyChallenges[index].IsCompleted = progress >= s.dailyChallenges[index].TargetValue
		s.persistLocked()
		return s.dailyChallenges[index], nil
	}
	return DailyChallenge{}, fmt.Errorf("%w: challenge %s", ErrNotFound, id)
}

// ChallengeForDate returns the first challenge whose challenge_date matches.
func (s *Store) ChallengeForDate(dateKey string) (DailyChallenge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, challenge := range s.dailyChallenges {
		if challenge.ChallengeDate == dateKey {
			return challenge, true
		}
	}
	return DailyChallenge{}, false
}

// DailyChallenges returns every challenge, most recently set first.
func (s *Store) DailyChallenges() []DailyChallenge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]DailyChallenge, 0, len(s.dailyChallenges)), s.dailyChallenges...)
}

// UpdateReadingStats upserts the weekly aggregate for weekStart.
func (s *Store) UpdateReadingStats(weekStart string, update ReadingStatsUpdate) (ReadingStats, error) {
	if weekStart == "" {
		return ReadingStats{}, newFieldError("week_start", "is required")
	}
	if err := s.validator.check(update); err != nil {
		return ReadingStats{}, err
	}
	id, err := s.newID()
	if err != nil {
		return ReadingStats{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	index := -1
	for i, stats := range s.readingStats {
		if stats.WeekStart == weekStart {
			index = i
			break
		}
	}
	if index < 0 {
		s.readingStats = append(s.readingStats, ReadingStats{
			ID:        id,
			WeekStart: weekStart,
			CreatedAt: now,
		})
		index = len(s.readingStats) - 1
	}
	stats := &s.readingStats[index]
	if update.TotalMinutes != nil {
		stats.TotalMinutes = *update.TotalMinutes
	}
	if update.TotalPages != nil {
		stats.TotalPages = *update.TotalPages
	}
	if update.BooksCompleted != nil {
		stats.BooksCompleted = *update.BooksCompleted
	}
	stats.UpdatedAt = now
	s.persistLocked()
	return *stats, nil
}

// ReadingStats returns the weekly aggregate for weekStart.
func (s *Store) ReadingStats(weekStart string) (ReadingStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, stats := range s.readingStats {
		if stats.WeekStart == weekStart {
			return stats, true
		}
	}
	return ReadingStats{}, false
}

// AllReadingStats returns every weekly aggregate.
func (s *Store) AllReadingStats() []ReadingStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(make([]ReadingStats, 0, len(s.readingStats)), s.readingStats...)
}

// LastSyncedAt reports the last successful sync time, if any.
func (s *Store) LastSyncedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSyncedAt == nil {
		return time.Time{}, false
	}
	return *s.lastSyncedAt, true
}

// SetLastSyncedAt records the time of a successful sync.
func (s *Store) SetLastSyncedAt(timestamp time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value := timestamp.UTC()
	s.lastSyncedAt = &value
	s.persistLocked()
}

// Snapshot returns a deep copy of every collection stamped with the current time.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := s.copyLocked()
	stamp := s.now()
	snapshot.LastSyncedAt = &stamp
	return snapshot
}

// HydrateFromSnapshot replaces every collection wholesale. Missing collections become empty.
func (s *Store) HydrateFromSnapshot(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(cloneSnapshot(snapshot))
	s.persistLocked()
}

// ClearAllData resets every collection and the sync marker.
func (s *Store) ClearAllData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(Snapshot{})
	s.persistLocked()
}

func (s *Store) replaceLocked(snapshot Snapshot) {
	s.books = orEmpty(snapshot.Books)
	s.progressEntries = orEmpty(snapshot.ProgressEntries)
	s.notes = orEmpty(snapshot.Notes)
	s.achievements = orEmpty(snapshot.Achievements)
	s.dailyChallenges = orEmpty(snapshot.DailyChallenges)
	s.readingStats = orEmpty(snapshot.ReadingStats)
	s.lastSyncedAt = cloneTime(snapshot.LastSyncedAt)
}

func (s *Store) copyLocked() Snapshot {
	return cloneSnapshot(Snapshot{
		Books:           s.books,
		ProgressEntries: s.progressEntries,
		Notes:           s.notes,
		Achievements:    s.achievements,
		DailyChallenges: s.dailyChallenges,
		ReadingStats:    s.readingStats,
		LastSyncedAt:    s.lastSyncedAt,
	})
}

func (s *Store) persistLocked() {
	payload, err := json.Marshal(s.copyLocked())
	if err != nil {
		s.logPersistenceError("encode_failed", err)
		return
	}
	if err := s.storage.Write(StateKey, payload); err != nil {
		s.logPersistenceError("write_failed", err)
	}
}

func (s *Store) bookIndexLocked(id string) int {
	for index, book := range s.books {
		if book.ID == id {
			return index
		}
	}
	return -1
}

func (s *Store) logPersistenceError(reason string, err error) {
	s.logger.Error("local persistence error",
		zap.String("operation", "tracker.persist"),
		zap.String("reason", reason),
		zap.String("key", StateKey),
		zap.Error(err))
}
