package reading

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/bookworm/internal/booklookup"
	"github.com/MarcoPoloResearchLab/bookworm/internal/challenge"
	"github.com/MarcoPoloResearchLab/bookworm/internal/localstorage"
	"github.com/MarcoPoloResearchLab/bookworm/internal/syncer"
	"github.com/MarcoPoloResearchLab/bookworm/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	mu    sync.Mutex
	calls int
}

func (u *recordingUploader) UploadSnapshot(context.Context) syncer.Outcome {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	return syncer.OutcomeUploaded
}

type stubLookup struct {
	volume *booklookup.Volume
	err    error
}

func (l stubLookup) LookupISBN(context.Context, string) (*booklookup.Volume, error) {
	return l.volume, l.err
}

// Wednesday.
var now = time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store    *tracker.Store
	engine   *challenge.Engine
	service  *Service
	uploader *recordingUploader
}

func newFixture(t *testing.T, lookup Lookup) *fixture {
	t.Helper()
	clock := func() time.Time { return now }
	store, err := tracker.NewStore(tracker.StoreConfig{Storage: localstorage.NewMemory(), Clock: clock})
	require.NoError(t, err)
	uploader := &recordingUploader{}
	engine, err := challenge.NewEngine(challenge.Config{
		State:    store,
		Uploader: uploader,
		Clock:    clock,
		Rand:     rand.New(rand.NewPCG(3, 5)),
	})
	require.NoError(t, err)
	service, err := NewService(Config{
		Store:      store,
		Uploader:   uploader,
		Challenges: engine,
		Lookup:     lookup,
		Clock:      clock,
	})
	require.NoError(t, err)
	return &fixture{store: store, engine: engine, service: service, uploader: uploader}
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(Config{})
	require.Error(t, err)
}

func TestLogProgressAdvancesAndCompletesBook(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	book, err := f.service.AddBook(ctx, tracker.NewBook{Title: "X", TotalPages: 100, CurrentPage: 0})
	require.NoError(t, err)

	first, err := f.service.LogProgress(ctx, ProgressLog{BookID: book.ID, Pages: 25})
	require.NoError(t, err)
	assert.Equal(t, 25, first.Book.CurrentPage)
	assert.False(t, first.Book.IsCompleted)
	assert.Equal(t, 25, first.Entry.PagesRead)
	assert.Len(t, f.store.ProgressEntries(book.ID), 1)

	second, err := f.service.LogProgress(ctx, ProgressLog{BookID: book.ID, Pages: 75})
	require.NoError(t, err)
	assert.Equal(t, 100, second.Book.CurrentPage)
	assert.True(t, second.Book.IsCompleted)
	assert.True(t, second.Completed)
	require.NotNil(t, second.Book.CompletedAt)
	assert.Len(t, f.store.ProgressEntries(book.ID), 2)
}

func TestLogProgressClampsToTotalPages(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	book, err := f.service.AddBook(ctx, tracker.NewBook{Title: "Short", TotalPages: 30, CurrentPage: 20})
	require.NoError(t, err)

	result, err := f.service.LogProgress(ctx, ProgressLog{BookID: book.ID, Pages: 50, Minutes: 40})
	require.NoError(t, err)

	assert.Equal(t, 30, result.Book.CurrentPage)
	assert.True(t, result.Book.IsCompleted)
	assert.Equal(t, 50, result.Entry.PagesRead, "the entry keeps what was logged")
}

func TestLogProgressValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	book, err := f.service.AddBook(ctx, tracker.NewBook{Title: "X", TotalPages: 100})
	require.NoError(t, err)

	for _, log := range []ProgressLog{
		{BookID: book.ID},
		{BookID: book.ID, Pages: -5, Minutes: 10},
		{BookID: book.ID, Pages: 5, Minutes: -1},
	} {
		_, err := f.service.LogProgress(ctx, log)
		require.ErrorIs(t, err, tracker.ErrValidation, "%+v", log)
	}
	assert.Empty(t, f.store.ProgressEntries(book.ID))

	_, err = f.service.LogProgress(ctx, ProgressLog{BookID: "missing", Pages: 1})
	require.ErrorIs(t, err, tracker.ErrNotFound)

	minutesOnly, err := f.service.LogProgress(ctx, ProgressLog{BookID: book.ID, Minutes: 20})
	require.NoError(t, err)
	assert.Equal(t, 0, minutesOnly.Book.CurrentPage)
}

func TestPagesChallengeFollowsLoggedProgress(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.SetDailyChallenge(tracker.DailyChallenge{
		ID:            "today",
		Type:          tracker.ChallengeTypePages,
		TargetValue:   20,
		ChallengeDate: "2026-03-11",
		ExpiresAt:     time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
	}))
	book, err := f.service.AddBook(ctx, tracker.NewBook{Title: "X", TotalPages: 300})
	require.NoError(t, err)

	first, err := f.service.LogProgress(ctx, ProgressLog{BookID: book.ID, Pages: 10})
	require.NoError(t, err)
	require.NotNil(t, first.Challenge)
	assert.Equal(t, 10, first.Challenge.Challenge.CurrentProgress)
	assert.False(t, first.Challenge.Challenge.IsCompleted)

	second, err := f.service.LogProgress(ctx, ProgressLog{BookID: book.ID, Pages: 15})
	require.NoError(t, err)
	require.NotNil(t, second.Challenge)
	assert.Equal(t, 25, second.Challenge.Challenge.CurrentProgress)
	assert.True(t, second.Challenge.Challenge.IsCompleted)
	assert.Equal(t, float64(100), challenge.Percent(second.Challenge.Challenge))
}

func TestCompletionAwardsAchievementOnceAndCountsWeek(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	book, err := f.service.AddBook(ctx, tracker.NewBook{Title: "X", TotalPages: 10})
	require.NoError(t, err)

	rating := 5
	completed, err := f.service.CompleteBook(ctx, book.ID, Completion{Rating: &rating, Review: "  loved it  "})
	require.NoError(t, err)
	assert.True(t, completed.IsCompleted)
	assert.Equal(t, 10, completed.CurrentPage)
	require.NotNil(t, completed.Review)
	assert.Equal(t, "loved it", *completed.Review)
	assert.Equal(t, 5, *completed.Rating)

	_, err = f.service.CompleteBook(ctx, book.ID, Completion{})
	require.NoError(t, err)

	assert.Len(t, f.store.Achievements(), 1)
	week, ok := f.store.ReadingStats("2026-03-08")
	require.True(t, ok)
	assert.Equal(t, 1, week.BooksCompleted)
}

func TestCompleteBookRejectsInvalidRating(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	book, err := f.service.AddBook(ctx, tracker.NewBook{Title: "X", TotalPages: 10})
	require.NoError(t, err)

	rating := 9
	_, err = f.service.CompleteBook(ctx, book.ID, Completion{Rating: &rating})
	require.ErrorIs(t, err, tracker.ErrValidation)
	stored, _ := f.store.GetBook(book.ID)
	assert.False(t, stored.IsCompleted)

	_, err = f.service.CompleteBook(ctx, "missing", Completion{})
	require.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestWeeklyStatsAccumulate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	book, err := f.service.AddBook(ctx, tracker.NewBook{Title: "X", TotalPages: 500})
	require.NoError(t, err)

	_, err = f.service.LogProgress(ctx, ProgressLog{BookID: book.ID, Pages: 12, Minutes: 20})
	require.NoError(t, err)
	_, err = f.service.LogProgress(ctx, ProgressLog{BookID: book.ID, Pages: 8, Minutes: 15})
	require.NoError(t, err)

	week, ok := f.store.ReadingStats("2026-03-08")
	require.True(t, ok)
	assert.Equal(t, 20, week.TotalPages)
	assert.Equal(t, 35, week.TotalMinutes)
	assert.Zero(t, week.BooksCompleted)
}

func TestMutationsUploadSnapshots(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	book, err := f.service.AddBook(ctx, tracker.NewBook{Title: "X", TotalPages: 50})
	require.NoError(t, err)
	before := f.uploader.calls

	note, err := f.service.AddNote(ctx, book.ID, "  chapter one is slow ")
	require.NoError(t, err)
	assert.Equal(t, "chapter one is slow", note.Content)
	require.NoError(t, f.service.DeleteNote(ctx, note.ID))
	require.NoError(t, f.service.DeleteBook(ctx, book.ID))

	assert.GreaterOrEqual(t, f.uploader.calls, before+3)
	require.ErrorIs(t, f.service.DeleteBook(ctx, book.ID), tracker.ErrNotFound)
}

func TestAddNoteRejectsBlankContent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	book, err := f.service.AddBook(ctx, tracker.NewBook{Title: "X", TotalPages: 50})
	require.NoError(t, err)

	_, err = f.service.AddNote(ctx, book.ID, "   ")
	require.ErrorIs(t, err, tracker.ErrValidation)
}

func TestAddBookByISBNPrefillsFromVolume(t *testing.T) {
	f := newFixture(t, stubLookup{volume: &booklookup.Volume{
		Title:      "Dune",
		Authors:    []string{"Frank Herbert"},
		Categories: []string{"Fiction"},
		Thumbnail:  "https://books.example/dune.jpg",
		PageCount:  412,
	}})

	book, err := f.service.AddBookByISBN(context.Background(), "9780441172719", tracker.NewBook{Title: "Dune (reread)"})
	require.NoError(t, err)

	assert.Equal(t, "Dune (reread)", book.Title)
	assert.Equal(t, "Frank Herbert", book.Author)
	assert.Equal(t, 412, book.TotalPages)
	assert.Equal(t, "9780441172719", book.ISBN)
	assert.Equal(t, []string{"Fiction"}, book.Genres)
}

func TestAddBookByISBNFailures(t *testing.T) {
	_, err := newFixture(t, nil).service.AddBookByISBN(context.Background(), "1", tracker.NewBook{})
	require.ErrorIs(t, err, ErrLookupUnavailable)

	_, err = newFixture(t, stubLookup{}).service.AddBookByISBN(context.Background(), "1", tracker.NewBook{})
	require.ErrorIs(t, err, ErrVolumeNotFound)

	_, err = newFixture(t, stubLookup{err: errors.New("timeout")}).service.AddBookByISBN(context.Background(), "1", tracker.NewBook{})
	require.Error(t, err)
}
