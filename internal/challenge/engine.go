// Package challenge maintains one reading challenge per calendar day and derives its
// progress from the activity already recorded in the tracker store.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/bookworm/internal/syncer"
	"github.com/MarcoPoloResearchLab/bookworm/internal/tracker"
	"go.uber.org/zap"
)

const (
	dateLayout = "2006-01-02"

	// DefaultTick is the evaluation period of Run.
	DefaultTick = time.Second

	minPagesTarget   = 10
	maxPagesTarget   = 50
	minMinutesTarget = 15
	maxMinutesTarget = 60
)

var (
	errMissingState = errors.New("challenge: tracker state is required")
	noOpLogger      = zap.NewNop()

	challengeKinds = []tracker.ChallengeType{
		tracker.ChallengeTypePages,
		tracker.ChallengeTypeMinutes,
		tracker.ChallengeTypeBook,
	}
)

// State is the slice of the tracker store the engine reads and writes.
type State interface {
	ChallengeForDate(dateKey string) (tracker.DailyChallenge, bool)
	SetDailyChallenge(challenge tracker.DailyChallenge) error
	UpdateChallengeProgress(id string, progress int) (tracker.DailyChallenge, error)
	DailyChallenges() []tracker.DailyChallenge
	AllProgressEntries() []tracker.ProgressEntry
	Books() []tracker.Book
}

// Uploader pushes the local snapshot after the engine changes state.
type Uploader interface {
	UploadSnapshot(ctx context.Context) syncer.Outcome
}

// Config describes the engine dependencies. State is required.
type Config struct {
	State      State
	Uploader   Uploader
	Animations tracker.KeyValueStorage
	Clock      func() time.Time
	Location   *time.Location
	Rand       *rand.Rand
	IDProvider tracker.IDProvider
	Logger     *zap.Logger
}

// Evaluation is the result of one engine pass.
type Evaluation struct {
	Challenge tracker.DailyChallenge
	Generated bool
	// Completed is set on the pass where progress first reaches the target.
	Completed bool
}

// Engine keeps one challenge per local day and derives its progress from the store.
type Engine struct {
	state      State
	uploader   Uploader
	clock      func() time.Time
	location   *time.Location
	intN       func(int) int
	idProvider tracker.IDProvider
	logger     *zap.Logger
	shown      *shownSet

	mu              sync.Mutex
	previousChecked bool
}

// NewEngine constructs an engine, loading the shown-animation set from Animations when set.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.State == nil {
		return nil, errMissingState
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	intN := rand.IntN
	if cfg.Rand != nil {
		intN = cfg.Rand.IntN
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = tracker.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		state:      cfg.State,
		uploader:   cfg.Uploader,
		clock:      clock,
		location:   location,
		intN:       intN,
		idProvider: idProvider,
		logger:     logger,
		shown:      newShownSet(cfg.Animations, logger),
	}, nil
}

// DateKey formats t as a calendar day in loc.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}

// Today returns the current calendar day key.
func (e *Engine) Today() string {
	return DateKey(e.clock(), e.location)
}

// Location returns the timezone defining calendar days.
func (e *Engine) Location() *time.Location {
	return e.location
}

// Evaluate makes sure today's challenge exists and recomputes its progress from scratch.
// The store is written, and a sync upload triggered, only when something changed.
func (e *Engine) Evaluate(ctx context.Context) (Evaluation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock().In(e.location)
	today := now.Format(dateLayout)

	var evaluation Evaluation
	current, ok := e.state.ChallengeForDate(today)
	if !ok {
		generated, err := e.generate(now)
		if err != nil {
			return Evaluation{}, err
		}
		if err := e.state.SetDailyChallenge(generated); err != nil {
			return Evaluation{}, fmt.Errorf("store challenge: %w", err)
		}
		e.logger.Info("daily challenge generated",
			zap.String("challenge_id", generated.ID),
			zap.String("challenge_type", string(generated.Type)),
			zap.Int("target_value", generated.TargetValue),
			zap.String("challenge_date", today))
		e.upload(ctx)
		current = generated
		evaluation.Generated = true
	}

	progress := e.deriveProgress(current, today)
	if progress != current.CurrentProgress {
		wasCompleted := current.IsCompleted
		updated, err := e.state.UpdateChallengeProgress(current.ID, progress)
		if err != nil {
			return Evaluation{}, fmt.Errorf("update challenge progress: %w", err)
		}
		e.upload(ctx)
		evaluation.Completed = updated.IsCompleted && !wasCompleted
		current = updated
	}
	evaluation.Challenge = current
	return evaluation, nil
}

// Run evaluates on every tick until ctx is cancelled. Each evaluation is passed to observe when non-nil.
func (e *Engine) Run(ctx context.Context, tick time.Duration, observe func(Evaluation)) {
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evaluation, err := e.Evaluate(ctx)
			if err != nil {
				e.logger.Error("challenge evaluation failed",
					zap.String("operation", "challenge.evaluate"),
					zap.Error(err))
				continue
			}
			if observe != nil {
				observe(evaluation)
			}
		}
	}
}

// PreviousDayOutcome returns yesterday's challenge the first time it is called in a session,
// unless its outcome was already shown in an earlier session.
func (e *Engine) PreviousDayOutcome() (tracker.DailyChallenge, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.previousChecked {
		return tracker.DailyChallenge{}, false
	}
	e.previousChecked = true

	now := e.clock().In(e.location)
	yesterday := time.Date(now.Year(), now.Month(), now.Day()-1, 12, 0, 0, 0, e.location).Format(dateLayout)
	previous, ok := e.state.ChallengeForDate(yesterday)
	if !ok || e.shown.contains(previous.ID) {
		return tracker.DailyChallenge{}, false
	}
	e.shown.add(previous.ID)
	return previous, true
}

func (e *Engine) generate(now time.Time) (tracker.DailyChallenge, error) {
	id, err := e.idProvider.NewID()
	if err != nil {
		return tracker.DailyChallenge{}, fmt.Errorf("challenge id: %w", err)
	}
	kind := challengeKinds[e.intN(len(challengeKinds))]
	var target int
	switch kind {
	case tracker.ChallengeTypePages:
		target = minPagesTarget + e.intN(maxPagesTarget-minPagesTarget+1)
	case tracker.ChallengeTypeMinutes:
		target = minMinutesTarget + e.intN(maxMinutesTarget-minMinutesTarget+1)
	default:
		target = 1
	}
	return tracker.DailyChallenge{
		ID:            id,
		Type:          kind,
		TargetValue:   target,
		ChallengeDate: now.Format(dateLayout),
		ExpiresAt:     startOfNextDay(now).UTC(),
		CreatedAt:     now.UTC(),
	}, nil
}

func (e *Engine) deriveProgress(current tracker.DailyChallenge, today string) int {
	switch current.Type {
	case tracker.ChallengeTypePages, tracker.ChallengeTypeMinutes:
		total := 0
		for _, entry := range e.state.AllProgressEntries() {
			if DateKey(entry.CreatedAt, e.location) != today {
				continue
			}
			if current.Type == tracker.ChallengeTypePages {
				total += entry.PagesRead
			} else {
				total += entry.TimeSpentMinutes
			}
		}
		return total
	case tracker.ChallengeTypeBook:
		for _, book := range e.state.Books() {
			if !book.IsCompleted {
				continue
			}
			completedAt := book.UpdatedAt
			if book.CompletedAt != nil {
				completedAt = *book.CompletedAt
			}
			if DateKey(completedAt, e.location) == today {
				return 1
			}
		}
		return 0
	default:
		return current.CurrentProgress
	}
}

func (e *Engine) upload(ctx context.Context) {
	if e.uploader == nil {
		return
	}
	e.uploader.UploadSnapshot(ctx)
}

func startOfNextDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}
