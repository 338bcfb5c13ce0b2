package challenge

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/MarcoPoloResearchLab/bookworm/internal/tracker"
	"go.uber.org/zap"
)

// ShownAnimationsKey is the storage key of the ids whose outcome animation was already played.
const ShownAnimationsKey = "shown-challenge-animations"

type shownSet struct {
	mu      sync.Mutex
	storage tracker.KeyValueStorage
	logger  *zap.Logger
	ids     []string
}

func newShownSet(storage tracker.KeyValueStorage, logger *zap.Logger) *shownSet {
	set := &shownSet{storage: storage, logger: logger, ids: make([]string, 0)}
	if storage == nil {
		return set
	}
	raw, found, err := storage.Read(ShownAnimationsKey)
	if err != nil {
		set.logFailure("read_failed", err)
		return set
	}
	if !found {
		return set
	}
	if err := json.Unmarshal(raw, &set.ids); err != nil {
		set.logFailure("decode_failed", err)
		set.ids = make([]string, 0)
	}
	return set
}

func (s *shownSet) contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.ids, id)
}

func (s *shownSet) add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.ids, id) {
		return
	}
	s.ids = append(s.ids, id)
	if s.storage == nil {
		return
	}
	payload, err := json.Marshal(s.ids)
	if err != nil {
		s.logFailure("encode_failed", err)
		return
	}
	if err := s.storage.Write(ShownAnimationsKey, payload); err != nil {
		s.logFailure("write_failed", err)
	}
}

func (s *shownSet) logFailure(reason string, err error) {
	s.logger.Error("local persistence error",
		zap.String("operation", "challenge.shown_animations"),
		zap.String("reason", reason),
		zap.String("key", ShownAnimationsKey),
		zap.Error(err))
}
