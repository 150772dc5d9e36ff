// Package store owns the session collection: an in-memory list of sessions
// with exactly one marked current, mirrored to sqlite after every mutation.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prismworks/easel/internal/models"
)

const (
	titleLimit  = 40
	uploadTitle = "Image Upload"
)

// Store is safe for concurrent use; every mutation funnels through a single
// locked path that re-establishes the collection invariants and persists.
type Store struct {
	mu        sync.Mutex
	sessions  []models.Session
	currentID string
	db        *stateDB
	logger    *zap.Logger
}

// New opens the backing database and loads any saved state. Absent, corrupt
// or unparsable state is treated as no saved state: the store starts with a
// single fresh session.
func New(dbPath string, logger *zap.Logger) (*Store, error) {
	db, err := openStateDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	s := &Store{db: db, logger: logger}
	s.load()
	s.normalize()
	s.persist()
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// load reads the saved collection and current id. Failures are swallowed;
// normalize supplies a fresh session afterwards.
func (s *Store) load() {
	raw, ok, err := s.db.get(keySessions)
	if err != nil {
		s.logger.Warn("failed to read saved sessions", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	var sessions []models.Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		s.logger.Warn("discarding unparsable saved sessions", zap.Error(err))
		return
	}
	s.sessions = sessions

	if id, ok, err := s.db.get(keyCurrentID); err != nil {
		s.logger.Warn("failed to read current session id", zap.Error(err))
	} else if ok {
		s.currentID = id
	}
}

// normalize is the single transition that enforces the collection
// invariants: the collection is never empty, and the current id always
// points at a member.
func (s *Store) normalize() {
	if len(s.sessions) == 0 {
		fresh := models.NewSession()
		s.sessions = []models.Session{fresh}
		s.currentID = fresh.ID
		return
	}
	for i := range s.sessions {
		if s.sessions[i].ID == s.currentID {
			return
		}
	}
	s.currentID = s.sessions[0].ID
}

// persist mirrors the full collection and current id to the database.
// Failures are logged and otherwise ignored; the store keeps operating in
// memory.
func (s *Store) persist() {
	raw, err := json.Marshal(s.sessions)
	if err != nil {
		s.logger.Warn("failed to serialize sessions", zap.Error(err))
		return
	}
	err = s.db.setAll(map[string]string{
		keySessions:  string(raw),
		keyCurrentID: s.currentID,
	})
	if err != nil {
		s.logger.Warn("failed to persist sessions", zap.Error(err))
	}
}

// CreateSession adds a fresh session with default settings and makes it
// current.
func (s *Store) CreateSession() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := models.NewSession()
	s.sessions = append([]models.Session{sess}, s.sessions...)
	s.currentID = sess.ID
	s.persist()
	return sess
}

// DeleteSession removes the session with the given id. Deleting the last
// remaining session replaces it with a fresh one; deleting the current one
// re-points current at the first remaining session.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.sessions[:0]
	for _, sess := range s.sessions {
		if sess.ID != id {
			kept = append(kept, sess)
		}
	}
	s.sessions = kept
	s.normalize()
	s.persist()
}

// SelectSession makes the session with the given id current. Unknown ids
// are a no-op.
func (s *Store) SelectSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sessions {
		if s.sessions[i].ID == id {
			s.currentID = id
			s.persist()
			return
		}
	}
}

// UpdateCurrent applies mutate to the current session, stamps its
// last-modified time and persists. The updated session is returned by
// value.
func (s *Store) UpdateCurrent(mutate func(*models.Session)) models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateCurrentLocked(mutate)
}

func (s *Store) updateCurrentLocked(mutate func(*models.Session)) models.Session {
	sess := s.currentLocked()
	mutate(sess)
	sess.UpdatedAt = time.Now().UTC()
	s.persist()
	return *sess
}

// AppendUserMessage appends a user turn to the current session and derives
// the session title from the first user turn. First write wins: a title,
// once set, is never overwritten.
func (s *Store) AppendUserMessage(msg models.Message) models.Session {
	return s.UpdateCurrent(func(sess *models.Session) {
		sess.Messages = append(sess.Messages, msg)
		if sess.Title != "" {
			return
		}
		text := strings.TrimSpace(msg.Text)
		switch {
		case text != "":
			sess.Title = truncateTitle(text)
		case len(msg.Attachments) > 0:
			sess.Title = uploadTitle
		}
	})
}

// AppendAIMessage appends an AI turn and copies its images into the session
// gallery. Gallery entries are independent copies of the message's images,
// kept separately so the gallery outlives chat structure.
func (s *Store) AppendAIMessage(msg models.Message) models.Session {
	return s.UpdateCurrent(func(sess *models.Session) {
		sess.Messages = append(sess.Messages, msg)
		sess.Gallery = append(sess.Gallery, msg.Images...)
	})
}

// SetReferenceImage replaces the current session's reference image
// wholesale.
func (s *Store) SetReferenceImage(a models.ImageAttachment) models.Session {
	return s.UpdateCurrent(func(sess *models.Session) {
		sess.ReferenceImage = &a
	})
}

// ClearReferenceImage drops the current session's reference image.
func (s *Store) ClearReferenceImage() models.Session {
	return s.UpdateCurrent(func(sess *models.Session) {
		sess.ReferenceImage = nil
	})
}

// SetSettings updates the current session's generation settings.
func (s *Store) SetSettings(aspectRatio string, imageCount int) (models.Session, error) {
	if !models.ValidAspectRatio(aspectRatio) {
		return models.Session{}, fmt.Errorf("unsupported aspect ratio %q", aspectRatio)
	}
	if imageCount < 1 || imageCount > models.MaxImageCount {
		return models.Session{}, fmt.Errorf("image count %d out of range [1,%d]", imageCount, models.MaxImageCount)
	}
	return s.UpdateCurrent(func(sess *models.Session) {
		sess.AspectRatio = aspectRatio
		sess.ImageCount = imageCount
	}), nil
}

// Sessions returns a copy of the collection, newest first. Callers must not
// mutate the nested slices.
func (s *Store) Sessions() []models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// CurrentID returns the id of the current session.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Current returns the current session by value.
func (s *Store) Current() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.currentLocked()
}

// FindGalleryImage looks an image up by id in the current session's
// gallery.
func (s *Store) FindGalleryImage(id string) (models.GeneratedImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.currentLocked()
	for _, img := range sess.Gallery {
		if img.ID == id {
			return img, true
		}
	}
	return models.GeneratedImage{}, false
}

func (s *Store) currentLocked() *models.Session {
	for i := range s.sessions {
		if s.sessions[i].ID == s.currentID {
			return &s.sessions[i]
		}
	}
	// Unreachable while the invariants hold; normalize on every mutation
	// keeps currentID pointing at a member.
	s.normalize()
	return &s.sessions[0]
}

func truncateTitle(text string) string {
	r := []rune(text)
	if len(r) <= titleLimit {
		return text
	}
	return string(r[:titleLimit]) + "..."
}
