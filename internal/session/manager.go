package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoSession       = errors.New("no active session")
	ErrNoIteration     = errors.New("no current iteration")
	ErrAtFirstImage    = errors.New("already at first image")
	ErrSessionNotFound = errors.New("session not found")
	ErrNoVariants      = errors.New("no variants to record")
	ErrNotInSession    = errors.New("iteration belongs to another session")
)

// Manager tracks the current history session. Variants of one
// transformation are siblings; magic edits chain from the current iteration
// so Undo walks back through them.
type Manager struct {
	store        *Store
	imageDir     string
	current      *Session
	currentIter  *Iteration
	defaultModel string
}

func NewManager(store *Store, imageDir, defaultModel string) *Manager {
	return &Manager{
		store:        store,
		imageDir:     imageDir,
		defaultModel: defaultModel,
	}
}

func (m *Manager) Current() *Session {
	return m.current
}

func (m *Manager) CurrentIteration() *Iteration {
	return m.currentIter
}

func (m *Manager) HasSession() bool {
	return m.current != nil
}

func (m *Manager) HasIteration() bool {
	return m.currentIter != nil
}

// StartNew opens a session for a transformation. An empty id gets a fresh
// UUID.
func (m *Manager) StartNew(ctx context.Context, id, eraID, lang string) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()
	sess := &Session{
		ID:        id,
		EraID:     eraID,
		Language:  lang,
		CreatedAt: now,
		UpdatedAt: now,
		Model:     m.defaultModel,
	}

	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.current = sess
	m.currentIter = nil
	return sess, nil
}

func (m *Manager) Load(ctx context.Context, id string) error {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}

	m.current = sess

	if sess.CurrentIterationID != "" {
		iter, err := m.store.GetIteration(ctx, sess.CurrentIterationID)
		if err != nil {
			return fmt.Errorf("failed to load current iteration: %w", err)
		}
		m.currentIter = iter
	} else {
		m.currentIter = nil
	}

	return nil
}

// AddVariants records the delivered images of a transformation. The first
// variant becomes current.
func (m *Manager) AddVariants(ctx context.Context, iters []*Iteration) error {
	if m.current == nil {
		return ErrNoSession
	}
	if len(iters) == 0 {
		return ErrNoVariants
	}

	for _, iter := range iters {
		iter.ParentID = ""
		if err := m.create(ctx, iter); err != nil {
			return err
		}
	}
	return m.setCurrent(ctx, iters[0])
}

// AddEdit records a magic edit made on the current iteration.
func (m *Manager) AddEdit(ctx context.Context, iter *Iteration) error {
	if m.current == nil {
		return ErrNoSession
	}
	if m.currentIter == nil {
		return ErrNoIteration
	}

	iter.Operation = OpEdit
	iter.ParentID = m.currentIter.ID
	if err := m.create(ctx, iter); err != nil {
		return err
	}
	return m.setCurrent(ctx, iter)
}

// Select makes another iteration of the current session current, e.g. a
// different variant to edit.
func (m *Manager) Select(ctx context.Context, iterID string) (*Iteration, error) {
	if m.current == nil {
		return nil, ErrNoSession
	}
	iter, err := m.store.GetIteration(ctx, iterID)
	if err != nil {
		return nil, fmt.Errorf("failed to get iteration: %w", err)
	}
	if iter.SessionID != m.current.ID {
		return nil, ErrNotInSession
	}
	if err := m.setCurrent(ctx, iter); err != nil {
		return nil, err
	}
	return iter, nil
}

func (m *Manager) Undo(ctx context.Context) (*Iteration, error) {
	if m.currentIter == nil {
		return nil, ErrNoIteration
	}

	if m.currentIter.ParentID == "" {
		return nil, ErrAtFirstImage
	}

	parent, err := m.store.GetIteration(ctx, m.currentIter.ParentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get parent iteration: %w", err)
	}

	if err := m.setCurrent(ctx, parent); err != nil {
		return nil, err
	}
	return parent, nil
}

func (m *Manager) History(ctx context.Context) ([]*Iteration, error) {
	if m.current == nil {
		return nil, nil
	}
	return m.store.ListIterations(ctx, m.current.ID)
}

func (m *Manager) ListSessions(ctx context.Context) ([]*Session, error) {
	return m.store.ListSessions(ctx)
}

func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	if m.current != nil && m.current.ID == id {
		m.current = nil
		m.currentIter = nil
	}
	return m.store.DeleteSession(ctx, id)
}

// ImageDir returns the current session's image directory, creating it.
func (m *Manager) ImageDir() (string, error) {
	if m.current == nil {
		return "", ErrNoSession
	}
	dir := filepath.Join(m.imageDir, m.current.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}
	return dir, nil
}

func (m *Manager) CurrentImagePath() string {
	if m.currentIter == nil {
		return ""
	}
	return m.currentIter.ImagePath
}

// CurrentRawPath is the unwatermarked image magic edits start from.
func (m *Manager) CurrentRawPath() string {
	if m.currentIter == nil {
		return ""
	}
	if m.currentIter.RawPath != "" {
		return m.currentIter.RawPath
	}
	return m.currentIter.ImagePath
}

func (m *Manager) IterationCount(ctx context.Context) (int, error) {
	if m.current == nil {
		return 0, nil
	}
	return m.store.CountIterations(ctx, m.current.ID)
}

func (m *Manager) create(ctx context.Context, iter *Iteration) error {
	iter.ID = uuid.New().String()
	iter.SessionID = m.current.ID
	iter.Timestamp = time.Now()
	if iter.Model == "" {
		iter.Model = m.current.Model
	}

	if err := m.store.CreateIteration(ctx, iter); err != nil {
		return fmt.Errorf("failed to create iteration: %w", err)
	}
	return nil
}

func (m *Manager) setCurrent(ctx context.Context, iter *Iteration) error {
	m.current.CurrentIterationID = iter.ID
	m.current.UpdatedAt = time.Now()
	if err := m.store.UpdateSession(ctx, m.current); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	m.currentIter = iter
	return nil
}
