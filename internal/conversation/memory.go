package conversation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps threads in process memory. It is used by tests and
// by the one-shot CLI, where nothing needs to outlive the process.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*memThread
	now     func() time.Time
}

type memThread struct {
	meta  Thread
	turns []Turn
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*memThread), now: time.Now}
}

func (s *MemoryStore) CreateThread(_ context.Context, ownerID, role, title string) (*Thread, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate thread id: %w", err)
	}
	if title == "" {
		title = DefaultTitle
	}
	now := s.now()
	t := &memThread{meta: Thread{
		ID:        id.String(),
		OwnerID:   ownerID,
		Role:      role,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	s.mu.Lock()
	s.threads[t.meta.ID] = t
	s.mu.Unlock()

	meta := t.meta
	return &meta, nil
}

func (s *MemoryStore) GetThread(_ context.Context, id string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", id, ErrThreadNotFound)
	}
	meta := t.meta
	return &meta, nil
}

func (s *MemoryStore) ListThreads(_ context.Context, ownerID string) ([]*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Thread
	for _, t := range s.threads {
		if t.meta.OwnerID == ownerID {
			meta := t.meta
			out = append(out, &meta)
		}
	}
	slices.SortFunc(out, func(a, b *Thread) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *MemoryStore) RenameThread(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return fmt.Errorf("thread %s: %w", id, ErrThreadNotFound)
	}
	t.meta.Title = title
	t.meta.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) DeleteThread(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return fmt.Errorf("thread %s: %w", id, ErrThreadNotFound)
	}
	delete(s.threads, id)
	return nil
}

func (s *MemoryStore) Load(_ context.Context, threadID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, nil
	}
	out := make([]Turn, len(t.turns))
	for i, turn := range t.turns {
		turn.ToolCalls = slices.Clone(turn.ToolCalls)
		out[i] = turn
	}
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, threadID string, turns ...Turn) ([]Turn, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrThreadNotFound)
	}

	last := 0
	if n := len(t.turns); n > 0 {
		last = t.turns[n-1].Seq
	}
	now := s.now()
	out := make([]Turn, len(turns))
	for i, turn := range turns {
		turn.ThreadID = threadID
		turn.Seq = last + 1 + i
		turn.CreatedAt = now
		turn.ToolCalls = slices.Clone(turn.ToolCalls)
		out[i] = turn
	}
	t.turns = append(t.turns, out...)
	t.meta.UpdatedAt = now
	return out, nil
}

func (s *MemoryStore) EnsureSystem(_ context.Context, threadID, content string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return false, fmt.Errorf("thread %s: %w", threadID, ErrThreadNotFound)
	}
	if len(t.turns) > 0 && t.turns[0].Seq == systemSeq {
		return false, nil
	}
	sys := Turn{ThreadID: threadID, Seq: systemSeq, Speaker: System, Content: content, CreatedAt: s.now()}
	t.turns = append([]Turn{sys}, t.turns...)
	return true, nil
}

var _ Store = (*MemoryStore)(nil)
