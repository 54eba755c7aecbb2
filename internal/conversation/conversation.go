package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// maxTitleRunes bounds titles derived from a first message.
const maxTitleRunes = 60

// Manager applies ownership and ordering rules on top of a Store.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager creates a manager over store.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Store returns the underlying store.
func (m *Manager) Store() Store { return m.store }

// Open starts or resumes a thread for ownerID and returns it with its
// history. An empty threadID creates a new thread. The system turn is
// written once, the first time a thread is opened; later opens keep the
// stored one even if systemPrompt has changed. A thread can only be
// resumed under the role it was started with, since its stored system
// turn belongs to that role.
func (m *Manager) Open(ctx context.Context, threadID, ownerID, role, systemPrompt string) (*Thread, []Turn, error) {
	var (
		thread *Thread
		err    error
	)
	if threadID == "" {
		thread, err = m.store.CreateThread(ctx, ownerID, role, "")
		if err != nil {
			return nil, nil, err
		}
		m.logger.Debug("thread created", "thread", thread.ID, "role", role)
	} else {
		thread, err = m.owned(ctx, threadID, ownerID)
		if err != nil {
			return nil, nil, err
		}
		if thread.Role != role {
			m.logger.Warn("thread resumed under another role",
				"thread", thread.ID, "thread_role", thread.Role, "role", role)
			return nil, nil, fmt.Errorf("thread %s (%s) as %s: %w", threadID, thread.Role, role, ErrRoleMismatch)
		}
	}

	inserted, err := m.store.EnsureSystem(ctx, thread.ID, systemPrompt)
	if err != nil {
		return nil, nil, err
	}
	if inserted && threadID != "" {
		m.logger.Debug("synthesized missing system turn", "thread", thread.ID)
	}

	turns, err := m.store.Load(ctx, thread.ID)
	if err != nil {
		return nil, nil, err
	}
	return thread, turns, nil
}

// Append adds turns to a thread in order.
func (m *Manager) Append(ctx context.Context, threadID string, turns ...Turn) ([]Turn, error) {
	return m.store.Append(ctx, threadID, turns...)
}

// TitleFromFirstMessage renames a thread still carrying the default
// title after its first user message.
func (m *Manager) TitleFromFirstMessage(ctx context.Context, thread *Thread, message string) {
	if thread.Title != DefaultTitle {
		return
	}
	title := Title(message)
	if title == "" {
		return
	}
	if err := m.store.RenameThread(ctx, thread.ID, title); err != nil {
		m.logger.Warn("failed to title thread", "thread", thread.ID, "error", err)
		return
	}
	thread.Title = title
}

// Threads lists the caller's threads.
func (m *Manager) Threads(ctx context.Context, ownerID string) ([]*Thread, error) {
	return m.store.ListThreads(ctx, ownerID)
}

// Transcript returns a thread and its turns if ownerID owns it.
func (m *Manager) Transcript(ctx context.Context, threadID, ownerID string) (*Thread, []Turn, error) {
	thread, err := m.owned(ctx, threadID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	turns, err := m.store.Load(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	return thread, turns, nil
}

// Rename sets the title of a thread ownerID owns.
func (m *Manager) Rename(ctx context.Context, threadID, ownerID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}
	if _, err := m.owned(ctx, threadID, ownerID); err != nil {
		return err
	}
	return m.store.RenameThread(ctx, threadID, title)
}

// Delete removes a thread ownerID owns.
func (m *Manager) Delete(ctx context.Context, threadID, ownerID string) error {
	if _, err := m.owned(ctx, threadID, ownerID); err != nil {
		return err
	}
	return m.store.DeleteThread(ctx, threadID)
}

func (m *Manager) owned(ctx context.Context, threadID, ownerID string) (*Thread, error) {
	thread, err := m.store.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.OwnerID != ownerID {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotOwner)
	}
	return thread, nil
}

// Title derives a thread title from a message: the first line,
// whitespace collapsed, cut at a word boundary.
func Title(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	line = strings.Join(strings.Fields(line), " ")
	if utf8.RuneCountInString(line) <= maxTitleRunes {
		return line
	}
	runes := []rune(line)[:maxTitleRunes]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > maxTitleRunes/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
