package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/registrar-ai/registrar/internal/llm"

	_ "modernc.org/sqlite"
)

func setupSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

// stores runs a test against both implementations.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, setupSQLiteStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

func TestStore_ThreadLifecycle(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		th, err := s.CreateThread(ctx, "user-1", "STUDENT", "")
		if err != nil {
			t.Fatalf("CreateThread: %v", err)
		}
		if th.ID == "" || th.Title != DefaultTitle {
			t.Errorf("thread = %+v, want id and default title", th)
		}

		if err := s.RenameThread(ctx, th.ID, "Attendance"); err != nil {
			t.Fatalf("RenameThread: %v", err)
		}
		got, err := s.GetThread(ctx, th.ID)
		if err != nil {
			t.Fatalf("GetThread: %v", err)
		}
		if got.Title != "Attendance" || got.OwnerID != "user-1" || got.Role != "STUDENT" {
			t.Errorf("GetThread = %+v", got)
		}

		if _, err := s.CreateThread(ctx, "user-2", "ADMIN", "other"); err != nil {
			t.Fatalf("CreateThread: %v", err)
		}
		list, err := s.ListThreads(ctx, "user-1")
		if err != nil {
			t.Fatalf("ListThreads: %v", err)
		}
		if len(list) != 1 || list[0].ID != th.ID {
			t.Errorf("ListThreads(user-1) = %d threads, want only %s", len(list), th.ID)
		}

		if err := s.DeleteThread(ctx, th.ID); err != nil {
			t.Fatalf("DeleteThread: %v", err)
		}
		if _, err := s.GetThread(ctx, th.ID); !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("GetThread after delete: err = %v, want ErrThreadNotFound", err)
		}
		if err := s.DeleteThread(ctx, th.ID); !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("second DeleteThread: err = %v, want ErrThreadNotFound", err)
		}
		if err := s.RenameThread(ctx, "missing", "x"); !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("RenameThread(missing): err = %v, want ErrThreadNotFound", err)
		}
	})
}

func TestStore_AppendAssignsSequence(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		th, _ := s.CreateThread(ctx, "u", "TEACHER", "")

		first, err := s.Append(ctx, th.ID, Turn{Speaker: User, Content: "hi"})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if first[0].Seq != 1 {
			t.Errorf("first seq = %d, want 1", first[0].Seq)
		}

		calls := []llm.ToolCall{{ID: "call_1"}}
		calls[0].Function.Name = "get_my_schedule"
		calls[0].Function.Arguments = map[string]any{}
		batch, err := s.Append(ctx, th.ID,
			Turn{Speaker: Assistant, ToolCalls: calls},
			Turn{Speaker: Tool, Content: `{"status":"ok"}`, ToolCallID: "call_1"},
		)
		if err != nil {
			t.Fatalf("Append batch: %v", err)
		}
		if batch[0].Seq != 2 || batch[1].Seq != 3 {
			t.Errorf("batch seqs = %d,%d, want 2,3", batch[0].Seq, batch[1].Seq)
		}

		turns, err := s.Load(ctx, th.ID)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(turns) != 3 {
			t.Fatalf("Load returned %d turns, want 3", len(turns))
		}
		if got := turns[1].ToolCalls; len(got) != 1 || got[0].Function.Name != "get_my_schedule" || got[0].ID != "call_1" {
			t.Errorf("tool calls = %+v, want get_my_schedule/call_1", got)
		}
		if turns[2].ToolCallID != "call_1" {
			t.Errorf("tool turn call id = %q, want call_1", turns[2].ToolCallID)
		}

		if _, err := s.Append(ctx, "missing", Turn{Speaker: User}); !errors.Is(err, ErrThreadNotFound) {
			t.Errorf("Append(missing): err = %v, want ErrThreadNotFound", err)
		}
	})
}

func TestStore_EnsureSystemOnce(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		th, _ := s.CreateThread(ctx, "u", "STUDENT", "")

		// A thread whose history predates its system turn.
		if _, err := s.Append(ctx, th.ID, Turn{Speaker: User, Content: "early"}); err != nil {
			t.Fatalf("Append: %v", err)
		}

		inserted, err := s.EnsureSystem(ctx, th.ID, "prompt v1")
		if err != nil || !inserted {
			t.Fatalf("EnsureSystem = %v, %v, want true", inserted, err)
		}
		inserted, err = s.EnsureSystem(ctx, th.ID, "prompt v2")
		if err != nil || inserted {
			t.Fatalf("second EnsureSystem = %v, %v, want false", inserted, err)
		}

		turns, _ := s.Load(ctx, th.ID)
		if len(turns) != 2 {
			t.Fatalf("got %d turns, want 2", len(turns))
		}
		if turns[0].Speaker != System || turns[0].Content != "prompt v1" {
			t.Errorf("first turn = %+v, want system prompt v1", turns[0])
		}
		if turns[1].Content != "early" {
			t.Errorf("second turn = %q, want early", turns[1].Content)
		}
	})
}

func TestStore_ConcurrentAppends(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		th, _ := s.CreateThread(ctx, "u", "ADMIN", "")

		const writers, per = 8, 3
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for w := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				batch := make([]Turn, per)
				for i := range batch {
					batch[i] = Turn{Speaker: User, Content: fmt.Sprintf("w%d-%d", w, i)}
				}
				if _, err := s.Append(ctx, th.ID, batch...); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent Append: %v", err)
		}

		turns, err := s.Load(ctx, th.ID)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if len(turns) != writers*per {
			t.Fatalf("got %d turns, want %d", len(turns), writers*per)
		}
		for i, turn := range turns {
			if turn.Seq != i+1 {
				t.Fatalf("turn %d has seq %d, want %d", i, turn.Seq, i+1)
			}
		}
		// Batches are contiguous: each writer's turns appear in order
		// without another writer's turn between them.
		for i := 0; i < len(turns); i += per {
			var w int
			if _, err := fmt.Sscanf(turns[i].Content, "w%d-0", &w); err != nil {
				t.Fatalf("turn %d = %q, want start of a batch", i, turns[i].Content)
			}
			for j := 1; j < per; j++ {
				if want := fmt.Sprintf("w%d-%d", w, j); turns[i+j].Content != want {
					t.Errorf("turn %d = %q, want %q", i+j, turns[i+j].Content, want)
				}
			}
		}
	})
}

func TestToMessagesRoundTrip(t *testing.T) {
	msg := llm.Message{Role: "tool", Content: "{}", ToolCallID: "c1"}
	got := ToMessages([]Turn{FromMessage(msg)})
	if len(got) != 1 || got[0].Role != "tool" || got[0].ToolCallID != "c1" {
		t.Errorf("ToMessages = %+v", got)
	}
}
