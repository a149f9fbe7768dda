package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/piskevalee-cpu/MARK/core"
	"github.com/piskevalee-cpu/MARK/memory"
	"github.com/piskevalee-cpu/MARK/memory/store/sqlite"
)

func openTestStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestStore_AppendAndGet(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	fact, err := store.Append(ctx, "The user likes Python", "I like Python",
		[]float32{0.1, 0.2, 0.3}, []string{"preference"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if fact.ID == 0 {
		t.Fatal("expected assigned id")
	}

	got, err := store.Get(ctx, fact.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != "The user likes Python" {
		t.Errorf("Text = %q", got.Text)
	}
	if got.RawText != "I like Python" {
		t.Errorf("RawText = %q", got.RawText)
	}
	if !got.Active {
		t.Error("new fact should be active")
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 0.2 {
		t.Errorf("Embedding = %v", got.Embedding)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "preference" {
		t.Errorf("Tags = %v", got.Tags)
	}
}

func TestStore_AppendValidation(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	for _, text := range []string{"", "   ", "\t\n"} {
		_, err := store.Append(ctx, text, text, nil, nil)
		if !errors.Is(err, memory.ErrValidation) {
			t.Errorf("Append(%q): got %v, want ErrValidation", text, err)
		}
	}
}

func TestStore_GetNotFound(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	_, err := store.Get(ctx, 42)
	if !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("Get(42): got %v, want ErrNotFound", err)
	}
}

func TestStore_IDsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	var last int64
	for i := 0; i < 5; i++ {
		fact, err := store.Append(ctx, "fact", "fact", nil, nil)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if fact.ID <= last {
			t.Fatalf("id %d not greater than previous %d", fact.ID, last)
		}
		last = fact.ID
	}
}

func TestStore_ListAllInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	texts := []string{"first", "second", "third"}
	for _, txt := range texts {
		if _, err := store.Append(ctx, txt, txt, nil, nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	facts, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(facts) != 3 {
		t.Fatalf("got %d facts, want 3", len(facts))
	}
	for i, txt := range texts {
		if facts[i].Text != txt {
			t.Errorf("facts[%d].Text = %q, want %q", i, facts[i].Text, txt)
		}
	}
}

func TestStore_Supersede(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	old, err := store.Append(ctx, "The user lives in Rome", "I live in Rome", nil, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	replacement, err := store.Supersede(ctx, old.ID, "The user lives in Milan", "I live in Milan", nil, nil)
	if err != nil {
		t.Fatalf("Supersede: %v", err)
	}
	if replacement.ID <= old.ID {
		t.Errorf("replacement id %d not greater than old %d", replacement.ID, old.ID)
	}

	// The old fact stays readable but inactive, pointing at its replacement.
	gotOld, err := store.Get(ctx, old.ID)
	if err != nil {
		t.Fatalf("Get old: %v", err)
	}
	if gotOld.Active {
		t.Error("superseded fact should be inactive")
	}
	if gotOld.SupersededBy != replacement.ID {
		t.Errorf("SupersededBy = %d, want %d", gotOld.SupersededBy, replacement.ID)
	}

	// ListAll shows only the replacement.
	facts, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(facts) != 1 || facts[0].ID != replacement.ID {
		t.Errorf("ListAll after supersede = %+v", facts)
	}

	// Superseding an unknown id fails cleanly.
	if _, err := store.Supersede(ctx, 999, "x", "x", nil, nil); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Supersede(999): got %v, want ErrNotFound", err)
	}
}

func TestStore_SearchText(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	for _, txt := range []string{
		"The user likes Python",
		"The user likes Go",
		"The user lives in Rome",
	} {
		if _, err := store.Append(ctx, txt, txt, nil, nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	facts, err := store.SearchText(ctx, "likes", 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("got %d results, want 2", len(facts))
	}

	// Case-insensitive.
	facts, err = store.SearchText(ctx, "PYTHON", 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(facts) != 1 {
		t.Errorf("case-insensitive search: got %d results, want 1", len(facts))
	}
}

func TestStore_DeleteAndClear(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	fact, err := store.Append(ctx, "to delete", "to delete", nil, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Delete(ctx, fact.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, fact.ID); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Get after delete: got %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, fact.ID); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, "bulk", "bulk", nil, nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	facts, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("facts remain after Clear: %d", len(facts))
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	store, path := openTestStore(t)

	fact, err := store.Append(ctx, "The user has a dog", "I have a dog",
		[]float32{0.5, -0.5}, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, fact.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Text != "The user has a dog" {
		t.Errorf("Text after reopen = %q", got.Text)
	}
	if len(got.Embedding) != 2 || got.Embedding[0] != 0.5 {
		t.Errorf("Embedding after reopen = %v", got.Embedding)
	}

	entries, err := reopened.Embeddings(ctx)
	if err != nil {
		t.Fatalf("Embeddings: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != fact.ID {
		t.Errorf("Embeddings after reopen = %+v", entries)
	}
}

func TestStore_ConversationsAndUsage(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)

	for i, msg := range []string{"hello", "how are you", "bye"} {
		if err := store.SaveConversation(ctx, "anthropic", "claude", msg, "reply"); err != nil {
			t.Fatalf("SaveConversation %d: %v", i, err)
		}
	}

	convs, err := store.RecentConversations(ctx, 2)
	if err != nil {
		t.Fatalf("RecentConversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	// Chronological order of the latest two.
	if convs[0].UserMessage != "how are you" || convs[1].UserMessage != "bye" {
		t.Errorf("unexpected order: %q, %q", convs[0].UserMessage, convs[1].UserMessage)
	}

	if err := store.RecordUsage(ctx, "anthropic", "claude", core.TokenUsage{InputTokens: 100, OutputTokens: 50}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	if err := store.RecordUsage(ctx, "anthropic", "claude", core.TokenUsage{InputTokens: 10, OutputTokens: 5}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}

	stats, err := store.UsageStats(ctx)
	if err != nil {
		t.Fatalf("UsageStats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("got %d stat rows, want 1", len(stats))
	}
	st := stats[0]
	if st.Requests != 2 || st.InputTokens != 110 || st.OutputTokens != 55 {
		t.Errorf("aggregated stats = %+v", st)
	}
}
