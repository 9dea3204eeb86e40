package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mindfold/mind/memory"
	"github.com/mindfold/mind/memory/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testMemory(id, personaID, text string) (memory.Memory, memory.Vector) {
	now := time.Now()
	mem := memory.Memory{
		ID:           id,
		PersonaID:    personaID,
		UserID:       "u1",
		ChatID:       "c1",
		Role:         memory.RoleUser,
		Text:         text,
		Kind:         memory.KindFact,
		Emotion:      memory.EmotionNeutral,
		Importance:   0.6,
		CreatedAt:    now,
		LastAccessed: now,
	}
	return mem, memory.NewVector(id, []float32{0.1, -0.2, 0.3, 0.4})
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem, vec := testMemory("m1", "p1", "I live in Lisbon near the river")
	if err := store.Insert(ctx, mem, vec); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	got, err := store.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.Text != mem.Text || got.PersonaID != "p1" || got.Kind != memory.KindFact {
		t.Errorf("got %+v, want fields from %+v", got, mem)
	}
	if !got.CreatedAt.Equal(mem.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v (nanosecond round trip)", got.CreatedAt, mem.CreatedAt)
	}

	if _, err := store.Get(ctx, "missing"); err == nil {
		t.Error("Get(missing) succeeded, want error")
	}
}

func TestInsertPersistsVector(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem, vec := testMemory("m1", "p1", "vector round trip")
	if err := store.Insert(ctx, mem, vec); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	vecs, err := store.RecentVectors(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("Failed to list vectors: %v", err)
	}
	if len(vecs) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vecs))
	}
	if !vecs[0].Equal(vec) {
		t.Errorf("stored vector %+v differs from %+v", vecs[0], vec)
	}
}

func TestGetMany(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		mem, vec := testMemory(fmt.Sprintf("m%d", i), "p1", fmt.Sprintf("memory number %d", i))
		if err := store.Insert(ctx, mem, vec); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	mems, err := store.GetMany(ctx, []string{"m0", "m2", "ghost"})
	if err != nil {
		t.Fatalf("Failed to get many: %v", err)
	}
	if len(mems) != 2 {
		t.Errorf("got %d memories, want 2 (missing id dropped)", len(mems))
	}

	mems, err = store.GetMany(ctx, nil)
	if err != nil || mems != nil {
		t.Errorf("GetMany(nil) = %v, %v; want nil, nil", mems, err)
	}
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem, vec := testMemory("m1", "p1", "soon to be deleted")
	if err := store.Insert(ctx, mem, vec); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if err := store.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	if _, err := store.Get(ctx, "m1"); err == nil {
		t.Error("memory still readable after delete")
	}
	vecs, err := store.RecentVectors(ctx, "p1", 10)
	if err != nil {
		t.Fatalf("Failed to list vectors: %v", err)
	}
	if len(vecs) != 0 {
		t.Errorf("vector survived cascade: %d rows", len(vecs))
	}
	hits, err := store.SearchText(ctx, "p1", "deleted", 10)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("FTS row survived delete: %d hits", len(hits))
	}
}

func TestDeleteAllForPersona(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		mem, vec := testMemory(fmt.Sprintf("a%d", i), "alpha", "alpha memory")
		mem.ChatID = fmt.Sprintf("chat%d", i)
		if err := store.Insert(ctx, mem, vec); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}
	mem, vec := testMemory("b0", "beta", "beta memory")
	if err := store.Insert(ctx, mem, vec); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	n, err := store.DeleteAllForPersona(ctx, "alpha")
	if err != nil {
		t.Fatalf("Failed to delete all: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d, want 3", n)
	}

	if got, _ := store.Count(ctx, "alpha"); got != 0 {
		t.Errorf("alpha count = %d, want 0", got)
	}
	if got, _ := store.Count(ctx, "beta"); got != 1 {
		t.Errorf("beta count = %d, want 1 (untouched)", got)
	}
}

func TestSearchText(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	texts := map[string]string{
		"m1": "I like jazz music and vinyl records",
		"m2": "the bakery needs more flour for bread",
		"m3": "jazz concerts downtown every Friday",
	}
	for id, text := range texts {
		mem, vec := testMemory(id, "p1", text)
		if err := store.Insert(ctx, mem, vec); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	hits, err := store.SearchText(ctx, "p1", "jazz", 10)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	for _, h := range hits {
		if h.Score <= 0 || h.Score > 1 {
			t.Errorf("score %v out of (0,1]", h.Score)
		}
	}

	// Porter stemming matches inflected forms.
	hits, err = store.SearchText(ctx, "p1", "concert", 10)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("stemmed search got %d hits, want 1", len(hits))
	}
}

func TestSearchTextScopedToPersona(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	memA, vecA := testMemory("a1", "alpha", "jazz music forever")
	memB, vecB := testMemory("b1", "beta", "jazz music sometimes")
	if err := store.Insert(ctx, memA, vecA); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if err := store.Insert(ctx, memB, vecB); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	hits, err := store.SearchText(ctx, "alpha", "jazz", 10)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(hits) != 1 || hits[0].Memory.PersonaID != "alpha" {
		t.Errorf("persona scoping broken: %+v", hits)
	}
}

func TestSearchTextHostileQuery(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem, vec := testMemory("m1", "p1", "plain text memory")
	if err := store.Insert(ctx, mem, vec); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	// FTS5 operators and quotes must not produce syntax errors.
	for _, q := range []string{`"unbalanced`, `(paren`, `text AND memory`, `col:filter`, `*star`, `^caret`, `---`} {
		if _, err := store.SearchText(ctx, "p1", q, 10); err != nil {
			t.Errorf("SearchText(%q) errored: %v", q, err)
		}
	}
}

func TestRecentForChatChronological(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		mem, vec := testMemory(fmt.Sprintf("m%d", i), "p1", fmt.Sprintf("message %d", i))
		mem.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		mem.LastAccessed = mem.CreatedAt
		if err := store.Insert(ctx, mem, vec); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	mems, err := store.RecentForChat(ctx, "p1", "c1", 3)
	if err != nil {
		t.Fatalf("Failed to fetch: %v", err)
	}
	if len(mems) != 3 {
		t.Fatalf("got %d memories, want 3", len(mems))
	}
	// The newest three, oldest of them first.
	want := []string{"m2", "m3", "m4"}
	for i, mem := range mems {
		if mem.ID != want[i] {
			t.Errorf("position %d = %s, want %s", i, mem.ID, want[i])
		}
	}
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	entries := []struct {
		id   string
		text string
		kind memory.Kind
	}{
		{"m1", "I like jazz", memory.KindPreference},
		{"m2", "my name is Dana", memory.KindFact},
		{"m3", "I like tea", memory.KindPreference},
	}
	for _, e := range entries {
		mem, vec := testMemory(e.id, "p1", e.text)
		mem.Kind = e.kind
		if err := store.Insert(ctx, mem, vec); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	mems, err := store.List(ctx, "p1", memory.FeedFilter{Kind: memory.KindPreference})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(mems) != 2 {
		t.Errorf("kind filter got %d, want 2", len(mems))
	}

	mems, err = store.List(ctx, "p1", memory.FeedFilter{Query: "jazz"})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(mems) != 1 || mems[0].ID != "m1" {
		t.Errorf("query filter got %+v, want only m1", mems)
	}

	// LIKE wildcards in the filter are literals, not patterns.
	mems, err = store.List(ctx, "p1", memory.FeedFilter{Query: "%"})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(mems) != 0 {
		t.Errorf("literal %% matched %d rows, want 0", len(mems))
	}

	mems, err = store.List(ctx, "p1", memory.FeedFilter{Limit: 1})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(mems) != 1 {
		t.Errorf("limit 1 got %d rows", len(mems))
	}
}

func TestCountByKind(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	kinds := []memory.Kind{memory.KindFact, memory.KindFact, memory.KindPreference}
	for i, kind := range kinds {
		mem, vec := testMemory(fmt.Sprintf("m%d", i), "p1", "some text here")
		mem.Kind = kind
		if err := store.Insert(ctx, mem, vec); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	counts, err := store.CountByKind(ctx, "p1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if counts[memory.KindFact] != 2 || counts[memory.KindPreference] != 1 {
		t.Errorf("counts = %v, want FACT:2 PREFERENCE:1", counts)
	}
	if _, ok := counts[memory.KindEvent]; ok {
		t.Error("zero-count kind present in map")
	}
}

func TestTouchAccessed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mem, vec := testMemory("m1", "p1", "touch me")
	mem.LastAccessed = time.Now().Add(-time.Hour)
	if err := store.Insert(ctx, mem, vec); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	at := time.Now()
	if err := store.TouchAccessed(ctx, []string{"m1"}, at); err != nil {
		t.Fatalf("Failed to touch: %v", err)
	}

	got, err := store.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if !got.LastAccessed.Equal(at) {
		t.Errorf("LastAccessed = %v, want %v", got.LastAccessed, at)
	}
}

func TestPrune(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	old := time.Now().AddDate(0, -4, 0)
	entries := []struct {
		id         string
		importance float64
		createdAt  time.Time
	}{
		{"stale-low", 0.2, old},            // pruned
		{"stale-high", 0.9, old},           // kept: important
		{"fresh-low", 0.2, time.Now()},     // kept: recent
	}
	for _, e := range entries {
		mem, vec := testMemory(e.id, "p1", "text for "+e.id)
		mem.Importance = e.importance
		mem.CreatedAt = e.createdAt
		mem.LastAccessed = e.createdAt
		if err := store.Insert(ctx, mem, vec); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	cutoff := time.Now().AddDate(0, 0, -90)
	ids, err := store.Prune(ctx, "p1", 0.3, cutoff)
	if err != nil {
		t.Fatalf("Failed to prune: %v", err)
	}
	if len(ids) != 1 || ids[0] != "stale-low" {
		t.Errorf("pruned %v, want [stale-low]", ids)
	}

	if n, _ := store.Count(ctx, "p1"); n != 2 {
		t.Errorf("count after prune = %d, want 2", n)
	}
}

func TestListVectors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	memA, vecA := testMemory("a1", "alpha", "alpha text")
	memB, vecB := testMemory("b1", "beta", "beta text")
	if err := store.Insert(ctx, memA, vecA); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if err := store.Insert(ctx, memB, vecB); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	vecs, err := store.ListVectors(ctx)
	if err != nil {
		t.Fatalf("Failed to list vectors: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vecs))
	}

	personas := map[string]string{}
	for _, pv := range vecs {
		personas[pv.Vector.MemoryID] = pv.PersonaID
	}
	if personas["a1"] != "alpha" || personas["b1"] != "beta" {
		t.Errorf("persona mapping wrong: %v", personas)
	}
}

func TestChatTitles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SetChatTitle(ctx, "p1", "c1", "First title"); err != nil {
		t.Fatalf("Failed to set title: %v", err)
	}
	// Upsert replaces.
	if err := store.SetChatTitle(ctx, "p1", "c1", "Renamed"); err != nil {
		t.Fatalf("Failed to rename: %v", err)
	}
	if err := store.SetChatTitle(ctx, "p1", "c2", "Other chat"); err != nil {
		t.Fatalf("Failed to set title: %v", err)
	}

	titles, err := store.ChatTitles(ctx, []string{"c1", "c2", "unknown"})
	if err != nil {
		t.Fatalf("Failed to get titles: %v", err)
	}
	if titles["c1"] != "Renamed" || titles["c2"] != "Other chat" {
		t.Errorf("titles = %v", titles)
	}
	if _, ok := titles["unknown"]; ok {
		t.Error("unknown chat id present in result")
	}
}
