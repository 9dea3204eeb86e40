// Package sqlite implements the durable tri-index memory store on a
// single SQLite database: a relational table, an FTS5 full-text table
// kept in sync by triggers, and a quantized vector table. One insert is
// one transaction across all three, so a full-text row without a
// relational row (or a relational row without its vector) is unreachable
// through the public contract.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mindfold/mind/memory"
)

// Store is the SQLite-backed memory.Store implementation.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id            TEXT PRIMARY KEY,
	persona_id    TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	chat_id       TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL,
	text          TEXT NOT NULL,
	kind          TEXT NOT NULL,
	emotion       TEXT NOT NULL DEFAULT '',
	importance    REAL NOT NULL,
	created_at    INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_persona
	ON memories(persona_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_memories_chat
	ON memories(persona_id, chat_id, created_at DESC);

CREATE TABLE IF NOT EXISTS memory_vectors (
	memory_id TEXT PRIMARY KEY
		REFERENCES memories(id) ON DELETE CASCADE,
	dim   INTEGER NOT NULL,
	data  BLOB NOT NULL,
	scale REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_titles (
	chat_id    TEXT PRIMARY KEY,
	persona_id TEXT NOT NULL,
	title      TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	text,
	content='memories',
	content_rowid='rowid',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, text) VALUES (new.rowid, new.text);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, text)
		VALUES ('delete', old.rowid, old.text);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE OF text ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, text)
		VALUES ('delete', old.rowid, old.text);
	INSERT INTO memories_fts(rowid, text) VALUES (new.rowid, new.text);
END;
`

// Open opens or creates the memory database at path (":memory:" works
// for tests) and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Insert writes the relational row (the FTS row follows via trigger) and
// the vector row in one transaction.
func (s *Store) Insert(ctx context.Context, mem memory.Memory, vec memory.Vector) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories
			(id, persona_id, user_id, chat_id, role, text, kind, emotion,
			 importance, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mem.ID, mem.PersonaID, mem.UserID, mem.ChatID, string(mem.Role),
		mem.Text, string(mem.Kind), string(mem.Emotion), mem.Importance,
		mem.CreatedAt.UnixNano(), mem.LastAccessed.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_vectors (memory_id, dim, data, scale)
		VALUES (?, ?, ?, ?)`,
		vec.MemoryID, vec.Dim, int8sToBytes(vec.Data), vec.Scale,
	)
	if err != nil {
		return fmt.Errorf("insert vector: %w", err)
	}

	return tx.Commit()
}

const memoryColumns = `id, persona_id, user_id, chat_id, role, text, kind,
	emotion, importance, created_at, last_accessed`

// Get returns one memory by id. sql.ErrNoRows is wrapped, not swallowed.
func (s *Store) Get(ctx context.Context, id string) (memory.Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	mem, err := scanMemory(row)
	if err != nil {
		return memory.Memory{}, fmt.Errorf("get %s: %w", id, err)
	}
	return mem, nil
}

// GetMany returns the memories for the given ids; missing ids are simply
// absent from the result.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]memory.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT `+memoryColumns+` FROM memories WHERE id IN (%s)`,
		placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get many: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// Delete removes one memory; the vector row cascades and the FTS row is
// removed by trigger.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// DeleteAllForPersona removes every memory for a persona and returns how
// many rows went away.
func (s *Store) DeleteAllForPersona(ctx context.Context, personaID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE persona_id = ?`, personaID)
	if err != nil {
		return 0, fmt.Errorf("delete all for %s: %w", personaID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// RecentForChat fetches the newest limit memories for one conversation
// and re-presents them chronologically for context assembly.
func (s *Store) RecentForChat(ctx context.Context, personaID, chatID string, limit int) ([]memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE persona_id = ? AND chat_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`,
		personaID, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent for chat: %w", err)
	}
	defer rows.Close()

	mems, err := collectMemories(rows)
	if err != nil {
		return nil, err
	}
	// Reverse newest-first into chronological order.
	for i, j := 0, len(mems)-1; i < j; i, j = i+1, j-1 {
		mems[i], mems[j] = mems[j], mems[i]
	}
	return mems, nil
}

// RecentVectors returns the newest limit vectors for a persona.
func (s *Store) RecentVectors(ctx context.Context, personaID string, limit int) ([]memory.Vector, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.memory_id, v.dim, v.data, v.scale
		FROM memory_vectors v
		JOIN memories m ON m.id = v.memory_id
		WHERE m.persona_id = ?
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT ?`,
		personaID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent vectors: %w", err)
	}
	defer rows.Close()

	var vecs []memory.Vector
	for rows.Next() {
		var v memory.Vector
		var data []byte
		if err := rows.Scan(&v.MemoryID, &v.Dim, &data, &v.Scale); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		v.Data = bytesToInt8s(data)
		vecs = append(vecs, v)
	}
	return vecs, rows.Err()
}

// SearchText runs an FTS5 query scoped to a persona. The bm25 rank
// (negative, lower is better) is converted to a 0..1 score with
// 1/(1+|rank|). Returns no error and no rows for queries that sanitize
// to nothing.
func (s *Store) SearchText(ctx context.Context, personaID, query string, limit int) ([]memory.TextHit, error) {
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixedMemoryColumns("m")+`, rank
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ? AND m.persona_id = ?
		ORDER BY rank
		LIMIT ?`,
		ftsQuery, personaID, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var hits []memory.TextHit
	for rows.Next() {
		var (
			mem                     memory.Memory
			rank                    float64
			createdNs, lastAccessNs int64
		)
		err := rows.Scan(&mem.ID, &mem.PersonaID, &mem.UserID, &mem.ChatID,
			&mem.Role, &mem.Text, &mem.Kind, &mem.Emotion, &mem.Importance,
			&createdNs, &lastAccessNs, &rank)
		if err != nil {
			return nil, fmt.Errorf("scan fts hit: %w", err)
		}
		mem.CreatedAt = time.Unix(0, createdNs)
		mem.LastAccessed = time.Unix(0, lastAccessNs)
		hits = append(hits, memory.TextHit{
			Memory: mem,
			Score:  1.0 / (1.0 + math.Abs(rank)),
		})
	}
	return hits, rows.Err()
}

// List returns a filtered, newest-first memory page for feed views.
func (s *Store) List(ctx context.Context, personaID string, filter memory.FeedFilter) ([]memory.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE persona_id = ?`
	args := []any{personaID}

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Query != "" {
		query += ` AND text LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(filter.Query)+"%")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()
	return collectMemories(rows)
}

// Count returns the memory count for a persona.
func (s *Store) Count(ctx context.Context, personaID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE persona_id = ?`, personaID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// CountByKind returns live per-kind counts for a persona. Kinds with no
// memories are absent from the map.
func (s *Store) CountByKind(ctx context.Context, personaID string) (map[memory.Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM memories
		WHERE persona_id = ? GROUP BY kind`, personaID)
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[memory.Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[memory.Kind(kind)] = n
	}
	return counts, rows.Err()
}

// TouchAccessed sets last_accessed for the given ids.
func (s *Store) TouchAccessed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.UnixNano())
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE memories SET last_accessed = ? WHERE id IN (%s)`,
			placeholders(len(ids))),
		args...)
	if err != nil {
		return fmt.Errorf("touch accessed: %w", err)
	}
	return nil
}

// Prune deletes memories below the importance floor created before the
// cutoff and returns the removed ids so derived indices can follow.
func (s *Store) Prune(ctx context.Context, personaID string, floor float64, olderThan time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM memories
		WHERE persona_id = ? AND importance < ? AND created_at < ?`,
		personaID, floor, olderThan.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("select prunable: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM memories WHERE id IN (%s)`, placeholders(len(ids))),
		args...)
	if err != nil {
		return nil, fmt.Errorf("prune delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListVectors scans every stored vector with its persona for index
// rebuilds at startup.
func (s *Store) ListVectors(ctx context.Context) ([]memory.PersonaVector, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.persona_id, v.memory_id, v.dim, v.data, v.scale
		FROM memory_vectors v
		JOIN memories m ON m.id = v.memory_id`)
	if err != nil {
		return nil, fmt.Errorf("list vectors: %w", err)
	}
	defer rows.Close()

	var out []memory.PersonaVector
	for rows.Next() {
		var pv memory.PersonaVector
		var data []byte
		err := rows.Scan(&pv.PersonaID, &pv.Vector.MemoryID, &pv.Vector.Dim,
			&data, &pv.Vector.Scale)
		if err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		pv.Vector.Data = bytesToInt8s(data)
		out = append(out, pv)
	}
	return out, rows.Err()
}

// SetChatTitle records the display title for a conversation so retrieval
// hits can carry their origin.
func (s *Store) SetChatTitle(ctx context.Context, personaID, chatID, title string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_titles (chat_id, persona_id, title)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET title = excluded.title`,
		chatID, personaID, title)
	if err != nil {
		return fmt.Errorf("set chat title: %w", err)
	}
	return nil
}

// ChatTitles resolves titles for the given chat ids; unknown ids are
// absent from the map.
func (s *Store) ChatTitles(ctx context.Context, chatIDs []string) (map[string]string, error) {
	if len(chatIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(chatIDs))
	for i, id := range chatIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT chat_id, title FROM chat_titles WHERE chat_id IN (%s)`,
			placeholders(len(chatIDs))),
		args...)
	if err != nil {
		return nil, fmt.Errorf("chat titles: %w", err)
	}
	defer rows.Close()

	titles := make(map[string]string)
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, err
		}
		titles[id] = title
	}
	return titles, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (memory.Memory, error) {
	var (
		mem                     memory.Memory
		role, kind, emotion     string
		createdNs, lastAccessNs int64
	)
	err := row.Scan(&mem.ID, &mem.PersonaID, &mem.UserID, &mem.ChatID, &role,
		&mem.Text, &kind, &emotion, &mem.Importance, &createdNs, &lastAccessNs)
	if err != nil {
		return memory.Memory{}, err
	}
	mem.Role = memory.Role(role)
	mem.Kind = memory.Kind(kind)
	mem.Emotion = memory.Emotion(emotion)
	mem.CreatedAt = time.Unix(0, createdNs)
	mem.LastAccessed = time.Unix(0, lastAccessNs)
	return mem, nil
}

func collectMemories(rows *sql.Rows) ([]memory.Memory, error) {
	var mems []memory.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			log.Printf("[SQLITE] Skipping malformed row: %v", err)
			continue
		}
		mems = append(mems, mem)
	}
	return mems, rows.Err()
}

// buildFTSQuery turns free text into an OR query of quoted terms so a
// whole chat message still matches memories sharing any keyword, and so
// user input cannot inject FTS5 syntax.
func buildFTSQuery(query string) string {
	var terms []string
	for _, field := range strings.Fields(query) {
		term := strings.Map(func(r rune) rune {
			switch r {
			case '"', '(', ')', '*', '^', ':', '{', '}', '-':
				return -1
			default:
				return r
			}
		}, field)
		if term == "" {
			continue
		}
		terms = append(terms, `"`+term+`"`)
	}
	return strings.Join(terms, " OR ")
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int8sToBytes(data []int8) []byte {
	out := make([]byte, len(data))
	for i, v := range data {
		out[i] = byte(v)
	}
	return out
}

func bytesToInt8s(data []byte) []int8 {
	out := make([]int8, len(data))
	for i, b := range data {
		out[i] = int8(b)
	}
	return out
}

// Compile-time interface satisfaction check.
var _ memory.Store = (*Store)(nil)

func prefixedMemoryColumns(alias string) string {
	cols := strings.Split(memoryColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
