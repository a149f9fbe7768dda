// Package sqlite implements durable fact storage on a local SQLite
// database, shared with conversation history and API usage bookkeeping.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/piskevalee-cpu/MARK/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS facts (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	text          TEXT NOT NULL,
	raw_text      TEXT NOT NULL,
	tags          TEXT NOT NULL DEFAULT '[]',
	embedding     BLOB,
	created_at    TEXT NOT NULL,
	active        INTEGER NOT NULL DEFAULT 1,
	superseded_by INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_facts_active ON facts(active);

CREATE TABLE IF NOT EXISTS conversations (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	provider          TEXT NOT NULL,
	model             TEXT NOT NULL,
	user_message      TEXT NOT NULL,
	assistant_message TEXT NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS api_usage (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	provider      TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	created_at    TEXT NOT NULL
);
`

// Store is the SQLite-backed memory.Store implementation.
//
// Writes run with synchronous=FULL so Append does not return before the
// fact is on disk. A single connection serializes writers.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Printf("[STORE] Opened database: %s", path)
	return &Store{db: db}, nil
}

// Append durably stores a new fact and returns it with its id assigned.
func (s *Store) Append(ctx context.Context, text, rawText string, embedding []float32, tags []string) (*Fact, error) {
	return s.insert(ctx, s.db, text, rawText, embedding, tags)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, ex execer, text, rawText string, embedding []float32, tags []string) (*Fact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("append fact: empty text: %w", memory.ErrValidation)
	}
	if rawText == "" {
		rawText = text
	}
	if tags == nil {
		tags = []string{}
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}

	now := time.Now().UTC()
	res, err := ex.ExecContext(ctx,
		`INSERT INTO facts (text, raw_text, tags, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		text, rawText, string(tagsJSON), vectorToBlob(embedding), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert fact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return &memory.Fact{
		ID:        id,
		Text:      text,
		RawText:   rawText,
		Tags:      tags,
		Embedding: embedding,
		CreatedAt: now,
		Active:    true,
	}, nil
}

// Get returns the fact with the given id, active or not.
func (s *Store) Get(ctx context.Context, id int64) (*Fact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, raw_text, tags, embedding, created_at, active, superseded_by
		 FROM facts WHERE id = ?`, id)
	fact, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fact %d: %w", id, memory.ErrNotFound)
	}
	return fact, err
}

// ListAll returns all active facts in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]*Fact, error) {
	return s.queryFacts(ctx,
		`SELECT id, text, raw_text, tags, embedding, created_at, active, superseded_by
		 FROM facts WHERE active = 1 ORDER BY id`)
}

// SearchText returns active facts containing the query, case-insensitively.
func (s *Store) SearchText(ctx context.Context, query string, limit int) ([]*Fact, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryFacts(ctx,
		`SELECT id, text, raw_text, tags, embedding, created_at, active, superseded_by
		 FROM facts WHERE active = 1 AND text LIKE '%' || ? || '%' COLLATE NOCASE
		 ORDER BY id LIMIT ?`, query, limit)
}

// Supersede marks the old fact inactive and appends its replacement in a
// single transaction.
func (s *Store) Supersede(ctx context.Context, oldID int64, text, rawText string, embedding []float32, tags []string) (*Fact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin supersede: %w", err)
	}
	defer tx.Rollback()

	var active int
	err = tx.QueryRowContext(ctx, `SELECT active FROM facts WHERE id = ?`, oldID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("supersede fact %d: %w", oldID, memory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup fact %d: %w", oldID, err)
	}

	newFact, err := s.insert(ctx, tx, text, rawText, embedding, tags)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE facts SET active = 0, superseded_by = ? WHERE id = ?`,
		newFact.ID, oldID); err != nil {
		return nil, fmt.Errorf("mark superseded: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit supersede: %w", err)
	}

	log.Printf("[STORE] Fact %d superseded by %d", oldID, newFact.ID)
	return newFact, nil
}

// Delete permanently removes a fact.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete fact %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete fact %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("fact %d: %w", id, memory.ErrNotFound)
	}
	return nil
}

// Clear permanently removes all facts.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM facts`); err != nil {
		return fmt.Errorf("clear facts: %w", err)
	}
	return nil
}

// Embeddings returns id/vector pairs for active facts with embeddings.
func (s *Store) Embeddings(ctx context.Context) ([]memory.IndexEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM facts
		 WHERE active = 1 AND embedding IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	var entries []memory.IndexEntry
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec := blobToVector(blob)
		if len(vec) == 0 {
			continue
		}
		entries = append(entries, memory.IndexEntry{ID: id, Vector: vec})
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Fact is an alias kept for readability of the method signatures above.
type Fact = memory.Fact

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (*Fact, error) {
	var (
		f         memory.Fact
		tagsJSON  string
		blob      []byte
		createdAt string
		active    int
	)
	if err := row.Scan(&f.ID, &f.Text, &f.RawText, &tagsJSON, &blob, &createdAt, &active, &f.SupersededBy); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &f.Tags); err != nil {
		f.Tags = nil
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		f.CreatedAt = t
	}
	f.Embedding = blobToVector(blob)
	f.Active = active == 1
	return &f, nil
}

func (s *Store) queryFacts(ctx context.Context, query string, args ...any) ([]*Fact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var facts []*Fact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// vectorToBlob encodes a float32 vector as little-endian bytes.
func vectorToBlob(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// blobToVector decodes little-endian bytes back to a float32 vector.
func blobToVector(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
