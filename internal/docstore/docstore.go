// Package docstore generalizes the teacher's raw database/sql + lib/pq CRUD
// pattern (internal/db/*.go) into a Firestore-like collection/document
// abstraction with optimistic-concurrency preconditions, per spec.md §4.B.
//
// Documents live in a single Postgres table per collection, keyed by id,
// with a jsonb body column and an update_time column maintained by the
// store so CAS preconditions can be checked inside the same transaction as
// the write.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/vclip/render-pipeline/internal/types"
)

// Store is a thin wrapper over *sql.DB exposing the document operations
// spec.md §4.B names: Get, Create, Update, Delete, List, BatchWrite.
type Store struct {
	db *sql.DB
}

// Open mirrors the teacher's internal/db package constructor: a single
// *sql.DB, opened once at process start and shared across collections.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("docstore: ping: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db}, nil
}

// Ping reports whether the underlying connection pool can reach Postgres,
// used by the health endpoint's readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// Doc is one row: an opaque JSON body plus the bookkeeping columns every
// collection carries (spec.md §4.B: "every document carries update_time").
type Doc struct {
	ID         string
	Body       json.RawMessage
	UpdateTime time.Time
}

// Precondition narrows a write to only take effect if the stated condition
// holds, checked atomically against the current row (spec.md §4.B CAS).
type Precondition struct {
	Exists          *bool
	UpdateTimeEquals *time.Time
}

func (p Precondition) check(exists bool, current time.Time) error {
	if p.Exists != nil && *p.Exists != exists {
		if *p.Exists {
			return fmt.Errorf("%w: document missing", types.ErrNotFound)
		}
		return fmt.Errorf("%w: document already exists", types.ErrAlreadyExists)
	}
	if p.UpdateTimeEquals != nil && exists && !current.Equal(*p.UpdateTimeEquals) {
		return fmt.Errorf("%w: update_time mismatch", types.ErrPreconditionFailed)
	}
	return nil
}

// Get fetches one document by id. Returns types.ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, collection, id string) (*Doc, error) {
	query := fmt.Sprintf(`SELECT id, body, update_time FROM %s WHERE id = $1`, quoteIdent(collection))
	row := s.db.QueryRowContext(ctx, query, id)

	var d Doc
	var body []byte
	if err := row.Scan(&d.ID, &body, &d.UpdateTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", types.ErrNotFound, collection, id)
		}
		return nil, fmt.Errorf("docstore: get %s/%s: %w", collection, id, err)
	}
	d.Body = body
	return &d, nil
}

// Create inserts a new document, failing with types.ErrAlreadyExists if the
// id is taken.
func (s *Store) Create(ctx context.Context, collection, id string, body interface{}) (*Doc, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("docstore: marshal: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, body, update_time) VALUES ($1, $2, NOW())
		RETURNING update_time
	`, quoteIdent(collection))

	var updateTime time.Time
	err = s.db.QueryRowContext(ctx, query, id, raw).Scan(&updateTime)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s/%s", types.ErrAlreadyExists, collection, id)
		}
		return nil, fmt.Errorf("docstore: create %s/%s: %w", collection, id, err)
	}
	return &Doc{ID: id, Body: raw, UpdateTime: updateTime}, nil
}

// Update writes body to the document, inserting it if it does not exist
// yet, subject to pre (pre.Exists==true makes a missing document an error).
// The write is wrapped in a transaction so the precondition check and write
// are atomic.
func (s *Store) Update(ctx context.Context, collection, id string, body interface{}, pre Precondition) (*Doc, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("docstore: marshal: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	var current time.Time
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT update_time FROM %s WHERE id = $1 FOR UPDATE`, quoteIdent(collection)), id)
	switch err := row.Scan(&current); {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return nil, fmt.Errorf("docstore: update %s/%s: %w", collection, id, err)
	default:
		exists = true
	}

	if err := pre.check(exists, current); err != nil {
		return nil, err
	}

	var updateTime time.Time
	if exists {
		err = tx.QueryRowContext(ctx,
			fmt.Sprintf(`UPDATE %s SET body = $1, update_time = NOW() WHERE id = $2 RETURNING update_time`, quoteIdent(collection)),
			raw, id,
		).Scan(&updateTime)
	} else {
		err = tx.QueryRowContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (id, body, update_time) VALUES ($1, $2, NOW()) RETURNING update_time`, quoteIdent(collection)),
			id, raw,
		).Scan(&updateTime)
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: update %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("docstore: commit: %w", err)
	}
	return &Doc{ID: id, Body: raw, UpdateTime: updateTime}, nil
}

// Delete removes a document, subject to pre (commonly UpdateTimeEquals to
// avoid deleting a document concurrently modified by another writer).
func (s *Store) Delete(ctx context.Context, collection, id string, pre Precondition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	var current time.Time
	row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT update_time FROM %s WHERE id = $1 FOR UPDATE`, quoteIdent(collection)), id)
	switch err := row.Scan(&current); {
	case errors.Is(err, sql.ErrNoRows):
		exists = false
	case err != nil:
		return fmt.Errorf("docstore: delete %s/%s: %w", collection, id, err)
	default:
		exists = true
	}

	if err := pre.check(exists, current); err != nil {
		return err
	}
	if !exists {
		return nil
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, quoteIdent(collection)), id); err != nil {
		return fmt.Errorf("docstore: delete %s/%s: %w", collection, id, err)
	}
	return tx.Commit()
}

// ListOptions bounds a List call; spec.md §4.B requires pagination to avoid
// unbounded scans over large collections.
type ListOptions struct {
	Limit  int
	Offset int
}

// List returns up to opts.Limit documents from collection in id order.
func (s *Store) List(ctx context.Context, collection string, opts ListOptions) ([]Doc, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	query := fmt.Sprintf(`SELECT id, body, update_time FROM %s ORDER BY id LIMIT $1 OFFSET $2`, quoteIdent(collection))
	rows, err := s.db.QueryContext(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("docstore: list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Doc
	for rows.Next() {
		var d Doc
		var body []byte
		if err := rows.Scan(&d.ID, &body, &d.UpdateTime); err != nil {
			return nil, fmt.Errorf("docstore: scan %s: %w", collection, err)
		}
		d.Body = body
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// WriteKind distinguishes the two operations a BatchWrite entry may carry.
type WriteKind int

const (
	WritePut WriteKind = iota
	WriteDelete
)

// Write is one entry of a BatchWrite call.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	Body       interface{}
	Pre        Precondition
}

// BatchWrite applies writes atomically: either all preconditions hold and
// all writes commit, or the whole batch is rolled back (spec.md §4.B).
func (s *Store) BatchWrite(ctx context.Context, writes []Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, w := range writes {
		var exists bool
		var current time.Time
		row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT update_time FROM %s WHERE id = $1 FOR UPDATE`, quoteIdent(w.Collection)), w.ID)
		switch err := row.Scan(&current); {
		case errors.Is(err, sql.ErrNoRows):
			exists = false
		case err != nil:
			return fmt.Errorf("docstore: batch read %s/%s: %w", w.Collection, w.ID, err)
		default:
			exists = true
		}
		if err := w.Pre.check(exists, current); err != nil {
			return fmt.Errorf("docstore: batch precondition %s/%s: %w", w.Collection, w.ID, err)
		}

		switch w.Kind {
		case WritePut:
			raw, err := json.Marshal(w.Body)
			if err != nil {
				return fmt.Errorf("docstore: marshal %s/%s: %w", w.Collection, w.ID, err)
			}
			if exists {
				_, err = tx.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET body = $1, update_time = NOW() WHERE id = $2`, quoteIdent(w.Collection)), raw, w.ID)
			} else {
				_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (id, body, update_time) VALUES ($1, $2, NOW())`, quoteIdent(w.Collection)), w.ID, raw)
			}
			if err != nil {
				return fmt.Errorf("docstore: batch write %s/%s: %w", w.Collection, w.ID, err)
			}
		case WriteDelete:
			if exists {
				if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, quoteIdent(w.Collection)), w.ID); err != nil {
					return fmt.Errorf("docstore: batch delete %s/%s: %w", w.Collection, w.ID, err)
				}
			}
		}
	}
	return tx.Commit()
}

// quoteIdent double-quotes a collection name for use as a table identifier.
// Collection names are compile-time constants chosen by this codebase, never
// user input, so this guards against typos rather than injection.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
