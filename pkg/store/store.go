// Package store is the repository layer over PostgreSQL. All JSON columns
// (score vectors, raw event fields, findings, app_config values) cross the
// codec boundary here and nowhere else: callers see typed structs only.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// maxParamsPerStatement keeps multi-row statements comfortably under the
// PostgreSQL extended-protocol limit of 65535 bind parameters.
const maxParamsPerStatement = 6000

// Store provides typed access to every table the pipeline touches.
type Store struct {
	db *sql.DB
}

// New creates a store over an open database handle.
func New(db *sql.DB) *Store {
	if db == nil {
		panic("store.New: db must not be nil")
	}
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// placeholders builds "($1,$2),($3,$4)…" value lists for multi-row
// statements. rows and cols must both be positive.
func placeholders(rows, cols int) string {
	var b strings.Builder
	arg := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "$%d", arg)
			arg++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// chunkRows returns the number of rows per statement that keeps
// rows*cols under maxParamsPerStatement.
func chunkRows(cols int) int {
	n := maxParamsPerStatement / cols
	if n < 1 {
		n = 1
	}
	return n
}
