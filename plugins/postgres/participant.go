package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/miladsoleymani/ackmux/core"
)

// DefaultName is the name a Participant is registered under when none is given.
const DefaultName = "postgres"

// Participant begins one database transaction per delivery unit. The
// transaction commits after the broker transaction and rolls back with it.
type Participant struct {
	db   *sql.DB
	name string
	opts *sql.TxOptions
}

// NewParticipant returns a Participant for db. An empty name uses DefaultName.
func NewParticipant(db *sql.DB, name string, opts *sql.TxOptions) *Participant {
	if name == "" {
		name = DefaultName
	}
	return &Participant{db: db, name: name, opts: opts}
}

func (p *Participant) Name() string { return p.name }

func (p *Participant) Begin(ctx context.Context) (core.Synchronization, error) {
	tx, err := p.db.BeginTx(ctx, p.opts)
	if err != nil {
		return nil, fmt.Errorf("ackmux/postgres: begin: %w", err)
	}
	return &Sync{tx: tx}, nil
}

// Sync is the database transaction of one delivery unit.
type Sync struct {
	tx *sql.Tx
}

// Tx returns the transaction handlers run their statements in.
func (s *Sync) Tx() *sql.Tx { return s.tx }

func (s *Sync) Commit(context.Context) error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("ackmux/postgres: commit: %w", err)
	}
	return nil
}

func (s *Sync) Rollback(context.Context) error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("ackmux/postgres: rollback: %w", err)
	}
	return nil
}

// TxFromContext returns the transaction begun for the current delivery unit
// by the participant registered under name.
func TxFromContext(c core.Context, name string) (*sql.Tx, bool) {
	v, ok := c.Get(name)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Sync)
	if !ok {
		return nil, false
	}
	return s.tx, true
}
