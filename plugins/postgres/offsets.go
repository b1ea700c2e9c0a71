package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/miladsoleymani/ackmux/core"
)

// OffsetStore keeps the last processed offset per group and partition in the
// same database as the handler's data, so progress can be saved atomically
// with the handler's writes.
//
//	CREATE TABLE ackmux_offsets (
//	    group_id    TEXT        NOT NULL,
//	    topic       TEXT        NOT NULL,
//	    partition   INTEGER     NOT NULL,
//	    last_offset BIGINT      NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (group_id, topic, partition)
//	);
type OffsetStore struct {
	db *sql.DB
}

func NewOffsetStore(db *sql.DB) *OffsetStore {
	return &OffsetStore{db: db}
}

// Save upserts offsets inside tx. Stored offsets never move backwards.
func (s *OffsetStore) Save(ctx context.Context, tx *sql.Tx, group string, offsets []core.Offset) error {
	const q = `
INSERT INTO ackmux_offsets (group_id, topic, partition, last_offset)
VALUES ($1, $2, $3, $4)
ON CONFLICT (group_id, topic, partition)
DO UPDATE SET last_offset = GREATEST(ackmux_offsets.last_offset, EXCLUDED.last_offset), updated_at = now()`
	for _, o := range offsets {
		if _, err := tx.ExecContext(ctx, q, group, o.Topic, o.Partition, o.Offset); err != nil {
			return fmt.Errorf("ackmux/postgres: save offset %s: %w", o, err)
		}
	}
	return nil
}

// Load returns the stored offsets of group ordered by topic and partition.
func (s *OffsetStore) Load(ctx context.Context, group string) ([]core.Offset, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT topic, partition, last_offset
FROM ackmux_offsets
WHERE group_id = $1
ORDER BY topic, partition`, group)
	if err != nil {
		return nil, fmt.Errorf("ackmux/postgres: load offsets: %w", err)
	}
	defer rows.Close()

	var out []core.Offset
	for rows.Next() {
		var o core.Offset
		if err := rows.Scan(&o.Topic, &o.Partition, &o.Offset); err != nil {
			return nil, fmt.Errorf("ackmux/postgres: scan offset: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ackmux/postgres: load offsets: %w", err)
	}
	return out, nil
}
