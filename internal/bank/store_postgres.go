// internal/bank/store_postgres.go
package bank

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"guaranteedesk/pkg/domain"
	"guaranteedesk/pkg/eventstore"
)

const aggregateType = "bank"

// Schema creates the bank read model.
const Schema = `
CREATE TABLE IF NOT EXISTS banks (
	id UUID PRIMARY KEY,
	code TEXT NOT NULL UNIQUE,
	is_active BOOLEAN NOT NULL,
	version INT NOT NULL,
	profile JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// PostgresStore keeps the current profile in the banks table and journals
// every change to the event store in the same transaction.
type PostgresStore struct {
	db         *sql.DB
	eventStore *eventstore.EventStore
}

// NewPostgresStore creates a store over db. EnsureSchema must run first.
func NewPostgresStore(db *sql.DB, es *eventstore.EventStore) *PostgresStore {
	return &PostgresStore{db: db, eventStore: es}
}

// EnsureSchema creates the events and banks tables.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if err := s.eventStore.EnsureSchema(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create banks schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, p *Profile, evt Event) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO banks (id, code, is_active, version, profile, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, p.ID, p.Code, p.IsActive, p.Version, doc, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				if pqErr.Constraint == "banks_code_key" {
					return ErrDuplicateCode
				}
				return domain.ErrConflict
			}
			return fmt.Errorf("insert bank: %w", err)
		}
		return s.journal(ctx, tx, p.ID, 0, evt)
	})
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Profile, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT profile FROM banks WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get bank from read model: %w", err)
	}

	p := &Profile{}
	if err := json.Unmarshal(doc, p); err != nil {
		return nil, fmt.Errorf("decode bank %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT profile FROM banks ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list banks: %w", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan bank: %w", err)
		}
		p := &Profile{}
		if err := json.Unmarshal(doc, p); err != nil {
			return nil, fmt.Errorf("decode bank: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, p *Profile, expectedVersion int, evt Event) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE banks
			SET is_active = $1, version = $2, profile = $3, updated_at = $4
			WHERE id = $5 AND version = $6
		`, p.IsActive, p.Version, doc, p.UpdatedAt, p.ID, expectedVersion)
		if err != nil {
			return fmt.Errorf("update bank: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update bank: %w", err)
		}
		if n == 0 {
			return domain.ErrConflict
		}
		return s.journal(ctx, tx, p.ID, expectedVersion, evt)
	})
}

func (s *PostgresStore) journal(ctx context.Context, tx *sql.Tx, id uuid.UUID, expectedVersion int, evt Event) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	err = s.eventStore.AppendEventsTx(ctx, tx, id, aggregateType, expectedVersion, []eventstore.Event{{
		AggregateID:   id,
		AggregateType: aggregateType,
		EventType:     evt.Type,
		EventData:     data,
	}})
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return domain.ErrConflict
	}
	return err
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
