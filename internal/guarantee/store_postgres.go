// internal/guarantee/store_postgres.go
package guarantee

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

const aggregateType = "guarantee"

// Schema creates the guarantee read model and the number sequences.
const Schema = `
CREATE TABLE IF NOT EXISTS guarantees (
	id UUID PRIMARY KEY,
	guarantee_number TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	archived BOOLEAN NOT NULL DEFAULT FALSE,
	revision INT NOT NULL,
	document JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS guarantees_status_idx ON guarantees (status) WHERE NOT archived;
CREATE TABLE IF NOT EXISTS guarantee_number_sequences (
	period TEXT PRIMARY KEY,
	last_value INT NOT NULL
);`

// PostgresRepository stores the current aggregate as a JSON document and
// journals every change to the event store inside the same transaction.
type PostgresRepository struct {
	db         *sql.DB
	eventStore *eventstore.EventStore
}

// NewPostgresRepository creates a repository over db.
func NewPostgresRepository(db *sql.DB, es *eventstore.EventStore) *PostgresRepository {
	return &PostgresRepository{db: db, eventStore: es}
}

// EnsureSchema creates the events and guarantee tables.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if err := r.eventStore.EnsureSchema(ctx); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create guarantee schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, g *Guarantee, evt Event) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal guarantee: %w", err)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO guarantees (id, guarantee_number, status, archived, revision, document, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, g.ID, g.GuaranteeNumber, g.Status, g.IsArchived, g.Revision, doc, g.CreatedAt, g.LastModified)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return fmt.Errorf("guarantee %s already exists: %w", g.GuaranteeNumber, domain.ErrConflict)
			}
			return fmt.Errorf("insert guarantee: %w", err)
		}
		return r.journal(ctx, tx, g.ID, 0, evt)
	})
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Guarantee, error) {
	var doc []byte
	err := r.db.QueryRowContext(ctx, `SELECT document FROM guarantees WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get guarantee from read model: %w", err)
	}

	g := &Guarantee{}
	if err := json.Unmarshal(doc, g); err != nil {
		return nil, fmt.Errorf("decode guarantee %s: %w", id, err)
	}
	return g, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Guarantee, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT document FROM guarantees ORDER BY created_at, guarantee_number`)
	if err != nil {
		return nil, fmt.Errorf("list guarantees: %w", err)
	}
	defer rows.Close()

	var out []*Guarantee
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan guarantee: %w", err)
		}
		g := &Guarantee{}
		if err := json.Unmarshal(doc, g); err != nil {
			return nil, fmt.Errorf("decode guarantee: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guarantees: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Update(ctx context.Context, g *Guarantee, expectedRevision int, evt Event) error {
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal guarantee: %w", err)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE guarantees
			SET status = $1, archived = $2, revision = $3, document = $4, updated_at = $5
			WHERE id = $6 AND revision = $7
		`, g.Status, g.IsArchived, g.Revision, doc, g.LastModified, g.ID, expectedRevision)
		if err != nil {
			return fmt.Errorf("update guarantee: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update guarantee: %w", err)
		}
		if n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM guarantees WHERE id = $1)`, g.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check guarantee: %w", err)
			}
			if !exists {
				return domain.ErrNotFound
			}
			return ErrConcurrencyConflict
		}
		return r.journal(ctx, tx, g.ID, expectedRevision, evt)
	})
}

// NextSequence allocates the next guarantee number suffix for period
// (YYYYMM). Values are never handed out twice, even across rollbacks of the
// caller's later writes.
func (r *PostgresRepository) NextSequence(ctx context.Context, period string) (int, error) {
	var next int
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO guarantee_number_sequences (period, last_value)
		VALUES ($1, 1)
		ON CONFLICT (period) DO UPDATE SET last_value = guarantee_number_sequences.last_value + 1
		RETURNING last_value
	`, period).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("allocate guarantee number: %w", err)
	}
	return next, nil
}

// History loads the journal of id from the event store.
func (r *PostgresRepository) History(ctx context.Context, id uuid.UUID) ([]JournalEntry, error) {
	events, err := r.eventStore.LoadEvents(ctx, id, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.ErrNotFound
	}
	out := make([]JournalEntry, 0, len(events))
	for _, e := range events {
		out = append(out, JournalEntry{
			Revision:  e.Version,
			Type:      e.EventType,
			Payload:   e.EventData,
			Timestamp: e.CreatedAt,
		})
	}
	return out, nil
}

func (r *PostgresRepository) journal(ctx context.Context, tx *sql.Tx, id uuid.UUID, expectedVersion int, evt Event) error {
	data, err := marshalPayload(evt)
	if err != nil {
		return err
	}
	err = r.eventStore.AppendEventsTx(ctx, tx, id, aggregateType, expectedVersion, []eventstore.Event{{
		AggregateID:   id,
		AggregateType: aggregateType,
		EventType:     string(evt.Type),
		EventData:     data,
		Metadata:      map[string]interface{}{"timestamp": evt.Timestamp},
	}})
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return ErrConcurrencyConflict
	}
	return err
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
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
