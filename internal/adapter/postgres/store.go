package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/guillermoBallester/auditsql/internal/core/domain"
	"github.com/guillermoBallester/auditsql/internal/core/port"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the durable append-only AuditStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ port.AuditStore = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the table and its append-only trigger. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaAuditEntries); err != nil {
		return fmt.Errorf("migrating audit schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, entry domain.HistoryEntry) error {
	a := entry.Audit
	names := a.ColumnNames
	if names == nil {
		names = []string{}
	}
	_, err := s.pool.Exec(ctx, queryInsertEntry,
		entry.ID, string(entry.Source), a.SQL, a.RequestedBy, a.RequestTimestamp,
		a.ExecutionPlanMode.String(), a.RowCount, a.ColumnCount, names,
		a.ExecutionMilliseconds, a.Succeeded, a.ErrorMessage, a.ResultTimestamp,
		a.IntegrityHash,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.HistoryEntry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx, queryGetEntry, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("history entry %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching audit entry: %w", err)
	}
	return &entry, nil
}

func (s *Store) Recent(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, queryRecentEntries, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.HistoryEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

func (s *Store) AttachReference(ctx context.Context, id uuid.UUID, reference string) error {
	tag, err := s.pool.Exec(ctx, queryAttachReference, id, reference)
	if err != nil {
		return fmt.Errorf("attaching published reference: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, queryEntryExists, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking audit entry: %w", err)
	}
	if !exists {
		return fmt.Errorf("history entry %s: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("history entry %s: %w", id, domain.ErrReferenceSet)
}

func scanEntry(row pgx.Row) (domain.HistoryEntry, error) {
	var (
		e         domain.HistoryEntry
		source    string
		mode      string
		hash      string
		reference *string
	)
	err := row.Scan(
		&e.ID, &source, &e.Audit.SQL, &e.Audit.RequestedBy, &e.Audit.RequestTimestamp, &mode,
		&e.Audit.RowCount, &e.Audit.ColumnCount, &e.Audit.ColumnNames, &e.Audit.ExecutionMilliseconds,
		&e.Audit.Succeeded, &e.Audit.ErrorMessage, &e.Audit.ResultTimestamp, &hash, &reference,
	)
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	e.Source = domain.QuerySource(source)
	if e.Audit.ExecutionPlanMode, err = domain.ParseExecutionPlanMode(mode); err != nil {
		return domain.HistoryEntry{}, err
	}
	e.Audit.IntegrityHash = strings.TrimSpace(hash)
	e.Audit.RequestTimestamp = e.Audit.RequestTimestamp.UTC()
	e.Audit.ResultTimestamp = e.Audit.ResultTimestamp.UTC()
	if reference != nil {
		e.Audit.PublishedReference = *reference
	}
	return e, nil
}
