package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/leadflow/lead-engine/credit"
)

// =============================================================================
// LEDGER (credit.Store)
// =============================================================================

// ApplyEntry inserts the entry and moves the cached balance in one atomic
// unit. The balance update is conditional on the result staying >= 0.
func (s *Store) ApplyEntry(ctx context.Context, e credit.Entry) (int64, error) {
	var balance int64
	err := s.atomic(ctx, func(tx *Store) error {
		_, err := tx.q.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, contractor_id, delta, reason, reference_id, idempotency_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.ContractorID, e.Delta, string(e.Reason), e.ReferenceID,
			nullString(e.IdempotencyKey), formatTime(e.CreatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return credit.ErrDuplicateIdempotencyKey
			}
			if isForeignKeyError(err) {
				return credit.ErrContractorNotFound
			}
			return fmt.Errorf("insert ledger entry: %w", err)
		}

		ok, err := changed(tx.q.ExecContext(ctx, `
			UPDATE contractors SET credit_balance = credit_balance + ?
			WHERE id = ? AND credit_balance + ? >= 0`,
			e.Delta, e.ContractorID, e.Delta,
		))
		if err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		if !ok {
			exists, err := tx.contractorExists(ctx, e.ContractorID)
			if err != nil {
				return err
			}
			if !exists {
				return credit.ErrContractorNotFound
			}
			return credit.ErrInsufficientCredit
		}

		balance, err = tx.Balance(ctx, e.ContractorID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Store) Balance(ctx context.Context, contractorID string) (int64, error) {
	var balance int64
	err := s.q.QueryRowContext(ctx,
		`SELECT credit_balance FROM contractors WHERE id = ?`, contractorID,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, credit.ErrContractorNotFound
	}
	return balance, err
}

func (s *Store) Entries(ctx context.Context, contractorID string) ([]credit.Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, contractor_id, delta, reason, reference_id, COALESCE(idempotency_key, ''), created_at
		FROM ledger_entries WHERE contractor_id = ? ORDER BY rowid`, contractorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []credit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) EntryByKey(ctx context.Context, key string) (*credit.Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, contractor_id, delta, reason, reference_id, COALESCE(idempotency_key, ''), created_at
		FROM ledger_entries WHERE idempotency_key = ?`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanEntry(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntry(rows *sql.Rows) (credit.Entry, error) {
	var (
		e         credit.Entry
		reason    string
		createdAt string
	)
	if err := rows.Scan(&e.ID, &e.ContractorID, &e.Delta, &reason, &e.ReferenceID, &e.IdempotencyKey, &createdAt); err != nil {
		return credit.Entry{}, err
	}
	e.Reason = credit.Reason(reason)
	t, err := parseTime(createdAt)
	if err != nil {
		return credit.Entry{}, fmt.Errorf("ledger entry %s: %w", e.ID, err)
	}
	e.CreatedAt = t
	return e, nil
}

func (s *Store) contractorExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM contractors WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
