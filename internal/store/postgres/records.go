package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/onboard/internal/core"
)

const recordColumns = `id, role, status, strategy, file_path, total_rows, success_count,
       failure_count, created_by_operator_id, created_at, completed_at`

// InsertImportRecord implements core.ImportRecordStore. The record and its
// row errors are written in one transaction.
func (s *Store) InsertImportRecord(ctx context.Context, rec core.ImportRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO import_records (`+recordColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, string(rec.Role), string(rec.Status), string(rec.Strategy), rec.FilePath,
		rec.TotalRows, rec.SuccessCount, rec.FailureCount, rec.CreatedByOperatorID,
		rec.CreatedAt, rec.CompletedAt,
	); err != nil {
		return fmt.Errorf("insert import record: %w", err)
	}

	if len(rec.Errors) > 0 {
		rows := make([][]any, 0, len(rec.Errors))
		for i, e := range rec.Errors {
			rows = append(rows, []any{rec.ID, int32(i), int32(e.RowNumber), e.Message, e.RawData})
		}
		if _, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"import_errors"},
			[]string{"import_id", "position", "row_number", "error_message", "raw_data"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("copy import errors: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import record: %w", err)
	}
	return nil
}

// ListImportRecords implements core.ImportRecordStore, newest first.
func (s *Store) ListImportRecords(ctx context.Context, limit int) ([]core.ImportRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+recordColumns+`
FROM import_records
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query import records: %w", err)
	}
	defer rows.Close()

	var out []core.ImportRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import records: %w", err)
	}
	return out, nil
}

// GetImportRecord implements core.ImportRecordStore.
func (s *Store) GetImportRecord(ctx context.Context, id string) (core.ImportRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM import_records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ImportRecord{}, fmt.Errorf("%w: %s", core.ErrRecordNotFound, id)
	}
	if err != nil {
		return core.ImportRecord{}, err
	}

	rows, err := s.pool.Query(ctx, `
SELECT row_number, error_message, raw_data
FROM import_errors
WHERE import_id = $1
ORDER BY position`, id)
	if err != nil {
		return core.ImportRecord{}, fmt.Errorf("query import errors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e core.ImportError
		if err := rows.Scan(&e.RowNumber, &e.Message, &e.RawData); err != nil {
			return core.ImportRecord{}, fmt.Errorf("scan import error: %w", err)
		}
		rec.Errors = append(rec.Errors, e)
	}
	if err := rows.Err(); err != nil {
		return core.ImportRecord{}, fmt.Errorf("iterate import errors: %w", err)
	}
	return rec, nil
}

func scanRecord(row pgx.Row) (core.ImportRecord, error) {
	var (
		rec                    core.ImportRecord
		role, status, strategy string
	)
	err := row.Scan(
		&rec.ID, &role, &status, &strategy, &rec.FilePath, &rec.TotalRows,
		&rec.SuccessCount, &rec.FailureCount, &rec.CreatedByOperatorID,
		&rec.CreatedAt, &rec.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ImportRecord{}, err
	}
	if err != nil {
		return core.ImportRecord{}, fmt.Errorf("scan import record: %w", err)
	}
	rec.Role = core.Role(role)
	rec.Status = core.ImportStatus(status)
	rec.Strategy = core.Strategy(strategy)
	return rec, nil
}
