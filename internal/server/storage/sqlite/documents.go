package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/parcelworks/fieldsync/internal/server/storage"
)

// SaveSnapshot сохраняет или обновляет снимок документа участка.
// Снимок — полное состояние CRDT-документа, поэтому безусловный
// upsert корректен: более свежий снимок всегда включает предыдущий.
func (s *Storage) SaveSnapshot(ctx context.Context, parcelID string, state []byte, updatedAt time.Time) error {
	query := `
		INSERT INTO documents (parcel_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (parcel_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, parcelID, state, updatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// GetSnapshot возвращает снимок документа участка.
// Возвращает storage.ErrSnapshotNotFound, если снимка нет.
func (s *Storage) GetSnapshot(ctx context.Context, parcelID string) (*storage.DocumentSnapshot, error) {
	query := `
		SELECT parcel_id, state, updated_at
		FROM documents
		WHERE parcel_id = ?
	`

	snapshot := &storage.DocumentSnapshot{}
	var updatedAt int64

	err := s.db.QueryRowContext(ctx, query, parcelID).Scan(
		&snapshot.ParcelID,
		&snapshot.State,
		&updatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snapshot.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return snapshot, nil
}

// ListSnapshots возвращает снимки всех документов.
// Используется при восстановлении реестра документов на старте сервера.
func (s *Storage) ListSnapshots(ctx context.Context) ([]*storage.DocumentSnapshot, error) {
	query := `
		SELECT parcel_id, state, updated_at
		FROM documents
		ORDER BY parcel_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var snapshots []*storage.DocumentSnapshot

	for rows.Next() {
		snapshot := &storage.DocumentSnapshot{}
		var updatedAt int64

		if err := rows.Scan(&snapshot.ParcelID, &snapshot.State, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		snapshot.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		snapshots = append(snapshots, snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	return snapshots, nil
}
