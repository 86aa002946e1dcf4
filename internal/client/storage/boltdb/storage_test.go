package boltdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/fieldsync/internal/client/storage"
	"github.com/parcelworks/fieldsync/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func newTestOperation(id, resourceID string) *models.QueuedOperation {
	return &models.QueuedOperation{
		ID:         id,
		Type:       models.OpUpdateParcelNotes,
		ResourceID: resourceID,
		Status:     models.StatusPending,
		Payload:    []byte(`{"parcel_id":"` + resourceID + `","add_tags":["urgent"]}`),
		CreatedAt:  time.Now().UTC(),
	}
}

func TestStorage_SaveOperation_AssignsSequence(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first := newTestOperation("op-1", "pc-1")
	second := newTestOperation("op-2", "pc-1")

	require.NoError(t, s.SaveOperation(ctx, first))
	require.NoError(t, s.SaveOperation(ctx, second))

	// Порядковые номера растут в порядке постановки
	assert.NotZero(t, first.Seq)
	assert.Greater(t, second.Seq, first.Seq)

	// Повторное сохранение не перевыделяет номер
	first.Status = models.StatusCompleted
	require.NoError(t, s.SaveOperation(ctx, first))

	got, err := s.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, first.Seq, got.Seq)
	assert.Equal(t, models.StatusCompleted, got.Status)
}

func TestStorage_ListOperations_EnqueueOrder(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// ID нарочно в обратном лексикографическом порядке: список обязан
	// вернуть порядок постановки, а не порядок ключей bucket'а
	for _, id := range []string{"op-c", "op-b", "op-a"} {
		require.NoError(t, s.SaveOperation(ctx, newTestOperation(id, "pc-1")))
	}

	ops, err := s.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, "op-c", ops[0].ID)
	assert.Equal(t, "op-b", ops[1].ID)
	assert.Equal(t, "op-a", ops[2].ID)
}

func TestStorage_GetOperation_NotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetOperation(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrOperationNotFound)
}

func TestStorage_DeleteOperation(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOperation(ctx, newTestOperation("op-1", "pc-1")))
	require.NoError(t, s.DeleteOperation(ctx, "op-1"))

	_, err := s.GetOperation(ctx, "op-1")
	require.ErrorIs(t, err, storage.ErrOperationNotFound)

	err = s.DeleteOperation(ctx, "op-1")
	require.ErrorIs(t, err, storage.ErrOperationNotFound)
}

func TestStorage_QueueSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "client.db")

	s, err := New(ctx, dbPath)
	require.NoError(t, err)

	op := newTestOperation("op-1", "pc-1")
	require.NoError(t, s.SaveOperation(ctx, op))
	require.NoError(t, s.Close())

	// Очередь durable: операция на месте после перезапуска
	reopened, err := New(ctx, dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, op.Seq, got.Seq)

	// И счетчик последовательности продолжает с прежнего места
	next := newTestOperation("op-2", "pc-1")
	require.NoError(t, reopened.SaveOperation(ctx, next))
	assert.Greater(t, next.Seq, op.Seq)
}

func TestStorage_Conflicts(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	conflict := &models.DataConflict{
		ID:         "cf-1",
		ResourceID: "rep-1",
		DataType:   models.ConflictDataReport,
		Status:     models.ConflictDetected,
		Local:      models.ResourceVersion{Revision: 3, BaseRevision: 2, Fields: map[string]string{"valuation": "450000"}},
		Remote:     models.ResourceVersion{Revision: 4, BaseRevision: 2, Fields: map[string]string{"valuation": "500000"}},
		DetectedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	require.NoError(t, s.SaveConflict(ctx, conflict))

	got, err := s.GetConflict(ctx, "cf-1")
	require.NoError(t, err)
	assert.Equal(t, conflict.ResourceID, got.ResourceID)
	assert.Equal(t, conflict.Local.Fields, got.Local.Fields)
	assert.True(t, conflict.DetectedAt.Equal(got.DetectedAt))

	// Обновление статуса перезаписывает запись
	conflict.Status = models.ConflictResolved
	require.NoError(t, s.SaveConflict(ctx, conflict))
	got, err = s.GetConflict(ctx, "cf-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConflictResolved, got.Status)

	require.NoError(t, s.DeleteConflict(ctx, "cf-1"))
	_, err = s.GetConflict(ctx, "cf-1")
	require.ErrorIs(t, err, storage.ErrConflictNotFound)
}

func TestStorage_ListConflicts_DetectionOrder(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"cf-z", "cf-a"} {
		require.NoError(t, s.SaveConflict(ctx, &models.DataConflict{
			ID:         id,
			ResourceID: "rep-1",
			DataType:   models.ConflictDataReport,
			Status:     models.ConflictDetected,
			DetectedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	conflicts, err := s.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 2)
	// Сортировка по времени обнаружения, не по ID
	assert.Equal(t, "cf-z", conflicts[0].ID)
	assert.Equal(t, "cf-a", conflicts[1].ID)
}

func TestStorage_Replicas(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	state := []byte(`{"notes":{"value":"north fence damaged"}}`)
	require.NoError(t, s.SaveReplica(ctx, "pc-1", state))

	got, err := s.GetReplica(ctx, "pc-1")
	require.NoError(t, err)
	assert.Equal(t, state, got)

	// Возвращенный срез — копия, изменение не трогает хранилище
	got[0] = 'X'
	again, err := s.GetReplica(ctx, "pc-1")
	require.NoError(t, err)
	assert.Equal(t, state, again)

	_, err = s.GetReplica(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrReplicaNotFound)
}

func TestStorage_ListReplicas(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SaveReplica(ctx, "pc-1", []byte("state-1")))
	require.NoError(t, s.SaveReplica(ctx, "pc-2", []byte("state-2")))

	replicas, err := s.ListReplicas(ctx)
	require.NoError(t, err)
	require.Len(t, replicas, 2)
	assert.Equal(t, []byte("state-1"), replicas["pc-1"])
	assert.Equal(t, []byte("state-2"), replicas["pc-2"])
}

func TestStorage_EnsureNodeID_Stable(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "client.db")

	s, err := New(ctx, dbPath)
	require.NoError(t, err)

	first, err := s.EnsureNodeID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := s.EnsureNodeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, s.Close())

	// node_id переживает перезапуск: иначе LWW-слияния потеряют детерминизм
	reopened, err := New(ctx, dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	third, err := reopened.EnsureNodeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

func TestStorage_LastSyncTimestamp(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ts, err := s.GetLastSyncTimestamp(ctx)
	require.NoError(t, err)
	assert.Zero(t, ts, "no sync performed yet")

	require.NoError(t, s.SaveLastSyncTimestamp(ctx, 42))

	ts, err = s.GetLastSyncTimestamp(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ts)
}

func TestStorage_ClosedStorage(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.Close())
	s.db = nil

	_, err := s.GetOperation(context.Background(), "op-1")
	require.ErrorIs(t, err, storage.ErrStorageClosed)
}
