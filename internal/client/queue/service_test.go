package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clientapi "github.com/parcelworks/fieldsync/internal/client/api"
	"github.com/parcelworks/fieldsync/internal/client/storage"
	"github.com/parcelworks/fieldsync/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memQueueStorage durable-хранилище очереди в памяти для тестов
type memQueueStorage struct {
	mu   sync.Mutex
	ops  map[string]*models.QueuedOperation
	next uint64
}

func newMemQueueStorage() *memQueueStorage {
	return &memQueueStorage{ops: make(map[string]*models.QueuedOperation)}
}

func (s *memQueueStorage) SaveOperation(_ context.Context, op *models.QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op.Seq == 0 {
		s.next++
		op.Seq = s.next
	}
	clone := *op
	s.ops[op.ID] = &clone
	return nil
}

func (s *memQueueStorage) GetOperation(_ context.Context, id string) (*models.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[id]
	if !ok {
		return nil, storage.ErrOperationNotFound
	}
	clone := *op
	return &clone, nil
}

func (s *memQueueStorage) ListOperations(_ context.Context) ([]*models.QueuedOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*models.QueuedOperation, 0, len(s.ops))
	for _, op := range s.ops {
		clone := *op
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (s *memQueueStorage) DeleteOperation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ops, id)
	return nil
}

// fakeDispatcher позволяет тесту управлять исходом каждой отправки
type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string // resource ids в порядке отправки
	errs       map[string]error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{errs: make(map[string]error)}
}

func (d *fakeDispatcher) failWith(resourceID string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[resourceID] = err
}

func (d *fakeDispatcher) Dispatch(_ context.Context, op *models.QueuedOperation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, op.ResourceID)
	return d.errs[op.ResourceID]
}

func (d *fakeDispatcher) order() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dispatched...)
}

// fakeNotifier запоминает отправленные уведомления
type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) SendSystemNotification(title, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func newTestService(t *testing.T) (Service, *memQueueStorage, *fakeDispatcher, *fakeNotifier) {
	t.Helper()
	store := newMemQueueStorage()
	dispatcher := newFakeDispatcher()
	notifier := &fakeNotifier{}
	svc := NewService(store, dispatcher, notifier, testLogger(), DefaultConfig())
	return svc, store, dispatcher, notifier
}

func TestService_Enqueue(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	op, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)

	assert.NotEmpty(t, op.ID)
	assert.Equal(t, models.StatusPending, op.Status)
	assert.Equal(t, models.OpSyncParcelData, op.Type)
	assert.Equal(t, "pc-1", op.ResourceID)

	// Операция переживает "перезапуск": читается из хранилища
	persisted, err := store.GetOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, persisted.Status)
	assert.NotZero(t, persisted.Seq)
}

func TestService_Enqueue_InvalidPayload(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Enqueue(context.Background(), models.SyncParcelDataPayload{})
	assert.Error(t, err, "invalid payload must be rejected before it is stored")
}

func TestService_ProcessQueue_CompletesOperations(t *testing.T) {
	svc, _, _, notifier := newTestService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-2"})
	require.NoError(t, err)

	result, err := svc.ProcessQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Dispatched)
	assert.Equal(t, 2, result.Completed)
	assert.Zero(t, result.Failed)

	ops, err := svc.ListOperations(ctx)
	require.NoError(t, err)
	for _, op := range ops {
		assert.Equal(t, models.StatusCompleted, op.Status)
	}

	// Пользователь уведомлен об успешной разгрузке
	assert.NotEmpty(t, notifier.titles)
}

// Операции одного ресурса отправляются строго в порядке постановки;
// сбой ранней операции блокирует поздние до следующего прохода
func TestService_ProcessQueue_FIFOPerResource(t *testing.T) {
	svc, _, dispatcher, _ := newTestService(t)
	ctx := context.Background()

	notes1 := "first"
	notes2 := "second"
	_, err := svc.Enqueue(ctx, models.UpdateParcelNotesPayload{ParcelID: "pc-1", Notes: &notes1})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.UpdateParcelNotesPayload{ParcelID: "pc-1", Notes: &notes2})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-2"})
	require.NoError(t, err)

	result, err := svc.ProcessQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, []string{"pc-1", "pc-1", "pc-2"}, dispatcher.order())
}

// Сбой операции одного ресурса не блокирует операции других ресурсов
func TestService_ProcessQueue_FailureIsolatedPerResource(t *testing.T) {
	svc, _, dispatcher, _ := newTestService(t)
	ctx := context.Background()

	dispatcher.failWith("pc-broken", errors.New("unprocessable"))

	_, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-broken"})
	require.NoError(t, err)
	opB, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-ok"})
	require.NoError(t, err)

	result, err := svc.ProcessQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Completed)

	op, err := svc.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, op, 2)

	persisted := findOp(t, op, opB.ID)
	assert.Equal(t, models.StatusCompleted, persisted.Status)
}

// Блокировка ресурса после сбоя: вторая операция того же ресурса
// не отправляется в том же проходе
func TestService_ProcessQueue_FailedResourceBlocksLaterOps(t *testing.T) {
	svc, _, dispatcher, _ := newTestService(t)
	ctx := context.Background()

	dispatcher.failWith("pc-1", &clientapi.TransientError{Err: errors.New("timeout")})

	_, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)

	result, err := svc.ProcessQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Dispatched, "only the head of the resource queue is tried")
	assert.Equal(t, 1, result.Retrying)
	assert.Equal(t, 1, result.Skipped)
}

func TestService_TransientFailureSchedulesRetry(t *testing.T) {
	svc, _, dispatcher, _ := newTestService(t)
	ctx := context.Background()

	dispatcher.failWith("pc-1", &clientapi.TransientError{Err: errors.New("connection refused")})

	op, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)

	_, err = svc.ProcessQueue(ctx)
	require.NoError(t, err)

	persisted := getOp(t, svc, op.ID)
	assert.Equal(t, models.StatusRetrying, persisted.Status)
	assert.Equal(t, 1, persisted.RetryCount)
	assert.True(t, persisted.NextAttemptAt.After(time.Now().Add(-time.Second)),
		"next attempt must be scheduled in the future")
	assert.Contains(t, persisted.LastError(), "connection refused")
}

// После MaxRetries временных сбоев операция становится FAILED
// и больше не повторяется автоматически
func TestService_RetryCeiling(t *testing.T) {
	store := newMemQueueStorage()
	dispatcher := newFakeDispatcher()
	cfg := Config{MaxRetries: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	svc := NewService(store, dispatcher, nil, testLogger(), cfg)
	ctx := context.Background()

	dispatcher.failWith("pc-1", &clientapi.TransientError{Err: errors.New("server error (503)")})

	op, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)

	// Каждый проход ждем созревания backoff-таймера
	for i := 0; i < cfg.MaxRetries+1; i++ {
		time.Sleep(5 * time.Millisecond)
		_, err = svc.ProcessQueue(ctx)
		require.NoError(t, err)
	}

	persisted := getOp(t, svc, op.ID)
	assert.Equal(t, models.StatusFailed, persisted.Status)
	assert.Equal(t, cfg.MaxRetries, persisted.RetryCount)
	assert.Len(t, persisted.Errors, cfg.MaxRetries+1, "every attempt leaves an error log entry")

	// FAILED операция не отправляется в последующих проходах
	before := len(dispatcher.order())
	_, err = svc.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, dispatcher.order(), before)
}

// Неисправимая ошибка переводит операцию в FAILED сразу, без повторов
func TestService_PermanentFailureSkipsRetries(t *testing.T) {
	svc, _, dispatcher, _ := newTestService(t)
	ctx := context.Background()

	dispatcher.failWith("pc-1", errors.New("request failed with status 400"))

	op, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)

	result, err := svc.ProcessQueue(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Retrying)
	assert.Equal(t, models.StatusFailed, getOp(t, svc, op.ID).Status)
}

func TestService_RetryOperation(t *testing.T) {
	svc, _, dispatcher, _ := newTestService(t)
	ctx := context.Background()

	dispatcher.failWith("pc-1", errors.New("bad request"))
	op, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)

	_, err = svc.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, getOp(t, svc, op.ID).Status)

	// Ручной retry возвращает операцию в очередь со свежим счетчиком
	require.NoError(t, svc.RetryOperation(ctx, op.ID))
	persisted := getOp(t, svc, op.ID)
	assert.Equal(t, models.StatusPending, persisted.Status)
	assert.Zero(t, persisted.RetryCount)

	// Retry незавершенной операции отклоняется
	err = svc.RetryOperation(ctx, op.ID)
	assert.ErrorIs(t, err, ErrNotFailed)
}

func TestService_RetryAllFailed(t *testing.T) {
	svc, _, dispatcher, _ := newTestService(t)
	ctx := context.Background()

	dispatcher.failWith("pc-1", errors.New("rejected"))
	dispatcher.failWith("pc-2", errors.New("rejected"))

	_, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-2"})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-3"})
	require.NoError(t, err)

	_, err = svc.ProcessQueue(ctx)
	require.NoError(t, err)

	count, err := svc.RetryAllFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestService_ClearCompleted(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)

	_, err = svc.ProcessQueue(ctx)
	require.NoError(t, err)

	count, err := svc.ClearCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ops, err := svc.ListOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestService_Cancel(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	op, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, op.ID))

	ops, err := svc.ListOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestService_Cancel_OnlyPending(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	op, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)

	_, err = svc.ProcessQueue(ctx)
	require.NoError(t, err)

	err = svc.Cancel(ctx, op.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

// Run просыпается на Enqueue и разгружает очередь без фонового ticker'а
func TestService_RunDrainsOnEnqueue(t *testing.T) {
	svc, _, dispatcher, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	_, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(dispatcher.order()) > 0
	}, 2*time.Second, 10*time.Millisecond, "scheduler must wake on enqueue")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

// gatedQueueStorage задерживает вызовы ListOperations на барьере,
// чтобы оба прохода разгрузки прочитали очередь до того, как любой
// из них пометит операцию IN_PROGRESS
type gatedQueueStorage struct {
	*memQueueStorage
	listed chan struct{}
	gate   chan struct{}
}

func (s *gatedQueueStorage) ListOperations(ctx context.Context) ([]*models.QueuedOperation, error) {
	ops, err := s.memQueueStorage.ListOperations(ctx)
	s.listed <- struct{}{}
	<-s.gate
	return ops, err
}

// Два перекрывающихся прохода разгрузки не отправляют одну операцию
// дважды: статус перечитывается под замком ресурса перед отправкой
func TestService_OverlappingDrainsDispatchOnce(t *testing.T) {
	store := &gatedQueueStorage{
		memQueueStorage: newMemQueueStorage(),
		listed:          make(chan struct{}, 2),
		gate:            make(chan struct{}),
	}
	dispatcher := newFakeDispatcher()
	svc := NewService(store, dispatcher, nil, testLogger(), DefaultConfig())
	ctx := context.Background()

	op, err := svc.Enqueue(ctx, models.SyncParcelDataPayload{ParcelID: "pc-1"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, drainErr := svc.ProcessQueue(ctx)
			assert.NoError(t, drainErr)
		}()
	}

	// Оба прохода увидели операцию как PENDING - открываем барьер
	<-store.listed
	<-store.listed
	close(store.gate)
	wg.Wait()

	assert.Equal(t, []string{"pc-1"}, dispatcher.order(),
		"overlapping drains must dispatch an operation exactly once")
	assert.Equal(t, models.StatusCompleted, getOp(t, svc, op.ID).Status)
}

func findOp(t *testing.T, ops []*models.QueuedOperation, id string) *models.QueuedOperation {
	t.Helper()
	for _, op := range ops {
		if op.ID == id {
			return op
		}
	}
	t.Fatalf("operation %s not found", id)
	return nil
}

func getOp(t *testing.T, svc Service, id string) *models.QueuedOperation {
	t.Helper()
	ops, err := svc.ListOperations(context.Background())
	require.NoError(t, err)
	return findOp(t, ops, id)
}
