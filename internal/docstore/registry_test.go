package docstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/fieldsync/internal/crdt"
	"github.com/parcelworks/fieldsync/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

// fakePersister запоминает последний снимок каждого участка
type fakePersister struct {
	mu        sync.Mutex
	snapshots map[string][]byte
	failNext  bool
	calls     int
}

func newFakePersister() *fakePersister {
	return &fakePersister{snapshots: make(map[string][]byte)}
}

func (p *fakePersister) SaveSnapshot(_ context.Context, parcelID string, state []byte, _ time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.failNext {
		p.failNext = false
		return errors.New("disk full")
	}
	p.snapshots[parcelID] = append([]byte(nil), state...)
	return nil
}

func TestRegistry_GetOrCreate(t *testing.T) {
	registry := NewRegistry(testLogger())

	doc := registry.GetOrCreate("pc-1042")
	require.NotNil(t, doc)
	assert.Equal(t, 1, registry.Size())

	// Повторный запрос возвращает тот же документ
	assert.Same(t, doc, registry.GetOrCreate("pc-1042"))
	assert.Equal(t, 1, registry.Size())
}

func TestRegistry_SharedNodeID(t *testing.T) {
	registry := NewRegistry(testLogger(), WithNodeID("replica-42"))

	assert.Equal(t, "replica-42", registry.GetOrCreate("pc-1").NodeID())
	assert.Equal(t, "replica-42", registry.GetOrCreate("pc-2").NodeID())
}

func TestRegistry_ApplyLocalMutation(t *testing.T) {
	persister := newFakePersister()
	registry := NewRegistry(testLogger(), WithPersister(persister))

	delta, err := registry.ApplyLocalMutation(context.Background(), "pc-1042", models.NoteMutation{
		Notes:   strPtr("gravel driveway, south access"),
		AddTags: []string{"access-road"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, delta)

	view := registry.Materialize("pc-1042")
	assert.Equal(t, "gravel driveway, south access", view.Notes)
	assert.Equal(t, []string{"access-road"}, view.Tags)

	// Снимок сохранен после мутации
	assert.Contains(t, persister.snapshots, "pc-1042")
}

// Ошибка персистентности логируется, но не откатывает примененную мутацию
func TestRegistry_PersistFailureDoesNotFailMutation(t *testing.T) {
	persister := newFakePersister()
	persister.failNext = true
	registry := NewRegistry(testLogger(), WithPersister(persister))

	_, err := registry.ApplyLocalMutation(context.Background(), "pc-1042", models.NoteMutation{
		Notes: strPtr("text"),
	})
	require.NoError(t, err)
	assert.Equal(t, "text", registry.Materialize("pc-1042").Notes)
}

func TestRegistry_Materialize_UnknownParcel(t *testing.T) {
	registry := NewRegistry(testLogger())

	view := registry.Materialize("never-seen")
	assert.Empty(t, view.Notes)
	assert.Empty(t, view.Tags)
	assert.Empty(t, view.Attachments)
}

func TestRegistry_Merge(t *testing.T) {
	persister := newFakePersister()
	registry := NewRegistry(testLogger(), WithPersister(persister))

	remote := crdt.NewDocumentWithNodeID("remote-replica")
	remote.Apply(models.NoteMutation{Notes: strPtr("from the field"), AddTags: []string{"urgent"}})
	incoming, err := crdt.EncodeDelta(remote.State())
	require.NoError(t, err)

	state, err := registry.Merge(context.Background(), "pc-7", incoming)
	require.NoError(t, err)
	require.NotEmpty(t, state)

	view := registry.Materialize("pc-7")
	assert.Equal(t, "from the field", view.Notes)
	assert.Equal(t, []string{"urgent"}, view.Tags)

	// Возвращенное состояние догоняет третью реплику до того же вида
	catchUp := crdt.NewDocumentWithNodeID("third-replica")
	delta, err := crdt.DecodeDelta(state)
	require.NoError(t, err)
	catchUp.Merge(delta)
	assert.Equal(t, view.Notes, catchUp.Materialize().Notes)
	assert.Equal(t, view.Tags, catchUp.Materialize().Tags)
}

func TestRegistry_Merge_MalformedDelta(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.GetOrCreate("pc-7")

	_, err := registry.Merge(context.Background(), "pc-7", []byte("{broken"))
	require.Error(t, err)

	var decodeErr *crdt.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
	assert.Empty(t, registry.Materialize("pc-7").Notes, "document must stay untouched")
}

func TestRegistry_RestoreFromSnapshots(t *testing.T) {
	persister := newFakePersister()
	original := NewRegistry(testLogger(), WithPersister(persister))

	ctx := context.Background()
	_, err := original.ApplyLocalMutation(ctx, "pc-1", models.NoteMutation{Notes: strPtr("first parcel")})
	require.NoError(t, err)
	_, err = original.ApplyLocalMutation(ctx, "pc-2", models.NoteMutation{AddTags: []string{"waterfront"}})
	require.NoError(t, err)

	// Перезапуск процесса: новый реестр из сохраненных снимков
	restored := NewRegistry(testLogger())
	restored.Restore(persister.snapshots)

	assert.Equal(t, 2, restored.Size())
	assert.Equal(t, "first parcel", restored.Materialize("pc-1").Notes)
	assert.Equal(t, []string{"waterfront"}, restored.Materialize("pc-2").Tags)
}

// Битый снимок пропускается, остальные документы восстанавливаются
func TestRegistry_RestoreSkipsCorruptSnapshot(t *testing.T) {
	good := crdt.NewDocumentWithNodeID("replica-a")
	good.Apply(models.NoteMutation{Notes: strPtr("valid")})
	state, err := crdt.EncodeDelta(good.State())
	require.NoError(t, err)

	registry := NewRegistry(testLogger())
	registry.Restore(map[string][]byte{
		"pc-good": state,
		"pc-bad":  []byte("not a delta"),
	})

	assert.Equal(t, "valid", registry.Materialize("pc-good").Notes)
	assert.Empty(t, registry.Materialize("pc-bad").Notes)
}

func TestRegistry_State(t *testing.T) {
	registry := NewRegistry(testLogger())
	_, err := registry.ApplyLocalMutation(context.Background(), "pc-1", models.NoteMutation{Notes: strPtr("text")})
	require.NoError(t, err)

	state, err := registry.State("pc-1")
	require.NoError(t, err)

	delta, err := crdt.DecodeDelta(state)
	require.NoError(t, err)
	assert.Equal(t, "text", delta.Notes.Value)
}

// Конкурентные мутации разных участков не мешают друг другу,
// мутации одного участка сериализуются
func TestRegistry_ConcurrentMutations(t *testing.T) {
	registry := NewRegistry(testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	parcels := []string{"pc-1", "pc-2", "pc-3"}
	for _, parcelID := range parcels {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id string, n int) {
				defer wg.Done()
				_, err := registry.ApplyLocalMutation(ctx, id, models.NoteMutation{
					AddTags: []string{"tag"},
				})
				assert.NoError(t, err)
			}(parcelID, i)
		}
	}
	wg.Wait()

	assert.Equal(t, len(parcels), registry.Size())
	for _, parcelID := range parcels {
		assert.Equal(t, []string{"tag"}, registry.Materialize(parcelID).Tags)
	}
}
