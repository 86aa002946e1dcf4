package crdt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/parcelworks/fieldsync/internal/models"
)

// Document представляет реплицируемый CRDT-документ полевых заметок одного
// участка. Составлен из LWW-регистров для скалярных полей (текст заметок,
// последний редактор) и LWW-Element-Set для тегов и вложений.
//
// Инвариант: применение одного и того же набора дельт в любом порядке,
// любое число раз (включая дубликаты) дает идентичное материализованное
// состояние. Слияние коммутативно, ассоциативно и идемпотентно, поэтому
// на этом уровне конфликтов не существует по построению.
type Document struct {
	clock       *LamportClock
	notes       *Register
	lastEditor  *Register
	tags        *ElementSet
	attachments *ElementSet
	mu          sync.Mutex
}

// Delta представляет сериализуемую единицу изменения документа.
// Полное состояние документа само является дельтой (join-полурешетка),
// поэтому один формат используется и для инкрементальных правок,
// и для catch-up обмена полным состоянием.
type Delta struct {
	Notes       *Register  `json:"notes,omitempty"`
	LastEditor  *Register  `json:"last_editor,omitempty"`
	Tags        []*Element `json:"tags,omitempty"`
	Attachments []*Element `json:"attachments,omitempty"`
	Clock       int64      `json:"clock"`
}

// NewDocument создает пустой документ с новым идентификатором реплики.
func NewDocument() *Document {
	return NewDocumentWithNodeID("")
}

// NewDocumentWithNodeID создает пустой документ с заданным идентификатором
// реплики. Пустой nodeID генерирует новый UUID.
func NewDocumentWithNodeID(nodeID string) *Document {
	var clock *LamportClock
	if nodeID == "" {
		clock = NewLamportClock()
	} else {
		clock = NewLamportClockWithNodeID(nodeID)
	}

	return &Document{
		clock:       clock,
		notes:       &Register{},
		lastEditor:  &Register{},
		tags:        NewElementSet(),
		attachments: NewElementSet(),
	}
}

// Apply применяет локальную мутацию и возвращает дельту, покрывающую ровно
// это изменение. Каждое затронутое поле получает свой Lamport timestamp.
func (d *Document) Apply(m models.NoteMutation) *Delta {
	d.mu.Lock()
	defer d.mu.Unlock()

	nodeID := d.clock.GetNodeID()
	delta := &Delta{}

	if m.Notes != nil {
		d.notes.Assign(*m.Notes, d.clock.Tick(), nodeID)
		delta.Notes = d.notes.Clone()
	}

	if m.Editor != "" {
		d.lastEditor.Assign(m.Editor, d.clock.Tick(), nodeID)
		delta.LastEditor = d.lastEditor.Clone()
	}

	for _, tag := range m.AddTags {
		d.tags.Add(tag, nil, d.clock.Tick(), nodeID)
		delta.Tags = append(delta.Tags, d.tags.Version(tag))
	}
	for _, tag := range m.RemoveTags {
		d.tags.Remove(tag, d.clock.Tick(), nodeID)
		delta.Tags = append(delta.Tags, d.tags.Version(tag))
	}

	for _, att := range m.AddAttachments {
		payload, err := json.Marshal(att)
		if err != nil {
			// Attachment состоит из строковых полей, Marshal не падает
			continue
		}
		d.attachments.Add(att.ID, payload, d.clock.Tick(), nodeID)
		delta.Attachments = append(delta.Attachments, d.attachments.Version(att.ID))
	}
	for _, id := range m.RemoveAttachments {
		d.attachments.Remove(id, d.clock.Tick(), nodeID)
		delta.Attachments = append(delta.Attachments, d.attachments.Version(id))
	}

	delta.Clock = d.clock.GetTimestamp()
	return delta
}

// Merge применяет дельту от удаленной реплики. Слияние атомарно на уровне
// вызова: дельта уже декодирована, ошибок здесь не бывает по построению.
// Возвращает true, если состояние документа изменилось.
func (d *Document) Merge(delta *Delta) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	changed := false

	if d.notes.MergeFrom(delta.Notes) {
		changed = true
	}
	if d.lastEditor.MergeFrom(delta.LastEditor) {
		changed = true
	}
	if d.tags.MergeFrom(delta.Tags) {
		changed = true
	}
	if d.attachments.MergeFrom(delta.Attachments) {
		changed = true
	}

	// Продвигаем Lamport-часы, чтобы следующая локальная правка
	// гарантированно была новее всего увиденного
	d.clock.Update(delta.Clock)

	return changed
}

// State возвращает полное состояние документа в виде дельты.
// Отправка этой дельты любой реплике приводит ее к нашему состоянию
// (с точностью до ее собственных несинхронизированных правок).
func (d *Document) State() *Delta {
	d.mu.Lock()
	defer d.mu.Unlock()

	return &Delta{
		Notes:       d.notes.Clone(),
		LastEditor:  d.lastEditor.Clone(),
		Tags:        d.tags.All(),
		Attachments: d.attachments.All(),
		Clock:       d.clock.GetTimestamp(),
	}
}

// Materialize проецирует внутреннее CRDT-состояние в плоский доменный объект.
// Чистая функция, без побочных эффектов.
func (d *Document) Materialize() models.NoteView {
	d.mu.Lock()
	defer d.mu.Unlock()

	view := models.NoteView{
		Notes:       d.notes.Value,
		LastEditor:  d.lastEditor.Value,
		Tags:        []string{},
		Attachments: []models.Attachment{},
	}

	updatedAt := latestTime(time.Time{}, d.notes.At)
	updatedAt = latestTime(updatedAt, d.lastEditor.At)

	for _, e := range d.tags.Active() {
		view.Tags = append(view.Tags, e.Key)
		updatedAt = latestTime(updatedAt, e.At)
	}

	for _, e := range d.attachments.Active() {
		var att models.Attachment
		if err := json.Unmarshal(e.Payload, &att); err != nil {
			// Битый payload вложения пропускаем, не ломая всю проекцию
			continue
		}
		view.Attachments = append(view.Attachments, att)
		updatedAt = latestTime(updatedAt, e.At)
	}

	view.UpdatedAt = updatedAt
	return view
}

// NodeID возвращает идентификатор реплики документа.
func (d *Document) NodeID() string {
	return d.clock.GetNodeID()
}

func latestTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// EncodeDelta сериализует дельту в непрозрачную байтовую последовательность.
func EncodeDelta(delta *Delta) ([]byte, error) {
	data, err := json.Marshal(delta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode delta: %w", err)
	}
	return data, nil
}

// DecodeDelta декодирует байты дельты. Некорректные байты возвращают
// *DecodeError; декодирование выполняется полностью до какого-либо
// слияния, поэтому документ при ошибке остается нетронутым.
func DecodeDelta(data []byte) (*Delta, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: fmt.Errorf("empty payload")}
	}

	var delta Delta
	if err := json.Unmarshal(data, &delta); err != nil {
		return nil, &DecodeError{Err: err}
	}

	return &delta, nil
}
