package crdt

import (
	"encoding/json"
	"sort"
	"time"
)

// Element представляет элемент LWW-Element-Set: ключ, опциональный payload
// и версия правки. Удаление мягкое (Deleted = true), элемент физически
// остается в множестве для корректного слияния с отставшими репликами.
type Element struct {
	At        time.Time       `json:"at"`                // At физическое время правки (информативно)
	Key       string          `json:"key"`               // Key уникальный ключ элемента
	NodeID    string          `json:"node_id"`           // NodeID реплика, сделавшая правку
	Payload   json.RawMessage `json:"payload,omitempty"` // Payload доменные данные элемента (JSON)
	Timestamp int64           `json:"timestamp"`         // Timestamp Lamport timestamp правки
	Deleted   bool            `json:"deleted"`           // Deleted флаг мягкого удаления
}

// IsNewerThan сравнивает две версии элемента по правилу LWW:
// сначала Timestamp, при равенстве NodeID лексикографически.
func (e *Element) IsNewerThan(other *Element) bool {
	if e.Timestamp > other.Timestamp {
		return true
	}
	if e.Timestamp < other.Timestamp {
		return false
	}
	return e.NodeID > other.NodeID
}

// Clone создает глубокую копию элемента.
func (e *Element) Clone() *Element {
	payload := make(json.RawMessage, len(e.Payload))
	copy(payload, e.Payload)

	return &Element{
		Key:       e.Key,
		Payload:   payload,
		Timestamp: e.Timestamp,
		NodeID:    e.NodeID,
		Deleted:   e.Deleted,
		At:        e.At,
	}
}

// ElementSet представляет Last-Writer-Wins Element Set для тегов и вложений
// документа. Конфликты при слиянии разрешаются автоматически по правилу LWW,
// операция слияния коммутативна и идемпотентна.
type ElementSet struct {
	elements map[string]*Element // map[key]element
}

// NewElementSet создает новый пустой LWW-Element-Set.
func NewElementSet() *ElementSet {
	return &ElementSet{
		elements: make(map[string]*Element),
	}
}

// Add добавляет элемент или воскрешает удаленный, если новая версия новее.
// Возвращает true, если множество изменилось.
func (s *ElementSet) Add(key string, payload json.RawMessage, timestamp int64, nodeID string) bool {
	entry := &Element{
		Key:       key,
		Payload:   payload,
		Timestamp: timestamp,
		NodeID:    nodeID,
		Deleted:   false,
		At:        time.Now().UTC(),
	}
	return s.apply(entry)
}

// Remove помечает элемент как удаленный (soft delete).
// Возвращает true, если множество изменилось.
func (s *ElementSet) Remove(key string, timestamp int64, nodeID string) bool {
	entry := &Element{
		Key:       key,
		Timestamp: timestamp,
		NodeID:    nodeID,
		Deleted:   true,
		At:        time.Now().UTC(),
	}
	return s.apply(entry)
}

// apply применяет версию элемента по правилу LWW.
func (s *ElementSet) apply(entry *Element) bool {
	existing, exists := s.elements[entry.Key]

	// Если элемента нет - добавляем
	if !exists {
		s.elements[entry.Key] = entry.Clone()
		return true
	}

	// Если новая версия новее - обновляем
	if entry.IsNewerThan(existing) {
		s.elements[entry.Key] = entry.Clone()
		return true
	}

	return false
}

// Get возвращает элемент по ключу.
// Возвращает nil, если элемент не найден или помечен как удаленный.
func (s *ElementSet) Get(key string) *Element {
	entry, exists := s.elements[key]
	if !exists || entry.Deleted {
		return nil
	}
	return entry.Clone()
}

// Version возвращает текущую версию элемента, включая удаленные.
// Используется при формировании минимальной дельты локальной правки.
func (s *ElementSet) Version(key string) *Element {
	entry, exists := s.elements[key]
	if !exists {
		return nil
	}
	return entry.Clone()
}

// Contains проверяет наличие неудаленного элемента с заданным ключом.
func (s *ElementSet) Contains(key string) bool {
	entry, exists := s.elements[key]
	return exists && !entry.Deleted
}

// Active возвращает все неудаленные элементы, отсортированные по ключу.
func (s *ElementSet) Active() []*Element {
	result := make([]*Element, 0, len(s.elements))
	for _, entry := range s.elements {
		if !entry.Deleted {
			result = append(result, entry.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})

	return result
}

// All возвращает все элементы, включая удаленные, отсортированные по ключу.
// Используется для кодирования полного состояния при синхронизации.
func (s *ElementSet) All() []*Element {
	result := make([]*Element, 0, len(s.elements))
	for _, entry := range s.elements {
		result = append(result, entry.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})

	return result
}

// MergeFrom сливает версии элементов из другого множества по правилу LWW.
// Возвращает true, если хотя бы один элемент был обновлен.
// Операция коммутативна, ассоциативна и идемпотентна.
func (s *ElementSet) MergeFrom(entries []*Element) bool {
	changed := false
	for _, entry := range entries {
		if s.apply(entry) {
			changed = true
		}
	}
	return changed
}

// Size возвращает количество неудаленных элементов.
func (s *ElementSet) Size() int {
	count := 0
	for _, entry := range s.elements {
		if !entry.Deleted {
			count++
		}
	}
	return count
}
