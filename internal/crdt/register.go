package crdt

import "time"

// Register представляет Last-Writer-Wins регистр для одного скалярного поля
// документа. Побеждает запись с большим Lamport timestamp; при равных
// timestamp сравниваются NodeID (лексикографически) для детерминизма.
// Это осознанная политика слияния, а не ошибка: конкурирующие правки
// одного поля разрешаются молча по порядку (timestamp, node_id).
type Register struct {
	At        time.Time `json:"at"`        // At физическое время правки (информативно)
	Value     string    `json:"value"`     // Value текущее значение поля
	NodeID    string    `json:"node_id"`   // NodeID реплика, сделавшая правку
	Timestamp int64     `json:"timestamp"` // Timestamp Lamport timestamp правки
}

// IsNewerThan сравнивает две версии регистра по правилу LWW.
// Возвращает true, если текущая версия новее, чем other.
func (r *Register) IsNewerThan(other *Register) bool {
	if r.Timestamp > other.Timestamp {
		return true
	}
	if r.Timestamp < other.Timestamp {
		return false
	}
	// Timestamps равны - сравниваем NodeID для детерминизма
	return r.NodeID > other.NodeID
}

// Assign записывает новое значение с заданным timestamp.
func (r *Register) Assign(value string, timestamp int64, nodeID string) {
	r.Value = value
	r.Timestamp = timestamp
	r.NodeID = nodeID
	r.At = time.Now().UTC()
}

// MergeFrom применяет удаленную версию регистра по правилу LWW.
// Возвращает true, если локальное значение было обновлено.
// Операция коммутативна и идемпотентна.
func (r *Register) MergeFrom(other *Register) bool {
	if other == nil {
		return false
	}
	if !other.IsNewerThan(r) {
		return false
	}
	*r = *other
	return true
}

// Clone создает копию состояния регистра.
func (r *Register) Clone() *Register {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// IsZero сообщает, присваивалось ли регистру значение хоть раз.
func (r *Register) IsZero() bool {
	return r.Timestamp == 0 && r.NodeID == ""
}
