package models

import "time"

// Attachment вложение полевой заметки (фото, скан, документ).
// Хранится как элемент CRDT-множества: добавление и удаление
// сливаются автоматически.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	AddedBy  string `json:"added_by,omitempty"`
}

// NoteView материализованное представление CRDT-документа заметок участка.
// Плоский доменный объект, который потребляют обработчики и UI;
// внутреннее CRDT-состояние наружу не выходит.
type NoteView struct {
	UpdatedAt   time.Time    `json:"updated_at"`
	Notes       string       `json:"notes"`
	LastEditor  string       `json:"last_editor"`
	Tags        []string     `json:"tags"`
	Attachments []Attachment `json:"attachments"`
}

// NoteMutation частичная локальная правка документа заметок.
// nil-поля остаются нетронутыми.
type NoteMutation struct {
	Notes             *string
	Editor            string
	AddTags           []string
	RemoveTags        []string
	AddAttachments    []Attachment
	RemoveAttachments []string
}

// IsEmpty сообщает, содержит ли мутация хоть одно изменение.
func (m NoteMutation) IsEmpty() bool {
	return m.Notes == nil &&
		len(m.AddTags) == 0 &&
		len(m.RemoveTags) == 0 &&
		len(m.AddAttachments) == 0 &&
		len(m.RemoveAttachments) == 0
}
