package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/parcelworks/fieldsync/internal/models"
	"github.com/parcelworks/fieldsync/internal/validation"
)

var notesUsage = "Usage: fieldsync notes <get|set> <parcel-id> [options]"

// stringList flag-значение, накапливающее повторяющиеся флаги
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func (c *Cli) runNotes(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("missing arguments. %s", notesUsage)
	}

	subcommand, parcelID := args[0], args[1]
	if err := validation.ValidateParcelID(parcelID); err != nil {
		return err
	}

	switch subcommand {
	case "get":
		return c.runNotesGet(ctx, parcelID, args[2:])
	case "set":
		return c.runNotesSet(ctx, parcelID, args[2:])
	default:
		return fmt.Errorf("unknown subcommand: %s. %s", subcommand, notesUsage)
	}
}

// notesRender плоское представление заметок для шаблона вывода
type notesRender struct {
	ParcelID    string
	Source      string
	Notes       string
	LastEditor  string
	Tags        []string
	Attachments []string
	UpdatedAt   time.Time
}

// runNotesGet показывает заметки участка. По умолчанию читается локальная
// реплика (работает офлайн); --remote запрашивает сервер.
func (c *Cli) runNotesGet(ctx context.Context, parcelID string, args []string) error {
	fs := flag.NewFlagSet("notes get", flag.ContinueOnError)
	remote := fs.Bool("remote", false, "fetch notes from the server instead of the local replica")
	if err := fs.Parse(args); err != nil {
		return err
	}

	render := notesRender{ParcelID: parcelID, Source: "local replica"}

	if *remote {
		view, err := c.apiClient.GetNotes(ctx, parcelID)
		if err != nil {
			return fmt.Errorf("failed to fetch notes: %w", err)
		}
		render.Source = "server"
		render.Notes = view.Notes
		render.LastEditor = view.LastEditor
		render.Tags = view.Tags
		render.UpdatedAt = view.UpdatedAt
		for _, a := range view.Attachments {
			render.Attachments = append(render.Attachments, fmt.Sprintf("%s (%s)", a.Filename, a.ID))
		}
	} else {
		view := c.registry.Materialize(parcelID)
		render.Notes = view.Notes
		render.LastEditor = view.LastEditor
		render.Tags = view.Tags
		render.UpdatedAt = view.UpdatedAt
		for _, a := range view.Attachments {
			render.Attachments = append(render.Attachments, fmt.Sprintf("%s (%s)", a.Filename, a.ID))
		}
	}

	tmpl, err := template.New("notes").Parse(notesViewTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	return tmpl.Execute(c.io, render)
}

// runNotesSet применяет правку заметок к локальной реплике и ставит
// операцию в durable-очередь. Сеть не требуется: отправкой на сервер
// займется планировщик очереди.
func (c *Cli) runNotesSet(ctx context.Context, parcelID string, args []string) error {
	fs := flag.NewFlagSet("notes set", flag.ContinueOnError)
	notesText := fs.String("notes", "", "replace the notes text")
	editor := fs.String("editor", "", "name of the editor making the change")
	var addTags, removeTags stringList
	fs.Var(&addTags, "add-tag", "tag to add (repeatable)")
	fs.Var(&removeTags, "remove-tag", "tag to remove (repeatable)")
	var attach, removeAttachments stringList
	fs.Var(&attach, "attach", "attachment filename to add (repeatable)")
	fs.Var(&removeAttachments, "remove-attachment", "attachment id to remove (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	notesSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "notes" {
			notesSet = true
		}
	})

	for _, tag := range append(append(stringList{}, addTags...), removeTags...) {
		if err := validation.ValidateTag(tag); err != nil {
			return err
		}
	}

	// Идентификатор вложения выдается здесь, один раз: локальная реплика
	// и сервер должны сойтись на одном и том же id
	var attachments []models.Attachment
	for _, filename := range attach {
		attachments = append(attachments, models.Attachment{
			ID:       uuid.NewString(),
			Filename: filename,
			AddedBy:  *editor,
		})
	}

	mutation := models.NoteMutation{
		Editor:            *editor,
		AddTags:           addTags,
		RemoveTags:        removeTags,
		AddAttachments:    attachments,
		RemoveAttachments: removeAttachments,
	}
	if notesSet {
		mutation.Notes = notesText
	}

	if mutation.IsEmpty() {
		return fmt.Errorf("nothing to change. %s", notesUsage)
	}

	// Правка видна локально сразу, до любого контакта с сервером
	if _, err := c.registry.ApplyLocalMutation(ctx, parcelID, mutation); err != nil {
		return fmt.Errorf("failed to apply notes change: %w", err)
	}

	payload := models.UpdateParcelNotesPayload{
		ParcelID:          parcelID,
		Editor:            *editor,
		AddTags:           addTags,
		RemoveTags:        removeTags,
		AddAttachments:    attachments,
		RemoveAttachments: removeAttachments,
	}
	if notesSet {
		payload.Notes = notesText
	}

	op, err := c.queueService.Enqueue(ctx, payload)
	if err != nil {
		return fmt.Errorf("failed to enqueue notes update: %w", err)
	}

	c.io.Printf("✓ Notes updated locally, queued for sync (operation %s)\n", op.ID)
	return nil
}
