package cli

const usageTemplate = `
FieldSync Client

Usage:
  fieldsync [OPTIONS] COMMAND

Options:
  --version      Show version information
  --server URL   Sync server URL (default: http://localhost:8080)
  --db PATH      Path to local database (default: fieldsync-client.db)

Commands:
  notes get <parcel-id> [--remote]   Show parcel field notes (local replica by default)
  notes set <parcel-id> [options]    Edit parcel field notes offline
      --notes TEXT                   Replace the notes text
      --editor NAME                  Who is making the change
      --add-tag TAG                  Add a tag (repeatable)
      --remove-tag TAG               Remove a tag (repeatable)
      --attach FILENAME              Attach a file reference (repeatable)
      --remove-attachment ID         Remove an attachment by id (repeatable)
  sync <parcel-id>                   Exchange document state with the server
  run                                Keep draining the queue until interrupted
                                     (retries fire automatically on backoff)
  queue list                         Show queued operations
  queue retry <operation-id>         Re-queue a failed operation
  queue retry-all                    Re-queue all failed operations
  queue clear                        Remove completed operations
  queue cancel <operation-id>        Cancel a pending operation
  conflicts list                     Show conflict records
  conflicts resolve <id> [strategy]  Resolve a conflict (local-wins, remote-wins, merge-fields, manual)
  conflicts clear                    Remove resolved conflict records
  status                             Show replica id, queue and conflict counters

Examples:
  fieldsync notes set pc-1042 --notes 'deck needs repair' --editor appraiser-7 --add-tag needs-review
  fieldsync notes get pc-1042
  fieldsync sync pc-1042
  fieldsync queue list
  fieldsync conflicts resolve b692f5c0-2d88-4aa1-a9e1-13aa6e4976d5 merge-fields
`

const notesViewTemplate = `
=== Parcel Notes: {{.ParcelID}} ({{.Source}}) ===

{{- if .Notes }}

Notes:
---
{{.Notes}}
---
{{- else }}

No notes recorded.
{{- end }}
{{- if .LastEditor }}
Last editor: {{.LastEditor}}
{{- end }}
{{- if .Tags }}
Tags: {{range .Tags}}{{.}} {{end}}
{{- end }}
{{- if .Attachments }}
Attachments:
{{- range .Attachments }}
  - {{ . }}
{{- end }}
{{- end }}
{{- if not .UpdatedAt.IsZero }}
Updated: {{.UpdatedAt.Format "2006-01-02 15:04:05"}}
{{- end }}
`

const queueListTemplate = `
=== Operation Queue ===

{{- if eq (len .) 0 }}

Queue is empty.
{{ else }}

Found {{len .}} operation(s):

{{- range . }}
- {{ .Type }} on {{ .ResourceID }}
   ID:      {{ .ID }}
   Status:  {{ .Status }}
   {{- if .RetryCount }}
   Retries: {{ .RetryCount }}
   {{- end }}
   {{- if .LastError }}
   Error:   {{ .LastError }}
   {{- end }}
   Created: {{ .CreatedAt.Format "2006-01-02 15:04:05" }}

{{- end }}
Use 'fieldsync queue retry <id>' to re-queue a failed operation.
{{- end }}
`

const conflictListTemplate = `
=== Conflict Records ===

{{- if eq (len .) 0 }}

No conflicts recorded.
{{ else }}

Found {{len .}} conflict(s):

{{- range . }}
- {{ .DataType }} on {{ .ResourceID }}
   ID:       {{ .ID }}
   Status:   {{ .Status }}
   Local:    revision {{ .Local.Revision }} (base {{ .Local.BaseRevision }})
   Remote:   revision {{ .Remote.Revision }} (base {{ .Remote.BaseRevision }})
   {{- if .Resolved }}
   Resolved: revision {{ .Resolved.Revision }} via {{ .Strategy }}
   {{- end }}
   {{- if .LastError }}
   Error:    {{ .LastError }}
   {{- end }}
   Detected: {{ .DetectedAt.Format "2006-01-02 15:04:05" }}

{{- end }}
Use 'fieldsync conflicts resolve <id> <strategy>' to resolve.
{{- end }}
`
