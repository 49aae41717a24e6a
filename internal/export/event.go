package export

import (
	"github.com/starford/mixport/internal/models"
)

// EventType names an export notification.
type EventType string

const (
	EventProgress EventType = "EXPORT_PROGRESS"
	EventStats    EventType = "EXPORT_STATS"
	EventComplete EventType = "EXPORT_COMPLETE"
	EventError    EventType = "EXPORT_ERROR"
)

// Event is one notification emitted by a run.
type Event struct {
	Type     EventType
	Progress float64
	Message  string
	Stats    models.ExportStats
	Location string
	Err      error
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Payload returns the wire form of the event body.
func (e Event) Payload() map[string]any {
	switch e.Type {
	case EventProgress:
		return map[string]any{"progress": e.Progress, "message": e.Message}
	case EventStats:
		return map[string]any{"folders": e.Stats.Folders, "notes": e.Stats.Notes, "images": e.Stats.Images}
	case EventComplete:
		return map[string]any{
			"folders":  e.Stats.Folders,
			"notes":    e.Stats.Notes,
			"images":   e.Stats.Images,
			"location": e.Location,
		}
	case EventError:
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return map[string]any{"error": msg}
	default:
		return map[string]any{}
	}
}

func progress(p float64, msg string) Event {
	return Event{Type: EventProgress, Progress: p, Message: msg}
}
