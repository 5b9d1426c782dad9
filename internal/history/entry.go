// Package history records finished mutating Jobs in a BoltDB store.
package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one finished mutating Job.
type Entry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Role      string        `json:"role"`
	Backend   string        `json:"backend"`
	Packages  []string      `json:"packages"` // canonical ids of the packages touched
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// NewEntry creates a new history entry.
func NewEntry(role, backend string, packages []string) *Entry {
	return &Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Role:      role,
		Backend:   backend,
		Packages:  append([]string(nil), packages...),
		Success:   false, // Will be updated after the Job ends
	}
}

// MarkSuccess marks the entry as successful.
func (e *Entry) MarkSuccess() {
	e.Success = true
	e.Error = ""
}

// MarkFailed marks the entry as failed with an error message.
func (e *Entry) MarkFailed(err error) {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
}

// FormatTime returns a human-readable timestamp.
func (e *Entry) FormatTime() string {
	return e.Timestamp.Format("2006-01-02 15:04:05")
}

// Summary returns a brief one-line summary.
func (e *Entry) Summary() string {
	status := "success"
	if !e.Success {
		status = "failed"
	}

	switch n := len(e.Packages); n {
	case 0:
		return fmt.Sprintf("%s %s [%s] (%s)", e.FormatTime(), e.Role, e.Backend, status)
	case 1:
		return fmt.Sprintf("%s %s %s [%s] (%s)", e.FormatTime(), e.Role, e.Packages[0], e.Backend, status)
	default:
		return fmt.Sprintf("%s %s %s and %d more [%s] (%s)", e.FormatTime(), e.Role, e.Packages[0], n-1, e.Backend, status)
	}
}

// key orders entries chronologically; the id breaks ties.
func (e *Entry) key() []byte {
	return []byte(e.Timestamp.UTC().Format("20060102T150405.000000000") + "/" + e.ID)
}
