package engine

import (
	"sync"
	"time"
)

// Event is one item of a Job's result stream.
type Event interface {
	// Kind names the event type (e.g., "package", "finished").
	Kind() string
}

// PackageEvent reports one package.
type PackageEvent struct {
	Info      Info   `json:"info"`
	PackageID string `json:"package_id"`
	Summary   string `json:"summary"`
}

// DetailsEvent reports package metadata.
type DetailsEvent struct {
	PackageID    string `json:"package_id"`
	Summary      string `json:"summary"`
	License      string `json:"license"`
	Group        string `json:"group"`
	Description  string `json:"description"`
	URL          string `json:"url"`
	InstallSize  uint64 `json:"install_size"`
	DownloadSize uint64 `json:"download_size"`
}

// FilesEvent lists files. PackageID is empty for downloaded payload paths.
type FilesEvent struct {
	PackageID string   `json:"package_id"`
	Paths     []string `json:"paths"`
}

// UpdateDetailEvent describes one available update.
type UpdateDetailEvent struct {
	PackageID    string   `json:"package_id"`
	Updates      []string `json:"updates"`
	Obsoletes    []string `json:"obsoletes"`
	VendorURLs   []string `json:"vendor_urls"`
	BugzillaURLs []string `json:"bugzilla_urls"`
	CVEURLs      []string `json:"cve_urls"`
	Restart      Restart  `json:"restart"`
	Text         string   `json:"text"`
	Changelog    string   `json:"changelog"`
	State        string   `json:"state"`
	Issued       string   `json:"issued"`
	Updated      string   `json:"updated"`
}

// RepoDetailEvent reports one repository.
type RepoDetailEvent struct {
	RepoID  string `json:"repo_id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// ProgressEvent reports overall completion of the current phase.
type ProgressEvent struct {
	Percentage int `json:"percentage"`
}

// StatusEvent reports a status change.
type StatusEvent struct {
	Status Status `json:"status"`
}

// AllowCancelEvent reports whether the Job currently accepts cancellation.
type AllowCancelEvent struct {
	Allowed bool `json:"allowed"`
}

// TransactionEvent replays one recorded transaction.
type TransactionEvent struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Succeeded bool          `json:"succeeded"`
	Role      string        `json:"role"`
	Duration  time.Duration `json:"duration"`
	Data      string        `json:"data"`
}

// ErrorEvent terminates a failed Job.
type ErrorEvent struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// FinishedEvent terminates a successful Job.
type FinishedEvent struct {
	Runtime time.Duration `json:"runtime"`
}

func (PackageEvent) Kind() string      { return "package" }
func (DetailsEvent) Kind() string      { return "details" }
func (FilesEvent) Kind() string        { return "files" }
func (UpdateDetailEvent) Kind() string { return "update-detail" }
func (RepoDetailEvent) Kind() string   { return "repo-detail" }
func (ProgressEvent) Kind() string     { return "progress" }
func (StatusEvent) Kind() string       { return "status" }
func (AllowCancelEvent) Kind() string  { return "allow-cancel" }
func (TransactionEvent) Kind() string  { return "transaction" }
func (ErrorEvent) Kind() string        { return "error" }
func (FinishedEvent) Kind() string     { return "finished" }

// IsTerminal reports whether ev ends a Job's stream.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case ErrorEvent, FinishedEvent:
		return true
	}
	return false
}

// Sink receives a Job's events in order. Emit is never called concurrently
// for one Job.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ev Event) { f(ev) }

// Collector is a Sink that records events. It is safe to share across Jobs.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (c *Collector) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of the recorded events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Packages returns the recorded Package events.
func (c *Collector) Packages() []PackageEvent {
	var out []PackageEvent
	for _, ev := range c.Events() {
		if p, ok := ev.(PackageEvent); ok {
			out = append(out, p)
		}
	}
	return out
}

// Terminal returns the terminal event, or nil if the Job has not ended.
func (c *Collector) Terminal() Event {
	events := c.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if IsTerminal(events[i]) {
			return events[i]
		}
	}
	return nil
}
