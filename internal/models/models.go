package models

import "fmt"

// LinkList is the ordered result of one extraction. Duplicates are kept.
type LinkList []string

// HasLinks reports whether a download run may be started for l.
func (l LinkList) HasLinks() bool {
	return len(l) > 0
}

// RunContext is everything a download run needs. It is owned by the run
// until the run finishes.
type RunContext struct {
	Links   LinkList
	DestDir string
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// DownloadResult is the outcome of one item. Index is 1-based.
type DownloadResult struct {
	Index    int
	URL      string
	Outcome  Outcome
	Filename string
	Bytes    int64
	Err      error
}

// Summary is the terminal notification payload of a run.
type Summary struct {
	SuccessCount int
	Total        int
	DestDir      string
}

type EventKind string

const (
	EventStarted  EventKind = "started"
	EventSuccess  EventKind = "success"
	EventFailure  EventKind = "failure"
	EventProgress EventKind = "progress"
	EventSummary  EventKind = "summary"
)

// Event is one entry of the stream a run emits to its collaborator.
type Event struct {
	RunID    string
	Kind     EventKind
	Index    int
	Total    int
	URL      string
	Filename string
	Progress float64
	Err      error
	Summary  Summary
}

// String renders the status line shown for the event.
func (e Event) String() string {
	switch e.Kind {
	case EventStarted:
		return fmt.Sprintf("Downloading image %d/%d...", e.Index, e.Total)
	case EventSuccess:
		return fmt.Sprintf("Successfully saved: %s", e.Filename)
	case EventFailure:
		return fmt.Sprintf("Download failed (link %d): %v", e.Index, e.Err)
	case EventProgress:
		return fmt.Sprintf("Progress: %.1f%%", e.Progress)
	case EventSummary:
		return fmt.Sprintf("Download completed! Successfully downloaded %d/%d images\nImages saved to: %s",
			e.Summary.SuccessCount, e.Summary.Total, e.Summary.DestDir)
	default:
		return string(e.Kind)
	}
}
