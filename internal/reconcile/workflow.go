package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/zombor/cheque-reconciler/internal/extraction"
	"github.com/zombor/cheque-reconciler/internal/matching"
	"github.com/zombor/cheque-reconciler/internal/recognition"
)

var (
	ErrChequeNotFound    = errors.New("cheque not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNoImage           = errors.New("cheque has no image")
	errStaleResult       = errors.New("stale recognition result")
)

// Stage names the state a workflow is in
type Stage string

const (
	StageIdle      Stage = "idle"
	StageUploaded  Stage = "uploaded"
	StageExtracted Stage = "extracted"
	StageMatched   Stage = "matched"
	StageCompleted Stage = "completed"
)

// Image describes a stored cheque image
type Image struct {
	Filename    string `json:"filename"`
	Path        string `json:"-"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// State is one of Idle, Uploaded, Extracted, Matched or Completed
type State interface {
	Stage() Stage
}

type Idle struct{}

// Uploaded holds an image waiting for, or failed by, recognition
type Uploaded struct {
	Image    Image
	Progress *recognition.Progress
	Failure  string
	Attempts int
}

type Extracted struct {
	Image       Image
	Recognition recognition.Outcome
	Fields      extraction.Fields
}

type Matched struct {
	Image       Image
	Recognition recognition.Outcome
	Fields      extraction.Fields
	Decision    *matching.Decision
}

// Completed is terminal until the workflow is reset
type Completed struct {
	Image        Image
	Recognition  recognition.Outcome
	Fields       extraction.Fields
	Decision     *matching.Decision
	Notes        string
	CompletedAt  time.Time
	SettlementID string
}

func (Idle) Stage() Stage      { return StageIdle }
func (Uploaded) Stage() Stage  { return StageUploaded }
func (Extracted) Stage() Stage { return StageExtracted }
func (Matched) Stage() Stage   { return StageMatched }
func (Completed) Stage() Stage { return StageCompleted }

// Workflow tracks one cheque from upload to completion. Every upload and
// reset mints a new instance tag; asynchronous results carry the tag they
// were launched with and are dropped when it no longer matches.
//
// Workflow is not safe for concurrent use.
type Workflow struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	tag   string
	state State
}

// NewWorkflow creates an idle workflow
func NewWorkflow(id, tag string, now time.Time) *Workflow {
	return &Workflow{ID: id, CreatedAt: now, UpdatedAt: now, tag: tag, state: Idle{}}
}

func (w *Workflow) State() State {
	return w.state
}

func (w *Workflow) Tag() string {
	return w.tag
}

func (w *Workflow) invalid(action string) error {
	return fmt.Errorf("%w: cannot %s a %s cheque", ErrInvalidTransition, action, w.state.Stage())
}

func (w *Workflow) set(state State, now time.Time) {
	w.state = state
	w.UpdatedAt = now
}

// Upload starts a new instance for img. It is accepted from every stage
// except Completed.
func (w *Workflow) Upload(img Image, tag string, now time.Time) error {
	if _, ok := w.state.(Completed); ok {
		return w.invalid("upload to")
	}
	w.tag = tag
	w.set(Uploaded{Image: img, Attempts: 1}, now)
	return nil
}

// Retry clears a recognition failure so the same image can be recognised
// again under a new tag. It returns the image to hand to the engine.
func (w *Workflow) Retry(tag string, now time.Time) (Image, error) {
	up, ok := w.state.(Uploaded)
	if !ok || up.Failure == "" {
		return Image{}, w.invalid("retry")
	}
	w.tag = tag
	up.Failure = ""
	up.Progress = nil
	up.Attempts++
	w.set(up, now)
	return up.Image, nil
}

// Progress records an advisory progress report
func (w *Workflow) Progress(tag string, p recognition.Progress) error {
	up, ok := w.state.(Uploaded)
	if tag != w.tag || !ok {
		return errStaleResult
	}
	up.Progress = &p
	w.state = up
	return nil
}

// Fail records a recognition failure, keeping the image for a retry
func (w *Workflow) Fail(tag string, message string, now time.Time) error {
	up, ok := w.state.(Uploaded)
	if tag != w.tag || !ok {
		return errStaleResult
	}
	up.Failure = message
	up.Progress = nil
	w.set(up, now)
	return nil
}

// Extract records a successful recognition and the fields read from it
func (w *Workflow) Extract(tag string, outcome recognition.Outcome, fields extraction.Fields, now time.Time) error {
	up, ok := w.state.(Uploaded)
	if tag != w.tag || !ok {
		return errStaleResult
	}
	w.set(Extracted{Image: up.Image, Recognition: outcome, Fields: fields}, now)
	return nil
}

// Match records the automatic decision for extracted fields
func (w *Workflow) Match(decision *matching.Decision, now time.Time) error {
	ex, ok := w.state.(Extracted)
	if !ok {
		return w.invalid("match")
	}
	w.set(Matched{Image: ex.Image, Recognition: ex.Recognition, Fields: ex.Fields, Decision: decision}, now)
	return nil
}

// Decide replaces the current decision with a manual match or reject
func (w *Workflow) Decide(decision *matching.Decision, now time.Time) error {
	m, ok := w.state.(Matched)
	if !ok {
		return w.invalid("decide on")
	}
	m.Decision = decision
	w.set(m, now)
	return nil
}

// matched returns the current state if a decision is waiting to be confirmed
func (w *Workflow) matched(action string) (Matched, error) {
	m, ok := w.state.(Matched)
	if !ok {
		return Matched{}, w.invalid(action)
	}
	return m, nil
}

// Complete finalises the current decision. Matching is not re-run.
func (w *Workflow) Complete(notes, settlementID string, now time.Time) error {
	m, ok := w.state.(Matched)
	if !ok {
		return w.invalid("complete")
	}
	w.set(Completed{
		Image:        m.Image,
		Recognition:  m.Recognition,
		Fields:       m.Fields,
		Decision:     m.Decision,
		Notes:        notes,
		CompletedAt:  now,
		SettlementID: settlementID,
	}, now)
	return nil
}

// Reset abandons everything and returns to Idle under a new tag. The
// previous image, if any, is returned so the caller can discard it.
func (w *Workflow) Reset(tag string, now time.Time) (Image, bool) {
	img, ok := imageOf(w.state)
	w.tag = tag
	w.set(Idle{}, now)
	return img, ok
}

func imageOf(state State) (Image, bool) {
	switch s := state.(type) {
	case Uploaded:
		return s.Image, true
	case Extracted:
		return s.Image, true
	case Matched:
		return s.Image, true
	case Completed:
		return s.Image, true
	}
	return Image{}, false
}
