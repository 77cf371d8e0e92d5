package reconcile

import (
	"time"

	"github.com/zombor/cheque-reconciler/internal/extraction"
	"github.com/zombor/cheque-reconciler/internal/matching"
	"github.com/zombor/cheque-reconciler/internal/recognition"
)

// View is a read-only snapshot of a workflow, shaped for JSON
type View struct {
	ID           string                `json:"id"`
	Stage        Stage                 `json:"stage"`
	Image        *Image                `json:"image,omitempty"`
	Progress     *recognition.Progress `json:"progress,omitempty"`
	Failure      string                `json:"failure,omitempty"`
	Attempts     int                   `json:"attempts,omitempty"`
	Recognition  *recognition.Outcome  `json:"recognition,omitempty"`
	Fields       *extraction.Fields    `json:"fields,omitempty"`
	Decision     *matching.Decision    `json:"decision,omitempty"`
	Notes        string                `json:"notes,omitempty"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
	SettlementID string                `json:"settlement_id,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func newView(w *Workflow) *View {
	v := &View{
		ID:        w.ID,
		Stage:     w.state.Stage(),
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}

	switch s := w.state.(type) {
	case Uploaded:
		v.Image = &s.Image
		v.Progress = s.Progress
		v.Failure = s.Failure
		v.Attempts = s.Attempts
	case Extracted:
		v.Image = &s.Image
		v.Recognition = &s.Recognition
		v.Fields = &s.Fields
	case Matched:
		v.Image = &s.Image
		v.Recognition = &s.Recognition
		v.Fields = &s.Fields
		v.Decision = s.Decision
	case Completed:
		v.Image = &s.Image
		v.Recognition = &s.Recognition
		v.Fields = &s.Fields
		v.Decision = s.Decision
		v.Notes = s.Notes
		completedAt := s.CompletedAt
		v.CompletedAt = &completedAt
		v.SettlementID = s.SettlementID
	}
	return v
}
