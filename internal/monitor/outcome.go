package monitor

import (
	"time"

	"github.com/joseph-ayodele/batchwatch/constants"
	"github.com/joseph-ayodele/batchwatch/internal/reconcile"
)

// Outcome is the record of one finished job as handed to exporters and the archive.
type Outcome struct {
	TaskID            string
	DocumentName      string
	AffiliationType   constants.AffiliationType
	SubmitterName     string
	State             constants.MonitorState
	TotalRecords      int
	ProcessedRecords  int
	SuccessfulRecords int
	ErrorRecords      int
	DownloadRef       string
	ErrorMessage      string
	ErrorCode         string
	Timeline          []reconcile.Entry
	StartedAt         time.Time
	FinishedAt        time.Time
}

// NewOutcome combines the submission input with the final view.
func NewOutcome(in JobSubmission, v View, startedAt, finishedAt time.Time) Outcome {
	o := Outcome{
		TaskID:          v.TaskID,
		AffiliationType: in.AffiliationType,
		SubmitterName:   in.SubmitterName,
		State:           v.State,
		DownloadRef:     v.DownloadRef,
		ErrorMessage:    v.ErrorMessage,
		ErrorCode:       v.ErrorCode,
		Timeline:        v.Timeline,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
	}
	if in.Document != nil {
		o.DocumentName = in.Document.Name
	}
	if s := v.Snapshot; s != nil {
		o.TotalRecords = s.TotalRecords
		o.ProcessedRecords = s.ProcessedRecords
		o.SuccessfulRecords = s.SuccessfulRecords
		o.ErrorRecords = s.ErrorRecords
	}
	return o
}

// Duration is the wall time between submission and the terminal state.
func (o Outcome) Duration() time.Duration {
	if o.StartedAt.IsZero() || o.FinishedAt.Before(o.StartedAt) {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}
