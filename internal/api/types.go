package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/batchwatch/constants"
)

// Document is the spreadsheet being submitted. It can be reopened, so a failed
// submission can be retried with the same value.
type Document struct {
	Name string
	Path string
	Size int64

	open func() (io.ReadCloser, error)
}

// DocumentFromFile stats path and returns a Document that reads it on demand.
func DocumentFromFile(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat document: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("document %s is a directory", path)
	}
	return &Document{
		Name: filepath.Base(path),
		Path: path,
		Size: info.Size(),
		open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// DocumentFromBytes wraps in-memory content.
func DocumentFromBytes(name string, content []byte) *Document {
	return &Document{
		Name: name,
		Size: int64(len(content)),
		open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(content)), nil },
	}
}

// Open returns a fresh reader over the document content.
func (d *Document) Open() (io.ReadCloser, error) {
	if d == nil || d.open == nil {
		return nil, fmt.Errorf("document has no content")
	}
	return d.open()
}

// SubmitRequest is the multipart payload for POST /procesar.
type SubmitRequest struct {
	Document        *Document
	AffiliationType constants.AffiliationType
	SubmitterName   string
}

// SubmitResponse is the body returned when a job is accepted.
type SubmitResponse struct {
	TaskID               string   `json:"task_id"`
	TotalRecords         *int     `json:"total_records,omitempty"`
	EstimatedTimeMinutes *float64 `json:"estimated_time_minutes,omitempty"`
}

// Snapshot is the full status payload of one poll. Counters default to 0 and
// Progress is nil when the server did not report it.
type Snapshot struct {
	Status            constants.TaskStatus `json:"status"`
	Progress          *float64             `json:"progress,omitempty"`
	ProcessedRecords  int                  `json:"processed_records"`
	TotalRecords      int                  `json:"total_records"`
	SuccessfulRecords int                  `json:"successful_records"`
	ErrorRecords      int                  `json:"error_records"`
	CurrentProcessing string               `json:"current_processing,omitempty"`
	Logs              []string             `json:"logs"`
	ResultFileURL     string               `json:"result_file_url,omitempty"`
	Message           string               `json:"message,omitempty"`
}

// ProcessingLabel returns CurrentProcessing only while the job is processing.
func (s *Snapshot) ProcessingLabel() string {
	if s == nil || s.Status != constants.TaskStatusProcessing {
		return ""
	}
	return s.CurrentProcessing
}

// statusPayload mirrors the wire shape where every field may be null or missing.
type statusPayload struct {
	Status            *string  `json:"status"`
	Progress          *float64 `json:"progress"`
	ProcessedRecords  *int     `json:"processed_records"`
	TotalRecords      *int     `json:"total_records"`
	SuccessfulRecords *int     `json:"successful_records"`
	ErrorRecords      *int     `json:"error_records"`
	CurrentProcessing *string  `json:"current_processing"`
	Logs              []string `json:"logs"`
	ResultFileURL     *string  `json:"result_file_url"`
	Message           *string  `json:"message"`
}

func (p statusPayload) snapshot() *Snapshot {
	s := &Snapshot{
		Status:            constants.ParseTaskStatus(deref(p.Status)),
		Progress:          clampProgress(p.Progress),
		ProcessedRecords:  derefInt(p.ProcessedRecords),
		TotalRecords:      derefInt(p.TotalRecords),
		SuccessfulRecords: derefInt(p.SuccessfulRecords),
		ErrorRecords:      derefInt(p.ErrorRecords),
		CurrentProcessing: deref(p.CurrentProcessing),
		Logs:              p.Logs,
		ResultFileURL:     deref(p.ResultFileURL),
		Message:           deref(p.Message),
	}
	if s.Logs == nil {
		s.Logs = []string{}
	}
	return s
}

// clampProgress keeps a reported percentage within 0..100. Servers round past 100 near the end.
func clampProgress(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := math.Min(math.Max(*p, 0), 100)
	return &v
}

// errorBody is the failure shape: {detail} from FastAPI-style servers or {message}.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// text returns the most specific human-readable reason in the body, or "".
func (b errorBody) text() string {
	if len(b.Detail) > 0 && string(b.Detail) != "null" {
		var s string
		if err := json.Unmarshal(b.Detail, &s); err == nil {
			return s
		}
		return string(b.Detail)
	}
	return b.Message
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt(p *int) int {
	if p == nil || *p < 0 {
		return 0
	}
	return *p
}
