package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/batchwatch/constants"
	"github.com/joseph-ayodele/batchwatch/internal/api"
	"github.com/joseph-ayodele/batchwatch/internal/common"
	"github.com/joseph-ayodele/batchwatch/internal/reconcile"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("monitor closed")

// Backend is the processing service as seen by the monitor. *api.Client satisfies it.
type Backend interface {
	Submit(ctx context.Context, in api.SubmitRequest) (*api.SubmitResponse, error)
	Status(ctx context.Context, taskID string) (*api.Snapshot, error)
}

// HealthSource exposes the one-shot connection health. *health.Prober satisfies it.
type HealthSource interface {
	Current() constants.Health
}

// JobSubmission is the user input for one batch job.
type JobSubmission struct {
	Document        *api.Document
	AffiliationType constants.AffiliationType
	SubmitterName   string
}

// TaskHandle identifies the job currently tracked by a Monitor.
type TaskHandle struct {
	TaskID               string
	TotalRecords         *int
	EstimatedTimeMinutes *float64
}

// pollLoop is the single background activity of a Monitor: one goroutine per
// TaskHandle, replaced or cleared as a unit.
type pollLoop struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *pollLoop) wait() {
	if l != nil {
		<-l.done
	}
}

// Monitor owns the lifecycle of one in-flight remote job: submission, fixed-interval
// polling, terminal detection, the consecutive-failure breaker and cancellation.
type Monitor struct {
	backend  Backend
	health   HealthSource
	opts     Options
	logger   *slog.Logger
	timeline *reconcile.Timeline

	// pollMu serializes status fetches so overlapping log suffixes are never applied twice.
	pollMu sync.Mutex

	mu                sync.Mutex
	state             constants.MonitorState
	handle            *TaskHandle
	snapshot          *api.Snapshot
	downloadRef       string
	err               error
	errMsg            string
	consecutiveErrors int
	generation        uint64
	loop              *pollLoop
	closed            bool
	changed           chan struct{}
}

func New(backend Backend, health HealthSource, opts Options, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Monitor{
		backend:  backend,
		health:   health,
		opts:     opts,
		logger:   logger,
		timeline: reconcile.NewTimeline(reconcile.WithClock(opts.Clock)),
		state:    constants.StateIdle,
		changed:  make(chan struct{}),
	}
}

// Submit validates the input, clears every artifact of the previous job, stops any
// running poll loop, and creates the remote job. On success the monitor is in
// Monitoring with exactly one poll loop; on failure it is in Errored with none.
// Validation failures return before any network call and leave the state unchanged.
// They only become the active error when no job is in flight.
func (m *Monitor) Submit(ctx context.Context, in JobSubmission) (TaskHandle, error) {
	if err := m.validate(in); err != nil {
		m.mu.Lock()
		// A live job keeps its own view; the caller still gets the error.
		if !m.state.Busy() {
			m.err = err
			m.errMsg = common.Message(err)
			m.notifyLocked()
		}
		m.mu.Unlock()
		m.logger.Warn("monitor.submit.rejected", "error", err)
		return TaskHandle{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return TaskHandle{}, ErrClosed
	}
	if m.state == constants.StateSubmitting {
		m.mu.Unlock()
		return TaskHandle{}, common.NewAppError(common.CodeSubmission, common.ErrSubmissionInProgress.Error(), common.ErrSubmissionInProgress)
	}
	prev := m.stopLocked()
	m.resetLocked()
	m.generation++
	gen := m.generation
	m.state = constants.StateSubmitting
	m.notifyLocked()
	m.mu.Unlock()

	// The old loop has been cancelled; wait for it so two loops never overlap.
	prev.wait()

	start := time.Now()
	m.logger.Info("monitor.submit.start",
		"document", in.Document.Name,
		"affiliation_type", string(in.AffiliationType),
		"submitter", in.SubmitterName,
	)
	resp, err := m.backend.Submit(ctx, api.SubmitRequest{
		Document:        in.Document,
		AffiliationType: in.AffiliationType,
		SubmitterName:   in.SubmitterName,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.closed {
		return TaskHandle{}, ErrClosed
	}

	if err != nil {
		msg := common.Message(err)
		if msg == "" {
			msg = "error processing file"
		}
		if !errors.Is(err, common.ErrSubmission) {
			err = common.NewAppError(common.CodeSubmission, msg, fmt.Errorf("%w: %v", common.ErrSubmission, err))
		}
		m.timeline.Append("🚨 Error: "+msg, constants.SeverityError)
		m.err = err
		m.errMsg = msg
		m.state = constants.StateErrored
		m.notifyLocked()
		m.logger.Error("monitor.submit.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return TaskHandle{}, err
	}

	h := TaskHandle{
		TaskID:               resp.TaskID,
		TotalRecords:         resp.TotalRecords,
		EstimatedTimeMinutes: resp.EstimatedTimeMinutes,
	}
	m.handle = &h
	m.state = constants.StateMonitoring
	m.startLocked(gen, h.TaskID)
	m.notifyLocked()
	m.logger.Info("monitor.submit.ok",
		"task_id", h.TaskID,
		"total_records", h.TotalRecords,
		"estimated_time_minutes", h.EstimatedTimeMinutes,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return h, nil
}

// Cancel stops monitoring the current job and returns to Idle without an error.
// It is a no-op unless the monitor is in Monitoring.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	if m.state != constants.StateMonitoring {
		m.mu.Unlock()
		return
	}
	loop := m.stopLocked()
	m.state = constants.StateIdle
	m.timeline.Append("🛑 Monitoring stopped manually", constants.SeverityWarning)
	m.notifyLocked()
	taskID := m.taskIDLocked()
	m.mu.Unlock()

	loop.wait()
	m.logger.Info("monitor.cancelled", "task_id", taskID)
}

// Close tears the monitor down: the poll loop is stopped and waited for, and later
// submissions fail with ErrClosed. Nothing is appended to the timeline.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation++
	loop := m.stopLocked()
	if m.state == constants.StateMonitoring || m.state == constants.StateSubmitting {
		m.state = constants.StateIdle
	}
	m.notifyLocked()
	m.mu.Unlock()
	loop.wait()
}

// View returns a snapshot of the monitor for rendering. It has no side effects.
func (m *Monitor) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// Changed returns a channel that is closed on the next state or timeline change.
func (m *Monitor) Changed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// Wait blocks until no submission or poll loop is in flight and returns the view.
func (m *Monitor) Wait(ctx context.Context) (View, error) {
	for {
		m.mu.Lock()
		v := m.viewLocked()
		ch := m.changed
		m.mu.Unlock()
		if !v.Busy() {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-ch:
		}
	}
}

// Err returns the error behind the current ErrorMessage, if any.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Monitor) validate(in JobSubmission) error {
	v := common.NewValidator().
		Check(in.Document != nil, "document", nil, "a spreadsheet document is required").
		Field("submitter name", in.SubmitterName, common.Required, common.MaxLength(200)).
		Field("affiliation type", string(in.AffiliationType), common.OneOf(constants.AffiliationsAsStringSlice()...))
	if m.opts.RequireConnectivityCheck {
		h := m.connection()
		if h != constants.HealthConnected {
			v.Check(false, "connection", h, "processing server is not connected")
			return common.NewAppError(common.CodeValidation, v.ErrorMessage(), errors.Join(common.ErrValidation, common.ErrNotConnected))
		}
	}
	return v.Err()
}

func (m *Monitor) connection() constants.Health {
	if m.health == nil {
		return constants.HealthChecking
	}
	return m.health.Current()
}

func (m *Monitor) startLocked(gen uint64, taskID string) {
	ctx, cancel := context.WithCancel(common.WithTaskID(context.Background(), taskID))
	loop := &pollLoop{gen: gen, cancel: cancel, done: make(chan struct{})}
	m.loop = loop
	go m.run(ctx, loop, taskID)
}

// stopLocked cancels the poll loop and detaches it. The caller waits on the returned
// loop outside the lock, unless it runs on the loop goroutine itself.
func (m *Monitor) stopLocked() *pollLoop {
	loop := m.loop
	if loop != nil {
		loop.cancel()
		m.loop = nil
	}
	return loop
}

func (m *Monitor) resetLocked() {
	m.timeline.Reset()
	m.handle = nil
	m.snapshot = nil
	m.downloadRef = ""
	m.err = nil
	m.errMsg = ""
	m.consecutiveErrors = 0
}

func (m *Monitor) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Monitor) taskIDLocked() string {
	if m.handle == nil {
		return ""
	}
	return m.handle.TaskID
}

func (m *Monitor) viewLocked() View {
	v := View{
		State:        m.state,
		TaskID:       m.taskIDLocked(),
		Snapshot:     copySnapshot(m.snapshot),
		Timeline:     m.timeline.Entries(),
		DownloadRef:  m.downloadRef,
		ErrorMessage: m.errMsg,
		ErrorCode:    common.CodeOf(m.err),
		Connection:   m.connection(),
	}
	return v
}
