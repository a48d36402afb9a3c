package constants

// TaskStatus is the status string reported by the remote service on each poll.
type TaskStatus string

// Stable values (exact strings on the wire).
const (
	TaskStatusQueued     TaskStatus = "queued" // default until the server reports a status
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed" // terminal
	TaskStatusError      TaskStatus = "error"     // terminal
)

// ParseTaskStatus maps a raw status to a TaskStatus. Unknown or empty values are queued.
func ParseTaskStatus(s string) TaskStatus {
	switch TaskStatus(s) {
	case TaskStatusProcessing, TaskStatusCompleted, TaskStatusError:
		return TaskStatus(s)
	default:
		return TaskStatusQueued
	}
}

// Terminal reports whether no further polling should happen for a task in this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusError
}

// MonitorState is the derived client state exposed for rendering.
type MonitorState string

const (
	StateIdle       MonitorState = "idle"
	StateSubmitting MonitorState = "submitting"
	StateMonitoring MonitorState = "processing"
	StateCompleted  MonitorState = "completed"
	StateErrored    MonitorState = "errored"
)

// Busy reports whether a submission or poll loop is in flight.
func (s MonitorState) Busy() bool {
	return s == StateSubmitting || s == StateMonitoring
}

// Terminal reports whether the state is Completed or Errored.
func (s MonitorState) Terminal() bool {
	return s == StateCompleted || s == StateErrored
}

// Health is the process-wide connectivity signal.
type Health string

const (
	HealthChecking  Health = "checking"
	HealthConnected Health = "connected"
	HealthError     Health = "error"
)
