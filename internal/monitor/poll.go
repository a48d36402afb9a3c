package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/joseph-ayodele/batchwatch/constants"
	"github.com/joseph-ayodele/batchwatch/internal/common"
)

// run drives one TaskHandle: an early poll after FirstPollDelay, then one every
// PollInterval. Polls run on this goroutine only, and the ticker drops ticks that
// fire while a fetch is in flight.
func (m *Monitor) run(ctx context.Context, loop *pollLoop, taskID string) {
	defer close(loop.done)

	first := time.NewTimer(m.opts.FirstPollDelay)
	defer first.Stop()
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	m.logger.Debug("monitor.loop.start", "task_id", taskID, "interval", m.opts.PollInterval.String())
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("monitor.loop.stop", "task_id", taskID)
			return
		case <-first.C:
		case <-ticker.C:
		}
		if !m.poll(ctx, loop.gen, taskID) {
			return
		}
	}
}

// poll fetches one snapshot and applies it. It reports whether polling should go on.
func (m *Monitor) poll(ctx context.Context, gen uint64, taskID string) bool {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	if !m.isCurrent(gen) {
		return false
	}

	start := time.Now()
	snap, err := m.backend.Status(ctx, taskID)

	m.mu.Lock()
	defer m.mu.Unlock()
	// A cancel, teardown or newer submission happened while the fetch was in flight.
	if gen != m.generation || m.state != constants.StateMonitoring {
		return false
	}

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		m.consecutiveErrors++
		m.timeline.Append("Error checking status: "+common.Message(err), constants.SeverityError)
		m.logger.Warn("monitor.poll.error",
			"task_id", taskID,
			"error", err,
			"consecutive_errors", m.consecutiveErrors,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		if m.consecutiveErrors >= m.opts.MaxConsecutiveErrors {
			msg := fmt.Sprintf("%s (%d consecutive failures), monitoring stopped", common.ErrCircuitOpen.Error(), m.consecutiveErrors)
			m.timeline.Append("🚨 "+msg, constants.SeverityError)
			m.finishLocked(constants.StateErrored, common.NewAppError(common.CodeCircuitOpen, msg, common.ErrCircuitOpen))
			m.logger.Error("monitor.circuit_open", "task_id", taskID, "consecutive_errors", m.consecutiveErrors)
			return false
		}
		m.notifyLocked()
		return true
	}

	m.consecutiveErrors = 0
	added := m.timeline.Absorb(snap.Logs)
	m.snapshot = snap
	m.logger.Debug("monitor.poll.ok",
		"task_id", taskID,
		"status", string(snap.Status),
		"new_entries", len(added),
		"consumed", m.timeline.Consumed(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if !snap.Status.Terminal() {
		m.notifyLocked()
		return true
	}

	if snap.Status == constants.TaskStatusCompleted {
		m.timeline.Append(fmt.Sprintf("🎉 Process completed! %d successful, %d errors", snap.SuccessfulRecords, snap.ErrorRecords), constants.SeveritySuccess)
		m.downloadRef = DownloadRef(m.opts.DownloadBaseURL, snap.ResultFileURL)
		m.finishLocked(constants.StateCompleted, nil)
		m.logger.Info("monitor.completed",
			"task_id", taskID,
			"successful_records", snap.SuccessfulRecords,
			"error_records", snap.ErrorRecords,
			"download_ref", m.downloadRef,
		)
		return false
	}

	msg := snap.Message
	if msg == "" {
		msg = "the processing service reported an error"
	}
	m.timeline.Append("🚨 Process error: "+msg, constants.SeverityError)
	m.finishLocked(constants.StateErrored, common.NewAppError(common.CodeRemoteJob, msg, common.ErrRemoteJob))
	m.logger.Error("monitor.remote_error", "task_id", taskID, "message", msg)
	return false
}

func (m *Monitor) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation && m.state == constants.StateMonitoring
}

// finishLocked moves to a terminal state and clears the loop. It runs on the loop
// goroutine, so it cancels without waiting.
func (m *Monitor) finishLocked(state constants.MonitorState, err error) {
	m.stopLocked()
	m.state = state
	if err != nil {
		m.err = err
		m.errMsg = common.Message(err)
	}
	m.notifyLocked()
}
