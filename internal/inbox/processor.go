package inbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/batchwatch/constants"
	"github.com/joseph-ayodele/batchwatch/internal/api"
	"github.com/joseph-ayodele/batchwatch/internal/common"
	"github.com/joseph-ayodele/batchwatch/internal/monitor"
	"github.com/joseph-ayodele/batchwatch/internal/workbook"
)

// JobMonitor is the subset of *monitor.Monitor the processor drives.
type JobMonitor interface {
	Submit(ctx context.Context, in monitor.JobSubmission) (monitor.TaskHandle, error)
	Wait(ctx context.Context) (monitor.View, error)
	Cancel()
	Err() error
}

// Downloader fetches result files. *api.Client satisfies it.
type Downloader interface {
	Download(ctx context.Context, rawURL, dst string) (int64, error)
}

// Archiver stores finished runs. history.RunRepository satisfies it.
type Archiver interface {
	SaveRun(ctx context.Context, o monitor.Outcome) (uuid.UUID, error)
}

// TimelineWriter writes a run's timeline workbook. *workbook.Exporter satisfies it.
type TimelineWriter interface {
	WriteTimeline(ctx context.Context, o monitor.Outcome, path string) error
}

type ProcessorConfig struct {
	Dir             string
	OutDir          string
	AffiliationType constants.AffiliationType
	SubmitterName   string
	Download        bool
}

// Processor runs one inbox file through the monitor: preflight, submit, wait, export,
// download, archive, then move the source into OutDir.
type Processor struct {
	cfg        ProcessorConfig
	monitor    JobMonitor
	downloader Downloader
	exporter   TimelineWriter
	archive    Archiver
	logger     *slog.Logger
	now        func() time.Time
}

// NewProcessor wires the processor. downloader, exporter and archive may be nil.
func NewProcessor(cfg ProcessorConfig, m JobMonitor, downloader Downloader, exporter TimelineWriter, archive Archiver, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OutDir == "" {
		cfg.OutDir = filepath.Join(cfg.Dir, "processed")
	}
	return &Processor{
		cfg:        cfg,
		monitor:    m,
		downloader: downloader,
		exporter:   exporter,
		archive:    archive,
		logger:     logger,
		now:        time.Now,
	}
}

// OutDir is where processed files, results and timelines end up.
func (p *Processor) OutDir() string { return p.cfg.OutDir }

// AffiliationFor picks the affiliation type from the file's subdirectory
// (inbox/junior/file.xlsx) and falls back to the configured default.
func (p *Processor) AffiliationFor(file string) constants.AffiliationType {
	rel, err := filepath.Rel(p.cfg.Dir, filepath.Dir(file))
	if err == nil && rel != "." {
		if a, ok := constants.CanonicalizeAffiliation(filepath.Base(rel)); ok {
			return a
		}
	}
	return p.cfg.AffiliationType
}

func (p *Processor) Run(ctx context.Context, file string) error {
	doc, err := api.DocumentFromFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Moved away after the event fired, usually by an earlier run of the same file.
			p.logger.Debug("inbox.file.gone", "path", file)
			return nil
		}
		return err
	}
	info, err := workbook.Inspect(doc)
	if err != nil {
		p.logger.Warn("inbox.file.rejected", "path", file, "error", common.Message(err))
		return p.reject(file, err)
	}
	p.logger.Info("inbox.file.accepted", "path", file, "rows", info.DataRows, "counted", info.Counted, "size", info.Size)

	in := monitor.JobSubmission{
		Document:        doc,
		AffiliationType: p.AffiliationFor(file),
		SubmitterName:   p.cfg.SubmitterName,
	}
	if err := ctx.Err(); err != nil {
		// Shutting down; the file stays in the inbox for the next start.
		return err
	}
	started := p.now()
	if _, err := p.monitor.Submit(ctx, in); err != nil {
		if errors.Is(err, common.ErrValidation) {
			// Nothing was sent; leave the file for the next attempt.
			return err
		}
		if ctx.Err() != nil {
			p.logger.Warn("inbox.submit.interrupted", "path", file, "error", err)
			return ctx.Err()
		}
	}

	v, err := p.monitor.Wait(ctx)
	if err != nil {
		p.monitor.Cancel()
		p.logger.Warn("inbox.run.interrupted", "path", file, "task_id", v.TaskID, "error", err)
		return err
	}
	if !v.State.Terminal() {
		return fmt.Errorf("run for %s ended in state %s", doc.Name, v.State)
	}
	o := monitor.NewOutcome(in, v, started, p.now())

	if err := os.MkdirAll(p.cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}
	// The run is over; export and archive even if ctx ends meanwhile.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if p.exporter != nil {
		dst := workbook.TimelinePath(p.cfg.OutDir, doc.Name, o.TaskID)
		if err := p.exporter.WriteTimeline(finishCtx, o, dst); err != nil {
			p.logger.Error("inbox.export.failed", "path", file, "error", err)
		}
	}
	if p.cfg.Download && p.downloader != nil && o.State == constants.StateCompleted && o.DownloadRef != "" {
		dst := filepath.Join(p.cfg.OutDir, path.Base(o.DownloadRef))
		if n, err := p.downloader.Download(finishCtx, o.DownloadRef, dst); err != nil {
			p.logger.Error("inbox.download.failed", "task_id", o.TaskID, "url", o.DownloadRef, "error", err)
		} else {
			p.logger.Info("inbox.download.ok", "task_id", o.TaskID, "dst", dst, "bytes", n)
		}
	}
	if p.archive != nil {
		if _, err := p.archive.SaveRun(finishCtx, o); err != nil {
			p.logger.Error("inbox.archive.failed", "task_id", o.TaskID, "error", err)
		}
	}
	if err := p.move(file, doc.Name); err != nil {
		return err
	}

	if o.State == constants.StateErrored {
		return p.monitor.Err()
	}
	return nil
}

// reject moves a file that failed preflight into OutDir/rejected.
func (p *Processor) reject(file string, cause error) error {
	dir := filepath.Join(p.cfg.OutDir, "rejected")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create rejected dir: %w", err)
	}
	if err := os.Rename(file, filepath.Join(dir, filepath.Base(file))); err != nil {
		return fmt.Errorf("move rejected file: %w", err)
	}
	return cause
}

func (p *Processor) move(file, name string) error {
	dst := filepath.Join(p.cfg.OutDir, name)
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(name)
		dst = filepath.Join(p.cfg.OutDir, fmt.Sprintf("%s.%d%s", name[:len(name)-len(ext)], p.now().Unix(), ext))
	}
	if err := os.Rename(file, dst); err != nil {
		return fmt.Errorf("move processed file: %w", err)
	}
	return nil
}
