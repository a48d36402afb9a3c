package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joseph-ayodele/batchwatch/constants"
	"github.com/joseph-ayodele/batchwatch/internal/api"
	"github.com/joseph-ayodele/batchwatch/internal/common"
	"github.com/joseph-ayodele/batchwatch/internal/health"
	"github.com/joseph-ayodele/batchwatch/internal/history"
	"github.com/joseph-ayodele/batchwatch/internal/monitor"
	"github.com/joseph-ayodele/batchwatch/internal/reconcile"
	"github.com/joseph-ayodele/batchwatch/internal/workbook"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		file        = flag.String("file", "", "spreadsheet to submit, .xlsx or .xls (required)")
		affiliation = flag.String("type", "express", "affiliation type: express or junior")
		name        = flag.String("name", "", "submitter name (required)")
		download    = flag.Bool("download", true, "download the result file when the job completes")
		outDir      = flag.String("out-dir", ".", "directory for the downloaded result")
		timelineOut = flag.String("timeline-out", "", "write the timeline and summary to this XLSX file")
		interval    = flag.Duration("interval", 0, "poll interval (overrides POLL_INTERVAL)")
		noGate      = flag.Bool("skip-health-gate", false, "submit even if the health check did not succeed")
		recent      = flag.Int("history", 0, "list the N most recent archived runs (needs HISTORY_DSN) and exit")
	)
	flag.Parse()

	if *recent > 0 {
		if err := listHistory(*recent); err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *file == "" || *name == "" {
		printError("Error: --file and --name are required\n")
		flag.Usage()
		os.Exit(2)
	}
	aff, ok := constants.CanonicalizeAffiliation(*affiliation)
	if !ok {
		printError("Error: invalid --type %q, use express or junior\n", *affiliation)
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	if *interval > 0 {
		cfg.Monitor.PollInterval = *interval
	}
	if *noGate {
		cfg.Monitor.RequireConnectivityCheck = false
	}
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}
	logger := common.NewLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	doc, err := api.DocumentFromFile(*file)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	info, err := workbook.Inspect(doc)
	if err != nil {
		printError("Error: %s\n", common.Message(err))
		os.Exit(1)
	}
	if info.Counted {
		fmt.Printf("📄 %s: %d data rows in %q\n", info.Name, info.DataRows, info.Sheets[0])
	} else {
		fmt.Printf("📄 %s: %d bytes\n", info.Name, info.Size)
	}

	client := api.NewClient(api.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout}, logger)
	prober := health.NewProber(client, 10*time.Second, logger)
	res := prober.Probe(ctx)
	fmt.Printf("🔌 %s: %s\n", client.BaseURL(), res.Message())

	m := monitor.New(client, prober, monitor.OptionsFromConfig(cfg), logger)
	defer m.Close()

	in := monitor.JobSubmission{Document: doc, AffiliationType: aff, SubmitterName: *name}
	started := time.Now()
	h, err := m.Submit(ctx, in)
	if err != nil {
		printError("Error: %s\n", common.Message(err))
		if errors.Is(err, common.ErrValidation) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	fmt.Printf("🚀 task %s submitted", h.TaskID)
	if h.TotalRecords != nil {
		fmt.Printf(", %d records", *h.TotalRecords)
	}
	if h.EstimatedTimeMinutes != nil {
		fmt.Printf(", about %.1f min", *h.EstimatedTimeMinutes)
	}
	fmt.Println()

	v := stream(ctx, m)
	finished := time.Now()

	// The run is over; the remaining steps must not be cut short by the interrupt.
	post, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Minute)
	defer cancel()

	if *download && v.State == constants.StateCompleted && v.DownloadRef != "" {
		dst := filepath.Join(*outDir, path.Base(v.DownloadRef))
		if n, err := client.Download(post, v.DownloadRef, dst); err != nil {
			printError("Error: download failed: %s\n", common.Message(err))
		} else {
			fmt.Printf("⬇️  %s (%d bytes)\n", dst, n)
		}
	}

	o := monitor.NewOutcome(in, v, started, finished)
	if *timelineOut != "" {
		if err := workbook.NewExporter(logger).WriteTimeline(post, o, *timelineOut); err != nil {
			printError("Error: timeline export failed: %v\n", err)
		} else {
			fmt.Printf("📊 timeline written to %s\n", *timelineOut)
		}
	}
	if cfg.History.DSN != "" && o.State.Terminal() {
		if db, err := history.Open(post, cfg.History, logger); err != nil {
			logger.Error("failed to open history", "error", err)
		} else {
			if _, err := history.NewRunRepository(db).SaveRun(post, o); err != nil {
				logger.Error("failed to archive run", "error", err)
			}
			db.Close()
		}
	}

	printSummary(o)
	if o.State != constants.StateCompleted {
		os.Exit(1)
	}
}

// stream prints timeline entries as they arrive and returns the final view. An
// interrupt cancels monitoring.
func stream(ctx context.Context, m *monitor.Monitor) monitor.View {
	var lastID int64
	var lastProgress string
	done := ctx.Done()
	for {
		ch := m.Changed()
		v := m.View()
		for _, e := range v.EntriesAfter(lastID) {
			printEntry(e)
			lastID = e.ID
		}
		if s := v.Snapshot; s != nil && v.State == constants.StateMonitoring {
			label := s.ProcessingLabel()
			if label == "" {
				label = string(s.Status)
			}
			line := fmt.Sprintf("%s %d/%d (✅ %d ❌ %d)", label, s.ProcessedRecords, s.TotalRecords, s.SuccessfulRecords, s.ErrorRecords)
			if s.Progress != nil {
				line = fmt.Sprintf("%5.1f%% %s", *s.Progress, line)
			}
			if line != lastProgress {
				fmt.Println("   " + line)
				lastProgress = line
			}
		}
		if !v.Busy() {
			return v
		}
		select {
		case <-done:
			m.Cancel()
			done = nil
		case <-ch:
		}
	}
}

// listHistory prints the most recent archived runs.
func listHistory(n int) error {
	cfg := common.LoadConfig()
	if cfg.History.DSN == "" {
		return common.NewAppError(common.CodeConfig, "HISTORY_DSN is required for --history", common.ErrInvalidInput)
	}
	logger := common.NewLogger(cfg.Log, os.Stderr)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := history.Open(ctx, cfg.History, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	runs, err := history.NewRunRepository(db).ListRuns(ctx, n)
	if err != nil {
		return err
	}
	printRuns(os.Stdout, runs)
	return nil
}

func printRuns(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(w, "no archived runs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "FINISHED\tTASK\tSTATE\tDOCUMENT\tTYPE\tSUBMITTER\tOK\tERRORS\tDETAIL")
	for _, r := range runs {
		detail := r.DownloadRef
		if r.ErrorMessage != "" {
			detail = r.ErrorMessage
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04"), r.TaskID, r.State, r.DocumentName,
			r.AffiliationType, r.SubmitterName, r.SuccessfulRecords, r.ErrorRecords, detail)
	}
	_ = tw.Flush()
}

func printEntry(e reconcile.Entry) {
	fmt.Printf("[%s] %s %s\n", e.Timestamp.Format("15:04:05"), e.Severity.Icon(), e.Message)
}

func printSummary(o monitor.Outcome) {
	fmt.Println()
	fmt.Println("Summary")
	fmt.Printf("  task:        %s\n", o.TaskID)
	fmt.Printf("  state:       %s\n", o.State)
	fmt.Printf("  records:     %d total, %d processed, %d successful, %d errors\n", o.TotalRecords, o.ProcessedRecords, o.SuccessfulRecords, o.ErrorRecords)
	if o.DownloadRef != "" {
		fmt.Printf("  result:      %s\n", o.DownloadRef)
	}
	if o.ErrorMessage != "" {
		fmt.Printf("  error:       %s\n", o.ErrorMessage)
	}
	fmt.Printf("  duration:    %s\n", o.Duration().Round(time.Second))
}
