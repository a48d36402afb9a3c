package monitor

import (
	"time"

	"github.com/joseph-ayodele/batchwatch/internal/common"
)

// Options tunes a Monitor. The two historical client variants differ only in these
// values (5s vs 3s polling, with or without the connectivity gate).
type Options struct {
	PollInterval             time.Duration
	FirstPollDelay           time.Duration
	RequireConnectivityCheck bool
	MaxConsecutiveErrors     int
	// DownloadBaseURL is prefixed to the basename of result_file_url.
	DownloadBaseURL string
	// Clock stamps timeline entries; defaults to time.Now.
	Clock func() time.Time
}

// DefaultOptions returns 5s polling with a 3s first poll, the connectivity gate on,
// and a breaker at 3 consecutive fetch failures.
func DefaultOptions() Options {
	return Options{
		PollInterval:             5 * time.Second,
		FirstPollDelay:           3 * time.Second,
		RequireConnectivityCheck: true,
		MaxConsecutiveErrors:     3,
	}
}

// OptionsFromConfig maps the env-driven configuration onto monitor options.
func OptionsFromConfig(cfg *common.Config) Options {
	return Options{
		PollInterval:             cfg.Monitor.PollInterval,
		FirstPollDelay:           cfg.Monitor.FirstPollDelay,
		RequireConnectivityCheck: cfg.Monitor.RequireConnectivityCheck,
		MaxConsecutiveErrors:     cfg.Monitor.MaxConsecutiveErrors,
		DownloadBaseURL:          cfg.API.DownloadBaseURL,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.FirstPollDelay < 0 {
		o.FirstPollDelay = d.FirstPollDelay
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
