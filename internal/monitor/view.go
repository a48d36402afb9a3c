package monitor

import (
	"net/url"
	"path"
	"strings"

	"github.com/joseph-ayodele/batchwatch/constants"
	"github.com/joseph-ayodele/batchwatch/internal/api"
	"github.com/joseph-ayodele/batchwatch/internal/reconcile"
)

// View is a read-only projection of the monitor for rendering. All slices and
// pointers are copies.
type View struct {
	State        constants.MonitorState
	TaskID       string
	Snapshot     *api.Snapshot
	Timeline     []reconcile.Entry
	DownloadRef  string
	ErrorMessage string
	ErrorCode    string
	Connection   constants.Health
}

// Busy reports whether a submission or poll loop is in flight.
func (v View) Busy() bool {
	return v.State.Busy()
}

// EntriesAfter returns the timeline entries with an id greater than id.
func (v View) EntriesAfter(id int64) []reconcile.Entry {
	for i, e := range v.Timeline {
		if e.ID > id {
			return v.Timeline[i:]
		}
	}
	return nil
}

// DownloadRef builds the client-side download link: base plus the final path
// segment of resultURL. It returns "" when resultURL has no usable basename.
func DownloadRef(base, resultURL string) string {
	resultURL = strings.TrimSpace(resultURL)
	if resultURL == "" {
		return ""
	}
	p := resultURL
	if u, err := url.Parse(resultURL); err == nil && u.Path != "" {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" || name == "" {
		return ""
	}
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + name
}

func copySnapshot(s *api.Snapshot) *api.Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.Progress != nil {
		p := *s.Progress
		out.Progress = &p
	}
	out.Logs = append([]string(nil), s.Logs...)
	return &out
}
