package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/batchwatch/internal/common"
)

// Config for the processing-service client.
type Config struct {
	BaseURL string        // e.g. https://jobs.example.com
	Timeout time.Duration // per-request http client timeout
}

// Client talks to the remote processing service over JSON/HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// BaseURL returns the normalized service root.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Health calls GET /health and returns nil on a 2xx answer.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	_, status, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return fmt.Errorf("health check returned status %d", status)
	}
	return nil
}

// Submit uploads the spreadsheet and returns the task id assigned by the server.
// Every failure is an AppError with code SUBMISSION wrapping common.ErrSubmission.
func (c *Client) Submit(ctx context.Context, in SubmitRequest) (*SubmitResponse, error) {
	body, contentType, err := buildMultipart(in)
	if err != nil {
		return nil, common.NewAppError(common.CodeSubmission, err.Error(), common.ErrSubmission)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/procesar", body)
	if err != nil {
		return nil, common.NewAppError(common.CodeSubmission, err.Error(), common.ErrSubmission)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	raw, status, err := c.do(ctx, req)
	if err != nil {
		return nil, common.NewAppError(common.CodeSubmission, err.Error(), common.ErrSubmission)
	}
	if status/100 != 2 {
		msg := "error processing file"
		var eb errorBody
		if jerr := json.Unmarshal(raw, &eb); jerr == nil && eb.text() != "" {
			msg = eb.text()
		}
		c.logger.Warn("api.submit.rejected", "status", status, "detail", msg)
		return nil, common.NewAppError(common.CodeSubmission, msg, common.ErrSubmission)
	}

	if err := validateJSON(submitSchema, raw); err != nil {
		c.logger.Error("api.submit.schema_validation_failed", "error", err, "raw", string(raw))
		return nil, common.NewAppError(common.CodeSubmission, "malformed response from server", fmt.Errorf("%w: %v", common.ErrSubmission, err))
	}
	var out SubmitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, common.NewAppError(common.CodeSubmission, "malformed response from server", fmt.Errorf("%w: %v", common.ErrSubmission, err))
	}
	if strings.TrimSpace(out.TaskID) == "" {
		return nil, common.NewAppError(common.CodeSubmission, "no task id received", common.ErrSubmission)
	}

	c.logger.Info("api.submit.ok",
		"task_id", out.TaskID,
		"document", in.Document.Name,
		"affiliation_type", string(in.AffiliationType),
	)
	return &out, nil
}

// Status fetches the current snapshot for taskID. Every failure is an AppError with
// code POLL wrapping common.ErrPoll.
func (c *Client) Status(ctx context.Context, taskID string) (*Snapshot, error) {
	endpoint := c.cfg.BaseURL + "/status/" + url.PathEscape(taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, common.NewAppError(common.CodePoll, err.Error(), common.ErrPoll)
	}
	req.Header.Set("Accept", "application/json")

	raw, status, err := c.do(common.WithTaskID(ctx, taskID), req)
	if err != nil {
		return nil, common.NewAppError(common.CodePoll, err.Error(), common.ErrPoll)
	}
	if status/100 != 2 {
		return nil, common.NewAppError(common.CodePoll, fmt.Sprintf("status endpoint returned %d", status), common.ErrPoll)
	}
	if err := validateJSON(statusSchema, raw); err != nil {
		c.logger.Error("api.status.schema_validation_failed", "task_id", taskID, "error", err)
		return nil, common.NewAppError(common.CodePoll, "malformed status payload", fmt.Errorf("%w: %v", common.ErrPoll, err))
	}
	var p statusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, common.NewAppError(common.CodePoll, "malformed status payload", fmt.Errorf("%w: %v", common.ErrPoll, err))
	}
	return p.snapshot(), nil
}

// Download streams the result file at rawURL into dst and returns the bytes written.
func (c *Client) Download(ctx context.Context, rawURL, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("api.download.send_error", "url", rawURL, "error", err)
		return 0, fmt.Errorf("download: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("api.download.response_body_close_error", "error", err)
		}
	}(resp.Body)
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", dst, err)
	}
	c.logger.Info("api.download.ok", "dst", dst, "bytes", n, "elapsed_ms", time.Since(start).Milliseconds())
	return n, nil
}

// do sends req and returns the raw body and status code. Transport failures are
// returned as errors; HTTP status handling is left to the caller.
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, int, error) {
	reqID := common.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = uuid.New().String()
	}
	start := time.Now()

	c.logger.Debug("api.http.request",
		"req_id", reqID,
		"method", req.Method,
		"url", req.URL.String(),
		"task_id", common.TaskIDFromContext(ctx),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("api.http.send_error", "req_id", reqID, "url", req.URL.String(), "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, 0, err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Warn("api.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("api.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return raw, resp.StatusCode, nil
}

func buildMultipart(in SubmitRequest) (io.Reader, string, error) {
	rc, err := in.Document.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open document: %w", err)
	}
	defer func() { _ = rc.Close() }()

	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("archivo_excel", in.Document.Name)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, rc); err != nil {
		return nil, "", fmt.Errorf("copy document: %w", err)
	}
	if err := w.WriteField("tipo_afiliacion", string(in.AffiliationType)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("nombre_afiliador", strings.TrimSpace(in.SubmitterName)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}
