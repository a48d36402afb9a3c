package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/joseph-ayodele/batchwatch/constants"
	"github.com/joseph-ayodele/batchwatch/internal/common"
)

func newTestClient(url string) *Client {
	return NewClient(Config{BaseURL: url + "/"}, nil)
}

func TestClientHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("Expected /health, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := newTestClient(server.URL).Health(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestClientHealthNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if err := newTestClient(server.URL).Health(context.Background()); err == nil {
		t.Fatal("Expected error for 503")
	}
}

func TestClientSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/procesar" {
			t.Errorf("Expected /procesar, got %s", r.URL.Path)
		}
		file, header, err := r.FormFile("archivo_excel")
		if err != nil {
			t.Fatalf("Expected archivo_excel part: %v", err)
		}
		content, _ := io.ReadAll(file)
		if string(content) != "xlsx-bytes" {
			t.Errorf("Unexpected file content %q", content)
		}
		if header.Filename != "afiliados.xlsx" {
			t.Errorf("Unexpected filename %q", header.Filename)
		}
		if got := r.FormValue("tipo_afiliacion"); got != "express" {
			t.Errorf("Expected express, got %q", got)
		}
		if got := r.FormValue("nombre_afiliador"); got != "Ana Lopez" {
			t.Errorf("Expected trimmed name, got %q", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"t1","total_records":50,"estimated_time_minutes":2.5}`))
	}))
	defer server.Close()

	resp, err := newTestClient(server.URL).Submit(context.Background(), SubmitRequest{
		Document:        DocumentFromBytes("afiliados.xlsx", []byte("xlsx-bytes")),
		AffiliationType: constants.AffiliationExpress,
		SubmitterName:   "  Ana Lopez ",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.TaskID != "t1" {
		t.Errorf("Expected task id t1, got %q", resp.TaskID)
	}
	if resp.TotalRecords == nil || *resp.TotalRecords != 50 {
		t.Errorf("Expected 50 total records, got %v", resp.TotalRecords)
	}
}

func TestClientSubmitFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"detail string", http.StatusBadRequest, `{"detail":"archivo inválido"}`, "archivo inválido"},
		{"message field", http.StatusInternalServerError, `{"message":"worker down"}`, "worker down"},
		{"unparseable body", http.StatusBadGateway, `<html>bad gateway</html>`, "error processing file"},
		{"missing task id", http.StatusOK, `{"total_records":3}`, "no task id received"},
		{"wrong types", http.StatusOK, `{"task_id":12}`, "malformed response from server"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Submit(context.Background(), SubmitRequest{
				Document:        DocumentFromBytes("a.xlsx", []byte("x")),
				AffiliationType: constants.AffiliationJuniorSuite,
				SubmitterName:   "Ana",
			})
			if !errors.Is(err, common.ErrSubmission) {
				t.Fatalf("Expected ErrSubmission, got %v", err)
			}
			if common.Message(err) != tt.wantMsg {
				t.Errorf("Expected message %q, got %q", tt.wantMsg, common.Message(err))
			}
		})
	}
}

func TestClientSubmitNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(url).Submit(context.Background(), SubmitRequest{
		Document:      DocumentFromBytes("a.xlsx", []byte("x")),
		SubmitterName: "Ana",
	})
	if common.CodeOf(err) != common.CodeSubmission {
		t.Fatalf("Expected SUBMISSION code, got %v", err)
	}
}

func TestClientStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/t1" {
			t.Errorf("Expected /status/t1, got %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":             "processing",
			"progress":           40,
			"processed_records":  20,
			"total_records":      50,
			"successful_records": nil,
			"current_processing": "fila 21",
			"logs":               []string{"[10:00:01] Iniciando"},
			"extra_field":        true,
		})
	}))
	defer server.Close()

	snap, err := newTestClient(server.URL).Status(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if snap.Status != constants.TaskStatusProcessing {
		t.Errorf("Expected processing, got %s", snap.Status)
	}
	if snap.Progress == nil || *snap.Progress != 40 {
		t.Errorf("Expected progress 40, got %v", snap.Progress)
	}
	if snap.SuccessfulRecords != 0 || snap.TotalRecords != 50 {
		t.Errorf("Unexpected counters %+v", snap)
	}
	if snap.ProcessingLabel() != "fila 21" {
		t.Errorf("Expected processing label, got %q", snap.ProcessingLabel())
	}
	if len(snap.Logs) != 1 {
		t.Errorf("Expected 1 log line, got %d", len(snap.Logs))
	}
}

func TestClientStatusDefaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	snap, err := newTestClient(server.URL).Status(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if snap.Status != constants.TaskStatusQueued {
		t.Errorf("Expected queued default, got %s", snap.Status)
	}
	if snap.Progress != nil {
		t.Errorf("Expected unknown progress, got %v", *snap.Progress)
	}
	if snap.Logs == nil {
		t.Error("Expected empty, non-nil logs")
	}
}

func TestClientStatusClampsProgress(t *testing.T) {
	tests := []struct {
		body string
		want float64
	}{
		{`{"status":"processing","progress":100.4}`, 100},
		{`{"status":"processing","progress":-2}`, 0},
		{`{"status":"processing","progress":99.5}`, 99.5},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(tt.body))
		}))
		snap, err := newTestClient(server.URL).Status(context.Background(), "t1")
		server.Close()
		if err != nil {
			t.Fatalf("Unexpected error for %s: %v", tt.body, err)
		}
		if snap.Progress == nil || *snap.Progress != tt.want {
			t.Errorf("Expected progress %v for %s, got %v", tt.want, tt.body, snap.Progress)
		}
	}
}

func TestClientStatusFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"detail":"boom"}`},
		{"not json", http.StatusOK, `nope`},
		{"bad logs type", http.StatusOK, `{"logs":"a,b"}`},
		{"progress not a number", http.StatusOK, `{"progress":"40%"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Status(context.Background(), "t1")
			if !errors.Is(err, common.ErrPoll) {
				t.Fatalf("Expected ErrPoll, got %v", err)
			}
		})
	}
}

func TestClientDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download/out_t1.xlsx" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("result"))
	}))
	defer server.Close()

	dst := filepath.Join(t.TempDir(), "out.xlsx")
	c := newTestClient(server.URL)
	n, err := c.Download(context.Background(), server.URL+"/download/out_t1.xlsx", dst)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 6 {
		t.Errorf("Expected 6 bytes, got %d", n)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "result" {
		t.Errorf("Unexpected content %q", got)
	}

	if _, err := c.Download(context.Background(), server.URL+"/download/missing.xlsx", dst); err == nil {
		t.Error("Expected error for 404")
	}
}

func TestDocumentFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lote.xlsx")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := DocumentFromFile(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if doc.Name != "lote.xlsx" || doc.Size != 3 {
		t.Errorf("Unexpected document %+v", doc)
	}
	for i := 0; i < 2; i++ {
		rc, err := doc.Open()
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		b, _ := io.ReadAll(rc)
		_ = rc.Close()
		if string(b) != "abc" {
			t.Errorf("open %d: unexpected content %q", i, b)
		}
	}

	if _, err := DocumentFromFile(t.TempDir()); err == nil {
		t.Error("Expected error for directory")
	}
	var nilDoc *Document
	if _, err := nilDoc.Open(); err == nil {
		t.Error("Expected error for nil document")
	}
}
