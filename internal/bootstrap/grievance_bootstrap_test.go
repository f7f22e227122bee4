package bootstrap

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"grievance_server/config"

	"github.com/goccy/go-json"
)

const sampleEML = "Message-ID: <a1@campus.edu>\r\n" +
	"From: Student One <s1@campus.edu>\r\n" +
	"Subject: Hostel water problem\r\n" +
	"Date: Mon, 02 Jan 2023 10:00:00 +0000\r\n" +
	"Content-Type: text/plain\r\n\r\n" +
	"There is no water in the hostel since morning.\r\n"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:         "test",
		HistoryBackend:      config.BackendMemory,
		MailDir:             t.TempDir(),
		SimilarityThreshold: 0.88,
		SimilarityWindow:    10,
		BatchWorkers:        2,
		MaxAttachmentBytes:  1 << 20,
		StreamGroup:         "test",
		WorkerID:            "test-1",
	}
}

func TestDependenciesWithoutOptionalBackends(t *testing.T) {
	cfg := testConfig(t)
	deps, cleanup, err := NewDependencies(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	defer cleanup()

	if deps.Redis != nil || deps.Producer != nil || deps.Graph != nil {
		t.Error("optional backends should be nil when not configured")
	}
	if deps.RawStore == nil || deps.Attachments == nil {
		t.Error("local fallbacks should be wired")
	}
	if got := deps.Degraded(); len(got) != 1 || got[0] != "similarity" {
		t.Errorf("degraded = %v, want [similarity]", got)
	}
	if _, err := NewWorker(cfg, deps); err == nil {
		t.Error("worker without redis should fail")
	}
}

func TestAPIProcessesMailDir(t *testing.T) {
	cfg := testConfig(t)
	if err := os.WriteFile(filepath.Join(cfg.MailDir, "a1.eml"), []byte(sampleEML), 0o644); err != nil {
		t.Fatal(err)
	}

	deps, cleanup, err := NewDependencies(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewDependencies: %v", err)
	}
	defer cleanup()
	app := NewAPI(cfg, deps)

	resp, err := app.Test(httptest.NewRequest("POST", "/process", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("process status = %d: %s", resp.StatusCode, body)
	}
	var envelope struct {
		Data struct {
			Stored int `json:"stored"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Data.Stored != 1 {
		t.Errorf("stored = %d, want 1", envelope.Data.Stored)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/ready", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(body), "similarity") {
		t.Errorf("ready = %d %s", resp.StatusCode, body)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/download/email/a1.eml", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("download status = %d, want 200", resp.StatusCode)
	}
}
