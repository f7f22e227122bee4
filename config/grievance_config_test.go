package config

import (
	"os"
	"path/filepath"
	"testing"

	"grievance_server/core/domain"
	"grievance_server/pkg/apperr"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SIMILARITY_THRESHOLD", "")
	t.Setenv("SIMILARITY_WINDOW", "")
	t.Setenv("HISTORY_BACKEND", "")
	t.Setenv("EMBEDDING_MODEL", "")
	t.Setenv("EMBEDDING_BASE_URL", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SimilarityThreshold != 0.88 {
		t.Errorf("threshold = %v, want 0.88", cfg.SimilarityThreshold)
	}
	if cfg.SimilarityWindow != 10 {
		t.Errorf("window = %d, want 10", cfg.SimilarityWindow)
	}
	if cfg.MaxAttachmentBytes != 5*1024*1024 {
		t.Errorf("max attachment = %d", cfg.MaxAttachmentBytes)
	}
	if cfg.HistoryBackend != BackendSQLite {
		t.Errorf("backend = %q", cfg.HistoryBackend)
	}
	if cfg.EmbeddingModel != "all-MiniLM-L6-v2" {
		t.Errorf("embedding model = %q, want all-MiniLM-L6-v2", cfg.EmbeddingModel)
	}
	if cfg.SimilarityConfigured() {
		t.Error("similarity configured without an endpoint")
	}
}

func TestEmbeddingEndpointSelection(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"self-hosted default model", map[string]string{"EMBEDDING_BASE_URL": "http://embed:8080/v1"}, false},
		{"openai model with key", map[string]string{"OPENAI_API_KEY": "sk", "EMBEDDING_MODEL": "text-embedding-3-small"}, false},
		{"default model with key only", map[string]string{"OPENAI_API_KEY": "sk"}, true},
		{"required with base url", map[string]string{"SIMILARITY_REQUIRED": "true", "EMBEDDING_BASE_URL": "http://embed:8080/v1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"OPENAI_API_KEY", "EMBEDDING_BASE_URL", "EMBEDDING_MODEL", "SIMILARITY_REQUIRED"} {
				t.Setenv(k, tt.env[k])
			}
			cfg, err := Load()
			if tt.wantErr {
				if !apperr.HasCode(err, apperr.CodeConfigError) {
					t.Fatalf("err = %v, want CONFIG_ERROR", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !cfg.SimilarityConfigured() {
				t.Error("SimilarityConfigured() = false")
			}
		})
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero threshold", map[string]string{"SIMILARITY_THRESHOLD": "0"}},
		{"threshold above one", map[string]string{"SIMILARITY_THRESHOLD": "1.5"}},
		{"empty window", map[string]string{"SIMILARITY_WINDOW": "0"}},
		{"unknown backend", map[string]string{"HISTORY_BACKEND": "excel"}},
		{"postgres without url", map[string]string{"HISTORY_BACKEND": "postgres", "DATABASE_URL": ""}},
		{"required similarity without endpoint", map[string]string{"SIMILARITY_REQUIRED": "true", "OPENAI_API_KEY": "", "EMBEDDING_BASE_URL": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if !apperr.HasCode(err, apperr.CodeConfigError) {
				t.Fatalf("err = %v, want CONFIG_ERROR", err)
			}
		})
	}
}

func TestDefaultCategoryTable(t *testing.T) {
	table, err := LoadCategoryTable("")
	if err != nil {
		t.Fatalf("embedded table invalid: %v", err)
	}

	want := []domain.Category{
		"Suspension / Disciplinary",
		"FIR / Arrest / Legal",
		"Semester / Examination",
		"Non-Suspension Service",
		domain.CategoryMiscellaneous,
	}
	got := table.Labels()
	if len(got) != len(want) {
		t.Fatalf("labels = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("label %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadCategoryTableFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cats.yaml")
	if err := os.WriteFile(path, []byte("categories:\n  - label: Exam\n    keywords: [exam, \"admit card\"]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	table, err := LoadCategoryTable(path)
	if err != nil {
		t.Fatal(err)
	}
	if rules := table.Rules(); len(rules) != 1 || rules[0].Keywords[1] != "admit card" {
		t.Fatalf("rules = %+v", rules)
	}
}

func TestCategoryTableErrorsAreFatalConfig(t *testing.T) {
	tests := map[string]string{
		"bad yaml":       "categories: [",
		"empty":          "categories: []\n",
		"duplicate":      "categories:\n  - label: A\n    keywords: [x]\n  - label: A\n    keywords: [y]\n",
		"empty keywords": "categories:\n  - label: A\n    keywords: []\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCategoryTable([]byte(doc))
			if !apperr.HasCode(err, apperr.CodeConfigError) {
				t.Fatalf("err = %v, want CONFIG_ERROR", err)
			}
		})
	}

	if _, err := LoadCategoryTable(filepath.Join(t.TempDir(), "missing.yaml")); !apperr.HasCode(err, apperr.CodeConfigError) {
		t.Fatalf("missing file err = %v", err)
	}
}
