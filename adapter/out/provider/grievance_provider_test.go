package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"grievance_server/core/port/out"
)

func TestDirSourceFetchSortedEMLOnly(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"010.eml":   "ten",
		"002.eml":   "two",
		"001.EML":   "one",
		"notes.txt": "skip",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.eml"), 0o755); err != nil {
		t.Fatal(err)
	}

	emails, err := NewDirSource(dir).Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"001.EML", "002.eml", "010.eml"}
	if len(emails) != len(want) {
		t.Fatalf("got %d emails", len(emails))
	}
	for i, name := range want {
		if emails[i].Name != name {
			t.Errorf("emails[%d] = %s, want %s", i, emails[i].Name, name)
		}
	}
	if string(emails[0].Data) != "one" {
		t.Errorf("data = %q", emails[0].Data)
	}
}

func TestDirSourceMissingDir(t *testing.T) {
	_, err := NewDirSource(filepath.Join(t.TempDir(), "nope")).Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestDirSourceLoadAndSave(t *testing.T) {
	ctx := context.Background()
	src := NewDirSource(t.TempDir())

	if err := src.Save(ctx, "gmail-1.eml", "<id>", []byte("raw")); err != nil {
		t.Fatal(err)
	}
	data, err := src.Load(ctx, "gmail-1.eml")
	if err != nil || string(data) != "raw" {
		t.Fatalf("Load = %q, %v", data, err)
	}
	if _, err := src.Load(ctx, "missing.eml"); !errors.Is(err, out.ErrObjectNotFound) {
		t.Errorf("missing: %v", err)
	}
	if _, err := src.Load(ctx, "../etc/passwd"); !errors.Is(err, out.ErrObjectNotFound) {
		t.Errorf("traversal: %v", err)
	}
	if err := src.Save(ctx, "../x.eml", "", nil); err == nil {
		t.Error("expected invalid name error")
	}
}

func TestDecodeRaw(t *testing.T) {
	msg := []byte("Subject: hi\r\n\r\nbody??>>")
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding} {
		got, err := decodeRaw(enc.EncodeToString(msg))
		if err != nil || string(got) != string(msg) {
			t.Errorf("decodeRaw = %q, %v", got, err)
		}
	}
}
