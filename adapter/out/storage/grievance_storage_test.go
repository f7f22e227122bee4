package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"grievance_server/core/port/out"
)

func TestAttachmentKey(t *testing.T) {
	key1, hash1 := AttachmentKey("Suspension Order.pdf", []byte("order"))
	key2, hash2 := AttachmentKey("Suspension Order.pdf", []byte("order"))
	key3, _ := AttachmentKey("Suspension Order.pdf", []byte("other"))

	if key1 != key2 || hash1 != hash2 {
		t.Fatal("keys must be deterministic")
	}
	if key1 == key3 {
		t.Fatal("different content must give different keys")
	}
	if len(hash1) != 64 {
		t.Errorf("hash length = %d", len(hash1))
	}
	if !strings.HasPrefix(key1, hash1[:8]+"_") || !strings.HasSuffix(key1, "_Suspension_Order.pdf") {
		t.Errorf("key = %q", key1)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"report.pdf", "report.pdf"},
		{"my file.txt", "my_file.txt"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\clerk\note.txt`, "note.txt"},
		{"", "attachment"},
		{"..", "attachment"},
		{"bad\x00name", "badname"},
	}
	for _, tt := range tests {
		if got := SanitizeName(tt.in); got != tt.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidKey(t *testing.T) {
	for _, key := range []string{"", "..", "a/b", `a\b`} {
		if ValidKey(key) {
			t.Errorf("ValidKey(%q) = true", key)
		}
	}
	if !ValidKey("ab12cd34_order..v2.pdf") {
		t.Error("expected valid key")
	}
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	key, _ := AttachmentKey("note.txt", []byte("hello"))
	if err := store.Put(ctx, key, "text/plain", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	// Content-addressed: a second write is a no-op.
	if err := store.Put(ctx, key, "text/plain", []byte("hello")); err != nil {
		t.Fatal(err)
	}

	rc, size, err := store.Open(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" || size != 5 {
		t.Errorf("got %q size %d", data, size)
	}

	if _, _, err := store.Open(ctx, "missing_key"); !errors.Is(err, out.ErrObjectNotFound) {
		t.Errorf("missing key: %v", err)
	}
	if _, _, err := store.Open(ctx, "../secret"); !errors.Is(err, out.ErrObjectNotFound) {
		t.Errorf("traversal key: %v", err)
	}
	if err := store.Put(ctx, "../x", "", nil); err == nil {
		t.Error("expected invalid key error")
	}
}
