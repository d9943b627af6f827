package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/angelmondragon/assetledger-backend/pkg/config"
)

const cdnBase = "https://cdn.example.com"

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newResolver(t *testing.T, base string) (*LocalResolver, string, string) {
	t.Helper()
	primary := t.TempDir()
	fallback := t.TempDir()
	r, err := NewLocalResolver(config.StorageConfig{
		PrimaryRoot:    primary,
		FallbackRoot:   fallback,
		PublicBaseURL:  base,
		PublicPrefixes: []string{"public/", "/storage/"},
	})
	if err != nil {
		t.Fatalf("NewLocalResolver: %v", err)
	}
	return r, primary, fallback
}

func TestResolvePrimaryFile(t *testing.T) {
	r, primary, _ := newResolver(t, cdnBase)
	writeFile(t, primary, "assets/x.png", pngHeader)

	loc, err := r.Resolve(context.Background(), "assets/x.png")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if loc.Kind != KindLocal || loc.Fallback {
		t.Fatalf("expected primary local file, got %+v", loc)
	}
	if loc.Filename != "x.png" {
		t.Fatalf("unexpected filename %q", loc.Filename)
	}
	if loc.ContentType != "image/png" {
		t.Fatalf("unexpected content type %q", loc.ContentType)
	}
}

func TestResolveFallsBackToSecondaryRoot(t *testing.T) {
	r, _, fallback := newResolver(t, cdnBase)
	writeFile(t, fallback, "assets/manual.txt", []byte("hello"))

	loc, err := r.Resolve(context.Background(), "/assets/manual.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !loc.Fallback || loc.Path != filepath.Join(fallback, "assets", "manual.txt") {
		t.Fatalf("expected fallback location, got %+v", loc)
	}
	if loc.ContentType == "" {
		t.Fatal("expected a content type")
	}
}

func TestResolveRedirects(t *testing.T) {
	r, _, _ := newResolver(t, "https://cdn.example.com/")

	cases := map[string]string{
		"https://files.example.com/a/b.zip": "https://files.example.com/a/b.zip",
		"HTTP://files.example.com/c.zip":    "HTTP://files.example.com/c.zip",
		"public/covers/a.jpg":               "https://cdn.example.com/public/covers/a.jpg",
		"/storage/packs/b.zip":              "https://cdn.example.com/storage/packs/b.zip",
	}
	for in, want := range cases {
		loc, err := r.Resolve(context.Background(), in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if loc.Kind != KindRedirect || loc.URL != want {
			t.Fatalf("%s: expected redirect to %q, got %+v", in, want, loc)
		}
	}
}

func TestResolveNotFound(t *testing.T) {
	r, primary, _ := newResolver(t, cdnBase)
	if err := os.MkdirAll(filepath.Join(primary, "assets", "dir"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	for _, in := range []string{"", "   ", "assets/missing.png", "../etc/passwd", "assets/dir"} {
		if _, err := r.Resolve(context.Background(), in); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%q: expected ErrNotFound, got %v", in, err)
		}
	}
}

func TestNewLocalResolverValidates(t *testing.T) {
	if _, err := NewLocalResolver(config.StorageConfig{}); err == nil {
		t.Fatal("expected missing root error")
	}
	if _, err := NewLocalResolver(config.StorageConfig{PrimaryRoot: "x", PublicBaseURL: "ftp://nope"}); err == nil {
		t.Fatal("expected invalid base url error")
	}
}

func TestNewLocalResolverNeedsBaseURLForPublicPrefixes(t *testing.T) {
	_, err := NewLocalResolver(config.StorageConfig{
		PrimaryRoot:    t.TempDir(),
		PublicPrefixes: []string{"public/", "/storage/"},
	})
	if err == nil {
		t.Fatal("expected public prefixes without a base url to be rejected")
	}

	// Blank entries are what an empty ASSETLEDGER_STORAGE_PUBLIC_PREFIXES yields.
	r, err := NewLocalResolver(config.StorageConfig{PrimaryRoot: t.TempDir(), PublicPrefixes: []string{""}})
	if err != nil {
		t.Fatalf("NewLocalResolver without prefixes: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "public/covers/a.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected an unprefixed resolver to look on disk, got %v", err)
	}
}
