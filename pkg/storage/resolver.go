// Package storage turns a stored asset path into something deliverable: an
// absolute URL to redirect to or a local file to stream.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/angelmondragon/assetledger-backend/pkg/config"
)

// ErrNotFound is returned when a path is empty or exists in neither root.
var ErrNotFound = errors.New("storage: file not found")

const defaultContentType = "application/octet-stream"

type Kind string

const (
	KindRedirect Kind = "redirect"
	KindLocal    Kind = "local"
)

// Location is the resolved form of a stored path.
type Location struct {
	Kind        Kind
	URL         string
	Path        string
	Filename    string
	ContentType string
	// Fallback is set when the file was found under the fallback root.
	Fallback bool
}

// Resolver is the capability the download gate depends on.
type Resolver interface {
	Resolve(ctx context.Context, storedPath string) (*Location, error)
}

// LocalResolver resolves against a primary and a fallback directory.
type LocalResolver struct {
	primary        string
	fallback       string
	publicBaseURL  string
	publicPrefixes []string
}

func NewLocalResolver(cfg config.StorageConfig) (*LocalResolver, error) {
	if strings.TrimSpace(cfg.PrimaryRoot) == "" {
		return nil, errors.New("storage primary root is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if base != "" {
		u, err := url.Parse(base)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid storage public base url %q", cfg.PublicBaseURL)
		}
	}

	prefixes := make([]string, 0, len(cfg.PublicPrefixes))
	for _, p := range cfg.PublicPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	// Public paths are only ever served as absolute URLs, so they need a base.
	if len(prefixes) > 0 && base == "" {
		return nil, fmt.Errorf("storage public base url is required for public prefixes %v", prefixes)
	}

	return &LocalResolver{
		primary:        filepath.Clean(cfg.PrimaryRoot),
		fallback:       cleanOptional(cfg.FallbackRoot),
		publicBaseURL:  base,
		publicPrefixes: prefixes,
	}, nil
}

func cleanOptional(p string) string {
	if strings.TrimSpace(p) == "" {
		return ""
	}
	return filepath.Clean(p)
}

func (r *LocalResolver) Resolve(ctx context.Context, storedPath string) (*Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := strings.TrimSpace(storedPath)
	if p == "" {
		return nil, ErrNotFound
	}

	lower := strings.ToLower(p)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return &Location{Kind: KindRedirect, URL: p, Filename: filenameFromURL(p)}, nil
	}

	if r.isPublic(p) {
		abs := r.publicBaseURL + "/" + strings.TrimLeft(p, "/")
		return &Location{Kind: KindRedirect, URL: abs, Filename: path.Base(p)}, nil
	}

	rel := filepath.Clean(filepath.FromSlash(strings.TrimLeft(p, "/")))
	if !filepath.IsLocal(rel) {
		return nil, ErrNotFound
	}

	if full, ok := regularFile(r.primary, rel); ok {
		return localLocation(full, false), nil
	}
	if r.fallback != "" {
		if full, ok := regularFile(r.fallback, rel); ok {
			return localLocation(full, true), nil
		}
	}
	return nil, ErrNotFound
}

func (r *LocalResolver) isPublic(p string) bool {
	for _, prefix := range r.publicPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func regularFile(root, rel string) (string, bool) {
	full := filepath.Join(root, rel)
	info, err := os.Stat(full)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return full, true
}

func localLocation(full string, fallback bool) *Location {
	contentType := defaultContentType
	if mtype, err := mimetype.DetectFile(full); err == nil && mtype != nil {
		contentType = mtype.String()
	}
	return &Location{
		Kind:        KindLocal,
		Path:        full,
		Filename:    filepath.Base(full),
		ContentType: contentType,
		Fallback:    fallback,
	}
}

func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
