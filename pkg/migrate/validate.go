package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	annotationUp    = "-- +goose Up"
	annotationDown  = "-- +goose Down"
	annotationBegin = "-- +goose StatementBegin"
	annotationEnd   = "-- +goose StatementEnd"
)

// ValidateDir checks file naming, version uniqueness and goose annotations for
// every .sql file in dir.
func ValidateDir(dir string) error {
	files, err := migrationFiles(dir)
	if err != nil {
		return err
	}

	seen := map[string]string{}
	for _, name := range files {
		version := sqlFileRe.FindStringSubmatch(name)[1]
		if prev, ok := seen[version]; ok {
			return fmt.Errorf("duplicate migration version %s in %q and %q", version, prev, name)
		}
		seen[version] = name

		full := filepath.Join(dir, name)
		b, err := os.ReadFile(full)
		if err != nil {
			return fmt.Errorf("read file %q: %w", full, err)
		}
		if err := checkAnnotations(string(b)); err != nil {
			return fmt.Errorf("migration %q: %w", name, err)
		}
	}
	return nil
}

// migrationFiles lists the .sql names in dir in version order and rejects any
// that do not follow YYYYMMDDHHMMSS_name.sql.
func migrationFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %q: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		if !sqlFileRe.MatchString(e.Name()) {
			return nil, fmt.Errorf("invalid migration filename %q (expected YYYYMMDDHHMMSS_name.sql)", e.Name())
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func checkAnnotations(txt string) error {
	up := strings.Index(txt, annotationUp)
	down := strings.Index(txt, annotationDown)
	switch {
	case up < 0:
		return fmt.Errorf("missing %q", annotationUp)
	case down < 0:
		return fmt.Errorf("missing %q", annotationDown)
	case down < up:
		return fmt.Errorf("%q must come before %q", annotationUp, annotationDown)
	}

	open := false
	for _, line := range strings.Split(txt, "\n") {
		switch strings.TrimSpace(line) {
		case annotationBegin:
			if open {
				return fmt.Errorf("nested %q", annotationBegin)
			}
			open = true
		case annotationEnd:
			if !open {
				return fmt.Errorf("%q without %q", annotationEnd, annotationBegin)
			}
			open = false
		case annotationDown:
			if open {
				return fmt.Errorf("unterminated statement block before %q", annotationDown)
			}
		}
	}
	if open {
		return fmt.Errorf("unterminated statement block")
	}
	return nil
}
