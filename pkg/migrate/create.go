package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var nameSanitizeRe = regexp.MustCompile(`[^a-z0-9_]+`)

// CreateSQLMigration writes an empty goose migration named
// <dir>/<YYYYMMDDHHMMSS>_<name>.sql. The version is bumped past the newest
// existing file so two migrations created in the same second still order.
func CreateSQLMigration(dir string, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	safe := strings.Trim(nameSanitizeRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_"), "_")
	if safe == "" {
		return "", fmt.Errorf("name %q results in empty sanitized filename", name)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}
	existing, err := migrationFiles(dir)
	if err != nil {
		return "", err
	}

	version := time.Now().UTC()
	if n := len(existing); n > 0 {
		latest, err := time.Parse(versionLayout, sqlFileRe.FindStringSubmatch(existing[n-1])[1])
		if err == nil && !version.After(latest) {
			version = latest.Add(time.Second)
		}
	}
	fullpath := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", version.Format(versionLayout), safe))

	body := strings.Join([]string{
		annotationUp,
		annotationBegin,
		"-- " + safe,
		annotationEnd,
		"",
		annotationDown,
		annotationBegin,
		"-- rollback " + safe,
		annotationEnd,
		"",
	}, "\n")

	f, err := os.OpenFile(fullpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration %q: %w", fullpath, err)
	}
	defer f.Close()
	if _, err := f.WriteString(body); err != nil {
		return "", fmt.Errorf("write migration %q: %w", fullpath, err)
	}
	return fullpath, nil
}

// parseVersion accepts the YYYYMMDDHHMMSS form used in filenames.
func parseVersion(raw string) (int64, error) {
	if _, err := time.Parse(versionLayout, raw); err != nil {
		return 0, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", raw, err)
	}
	return strconv.ParseInt(raw, 10, 64)
}
