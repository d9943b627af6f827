// Package pagination implements keyset paging over (created_at DESC, id DESC).
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100
)

var errMalformedCursor = errors.New("malformed cursor")

// Params is the page request shared by list endpoints and the CLI.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the last row already returned; the next page starts strictly
// after it.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Encode renders c as an opaque, URL-safe token.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UTC().UnixNano(), 10) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token produced by Encode. A blank token means the
// first page and yields a nil cursor.
func ParseCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	nanos, id, ok := strings.Cut(string(decoded), ".")
	if !ok {
		return nil, errMalformedCursor
	}
	ts, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", errMalformedCursor, err)
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", errMalformedCursor, err)
	}
	return &Cursor{CreatedAt: time.Unix(0, ts).UTC(), ID: parsedID}, nil
}

// NormalizeLimit clamps limit into [1, MaxLimit], using DefaultLimit for
// non-positive values.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer is the row count to fetch so Split can tell whether another
// page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// Split trims rows fetched with LimitWithBuffer down to the page and returns
// the cursor of its last row when more rows remain.
func Split[T any](rows []T, limit int, cursorOf func(T) Cursor) ([]T, *Cursor) {
	n := NormalizeLimit(limit)
	if len(rows) <= n {
		return rows, nil
	}
	next := cursorOf(rows[n-1])
	return rows[:n], &next
}
