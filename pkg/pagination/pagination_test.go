package pagination

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{0: DefaultLimit, -3: DefaultLimit, 10: 10, MaxLimit + 50: MaxLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
	if got := LimitWithBuffer(10); got != 11 {
		t.Fatalf("LimitWithBuffer(10) = %d", got)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	want := Cursor{CreatedAt: time.Date(2026, 3, 1, 9, 30, 0, 123, time.UTC), ID: uuid.New()}

	got, err := ParseCursor(want.Encode())
	if err != nil {
		t.Fatalf("ParseCursor: %v", err)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || got.ID != want.ID {
		t.Fatalf("cursor mismatch: %+v vs %+v", got, want)
	}
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	if c, err := ParseCursor("  "); err != nil || c != nil {
		t.Fatalf("blank cursor should be nil, got %v %v", c, err)
	}
	for _, raw := range []string{"%%%", "bm8tcGlwZQ==", "eHx5", "MTIzLm5vdC1hLXV1aWQ"} {
		if _, err := ParseCursor(raw); !errors.Is(err, errMalformedCursor) {
			t.Fatalf("expected malformed cursor error for %q, got %v", raw, err)
		}
	}
}

func TestCursorIsURLSafe(t *testing.T) {
	token := Cursor{CreatedAt: time.Now(), ID: uuid.New()}.Encode()
	if strings.ContainsAny(token, "+/=") {
		t.Fatalf("cursor %q needs escaping in a query string", token)
	}
}

func TestSplit(t *testing.T) {
	type row struct {
		at time.Time
		id uuid.UUID
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []row{{base, uuid.New()}, {base.Add(-time.Minute), uuid.New()}, {base.Add(-2 * time.Minute), uuid.New()}}
	cursorOf := func(r row) Cursor { return Cursor{CreatedAt: r.at, ID: r.id} }

	page, next := Split(rows, 2, cursorOf)
	if len(page) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(page))
	}
	if next == nil || next.ID != rows[1].id {
		t.Fatalf("expected cursor for last returned row, got %+v", next)
	}

	page, next = Split(rows[:2], 2, cursorOf)
	if len(page) != 2 || next != nil {
		t.Fatalf("expected last page without cursor, got %d %+v", len(page), next)
	}
}
