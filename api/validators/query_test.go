package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
)

func TestParseQueryInt(t *testing.T) {
	cases := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 20, false},
		{"limit=%20", 20, false},
		{"limit=5", 5, false},
		{"limit=0", 0, true},
		{"limit=101", 0, true},
		{"limit=ten", 0, true},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
		got, err := ParseQueryInt(r, "limit", 20, 1, 100)
		if tc.wantErr {
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), tc.query)
			continue
		}
		require.NoError(t, err, tc.query)
		require.Equal(t, tc.want, got, tc.query)
	}
}

func TestParseQueryIntReportsBounds(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?since_hours=9999", nil)
	_, err := ParseQueryInt(r, "since_hours", 24, 1, 2160)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, map[string]any{"field": "since_hours", "min": 1, "max": 2160}, typed.Details())
}

func TestParseQueryBool(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?active_only=true&broken=maybe", nil)

	got, err := ParseQueryBool(r, "active_only", false)
	require.NoError(t, err)
	require.True(t, got)

	got, err = ParseQueryBool(r, "missing", true)
	require.NoError(t, err)
	require.True(t, got)

	_, err = ParseQueryBool(r, "broken", false)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParsePathID(t *testing.T) {
	withParam := func(value string) *http.Request {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("assetId", value)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
	}

	id, err := ParsePathID(withParam("42"), "assetId")
	require.NoError(t, err)
	require.EqualValues(t, 42, id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := ParsePathID(withParam(bad), "assetId")
		require.Error(t, err, bad)
	}
}
