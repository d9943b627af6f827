package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/assetledger-backend/pkg/errors"
)

func invalidParam(field, msg string, extra ...any) error {
	details := map[string]any{"field": field}
	for i := 0; i+1 < len(extra); i += 2 {
		if key, ok := extra[i].(string); ok {
			details[key] = extra[i+1]
		}
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}

// ParseQueryInt reads an optional integer query parameter bounded to
// [min, max]. A missing or blank value yields defaultVal.
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, invalidParam(key, "query parameter must be numeric")
	case value < min || value > max:
		return 0, invalidParam(key, "query parameter out of range", "min", min, "max", max)
	}
	return value, nil
}

// ParseQueryBool accepts the strconv.ParseBool spellings.
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalidParam(key, "query parameter must be a boolean")
	}
	return value, nil
}

// ParsePathID reads a positive integer chi URL parameter.
func ParsePathID(r *http.Request, key string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, key)), 10, 64)
	if err != nil || value <= 0 {
		return 0, invalidParam(key, "path parameter must be a positive integer")
	}
	return value, nil
}
