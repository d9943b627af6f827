package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryCodeHasMetadata(t *testing.T) {
	codes := []Code{
		CodeValidation, CodeUnauthorized, CodeForbidden, CodeNotFound, CodeConflict,
		CodeStateConflict, CodeIdempotency, CodeRateLimit, CodeInternal, CodeDependency,
	}
	for _, code := range codes {
		meta, ok := metadataByCode[code]
		require.True(t, ok, "no metadata for %s", code)
		assert.NotEmpty(t, meta.PublicMessage, code)
		assert.Equal(t, meta.HTTPStatus >= http.StatusInternalServerError || code == CodeRateLimit, meta.Retryable,
			"%s retryable flag should follow server-side failures", code)
	}
}

func TestLedgerFacingStatuses(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, MetadataFor(CodeForbidden).HTTPStatus)
	assert.Equal(t, http.StatusUnprocessableEntity, MetadataFor(CodeStateConflict).HTTPStatus)
	assert.True(t, MetadataFor(CodeStateConflict).DetailsAllowed)
	assert.Equal(t, http.StatusConflict, MetadataFor(CodeIdempotency).HTTPStatus)
	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("NOT_A_CODE"))
}

func TestWrapKeepsCauseReachable(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeDependency, cause, "load entitlement")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "DEPENDENCY_ERROR: load entitlement", err.Error())
	assert.Nil(t, err.Details())
	assert.Equal(t, "asset 7 has no file", Newf(CodeNotFound, "asset %d has no file", 7).Message())
}

func TestNilErrorIsSafe(t *testing.T) {
	var e *Error
	assert.Equal(t, CodeInternal, e.Code())
	assert.Empty(t, e.Message())
	assert.Nil(t, e.Details())
	assert.Nil(t, e.WithDetails("ignored"))
	assert.NoError(t, e.Unwrap())
}

func TestIsCodeMatchesOutermostTypedError(t *testing.T) {
	notFound := New(CodeNotFound, "entitlement not found")

	assert.True(t, IsCode(fmt.Errorf("revoke: %w", notFound), CodeNotFound))
	assert.False(t, IsCode(Wrap(CodeDependency, notFound, "revoke"), CodeNotFound))
	assert.False(t, IsCode(stdErrors.New("plain"), CodeInternal))
	assert.False(t, IsCode(nil, CodeNotFound))
	assert.Nil(t, As(nil))
}

func TestIsRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":           {nil, false},
		"untyped":       {stdErrors.New("connection reset"), true},
		"validation":    {New(CodeValidation, "bad asset_id"), false},
		"wrapped state": {fmt.Errorf("set status: %w", New(CodeStateConflict, "revoked")), false},
		"dependency":    {Wrap(CodeDependency, stdErrors.New("db down"), "grant"), true},
	}
	for name, tc := range cases {
		assert.Equal(t, tc.want, IsRetryable(tc.err), name)
	}
}
