package errkind_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hatago/gateway/internal/errkind"
	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	err := errkind.Wrap(errkind.SessionNotFound, "no such session", errors.New("boom"))
	assert.True(t, errors.Is(err, errkind.New(errkind.SessionNotFound, "")))
	assert.False(t, errors.Is(err, errkind.New(errkind.SessionExpired, "")))
}

func TestOfExtractsKind(t *testing.T) {
	err := fmt.Errorf("context: %w", errkind.New(errkind.Conflict, "dup"))
	kind, ok := errkind.Of(err)
	assert.True(t, ok)
	assert.Equal(t, errkind.Conflict, kind)

	_, ok = errkind.Of(errors.New("plain"))
	assert.False(t, ok)
}

func TestUpstreamHTTPStatusKind(t *testing.T) {
	assert.Equal(t, errkind.Kind("upstream_http_503"), errkind.UpstreamHTTPStatusKind(503))
}
