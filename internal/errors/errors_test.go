package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEngine(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category string
		status   int
	}{
		{
			name:     "engine not found",
			err:      fmt.Errorf("%w: No such container: abc", ErrNotFound),
			category: "NotFound",
			status:   http.StatusNotFound,
		},
		{
			name:     "context cancelled",
			err:      context.Canceled,
			category: "Cancelled",
			status:   http.StatusRequestTimeout,
		},
		{
			name:     "generic engine fault",
			err:      errors.New("Error response from daemon: conflict"),
			category: "EngineCallFailed",
			status:   http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := FromEngine(tt.err, ResourceContainer, "abc")
			assert.Equal(t, tt.category, Category(mapped))
			assert.Equal(t, tt.status, HTTPStatus(mapped))
		})
	}
}

func TestFromEngine_KeepsTaxonomyErrors(t *testing.T) {
	orig := InvalidPath("/etc/nope", errors.New("exit 1"))
	assert.Same(t, orig, FromEngine(orig, ResourceVolume, "v"))
	assert.Nil(t, FromEngine(nil, ResourceVolume, "v"))
}

func TestNotFound_CarriesIdentifier(t *testing.T) {
	err := FromEngine(fmt.Errorf("%w: gone", ErrNotFound), ResourceVolume, "data")

	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, ResourceVolume, e.Resource)
	assert.Equal(t, "data", e.ID)
	assert.Equal(t, "volume not found", e.Error())
	assert.True(t, IsCategory(err, ErrNotFound))
}

func TestTerminalNotFound(t *testing.T) {
	err := TerminalNotFound("c1")
	assert.True(t, errors.Is(err, ErrTerminalNotFound))
	assert.Equal(t, "TerminalNotFound", Category(err))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
}

func TestInvalidPath_OutranksWrappedNotFound(t *testing.T) {
	err := InvalidPath("/etc/none", fmt.Errorf("copy: %w", ErrNotFound))

	assert.Equal(t, "InvalidPath", Category(err))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}
