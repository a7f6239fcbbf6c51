package api

import (
	"context"
	"errors"
	"fmt"
	"forecastica/internal/client"
	"forecastica/internal/core"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageErrorStatus(t *testing.T) {
	status := func(err error) int {
		mapped := pageError(err)
		if mapped == nil {
			return http.StatusOK
		}
		var cerr *codedError
		if !errors.As(mapped, &cerr) {
			return -1
		}
		return cerr.code
	}

	assert.Equal(t, http.StatusOK, status(nil))
	assert.Equal(t, http.StatusOK, status(&client.ApplicationError{Op: "train models", StatusCode: 500}))
	assert.Equal(t, http.StatusOK, status(&client.TransportError{Op: "train models", Err: context.DeadlineExceeded}))
	assert.Equal(t, http.StatusServiceUnavailable, status(&client.TransportError{Op: "current data", Err: context.Canceled}))
	assert.Equal(t, http.StatusServiceUnavailable, status(fmt.Errorf("load: %w", context.Canceled)))
	assert.Equal(t, http.StatusUnprocessableEntity, status(&client.ValidationError{Field: "file", Reason: "no file selected"}))
	assert.Equal(t, http.StatusConflict, status(core.ErrBusy))
	assert.Equal(t, http.StatusConflict, status(core.ErrStale))
	assert.Equal(t, http.StatusBadRequest, status(core.ErrEmptySelection))
}
