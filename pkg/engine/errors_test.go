package engine

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestErrorKeepsCauseOutOfJSON(t *testing.T) {
	err := NewBadRequestError("Invalid manifest").WithCause(fs.ErrNotExist)

	assert.True(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, "Invalid manifest: file does not exist", err.Error())

	encoded, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)
	assert.JSONEq(t, `{"error":"Invalid manifest","status":400}`, string(encoded))
	assert.Equal(t, http.StatusBadRequest, toRequestError(err).StatusCode)
}
