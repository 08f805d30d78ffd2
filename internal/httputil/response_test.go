package httputil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	WriteJSONOK(w, map[string]int{"n": 3})

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 3, got["n"])
}

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	BadRequest(w, "bad polygon")

	assert.Equal(t, 400, w.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "bad polygon", got["error"])
}

func TestStatusHelpers(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	MethodNotAllowed(w)
	assert.Equal(t, 405, w.Code)

	w = httptest.NewRecorder()
	NotFound(w, "no such zone")
	assert.Equal(t, 404, w.Code)

	w = httptest.NewRecorder()
	InternalServerError(w, "boom")
	assert.Equal(t, 500, w.Code)
}
