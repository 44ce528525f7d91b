package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerReturnsStatusOK(t *testing.T) {
	handler := Handler("docker")
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestHandlerResponseStructure(t *testing.T) {
	handler := Handler("docker")
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	var resp Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)

	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "jayporeci", resp.ServiceName)
	assert.Equal(t, "docker", resp.Executor)
	assert.NotEmpty(t, resp.Version)
	assert.NotEmpty(t, resp.Commit)
	assert.NotEmpty(t, resp.BuildTime)
	assert.NotEmpty(t, resp.GoVersion)
	assert.NotEmpty(t, resp.OS)
	assert.NotEmpty(t, resp.Architecture)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestHandlerWithDifferentExecutors(t *testing.T) {
	kinds := []string{"docker", "future-kind"}

	for _, kind := range kinds {
		t.Run(kind, func(t *testing.T) {
			handler := Handler(kind)
			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()

			handler(w, req)

			var resp Response
			err := json.Unmarshal(w.Body.Bytes(), &resp)
			require.NoError(t, err)

			assert.Equal(t, kind, resp.Executor)
		})
	}
}

func TestHandlerResponseIsValidJSON(t *testing.T) {
	handler := Handler("docker")
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	var resp Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)

	reencoded, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotEmpty(t, reencoded)
}

func TestHandlerHTTPMethod(t *testing.T) {
	handler := Handler("docker")

	t.Run("GET", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/healthz", nil)
		w := httptest.NewRecorder()
		handler(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("POST", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/healthz", nil)
		w := httptest.NewRecorder()
		handler(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("HEAD", func(t *testing.T) {
		req := httptest.NewRequest("HEAD", "/healthz", nil)
		w := httptest.NewRecorder()
		handler(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHandlerResponseBody(t *testing.T) {
	handler := Handler("docker")
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	assert.Greater(t, w.Body.Len(), 0)

	body := w.Body.String()
	assert.True(t, strings.Contains(body, "healthy"))
	assert.True(t, strings.Contains(body, "jayporeci"))
	assert.True(t, strings.Contains(body, "docker"))
	assert.True(t, strings.Contains(body, "go_version"))
}
