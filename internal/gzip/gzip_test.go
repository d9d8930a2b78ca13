package gzip

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func echo(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func TestGzipMiddleware(t *testing.T) {
	h := GzipMiddleware(echo)
	payload := `{"username":"alice","amount":"100"}`

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	r := httptest.NewRequest(http.MethodPost, "/", &buf)
	r.Header.Set("Content-Encoding", "gzip")
	r.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	h(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.JSONEq(t, payload, string(got))
}

func TestGzipMiddlewarePlain(t *testing.T) {
	w := httptest.NewRecorder()
	GzipMiddleware(echo)(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("plain")))
	require.Empty(t, w.Header().Get("Content-Encoding"))
	require.Equal(t, "plain", w.Body.String())

	r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("not gzip"))
	r.Header.Set("Content-Encoding", "gzip")
	w = httptest.NewRecorder()
	GzipMiddleware(echo)(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
