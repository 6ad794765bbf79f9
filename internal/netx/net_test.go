package netx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpload(t *testing.T) {
	file := []byte("encrypted voice")

	t.Run("success 200 OK", func(t *testing.T) {
		var gotBody []byte
		var gotCT string
		var gotMethod string

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotCT = r.Header.Get("Content-Type")
			body, _ := io.ReadAll(r.Body)
			_ = r.Body.Close()
			gotBody = body
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		err := Upload(context.Background(), ts.Client(), ts.URL+"/voice/a_b/c1?X-Amz-Signature=abc", file)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotMethod != http.MethodPut {
			t.Fatalf("method = %q, want PUT", gotMethod)
		}
		if gotCT != "application/octet-stream" {
			t.Fatalf("Content-Type = %q, want application/octet-stream", gotCT)
		}
		if !bytes.Equal(gotBody, file) {
			t.Fatalf("body = %q, want %q", string(gotBody), string(file))
		}
	})

	t.Run("non-200 -> error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer ts.Close()

		err := Upload(context.Background(), nil, ts.URL, file)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "upload failed: 403") {
			t.Fatalf("error = %q, want to contain 403", err.Error())
		}
	})

	t.Run("5xx is unavailable", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer ts.Close()

		err := Upload(context.Background(), nil, ts.URL, file)
		assert.True(t, common.IsRetryable(err))
	})

	t.Run("bad url", func(t *testing.T) {
		err := Upload(context.Background(), nil, "://bad-url", file)
		if err == nil {
			t.Fatal("expected error for bad URL")
		}
	})

	t.Run("connection refused is unavailable", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		url := ts.URL
		ts.Close()

		err := Upload(context.Background(), nil, url, file)
		assert.ErrorIs(t, err, common.ErrUnavailable)
	})
}

func TestDownload(t *testing.T) {
	payload := []byte("0123456789")
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer ts.Close()
	ctx := context.Background()

	b, err := Download(ctx, nil, ts.URL+"/ok", 0)
	require.NoError(t, err)
	assert.Equal(t, payload, b)

	b, err = Download(ctx, nil, ts.URL+"/ok", int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, b)

	_, err = Download(ctx, nil, ts.URL+"/ok", 4)
	assert.True(t, errors.Is(err, ErrTooLarge))

	_, err = Download(ctx, nil, ts.URL+"/missing", 0)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRemove(t *testing.T) {
	var methods []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/denied":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer ts.Close()
	ctx := context.Background()

	require.NoError(t, Remove(ctx, nil, ts.URL+"/ok"))
	require.NoError(t, Remove(ctx, nil, ts.URL+"/gone"))
	assert.ErrorContains(t, Remove(ctx, nil, ts.URL+"/denied"), "delete failed: 403")
	assert.Equal(t, []string{"DELETE", "DELETE", "DELETE"}, methods)
}
