package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
)

func TestClient_Head_CapturesValidatorsAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Set-Cookie", "session=1")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := New("test-agent/1.0")
	res, err := c.Head(context.Background(), srv.URL, "", nil)
	require.NoError(t, err)

	require.NotNil(t, res.Status)
	assert.Equal(t, 304, *res.Status)
	require.NotNil(t, res.Etag)
	assert.Equal(t, `"abc"`, *res.Etag)
	assert.Equal(t, model.ErrorKindNone, res.Error)
	assert.Contains(t, res.SetCookieHeaders, "session=1")
}

func TestClient_Get_ReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	c := New("test-agent/1.0")
	res, err := c.Get(context.Background(), srv.URL, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "hello world", string(res.Body))
	assert.Equal(t, model.ErrorKindNone, res.Error)
}

func TestClient_Get_ClassifiesServerErrorAs5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("test-agent/1.0")
	res, err := c.Get(context.Background(), srv.URL, "", nil)
	require.NoError(t, err)

	assert.Equal(t, model.ErrorKindHTTP5xx, res.Error)
}

func TestClient_Get_ClassifiesNotFoundAs4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New("test-agent/1.0")
	res, err := c.Get(context.Background(), srv.URL, "", nil)
	require.NoError(t, err)

	assert.Equal(t, model.ErrorKindHTTP4xx, res.Error)
}

func TestClient_Get_SetsCookieAndExtraHeaders(t *testing.T) {
	var gotCookie, gotExtra string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotExtra = r.Header.Get("X-Custom")
	}))
	defer srv.Close()

	c := New("test-agent/1.0")
	_, err := c.Get(context.Background(), srv.URL, "session=abc", map[string]string{"X-Custom": "value"})
	require.NoError(t, err)

	assert.Equal(t, "session=abc", gotCookie)
	assert.Equal(t, "value", gotExtra)
}
