package fetch

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientStampsHeaders(t *testing.T) {
	var got http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := NewClient(Options{
		Timeout:   5 * time.Second,
		UserAgent: "batch-downloader/1.0",
		ExtraHeaders: map[string]string{
			"X-Api-Key": "secret",
		},
	})

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "batch-downloader/1.0", got.Get("User-Agent"))
	assert.Equal(t, "secret", got.Get("X-Api-Key"))
}

func TestClientKeepsCallerHeaders(t *testing.T) {
	var got http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := NewClient(Options{
		UserAgent: "batch-downloader/1.0",
		ExtraHeaders: map[string]string{
			"X-Api-Key": "secret",
		},
	})

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "caller-agent")
	req.Header.Set("X-Api-Key", "caller-key")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "caller-agent", got.Get("User-Agent"))
	assert.Equal(t, "caller-key", got.Get("X-Api-Key"))
}
