package networking

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatingTransportRejectsPlainHTTP(t *testing.T) {
	t.Parallel()

	client := NewHttpClientBuilder().Build()

	//nolint:noctx // scheme validation fails before any connection is made
	_, err := client.Get("http://example.com/token")
	assert.ErrorContains(t, err, "not HTTPS")
}

func TestValidatingTransportAllowsLoopbackHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	t.Cleanup(srv.Close)

	client := NewHttpClientBuilder().Build()

	resp, err := client.Get(srv.URL) //nolint:noctx // test request to local server
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuilderSetsUserAgent(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, "ok")
	}))
	t.Cleanup(srv.Close)

	client := NewHttpClientBuilder().WithUserAgent("takagi/2.0").Build()

	resp, err := client.Get(srv.URL) //nolint:noctx // test request to local server
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	assert.Equal(t, "takagi/2.0", gotUA)
}

func TestBuilderTimeout(t *testing.T) {
	t.Parallel()

	client := NewHttpClientBuilder().WithTimeout(5 * time.Second).Build()
	assert.Equal(t, 5*time.Second, client.Timeout)
}
