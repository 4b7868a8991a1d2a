package ticketing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/infrastructure/httpfetch"
	"github.com/DRSN-tech/product-matcher/pkg/e"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *Zendesk {
	t.Helper()
	f := httpfetch.New(http.DefaultClient, sourceName,
		httpfetch.WithBackoff(time.Millisecond, 2*time.Millisecond), httpfetch.WithMaxRetries(0))
	z, err := NewZendesk(Config{BaseURL: baseURL, Email: "agent@example.com", APIToken: "tok"}, f, f, logger.NewNop())
	require.NoError(t, err)
	return z
}

func assertAuth(t *testing.T, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	assert.True(t, ok)
	assert.Equal(t, "agent@example.com/token", user)
	assert.Equal(t, "tok", pass)
}

func TestZendesk_ListCommentsFollowsPages(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/v2/tickets/42/comments.json", func(w http.ResponseWriter, r *http.Request) {
		assertAuth(t, r)
		if r.URL.Query().Get("page") == "2" {
			_, _ = io.WriteString(w, `{"comments":[{"id":2,"body":"see https://x/a.png"}],"next_page":null}`)
			return
		}
		fmt.Fprintf(w, `{"comments":[{"id":1,"body":"hi","attachments":[
			{"id":7,"file_name":"rim.jpg","content_type":"image/jpeg","content_url":"https://x/rim.jpg","size":12}
		]}],"next_page":"%s/api/v2/tickets/42/comments.json?page=2"}`, srv.URL)
	})

	comments, err := newTestClient(t, srv.URL).ListComments(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	require.Len(t, comments[0].Attachments, 1)
	assert.Equal(t, int64(7), comments[0].Attachments[0].ID)
	assert.Equal(t, "image/jpeg", comments[0].Attachments[0].ContentType)
	assert.Equal(t, "see https://x/a.png", comments[1].Body)
}

func TestZendesk_ListAudits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/tickets/5/audits.json", r.URL.Path)
		_, _ = io.WriteString(w, `{"audits":[{"id":9,"events":[{"id":91,"type":"ChatStartedEvent","value":{"url":"https://x/c.jpg"}}]}]}`)
	}))
	defer srv.Close()

	audits, err := newTestClient(t, srv.URL).ListAudits(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	require.Len(t, audits[0].Events, 1)
	ev := audits[0].Events[0]
	assert.Equal(t, int64(91), ev.ID)
	assert.Equal(t, "ChatStartedEvent", ev.Type)
	assert.Contains(t, ev.Raw, "value")
}

func TestZendesk_AddInternalNote(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v2/tickets/42.json", r.URL.Path)
		assertAuth(t, r)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).AddInternalNote(context.Background(), 42, "[Auto] Matched product: https://shop/p")
	require.NoError(t, err)

	comment := got["ticket"].(map[string]any)["comment"].(map[string]any)
	assert.Equal(t, false, comment["public"])
	assert.Equal(t, "[Auto] Matched product: https://shop/p", comment["body"])
}

func TestZendesk_DownloadAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assertAuth(t, r)
		_, _ = w.Write([]byte("png"))
	}))
	defer srv.Close()

	data, err := newTestClient(t, srv.URL).DownloadAttachment(context.Background(), srv.URL+"/own.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestZendesk_TrustedHost(t *testing.T) {
	z := newTestClient(t, "https://acme.zendesk.com")

	tests := []struct {
		host string
		want bool
	}{
		{host: "acme.zendesk.com", want: true},
		{host: "ACME.zendesk.com", want: true},
		{host: "other.zendesk.com", want: true},
		{host: "p12.zdusercontent.com", want: true},
		{host: "cdn.example.com", want: false},
		{host: "zendesk.com.evil.io", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, z.trustedHost(tt.host))
		})
	}
}

func TestZendesk_DownloadAttachmentInvalidURL(t *testing.T) {
	z := newTestClient(t, "https://acme.zendesk.com")
	_, err := z.DownloadAttachment(context.Background(), "ftp://files/x.png")
	assert.True(t, e.IsUpstream(err))
}

func TestZendesk_BreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	z := newTestClient(t, srv.URL)
	for i := 0; i < 5; i++ {
		_, err := z.ListComments(context.Background(), 1)
		require.Error(t, err)
	}
	require.Equal(t, int32(5), calls.Load())

	_, err := z.ListComments(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, e.IsUpstream(err))
	assert.Equal(t, int32(5), calls.Load(), "open breaker must not hit the server")
}

func TestZendesk_NotFoundDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	z := newTestClient(t, srv.URL)
	for i := 0; i < 7; i++ {
		_, err := z.ListComments(context.Background(), 1)
		require.Error(t, err)
		assert.Equal(t, http.StatusNotFound, httpfetch.StatusCode(err))
	}
	assert.Equal(t, int32(7), calls.Load())
}

func TestNewZendesk_RequiresSubdomain(t *testing.T) {
	_, err := NewZendesk(Config{}, nil, nil, logger.NewNop())
	assert.True(t, e.IsConfiguration(err))
}
