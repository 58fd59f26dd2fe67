package lookup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BJohnRogers/FinalVision/internal/cache"
	"github.com/BJohnRogers/FinalVision/internal/query"
)

func mustQuery(t *testing.T, s string) query.LookupQuery {
	t.Helper()
	q, err := query.FromString(s)
	require.NoError(t, err)
	return q
}

func newTestClient(t *testing.T, endpoint string, timeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(Config{Endpoint: endpoint, Timeout: timeout, UserAgent: "cardscan-test"})
	require.NoError(t, err)
	return c
}

func TestLookupSuccess(t *testing.T) {
	seen := make(chan [3]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- [3]string{r.URL.RawQuery, r.Header.Get("Accept"), r.Header.Get("User-Agent")}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "card",
			"id": "ce711943-c1a1-43a0-8b89-8d169cfb8e06",
			"name": "Lightning Bolt",
			"set": "lea",
			"collector_number": "161",
			"scryfall_uri": "https://scryfall.com/card/lea/161",
			"image_uris": {"small": "https://cards.scryfall.io/small/bolt.jpg", "normal": "https://cards.scryfall.io/normal/bolt.jpg"}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/cards/named", time.Second)
	result := c.Lookup(context.Background(), mustQuery(t, "Lightning Bolt"))

	require.True(t, result.OK())
	assert.Nil(t, result.Failure)
	assert.Equal(t, "https://scryfall.com/card/lea/161", result.Card.ScryfallURI)
	assert.Equal(t, "Lightning Bolt", result.Card.Name)
	assert.Equal(t, "https://cards.scryfall.io/normal/bolt.jpg", result.Card.ImageURL())

	got := <-seen
	assert.Equal(t, "fuzzy=Lightning%20Bolt", got[0])
	assert.Equal(t, "application/json", got[1])
	assert.Equal(t, "cardscan-test", got[2])
}

func TestLookupMinimalRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"scryfall_uri": "https://scryfall.com/card/lea/161"}`))
	}))
	defer srv.Close()

	result := newTestClient(t, srv.URL, time.Second).Lookup(context.Background(), mustQuery(t, "Lightning Bolt"))
	require.True(t, result.OK())
	assert.Equal(t, "", result.Card.ImageURL())
}

func TestLookupIgnoresMistypedOptionalFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "x",
			"name": "Lightning Bolt",
			"scryfall_uri": "https://scryfall.com/card/lea/161",
			"collector_number": 161,
			"set": null,
			"image_uris": ["https://cards.scryfall.io/normal/bolt.jpg"]
		}`))
	}))
	defer srv.Close()

	result := newTestClient(t, srv.URL, time.Second).Lookup(context.Background(), mustQuery(t, "Lightning Bolt"))
	require.True(t, result.OK(), "failure: %v", result.Failure)
	assert.Equal(t, "https://scryfall.com/card/lea/161", result.Card.ScryfallURI)
	assert.Equal(t, "x", result.Card.ID)
	assert.Equal(t, "Lightning Bolt", result.Card.Name)
	assert.Empty(t, result.Card.CollectorNumber)
	assert.Empty(t, result.Card.Set)
	assert.Empty(t, result.Card.ImageURL())
}

func TestLookupFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    FailureKind
		code    int
		details string
	}{
		{
			name:    "not found with scryfall error",
			status:  http.StatusNotFound,
			body:    `{"object":"error","code":"not_found","status":404,"details":"No cards found matching “Lightnig Bot”"}`,
			kind:    FailureHTTPStatus,
			code:    404,
			details: "No cards found matching “Lightnig Bot”",
		},
		{
			name:   "server error with html body",
			status: http.StatusBadGateway,
			body:   `<html>bad gateway</html>`,
			kind:   FailureHTTPStatus,
			code:   502,
		},
		{
			name:   "not json",
			status: http.StatusOK,
			body:   `<html>ok</html>`,
			kind:   FailureMalformedResponse,
		},
		{
			name:   "json array",
			status: http.StatusOK,
			body:   `[{"scryfall_uri":"https://scryfall.com/card/lea/161"}]`,
			kind:   FailureMalformedResponse,
		},
		{
			name:   "missing scryfall_uri",
			status: http.StatusOK,
			body:   `{"object":"card","id":"abc","name":"Lightning Bolt"}`,
			kind:   FailureMalformedResponse,
		},
		{
			name:   "empty scryfall_uri",
			status: http.StatusOK,
			body:   `{"id":"abc","scryfall_uri":""}`,
			kind:   FailureMalformedResponse,
		},
		{
			name:   "scryfall_uri not a string",
			status: http.StatusOK,
			body:   `{"id":"abc","scryfall_uri":161}`,
			kind:   FailureMalformedResponse,
		},
		{
			name:   "null body",
			status: http.StatusOK,
			body:   `null`,
			kind:   FailureMalformedResponse,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			result := newTestClient(t, srv.URL, time.Second).Lookup(context.Background(), mustQuery(t, "Lightnig Bot"))
			require.False(t, result.OK())
			require.NotNil(t, result.Failure)
			assert.Nil(t, result.Card)
			assert.Equal(t, tc.kind, result.Failure.Kind)
			assert.Equal(t, tc.code, result.Failure.StatusCode)
			assert.Equal(t, tc.details, result.Failure.Details)
			assert.NotEmpty(t, result.Failure.Error())
		})
	}
}

func TestLookupTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	result := newTestClient(t, endpoint, time.Second).Lookup(context.Background(), mustQuery(t, "Lightning Bolt"))
	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureTransport, result.Failure.Kind)
	assert.Error(t, result.Failure.Cause)
}

func TestLookupTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	result := newTestClient(t, srv.URL, 50*time.Millisecond).Lookup(context.Background(), mustQuery(t, "Lightning Bolt"))

	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureTransport, result.Failure.Kind)
	assert.True(t, errors.Is(result.Failure, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLookupCancelled(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result := newTestClient(t, srv.URL, 5*time.Second).Lookup(ctx, mustQuery(t, "Lightning Bolt"))
	require.NotNil(t, result.Failure)
	assert.Equal(t, FailureTransport, result.Failure.Kind)
	assert.True(t, errors.Is(result.Failure, context.Canceled))
}

func TestLookupEmptyQueryIssuesNoRequest(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	result := newTestClient(t, srv.URL, time.Second).Lookup(context.Background(), query.LookupQuery{})
	require.NotNil(t, result.Failure)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Endpoint: "ftp://example.com"})
	assert.Error(t, err)

	c, err := NewClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, "https://api.scryfall.com/cards/named?fuzzy=Lightning%20Bolt", c.RequestURL(mustQuery(t, "Lightning Bolt")))

	c, err = NewClient(Config{Endpoint: "https://example.com/cards/named?format=json"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cards/named?format=json&fuzzy=Fire%20%2F%2F%20Ice", c.RequestURL(mustQuery(t, "Fire // Ice")))
}

func TestCachingResolver(t *testing.T) {
	var calls int32
	next := ResolverFunc(func(ctx context.Context, q query.LookupQuery) Result {
		atomic.AddInt32(&calls, 1)
		if q.Normalized == "Nonexistent Card" {
			return Failed(&Failure{Kind: FailureHTTPStatus, StatusCode: 404})
		}
		return Success(&Card{ID: "bolt", Name: "Lightning Bolt", ScryfallURI: "https://scryfall.com/card/lea/161"})
	})

	store := cache.NewMemoryStore(10)
	r := NewCachingResolver(next, store, time.Hour)
	ctx := context.Background()

	first := r.Lookup(ctx, mustQuery(t, "Lightning Bolt"))
	require.True(t, first.OK())
	assert.False(t, first.Cached)

	second := r.Lookup(ctx, mustQuery(t, "lightning  bolt"))
	require.True(t, second.OK())
	assert.True(t, second.Cached)
	assert.Equal(t, first.Card.ScryfallURI, second.Card.ScryfallURI)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Failures are never cached.
	for i := 0; i < 2; i++ {
		res := r.Lookup(ctx, mustQuery(t, "Nonexistent Card"))
		require.NotNil(t, res.Failure)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, store.Len())
}

func TestCachingResolverDiscardsCorruptEntries(t *testing.T) {
	store := cache.NewMemoryStore(10)
	q := mustQuery(t, "Lightning Bolt")
	require.NoError(t, store.Set(context.Background(), CacheKey(q), []byte("{not json"), time.Hour))

	r := NewCachingResolver(ResolverFunc(func(ctx context.Context, q query.LookupQuery) Result {
		return Success(&Card{ScryfallURI: "https://scryfall.com/card/lea/161"})
	}), store, time.Hour)

	res := r.Lookup(context.Background(), q)
	require.True(t, res.OK())
	assert.False(t, res.Cached)

	res = r.Lookup(context.Background(), q)
	assert.True(t, res.Cached)
}

// deleteFailingStore is a memory store whose Delete always fails
type deleteFailingStore struct {
	*cache.MemoryStore
}

func (s deleteFailingStore) Delete(ctx context.Context, key string) error {
	return errors.New("delete refused")
}

func TestCachingResolverSurvivesDeleteFailure(t *testing.T) {
	store := deleteFailingStore{cache.NewMemoryStore(10)}
	q := mustQuery(t, "Lightning Bolt")
	require.NoError(t, store.Set(context.Background(), CacheKey(q), []byte("{not json"), time.Hour))

	var calls int32
	r := NewCachingResolver(ResolverFunc(func(ctx context.Context, q query.LookupQuery) Result {
		atomic.AddInt32(&calls, 1)
		return Success(&Card{ScryfallURI: "https://scryfall.com/card/lea/161"})
	}), store, time.Hour)

	res := r.Lookup(context.Background(), q)
	require.True(t, res.OK())
	assert.False(t, res.Cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// The fresh card overwrote the corrupt entry
	res = r.Lookup(context.Background(), q)
	assert.True(t, res.Cached)
}
