package workers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"affiliate-leaderboard/config"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, source string, handler http.HandlerFunc) *HTTPFeedClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewHTTPFeedClient(config.Partner{Name: source, BaseURL: srv.URL + "/v1/referrals", APIKey: "k3y"}, 2*time.Second)
	require.NoError(t, err)
	return c
}

func requireFetchKind(t *testing.T, err error, kind FetchErrorKind) *FetchError {
	t.Helper()
	require.Error(t, err)
	var fe *FetchError
	require.True(t, errors.As(err, &fe), "expected *FetchError, got %T", err)
	require.Equal(t, kind, fe.Kind)
	return fe
}

func TestChickenFetchNormalizesItems(t *testing.T) {
	var gotQuery url.Values
	c := newTestClient(t, config.SourceChicken, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"referrals":[
			{"userId":"u1","displayName":"Alice","xpEarned":10,"acquireTime":1000,"wagerAmount":"12.50"},
			{"userId":42,"displayName":"  ","xp":"7.5"},
			{"displayName":"no id","xpEarned":3},
			{"userId":"bad","xpEarned":{"oops":true}}
		]}`))
	})

	items, err := c.FetchFeed(context.Background(), &Window{From: 100, To: 200})
	require.NoError(t, err)
	require.Equal(t, "k3y", gotQuery.Get("key"))
	require.Equal(t, "100", gotQuery.Get("minTime"))
	require.Equal(t, "200", gotQuery.Get("maxTime"))

	require.Len(t, items, 4)

	require.Equal(t, "u1", items[0].UserID)
	require.Equal(t, "Alice", *items[0].DisplayName)
	require.Equal(t, 10.0, items[0].XP)
	require.Equal(t, int64(1000), *items[0].ReferredAt)
	require.True(t, items[0].WagerAmount.Equal(decimal.RequireFromString("12.5")))
	require.True(t, items[0].DepositAmount.IsZero())

	require.Equal(t, "42", items[1].UserID)
	require.Nil(t, items[1].DisplayName)
	require.Equal(t, 7.5, items[1].XP)
	require.Nil(t, items[1].ReferredAt)

	require.Empty(t, items[2].UserID)
	require.Empty(t, items[2].Malformed)

	require.NotEmpty(t, items[3].Malformed)
}

func TestChickenFetchWithoutWindowOmitsBounds(t *testing.T) {
	var gotQuery url.Values
	c := newTestClient(t, config.SourceChicken, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"referrals":[]}`))
	})

	items, err := c.FetchFeed(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, items)
	require.False(t, gotQuery.Has("minTime"))
	require.False(t, gotQuery.Has("maxTime"))
}

func TestRainbetFetchUsesCalendarWindow(t *testing.T) {
	var gotQuery url.Values
	c := newTestClient(t, config.SourceRainbet, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"affiliates":[{"id":"r1","username":"bob","wagered_amount":"150.25"},{"username":"carol","wagered_amount":5}]}`))
	})
	c.now = func() time.Time { return time.Date(2025, 3, 17, 12, 0, 0, 0, time.UTC) }

	items, err := c.FetchFeed(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "2025-03-01", gotQuery.Get("start_at"))
	require.Equal(t, "2025-03-17", gotQuery.Get("end_at"))

	require.Len(t, items, 2)
	require.Equal(t, "r1", items[0].UserID)
	require.Equal(t, 150.25, items[0].XP)
	require.True(t, items[0].WagerAmount.Equal(decimal.RequireFromString("150.25")))
	require.Equal(t, "carol", items[1].UserID)

	from := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC).UnixMilli()
	to := time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC).UnixMilli()
	_, err = c.FetchFeed(context.Background(), &Window{From: from, To: to})
	require.NoError(t, err)
	require.Equal(t, "2025-01-02", gotQuery.Get("start_at"))
	require.Equal(t, "2025-01-09", gotQuery.Get("end_at"))
}

func TestFetchStatusError(t *testing.T) {
	c := newTestClient(t, config.SourceChicken, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})
	_, err := c.FetchFeed(context.Background(), nil)
	fe := requireFetchKind(t, err, FetchStatus)
	require.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	require.Contains(t, fe.Body, "upstream exploded")
}

func TestFetchMalformedBody(t *testing.T) {
	c := newTestClient(t, config.SourceChicken, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})
	_, err := c.FetchFeed(context.Background(), nil)
	requireFetchKind(t, err, FetchMalformedBody)
}

func TestFetchMissingListField(t *testing.T) {
	c := newTestClient(t, config.SourceChicken, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	_, err := c.FetchFeed(context.Background(), nil)
	requireFetchKind(t, err, FetchMissingField)

	c = newTestClient(t, config.SourceChicken, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"referrals":{"userId":"u1"}}`))
	})
	_, err = c.FetchFeed(context.Background(), nil)
	requireFetchKind(t, err, FetchMissingField)
}

func TestFetchTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c, err := NewHTTPFeedClient(config.Partner{Name: config.SourceChicken, BaseURL: srv.URL, APIKey: "k"}, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = c.FetchFeed(context.Background(), nil)
	requireFetchKind(t, err, FetchTransport)
}

func TestNewHTTPFeedClientUnknownSource(t *testing.T) {
	_, err := NewHTTPFeedClient(config.Partner{Name: "stake", BaseURL: "https://example.com", APIKey: "k"}, time.Second)
	require.Error(t, err)
}

func TestFetchErrorMessageDoesNotLeakKey(t *testing.T) {
	c, err := NewHTTPFeedClient(config.Partner{Name: config.SourceChicken, BaseURL: "http://127.0.0.1:1/v1", APIKey: "supersecret"}, 200*time.Millisecond)
	require.NoError(t, err)
	_, err = c.FetchFeed(context.Background(), nil)
	requireFetchKind(t, err, FetchTransport)
	require.NotContains(t, err.Error(), "supersecret")
}

func TestCSGOWinFetchSendsKeyAsHeader(t *testing.T) {
	var gotQuery url.Values
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotKey = r.Header.Get("x-apikey")
		_, _ = w.Write([]byte(`{"data":[
			{"id":7,"username":"dave","wagered":"320.5","deposited":100,"earned":"3.2"},
			{"userId":"u9","name":"erin","wager":12},
			{"id":"neg","wagered":-1}
		]}`))
	}))
	t.Cleanup(srv.Close)
	c, err := NewHTTPFeedClient(config.Partner{Name: config.SourceCSGOWin, BaseURL: srv.URL + "/api/affiliate/external", APIKey: "hdr-key", Code: "degen"}, 2*time.Second)
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC) }

	items, err := c.FetchFeed(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "hdr-key", gotKey)
	require.False(t, gotQuery.Has("key"))
	require.Equal(t, "degen", gotQuery.Get("code"))
	require.Equal(t, "wager", gotQuery.Get("by"))
	require.Equal(t, "desc", gotQuery.Get("sort"))
	require.Equal(t, "0", gotQuery.Get("skip"))
	require.Equal(t, "1735689600000", gotQuery.Get("gt"))
	require.Equal(t, "1749542400000", gotQuery.Get("lt"))

	require.Len(t, items, 3)
	require.Equal(t, "7", items[0].UserID)
	require.Equal(t, "dave", *items[0].DisplayName)
	require.Equal(t, 320.5, items[0].XP)
	require.True(t, items[0].DepositAmount.Equal(decimal.NewFromInt(100)))
	require.True(t, items[0].CommissionAmount.Equal(decimal.RequireFromString("3.2")))
	require.Equal(t, "u9", items[1].UserID)
	require.Equal(t, "erin", *items[1].DisplayName)
	require.Equal(t, 12.0, items[1].XP)
	require.NotEmpty(t, items[2].Malformed)

	_, err = c.FetchFeed(context.Background(), &Window{From: 5, To: 9})
	require.NoError(t, err)
	require.Equal(t, "5", gotQuery.Get("gt"))
	require.Equal(t, "9", gotQuery.Get("lt"))
}
