// workers/feed_client.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"affiliate-leaderboard/config"
	"affiliate-leaderboard/models"
	"affiliate-leaderboard/utils"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// maxFeedBody caps how much of a partner response we are willing to buffer.
const maxFeedBody = 32 << 20

type FetchErrorKind string

const (
	FetchTransport     FetchErrorKind = "transport"
	FetchStatus        FetchErrorKind = "status"
	FetchMalformedBody FetchErrorKind = "malformed_body"
	FetchMissingField  FetchErrorKind = "missing_field"
)

// FetchError is returned by FeedClient.FetchFeed for every failure. None of
// the kinds are fatal; the cycle that saw it is abandoned.
type FetchError struct {
	Source     string
	Kind       FetchErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchStatus:
		return fmt.Sprintf("%s feed returned status %d: %s", e.Source, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s feed %s error: %v", e.Source, e.Kind, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Window bounds a feed request by acquisition time, both ends in epoch millis.
type Window struct {
	From int64
	To   int64
}

// FeedClient performs one outbound call against a partner affiliate API.
type FeedClient interface {
	Source() string
	FetchFeed(ctx context.Context, window *Window) ([]models.FeedItem, error)
}

// HTTPFeedClient is the FeedClient for partners exposing a keyed JSON GET.
type HTTPFeedClient struct {
	source     string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	provider   provider
	now        func() time.Time
}

func NewHTTPFeedClient(partner config.Partner, timeout time.Duration) (*HTTPFeedClient, error) {
	newProvider, ok := providers[partner.Name]
	if !ok {
		return nil, errors.Errorf("no feed provider registered for %q", partner.Name)
	}
	if _, err := url.Parse(partner.BaseURL); err != nil {
		return nil, errors.Wrapf(err, "invalid %s base URL '%s'", partner.Name, partner.BaseURL)
	}
	return &HTTPFeedClient{
		source:     partner.Name,
		baseURL:    partner.BaseURL,
		apiKey:     partner.APIKey,
		httpClient: utils.NewHTTPClient(timeout),
		provider:   newProvider(partner),
		now:        time.Now,
	}, nil
}

func (c *HTTPFeedClient) Source() string { return c.source }

func (c *HTTPFeedClient) fail(kind FetchErrorKind, err error) *FetchError {
	return &FetchError{Source: c.source, Kind: kind, Err: err}
}

// FetchFeed requests one page of the partner feed and normalizes it. A nil
// window leaves the partner's default range in place.
func (c *HTTPFeedClient) FetchFeed(ctx context.Context, window *Window) ([]models.FeedItem, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, c.fail(FetchTransport, errors.Wrap(err, "parse base URL"))
	}
	q := endpoint.Query()
	keyHeader := c.provider.keyHeader()
	if keyHeader == "" {
		q.Set("key", c.apiKey)
	}
	c.provider.applyWindow(q, window, c.now().UTC())
	endpoint.RawQuery = q.Encode()

	logURL := utils.RedactQuery(endpoint, "key")
	log.WithField("source", c.source).Debugf("[FEED] ➡️  GET %s", logURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, c.fail(FetchTransport, errors.Wrapf(err, "create request to %s", logURL))
	}
	req.Header.Set("Accept", "application/json")
	if keyHeader != "" {
		req.Header.Set(keyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// *url.Error embeds the full request URL, api key included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, c.fail(FetchTransport, errors.Wrapf(err, "GET %s", logURL))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &FetchError{Source: c.source, Kind: FetchStatus, StatusCode: resp.StatusCode, Body: string(body)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return nil, c.fail(FetchTransport, errors.Wrap(err, "read feed body"))
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, c.fail(FetchMalformedBody, errors.Wrap(err, "decode feed envelope"))
	}

	field := c.provider.listField()
	raw, ok := envelope[field]
	if !ok || string(raw) == "null" {
		return nil, c.fail(FetchMissingField, errors.Errorf("response has no %q list", field))
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		return nil, c.fail(FetchMissingField, errors.Wrapf(err, "%q is not a list", field))
	}

	items := make([]models.FeedItem, 0, len(elements))
	for i, el := range elements {
		item, err := c.provider.decodeItem(el)
		if err != nil {
			item = models.FeedItem{Malformed: fmt.Sprintf("element %d: %v", i, err)}
		}
		items = append(items, item)
	}

	log.WithFields(log.Fields{"source": c.source, "items": len(items)}).Debug("[FEED] 📥 feed page received")
	return items, nil
}
