package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/custodia-labs/graphgate/internal/connectors/microsoft"
	"github.com/custodia-labs/graphgate/internal/core/ports/driven"
)

// defaultTop is the page size for inbox listings, matching the Graph
// default the product has always exposed.
const defaultTop = 10

// maxTop is the Graph page-size ceiling for message collections.
const maxTop = 1000

// Client lists Outlook mail for one account. Every request obtains its
// bearer token from the token provider, so callers always ride on a valid,
// proactively refreshed token.
type Client struct {
	tokenProvider driven.TokenProvider
	rateLimiter   *microsoft.RateLimiter
	httpClient    *http.Client
	baseURL       string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the Graph base URL, used by tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates an Outlook client bound to a token provider.
func New(tokenProvider driven.TokenProvider, opts ...Option) *Client {
	c := &Client{
		tokenProvider: tokenProvider,
		rateLimiter:   microsoft.NewRateLimiter(),
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       microsoft.DefaultGraphBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListInbox returns summaries of the most recent inbox messages, newest
// first. top <= 0 uses the default page size.
func (c *Client) ListInbox(ctx context.Context, top int) ([]Summary, error) {
	if top <= 0 {
		top = defaultTop
	}
	if top > maxTop {
		top = maxTop
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokenProvider.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	url := c.baseURL + "/me/messages?$top=" + strconv.Itoa(top) +
		"&$select=id,subject,bodyPreview,from,receivedDateTime,isRead,hasAttachments,webLink" +
		"&$orderby=receivedDateTime%20desc"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if microsoft.IsRateLimited(resp.StatusCode) {
			retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			c.rateLimiter.RecordRateLimitError(retryAfter)
		}
		return nil, fmt.Errorf("list messages failed with status %d: %w",
			resp.StatusCode, microsoft.WrapError(resp.StatusCode))
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	summaries := make([]Summary, 0, len(page.Value))
	for _, msg := range page.Value {
		summaries = append(summaries, msg.ToSummary())
	}
	return summaries, nil
}
