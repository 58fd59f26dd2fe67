/**
 * Lookup client - Scryfall fuzzy card search
 *
 * Issues exactly one GET <endpoint>?fuzzy=<query> per call and maps every
 * response into a Result. Retries belong to the caller.
 */

package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BJohnRogers/FinalVision/internal/logging"
	"github.com/BJohnRogers/FinalVision/internal/query"
)

const (
	// DefaultEndpoint is Scryfall's named-card search
	DefaultEndpoint = "https://api.scryfall.com/cards/named"
	// DefaultTimeout bounds a single lookup
	DefaultTimeout = 5 * time.Second

	maxBodyBytes = 4 << 20
)

// Config holds lookup client configuration
type Config struct {
	Endpoint   string
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client // optional; the timeout is applied per call regardless
}

// Client performs card lookups over HTTP
type Client struct {
	endpoint   *url.URL
	timeout    time.Duration
	userAgent  string
	httpClient *http.Client
	logger     *logging.Logger
}

// scryfallError is the error object Scryfall returns with non-2xx statuses
type scryfallError struct {
	Object  string `json:"object"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Details string `json:"details"`
}

// NewClient creates a new lookup client
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid lookup endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("invalid lookup endpoint %q: scheme must be http or https", cfg.Endpoint)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cardscan/1.0"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		endpoint:   endpoint,
		timeout:    cfg.Timeout,
		userAgent:  cfg.UserAgent,
		httpClient: httpClient,
		logger:     logging.NewLogger("LookupClient"),
	}, nil
}

// RequestURL returns the URL a lookup for q is sent to
func (c *Client) RequestURL(q query.LookupQuery) string {
	u := *c.endpoint
	param := "fuzzy=" + q.Encoded
	if u.RawQuery != "" {
		u.RawQuery += "&" + param
	} else {
		u.RawQuery = param
	}
	return u.String()
}

// Lookup resolves q. It returns when the service answers, the per-call timeout
// elapses or ctx is cancelled, whichever happens first.
func (c *Client) Lookup(ctx context.Context, q query.LookupQuery) Result {
	startTime := time.Now()

	if q.Encoded == "" {
		return Failed(&Failure{Kind: FailureMalformedResponse, Cause: query.ErrEmpty})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RequestURL(q), nil)
	if err != nil {
		return Failed(&Failure{Kind: FailureTransport, Cause: fmt.Errorf("failed to create request: %w", err)})
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Failed(&Failure{Kind: FailureTransport, Cause: transportCause(ctx, err)})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Failed(&Failure{Kind: FailureTransport, Cause: transportCause(ctx, fmt.Errorf("failed to read response body: %w", err))})
	}

	result := c.parse(resp.StatusCode, body)

	if result.OK() {
		c.logger.Debug("Lookup resolved",
			"query", q.Normalized,
			"cardId", result.Card.ID,
			"duration", time.Since(startTime))
	} else {
		c.logger.Debug("Lookup failed",
			"query", q.Normalized,
			"kind", string(result.Failure.Kind),
			"status", resp.StatusCode,
			"duration", time.Since(startTime))
	}

	return result
}

func (c *Client) parse(status int, body []byte) Result {
	if status < 200 || status > 299 {
		f := &Failure{Kind: FailureHTTPStatus, StatusCode: status}
		var apiErr scryfallError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Object == "error" {
			f.Details = apiErr.Details
		}
		return Failed(f)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Failed(&Failure{Kind: FailureMalformedResponse, Cause: err})
	}

	var card Card
	if err := json.Unmarshal(fields["scryfall_uri"], &card.ScryfallURI); err != nil || card.ScryfallURI == "" {
		return Failed(&Failure{Kind: FailureMalformedResponse, Cause: errors.New("response has no scryfall_uri")})
	}

	// Everything else is display data; a field of an unexpected type is left empty.
	optionalString(fields, "id", &card.ID)
	optionalString(fields, "name", &card.Name)
	optionalString(fields, "set", &card.Set)
	optionalString(fields, "set_name", &card.SetName)
	optionalString(fields, "collector_number", &card.CollectorNumber)
	optionalString(fields, "type_line", &card.TypeLine)
	optionalString(fields, "mana_cost", &card.ManaCost)
	optionalString(fields, "oracle_text", &card.OracleText)
	if raw, ok := fields["image_uris"]; ok {
		var uris map[string]string
		if json.Unmarshal(raw, &uris) == nil {
			card.ImageURIs = uris
		}
	}

	return Success(&card)
}

func optionalString(fields map[string]json.RawMessage, name string, dst *string) {
	raw, ok := fields[name]
	if !ok {
		return
	}
	var v string
	if json.Unmarshal(raw, &v) == nil {
		*dst = v
	}
}

// transportCause prefers the context error so a timeout reads as
// context.DeadlineExceeded and a supersession as context.Canceled.
func transportCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %v", ctxErr, err)
	}
	return err
}
