package fhir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fedsearch/internal/domain"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/query"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/result"
	"github.com/kailas-cloud/fedsearch/internal/metrics"
)

// DefaultMaxBodyBytes caps a single upstream response body.
const DefaultMaxBodyBytes int64 = 10 << 20

// Config holds the FHIR client settings.
type Config struct {
	HTTPClient   *http.Client
	UserAgent    string
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// Client talks FHIR REST to peers and to the primary server.
type Client struct {
	http      *http.Client
	userAgent string
	maxBody   int64
	logger    *zap.Logger
}

// Response is a raw upstream answer, relayed as is when it cannot be merged.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewClient creates a FHIR client.
func NewClient(cfg Config) *Client {
	c := &Client{
		http:      cfg.HTTPClient,
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodyBytes,
		logger:    cfg.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.userAgent == "" {
		c.userAgent = "fedsearch"
	}
	if c.maxBody <= 0 {
		c.maxBody = DefaultMaxBodyBytes
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Search sends q to its peer and decodes the answer as a Bundle.
func (c *Client) Search(ctx context.Context, q query.Query) (result.Set, error) {
	name := q.Peer().Name()
	start := time.Now()

	resp, err := c.do(ctx, SearchURL(q), nil)
	metrics.PeerRequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PeerRequestsTotal.WithLabelValues(name, requestStatus(err)).Inc()
		return result.Set{}, fmt.Errorf("search %s: %w", name, err)
	}
	metrics.PeerRequestsTotal.WithLabelValues(name, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result.Set{}, domain.NewPeerStatus(name, resp.StatusCode)
	}
	bundle, err := DecodeBundle(resp.Body)
	if err != nil {
		return result.Set{}, fmt.Errorf("search %s: %w", name, err)
	}

	c.logger.Debug("peer search completed",
		zap.String("peer", name),
		zap.String("resource_type", q.ResourceType()),
		zap.Int("entries", len(bundle.Entry)),
		zap.Duration("latency", time.Since(start)),
	)
	return bundle.Set(), nil
}

// Fetch runs q against its target and returns the raw answer, whatever its status.
// Only transport failures are errors.
func (c *Client) Fetch(ctx context.Context, q query.Query, header http.Header) (*Response, error) {
	resp, err := c.do(ctx, SearchURL(q), header)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q.Peer().Name(), err)
	}
	return resp, nil
}

// Ping checks that baseURL serves a capability statement.
func (c *Client) Ping(ctx context.Context, baseURL string) error {
	resp, err := c.do(ctx, strings.TrimRight(baseURL, "/")+"/metadata", nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: metadata answered %d", domain.ErrPeerStatus, resp.StatusCode)
	}
	return nil
}

// SearchURL renders q as "{base}/{type}?{params}".
func SearchURL(q query.Query) string {
	u := q.Peer().BaseURL() + "/" + q.ResourceType()
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// forwardedHeaders are copied from the inbound request to the primary.
var forwardedHeaders = []string{"Authorization", "Accept-Language", "Prefer", "X-Request-ID"}

func (c *Client) do(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrPeerUnavailable, err)
	}
	for _, h := range forwardedHeaders {
		if v := header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	req.Header.Set("Accept", ContentType)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, classify(err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrPeerResponse, c.maxBody)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// classify maps a transport error onto the timeout or unavailable sentinel.
func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", domain.ErrPeerTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrPeerUnavailable, err)
}

func requestStatus(err error) string {
	switch {
	case errors.Is(err, domain.ErrPeerTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrPeerResponse):
		return "invalid_body"
	default:
		return "error"
	}
}
