// Package resolver adapts the third-party assistance-data API: bearer auth,
// size probe, ranged binary fetch and structural verification.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oskarhn/gnss-assist/internal/assist"
	"github.com/oskarhn/gnss-assist/internal/core/observability"
)

// ErrBadGateway marks any resolver-side failure: network errors, non-2xx
// responses and payload-verification failures. Terminal for the cache key.
var ErrBadGateway = errors.New("assistance resolver failure")

// payloadScheme is the only binary container version this build accepts.
const payloadScheme = 0x01

type Config struct {
	BaseURL    string
	ServiceKey string
	TokenTTL   time.Duration
}

type Client struct {
	http  *http.Client
	base  *url.URL
	token *tokenSource
	log   *slog.Logger
}

func New(cfg Config, httpClient *http.Client, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse resolver url: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		http:  httpClient,
		base:  u,
		token: newTokenSource(cfg.ServiceKey, cfg.TokenTTL),
		log:   log,
	}, nil
}

// Resolve executes every sub-request of req in order and returns the payloads
// in the same order. Any sub-request failure aborts the whole resolution.
func (c *Client) Resolve(ctx context.Context, req assist.Request) ([][]byte, error) {
	p, err := assist.Lookup(string(req.Protocol))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	subs := p.Split(req)
	payloads := make([][]byte, 0, len(subs))
	for _, sub := range subs {
		b, err := c.fetch(ctx, sub)
		if err != nil {
			observability.ObserveResolverCall(string(req.Protocol), "error", time.Since(start).Seconds())
			return nil, err
		}
		payloads = append(payloads, b)
	}
	observability.ObserveResolverCall(string(req.Protocol), "ok", time.Since(start).Seconds())
	return payloads, nil
}

// fetch probes the sub-request size with HEAD, then pulls the binary with a
// ranged GET and verifies its structure.
func (c *Client) fetch(ctx context.Context, sub assist.SubRequest) ([]byte, error) {
	u := c.endpoint(sub)

	size, err := c.probe(ctx, u)
	if err != nil {
		return nil, err
	}

	body, err := c.ranged(ctx, u, size)
	if err != nil {
		return nil, err
	}

	if err := verifyPayload(body); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadGateway, u.Path, err)
	}
	return body, nil
}

func (c *Client) endpoint(sub assist.SubRequest) *url.URL {
	r := sub.Request
	q := url.Values{}
	q.Set("mcc", strconv.Itoa(r.MCC))
	q.Set("mnc", strconv.Itoa(r.MNC))
	q.Set("eci", strconv.FormatInt(r.Cell, 10))
	q.Set("tac", strconv.Itoa(r.Area))
	if len(sub.Types) > 0 {
		ts := make([]string, len(sub.Types))
		for i, t := range sub.Types {
			ts[i] = string(t)
		}
		q.Set("types", strings.Join(ts, ","))
	}
	if r.Protocol == assist.ProtocolPGPS {
		q.Set("predictionCount", strconv.Itoa(r.PredictionCount))
		q.Set("predictionIntervalMinutes", strconv.Itoa(r.PredictionInterval))
		if r.StartGPSDay > 0 {
			q.Set("startGpsDay", strconv.Itoa(r.StartGPSDay))
		}
		if r.StartGPSTimeOfDay > 0 {
			q.Set("startGpsTimeOfDaySeconds", strconv.Itoa(r.StartGPSTimeOfDay))
		}
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + sub.Path
	u.RawQuery = q.Encode()
	return &u
}

func (c *Client) probe(ctx context.Context, u *url.URL) (int64, error) {
	resp, err := c.do(ctx, http.MethodHead, u, "")
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: HEAD %s: status %d", ErrBadGateway, u.Path, resp.StatusCode)
	}
	size := resp.ContentLength
	if size <= 0 {
		if v := resp.Header.Get("Content-Length"); v != "" {
			size, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	if size <= 0 {
		return 0, fmt.Errorf("%w: HEAD %s: no content length", ErrBadGateway, u.Path)
	}
	return size, nil
}

func (c *Client) ranged(ctx context.Context, u *url.URL, size int64) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, u, fmt.Sprintf("bytes=0-%d", size-1))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrBadGateway, u.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, size+1))
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: read body: %w", ErrBadGateway, u.Path, err)
	}
	if int64(len(body)) != size {
		return nil, fmt.Errorf("%w: GET %s: got %d bytes, want %d", ErrBadGateway, u.Path, len(body), size)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrBadGateway, err)
	}
	tok, err := c.token.bearer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadGateway, err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrBadGateway, method, u.Path, err)
	}
	return resp, nil
}

// verifyPayload checks the binary container: a scheme byte followed by at
// least one type-length-value block whose lengths stay inside the buffer.
func verifyPayload(b []byte) error {
	if len(b) < 4 {
		return errors.New("payload too short")
	}
	if b[0] != payloadScheme {
		return fmt.Errorf("unsupported payload scheme 0x%02x", b[0])
	}
	off := 1
	blocks := 0
	for off < len(b) {
		if len(b)-off < 3 {
			return errors.New("truncated block header")
		}
		blockLen := int(b[off+1]) | int(b[off+2])<<8
		off += 3
		if blockLen <= 0 || off+blockLen > len(b) {
			return errors.New("block length exceeds payload")
		}
		off += blockLen
		blocks++
	}
	if blocks == 0 {
		return errors.New("payload has no blocks")
	}
	return nil
}
