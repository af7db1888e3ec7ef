// Package remote is the typed HTTP client for the contacts store. It maps
// the store's status codes onto sentinel errors, classifies network and
// overload failures as transient, and routes every call through a circuit
// breaker so an unreachable store fails fast.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/tbourn/go-contacts/internal/domain"
)

const (
	// maxResponseBytes caps reads; a full list of a few thousand contacts
	// stays well below it.
	maxResponseBytes = 8 << 20
	httpTimeout      = 10 * time.Second

	headerIdempotencyKey = "Idempotency-Key"
)

// contactPayload is the request body for create and update. It leaves out
// the server-owned fields and the local pendingSync marker.
type contactPayload struct {
	Name       domain.Name     `json:"name"`
	Email      string          `json:"email"`
	Phone      string          `json:"phone"`
	Cell       string          `json:"cell"`
	Location   domain.Location `json:"location"`
	Picture    domain.Picture  `json:"picture"`
	Dob        domain.DatedAge `json:"dob"`
	Registered domain.DatedAge `json:"registered"`
	IsFavorite bool            `json:"isFavorite"`
}

func toPayload(c domain.Contact) contactPayload {
	return contactPayload{
		Name:       c.Name,
		Email:      c.Email,
		Phone:      c.Phone,
		Cell:       c.Cell,
		Location:   c.Location,
		Picture:    c.Picture,
		Dob:        c.Dob,
		Registered: c.Registered,
		IsFavorite: c.IsFavorite,
	}
}

type errorEnvelope struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Client talks to one contacts store.
type Client struct {
	baseURL    string
	healthURL  string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger

	mu       sync.Mutex
	listETag string
	listLast []domain.Contact
}

// New returns a Client for baseURL, the prefix the /contacts routes are
// mounted under (e.g. "http://localhost:8080" or "https://host/api/v1").
// Health probes always go to /health at the host root. A nil httpClient
// gets a client with a 10-second timeout.
func New(baseURL string, httpClient *http.Client, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing store url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("store url %q must be absolute", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpTimeout}
	}
	health := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/health"}

	c := &Client{
		baseURL:    u.String(),
		healthURL:  health.String(),
		httpClient: httpClient,
		log:        log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "contacts-store",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// Definitive answers (404, 409, 400) mean the store is healthy.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return c, nil
}

// List fetches the whole collection. The previous response's ETag is sent
// as If-None-Match and a 304 returns the previously fetched list.
func (c *Client) List(ctx context.Context) ([]domain.Contact, error) {
	c.mu.Lock()
	etag := c.listETag
	c.mu.Unlock()

	var out struct {
		Contacts []domain.Contact `json:"contacts"`
	}
	hdr := http.Header{}
	if etag != "" {
		hdr.Set("If-None-Match", etag)
	}
	resp, err := c.do(ctx, "list contacts", http.MethodGet, "/contacts", nil, hdr, &out)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if resp.StatusCode == http.StatusNotModified {
		return cloneContacts(c.listLast), nil
	}
	for i := range out.Contacts {
		out.Contacts[i].PendingSync = false
	}
	c.listETag = resp.Header.Get("ETag")
	c.listLast = cloneContacts(out.Contacts)
	return out.Contacts, nil
}

// Get fetches one contact.
func (c *Client) Get(ctx context.Context, id string) (*domain.Contact, error) {
	var out struct {
		Contact domain.Contact `json:"contact"`
	}
	if _, err := c.do(ctx, "get contact", http.MethodGet, "/contacts/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	out.Contact.PendingSync = false
	return &out.Contact, nil
}

// Create posts a new contact. A non-empty idemKey is sent as
// Idempotency-Key so that repeating the call returns the contact created
// the first time.
func (c *Client) Create(ctx context.Context, in domain.Contact, idemKey string) (*domain.Contact, error) {
	hdr := http.Header{}
	if idemKey != "" {
		hdr.Set(headerIdempotencyKey, idemKey)
	}
	var out struct {
		Contact domain.Contact `json:"contact"`
	}
	if _, err := c.do(ctx, "create contact", http.MethodPost, "/contacts", toPayload(in), hdr, &out); err != nil {
		return nil, err
	}
	out.Contact.PendingSync = false
	return &out.Contact, nil
}

// Update replaces the contact stored under id.
func (c *Client) Update(ctx context.Context, id string, in domain.Contact) (*domain.Contact, error) {
	var out struct {
		Contact domain.Contact `json:"contact"`
	}
	if _, err := c.do(ctx, "update contact", http.MethodPut, "/contacts/"+url.PathEscape(id), toPayload(in), nil, &out); err != nil {
		return nil, err
	}
	out.Contact.PendingSync = false
	return &out.Contact, nil
}

// Delete removes the contact stored under id.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete contact", http.MethodDelete, "/contacts/"+url.PathEscape(id), nil, nil, nil)
	return err
}

// Ping reports whether the store answers its health endpoint. It bypasses
// the circuit breaker so reachability can be observed while it is open.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: "ping", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransientError{Op: "ping", Err: fmt.Errorf("health returned %d", resp.StatusCode)}
	}
	return nil
}

// do runs one request through the breaker. 2xx bodies are decoded into out;
// 304 is returned as-is; other statuses become a StatusError, wrapped in a
// TransientError when the status is temporary.
func (c *Client) do(ctx context.Context, op, method, path string, body any, hdr http.Header, out any) (*http.Response, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.roundTrip(ctx, op, method, path, body, hdr, out)
	})
	if err != nil {
		if isBreakerRejection(err) {
			return nil, &TransientError{Op: op, Err: err}
		}
		return nil, err
	}
	return res.(*http.Response), nil
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, body any, hdr http.Header, out any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshalling request body: %w", op, err)
		}
		rd = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransientError{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}

	c.log.Debug().Str("op", op).Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("store call")

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return resp, nil
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return nil, fmt.Errorf("%s: decoding response: %w", op, err)
			}
		}
		return resp, nil
	}

	serr := &StatusError{Status: resp.StatusCode}
	var env errorEnvelope
	if json.Unmarshal(raw, &env) == nil && env.Code != "" {
		serr.Code, serr.Message, serr.RequestID = env.Code, env.Message, env.RequestID
	} else {
		serr.Message = sanitizeBody(raw)
	}
	if isTransientStatus(resp.StatusCode) {
		return nil, &TransientError{Op: op, Err: serr}
	}
	return nil, fmt.Errorf("%s: %w", op, serr)
}

func cloneContacts(in []domain.Contact) []domain.Contact {
	if in == nil {
		return nil
	}
	out := make([]domain.Contact, len(in))
	copy(out, in)
	return out
}
