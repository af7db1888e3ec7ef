// Package randomuser fetches generated contacts from a randomuser.me
// compatible API. Payloads are picked apart with gjson so the shape of the
// upstream document (numeric vs. string postcodes, extra fields) does not
// leak into the domain model. Calls go through a circuit breaker so a dead
// upstream fails fast instead of stalling every batch request.
package randomuser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"

	"github.com/tbourn/go-contacts/internal/domain"
)

// DefaultBaseURL is the public generator endpoint.
const DefaultBaseURL = "https://randomuser.me/api/"

const (
	// maxResponseBytes caps upstream reads; a 100-result page is ~120KiB.
	maxResponseBytes = 4 << 20
	httpTimeout      = 15 * time.Second
)

var (
	// ErrUpstream is returned when the generator answers with a non-2xx status
	// or a payload that is not valid JSON.
	ErrUpstream = errors.New("random user upstream failed")
	// ErrInvalidCount is returned for counts below 1.
	ErrInvalidCount = errors.New("count must be at least 1")
)

// Generator produces count fresh contacts.
type Generator interface {
	Generate(ctx context.Context, count int) ([]domain.Contact, error)
}

// Client talks to the generator API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker
}

// NewClient returns a Client for baseURL (DefaultBaseURL when empty). A nil
// httpClient gets a client with a 15-second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpTimeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "randomuser",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Generate fetches count contacts. IDs are left empty; callers persist them
// through the normal create path which assigns ids.
func (c *Client) Generate(ctx context.Context, count int) ([]domain.Contact, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, count)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.Contact), nil
}

func (c *Client) fetch(ctx context.Context, count int) ([]domain.Contact, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing generator url: %w", err)
	}
	q := u.Query()
	q.Set("results", strconv.Itoa(count))
	q.Set("noinfo", "")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting generator: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading generator response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	return ParseResults(body, time.Now().UTC())
}

// ParseResults converts a generator payload into contacts. Missing fields
// default to zero values; a registered date is stamped with now when the
// payload carries none.
func ParseResults(body []byte, now time.Time) ([]domain.Contact, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrUpstream)
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, msg.String())
	}

	results := gjson.GetBytes(body, "results").Array()
	out := make([]domain.Contact, 0, len(results))
	for _, r := range results {
		c := domain.Contact{
			Name: domain.Name{
				First: r.Get("name.first").String(),
				Last:  r.Get("name.last").String(),
			},
			Email: strings.ToLower(r.Get("email").String()),
			Phone: r.Get("phone").String(),
			Cell:  r.Get("cell").String(),
			Location: domain.Location{
				Street: domain.Street{
					Number: int(r.Get("location.street.number").Int()),
					Name:   r.Get("location.street.name").String(),
				},
				City:     r.Get("location.city").String(),
				State:    r.Get("location.state").String(),
				Country:  r.Get("location.country").String(),
				Postcode: r.Get("location.postcode").String(),
			},
			Picture: domain.Picture{
				Large:     r.Get("picture.large").String(),
				Medium:    r.Get("picture.medium").String(),
				Thumbnail: r.Get("picture.thumbnail").String(),
			},
			Dob: domain.DatedAge{
				Date: r.Get("dob.date").String(),
				Age:  int(r.Get("dob.age").Int()),
			},
			Registered: domain.DatedAge{
				Date: r.Get("registered.date").String(),
				Age:  int(r.Get("registered.age").Int()),
			},
		}
		if c.Registered.Date == "" {
			c.Registered.Date = now.Format(time.RFC3339)
		}
		out = append(out, c)
	}
	return out, nil
}
