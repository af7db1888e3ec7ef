package randomuser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

const samplePayload = `{
  "results": [
    {
      "name": {"title": "Ms", "first": "Jennie", "last": "Nichols"},
      "location": {
        "street": {"number": 8929, "name": "Valwood Pkwy"},
        "city": "Billings", "state": "Michigan", "country": "United States",
        "postcode": 63104
      },
      "email": "Jennie.Nichols@example.com",
      "dob": {"date": "1992-03-08T15:13:16.688Z", "age": 30},
      "registered": {"date": "2007-07-09T05:51:59.390Z", "age": 14},
      "phone": "(272) 790-0888",
      "cell": "(489) 330-2385",
      "picture": {
        "large": "https://randomuser.me/api/portraits/women/75.jpg",
        "medium": "https://randomuser.me/api/portraits/med/women/75.jpg",
        "thumbnail": "https://randomuser.me/api/portraits/thumb/women/75.jpg"
      }
    },
    {
      "name": {"first": "Ole"},
      "email": "ole@example.com",
      "location": {"postcode": "N4P 2X1"}
    }
  ]
}`

func TestParseResults_MapsFieldsAndDefaults(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	got, err := ParseResults([]byte(samplePayload), now)
	if err != nil {
		t.Fatalf("ParseResults: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d; want 2", len(got))
	}

	a := got[0]
	if a.Name.First != "Jennie" || a.Name.Last != "Nichols" || a.Email != "jennie.nichols@example.com" {
		t.Fatalf("name/email mismatch: %+v", a)
	}
	if a.Location.Street.Number != 8929 || a.Location.Postcode != "63104" || a.Location.City != "Billings" {
		t.Fatalf("location mismatch: %+v", a.Location)
	}
	if a.Picture.Thumbnail == "" || a.Dob.Age != 30 || a.Registered.Date != "2007-07-09T05:51:59.390Z" {
		t.Fatalf("picture/dob/registered mismatch: %+v", a)
	}
	if a.ID != "" {
		t.Fatalf("ids must be left for the store to assign, got %q", a.ID)
	}

	b := got[1]
	if b.Location.Postcode != "N4P 2X1" || b.Name.Last != "" || !b.Picture.IsEmpty() {
		t.Fatalf("defaults mismatch: %+v", b)
	}
	if b.Registered.Date != now.Format(time.RFC3339) {
		t.Fatalf("registered date not stamped: %q", b.Registered.Date)
	}
}

func TestParseResults_InvalidAndErrorPayloads(t *testing.T) {
	if _, err := ParseResults([]byte("{nope"), time.Now()); !errors.Is(err, ErrUpstream) {
		t.Fatalf("invalid JSON: expected ErrUpstream, got %v", err)
	}
	if _, err := ParseResults([]byte(`{"error":"Uh oh"}`), time.Now()); !errors.Is(err, ErrUpstream) || !strings.Contains(err.Error(), "Uh oh") {
		t.Fatalf("error payload: got %v", err)
	}
	got, err := ParseResults([]byte(`{"results":[]}`), time.Now())
	if err != nil || len(got) != 0 {
		t.Fatalf("empty results = (%v, %v)", got, err)
	}
}

func TestGenerate_SendsResultsParam(t *testing.T) {
	var gotResults string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotResults = r.URL.Query().Get("results")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(samplePayload))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	got, err := c.Generate(context.Background(), 2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if gotResults != "2" || len(got) != 2 {
		t.Fatalf("results param %q, len %d", gotResults, len(got))
	}
}

func TestGenerate_InvalidCount(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", nil)
	if _, err := c.Generate(context.Background(), 0); !errors.Is(err, ErrInvalidCount) {
		t.Fatalf("expected ErrInvalidCount, got %v", err)
	}
}

func TestGenerate_UpstreamErrorTripsBreaker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	for i := 0; i < 3; i++ {
		if _, err := c.Generate(context.Background(), 1); !errors.Is(err, ErrUpstream) {
			t.Fatalf("call %d: expected ErrUpstream, got %v", i, err)
		}
	}
	if _, err := c.Generate(context.Background(), 1); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("upstream calls = %d; want 3", calls)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", nil)
	if c.baseURL != DefaultBaseURL || c.httpClient == nil || c.httpClient.Timeout != httpTimeout {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}
