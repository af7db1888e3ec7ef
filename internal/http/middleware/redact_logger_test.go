package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func lastLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("bad log line %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestRedactingLogger_InfoAndRedactions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/contacts/:id", func(c *gin.Context) {
		LoggerFrom(c).Info().Msg("inside")
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet,
		"/contacts/123e4567-e89b-12d3-a456-426614174000?q=jennie+nichols&email=jen@example.com&phone=212-555-1212", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Api-Key", "k")
	req.Header.Set("X-Note", "call 212-555-1212 or mail a@b.co")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := buf.String()
	for _, leak := range []string{"jennie", "jen@example.com", "212-555-1212", "secret", "a@b.co"} {
		if strings.Contains(out, leak) {
			t.Fatalf("log leaked %q: %s", leak, out)
		}
	}
	if !strings.Contains(out, `"message":"inside"`) || !strings.Contains(out, `"path":"/contacts/:id"`) {
		t.Fatalf("request-scoped logger missing fields: %s", out)
	}

	m := lastLogLine(t, buf)
	if m["level"] != "info" || m["message"] != "http_request" || m["replay"] != false {
		t.Fatalf("unexpected access log: %v", m)
	}
	q, _ := m["query"].(string)
	if !strings.Contains(q, "q=%5BREDACTED%5D") || !strings.Contains(q, "REDACTED%3Aemail") {
		t.Fatalf("query not redacted as expected: %q", q)
	}
	headers, _ := m["headers"].(map[string]any)
	if headers["Authorization"] != "[REDACTED]" || headers["X-Api-Key"] != "[REDACTED]" {
		t.Fatalf("headers not masked: %v", headers)
	}
}

func TestRedactingLogger_WarnAndErrorLevels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/err", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))
	if m := lastLogLine(t, buf); m["level"] != "warn" {
		t.Fatalf("4xx level = %v", m["level"])
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/err", nil))
	if m := lastLogLine(t, buf); m["level"] != "error" {
		t.Fatalf("5xx level = %v", m["level"])
	}
}

func TestRedactQuery(t *testing.T) {
	mask := map[string]struct{}{"q": {}}
	if redactQuery("", mask) != "" {
		t.Fatalf("empty query should stay empty")
	}
	if got := redactQuery("Q=abc&page=2", mask); got != "Q=%5BREDACTED%5D&page=2" {
		t.Fatalf("case-insensitive mask failed: %q", got)
	}
	if got := redactQuery("%zz=a@b.co", mask); strings.Contains(got, "a@b.co") {
		t.Fatalf("unparseable query should still be scrubbed: %q", got)
	}
	if got := redact("id 123e4567-e89b-12d3-a456-426614174000"); got != "id [REDACTED:id]" {
		t.Fatalf("uuid before phone failed: %q", got)
	}
}
