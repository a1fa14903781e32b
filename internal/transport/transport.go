package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/user/llmeter/internal/logging"
)

const DefaultTimeout = 30 * time.Second

// maxBody caps how much of a response is read into memory.
const maxBody = 8 << 20

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) OK() bool {
	return r.Status >= http.StatusOK && r.Status < http.StatusMultipleChoices
}

// Client is the only path providers use to reach the network. A returned
// error means the exchange did not complete; any HTTP status is a Response.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (*Response, error)
	Post(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error)
}

type HTTPClient struct {
	httpClient *http.Client
	log        log.FieldLogger
}

func NewHTTPClient(timeout time.Duration, logger log.FieldLogger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		log:        logging.OrDiscard(logger),
	}
}

func (c *HTTPClient) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.doRequest(ctx, http.MethodGet, url, headers, nil)
}

func (c *HTTPClient) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error) {
	return c.doRequest(ctx, http.MethodPost, url, headers, body)
}

func (c *HTTPClient) doRequest(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c.logRequest(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.WithFields(log.Fields{"method": method, "url": redactURL(url)}).Debugf("request failed: %v", err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	c.logResponse(req, resp, data, time.Since(start))

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

var secretHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"x-api-key":     true,
}

func (c *HTTPClient) logRequest(req *http.Request) {
	if !c.debugEnabled() {
		return
	}
	fields := log.Fields{"method": req.Method, "url": redactURL(req.URL.String())}
	for k := range req.Header {
		v := req.Header.Get(k)
		if secretHeaders[strings.ToLower(k)] {
			v = redact(v)
		}
		fields["h."+strings.ToLower(k)] = v
	}
	c.log.WithFields(fields).Debug("http request")
}

func (c *HTTPClient) logResponse(req *http.Request, resp *http.Response, body []byte, took time.Duration) {
	if !c.debugEnabled() {
		return
	}
	entry := c.log.WithFields(log.Fields{
		"method": req.Method,
		"url":    redactURL(req.URL.String()),
		"status": resp.StatusCode,
		"took":   took.Round(time.Millisecond),
		"bytes":  len(body),
	})
	// Token endpoints echo secrets back; only the status is logged for them.
	if strings.Contains(req.URL.Path, "token") {
		entry.Debug("http response")
		return
	}
	entry.Debugf("http response: %s", snippet(body, 512))
}

func (c *HTTPClient) debugEnabled() bool {
	if l, ok := c.log.(*log.Logger); ok {
		return l.IsLevelEnabled(log.DebugLevel)
	}
	if e, ok := c.log.(*log.Entry); ok {
		return e.Logger.IsLevelEnabled(log.DebugLevel)
	}
	return true
}

func redact(v string) string {
	if len(v) <= 12 {
		return "***"
	}
	return v[:8] + "***"
}

// redactURL drops the query string, which may carry user ids.
func redactURL(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// Snippet returns at most n bytes of body as a single trimmed line.
func Snippet(body []byte, n int) string {
	return snippet(body, n)
}

func snippet(body []byte, n int) string {
	s := strings.TrimSpace(string(body))
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
