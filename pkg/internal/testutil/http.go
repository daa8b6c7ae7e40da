package testutil

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockResponse is one scripted reply from MockHTTPDoer.
type MockResponse struct {
	Header http.Header
	Err    error // returned instead of a response when set
	Body   string
	Status int
	// ShortBody advertises a Content-Length larger than Body so the reader
	// sees a truncated response.
	ShortBody bool
}

// MockHTTPDoer implements github.HTTPDoer for testing.
// Responses are queued per URL and replayed in order; the last response for
// a URL repeats once the queue is exhausted.
type MockHTTPDoer struct {
	responses map[string][]MockResponse
	calls     []HTTPCall
	mu        sync.Mutex
}

// HTTPCall records a single HTTP call.
type HTTPCall struct {
	Header http.Header
	Method string
	URL    string
}

// NewMockHTTPDoer creates a new MockHTTPDoer.
func NewMockHTTPDoer() *MockHTTPDoer {
	return &MockHTTPDoer{responses: make(map[string][]MockResponse)}
}

// Do records the request and returns the next scripted response.
func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	url := req.URL.String()
	m.calls = append(m.calls, HTTPCall{Method: req.Method, URL: url, Header: req.Header.Clone()})

	queue, ok := m.responses[url]
	if !ok || len(queue) == 0 {
		return newResponse(MockResponse{Status: http.StatusNotFound, Body: `{"message":"Not Found"}`}), nil
	}
	next := queue[0]
	if len(queue) > 1 {
		m.responses[url] = queue[1:]
	}
	if next.Err != nil {
		return nil, next.Err
	}
	return newResponse(next), nil
}

func newResponse(r MockResponse) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	length := int64(len(r.Body))
	if r.ShortBody {
		length += 64
	}
	var body io.ReadCloser = io.NopCloser(strings.NewReader(r.Body))
	if r.ShortBody {
		body = io.NopCloser(io.MultiReader(strings.NewReader(r.Body), &unexpectedEOF{}))
	}
	return &http.Response{
		StatusCode:    r.Status,
		Status:        fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status)),
		Header:        header,
		Body:          body,
		ContentLength: length,
	}
}

type unexpectedEOF struct{}

func (*unexpectedEOF) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

// Queue appends scripted responses for url.
func (m *MockHTTPDoer) Queue(url string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[url] = append(m.responses[url], responses...)
}

// SetJSON makes url answer status with body and the given ETag.
func (m *MockHTTPDoer) SetJSON(url string, status int, body, etag string) {
	h := make(http.Header)
	if etag != "" {
		h.Set("ETag", etag)
	}
	m.Queue(url, MockResponse{Status: status, Body: body, Header: h})
}

// Calls returns all recorded HTTP calls.
func (m *MockHTTPDoer) Calls() []HTTPCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]HTTPCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns how many requests were made for url.
func (m *MockHTTPDoer) CallCount(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.URL == url {
			n++
		}
	}
	return n
}

// Reset clears all configured responses and recorded calls.
func (m *MockHTTPDoer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses = make(map[string][]MockResponse)
	m.calls = nil
}
