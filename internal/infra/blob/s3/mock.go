package s3

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NewMockForTests returns a *Store backed by an in-memory fake HTTP transport.
// Only the S3 operations used by core.Store are implemented.
func NewMockForTests(bucket string) (*Store, *MockBucket) {
	m := NewMockBucket()
	s, err := New(context.Background(), Config{
		Bucket:          bucket,
		Region:          "us-east-1",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: m},
	})
	if err != nil {
		panic(fmt.Sprintf("mock s3 store: %v", err))
	}
	return s, m
}

// MockBucket is a path-style fake S3 endpoint handling Head/Get/Put/Delete
// and ListObjectsV2 with continuation tokens.
type MockBucket struct {
	mu    sync.Mutex
	state map[string]mockObj
	// PageSize bounds ListObjectsV2 pages.
	PageSize int
}

type mockObj struct {
	body        []byte
	contentType string
}

// NewMockBucket returns an empty fake.
func NewMockBucket() *MockBucket { return &MockBucket{state: make(map[string]mockObj), PageSize: 1000} }

// Keys returns the stored object keys in order.
func (m *MockBucket) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.state))
	for k := range m.state {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Object returns the stored body for key.
func (m *MockBucket) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state[key]
	return o.body, ok
}

func (m *MockBucket) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	q := req.URL.Query()
	if req.Method == http.MethodGet && q.Get("list-type") == "2" {
		return m.list(q.Get("prefix"), q.Get("continuation-token")), nil
	}
	switch req.Method {
	case http.MethodHead:
		if st, ok := m.state[key]; ok {
			return response(http.StatusOK, objectHeader(st), nil), nil
		}
		return response(http.StatusNotFound, http.Header{}, nil), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") || req.Header.Get("X-Amz-Decoded-Content-Length") != "" {
			if dec, ok := decodeChunked(body); ok {
				body = dec
			}
		}
		m.state[key] = mockObj{body: body, contentType: req.Header.Get("Content-Type")}
		return response(http.StatusOK, http.Header{"ETag": {"\"etag\""}}, nil), nil
	case http.MethodGet:
		if st, ok := m.state[key]; ok {
			return response(http.StatusOK, objectHeader(st), st.body), nil
		}
		h := http.Header{"Content-Type": {"application/xml"}}
		return response(http.StatusNotFound, h, []byte("<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>")), nil
	case http.MethodDelete:
		delete(m.state, key)
		return response(http.StatusNoContent, http.Header{}, nil), nil
	}
	return response(http.StatusNotImplemented, http.Header{}, nil), nil
}

func (m *MockBucket) list(prefix, token string) *http.Response {
	var keys []string
	for k := range m.state {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	truncated := false
	if m.PageSize > 0 && len(keys) > m.PageSize {
		keys = keys[:m.PageSize]
		truncated = true
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	fmt.Fprintf(&b, "<IsTruncated>%t</IsTruncated>", truncated)
	if truncated {
		fmt.Fprintf(&b, "<NextContinuationToken>%s</NextContinuationToken>", keys[len(keys)-1])
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(m.state[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return response(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String()))
}

func objectHeader(st mockObj) http.Header {
	return http.Header{
		"Content-Length": {strconv.Itoa(len(st.body))},
		"Content-Type":   {st.contentType},
		"ETag":           {"\"etag123\""},
		"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
	}
}

func response(status int, h http.Header, body []byte) *http.Response {
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader(body)), ContentLength: int64(len(body))}
}

// decodeChunked decodes an aws-chunked payload: <hex>[;ext]\r\n<data>\r\n ...
// 0\r\n[trailers]\r\n.
func decodeChunked(b []byte) ([]byte, bool) {
	r := bufio.NewReader(bytes.NewReader(b))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, false
		}
		line = strings.TrimRight(line, "\r\n")
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		n, err := strconv.ParseInt(line, 16, 64)
		if err != nil || n < 0 {
			return nil, false
		}
		if n == 0 {
			return out.Bytes(), true
		}
		if _, err := io.CopyN(&out, r, n); err != nil {
			return nil, false
		}
		if _, err := r.Discard(2); err != nil {
			return nil, false
		}
	}
}
