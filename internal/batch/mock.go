package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockQueue is a fake Batch endpoint served through an http.RoundTripper.
// Only SubmitJob is implemented.
type MockQueue struct {
	mu        sync.Mutex
	submitted []JobRequest
	// Reject lists job names answered with a ClientException.
	Reject map[string]bool
}

// NewMockForTests returns a Client wired to an in-memory MockQueue.
func NewMockForTests() (*Client, *MockQueue) {
	q := &MockQueue{Reject: make(map[string]bool)}
	c, err := New(context.Background(), Config{
		Region:          "us-east-1",
		Endpoint:        "https://mock.batch.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: q},
	})
	if err != nil {
		panic(fmt.Sprintf("mock batch client: %v", err))
	}
	return c, q
}

// Submitted returns the decoded submissions in arrival order.
func (q *MockQueue) Submitted() []JobRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]JobRequest, len(q.submitted))
	copy(out, q.submitted)
	return out
}

type jobDependency struct {
	JobID string `json:"jobId"`
}

type containerOverrides struct {
	Environment []KeyValue `json:"environment"`
}

type submitJobBody struct {
	JobName            string              `json:"jobName"`
	JobQueue           string              `json:"jobQueue"`
	JobDefinition      string              `json:"jobDefinition"`
	Parameters         map[string]string   `json:"parameters"`
	DependsOn          []jobDependency     `json:"dependsOn"`
	ContainerOverrides *containerOverrides `json:"containerOverrides"`
}

func (q *MockQueue) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/v1/submitjob") {
		return jsonResponse(http.StatusNotImplemented, "", `{"message":"not implemented"}`), nil
	}
	raw, _ := io.ReadAll(req.Body)
	var body submitJobBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return jsonResponse(http.StatusBadRequest, "ClientException", `{"message":"malformed body"}`), nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Reject[body.JobName] {
		return jsonResponse(http.StatusBadRequest, "ClientException", `{"message":"job rejected"}`), nil
	}
	jr := JobRequest{
		JobDefinition: body.JobDefinition,
		JobName:       body.JobName,
		JobQueue:      body.JobQueue,
		Parameters:    body.Parameters,
	}
	for _, d := range body.DependsOn {
		jr.DependsOn = append(jr.DependsOn, d.JobID)
	}
	if body.ContainerOverrides != nil {
		jr.Environment = body.ContainerOverrides.Environment
	}
	q.submitted = append(q.submitted, jr)
	id := fmt.Sprintf("mock-job-%d", len(q.submitted))
	out, _ := json.Marshal(map[string]string{
		"jobArn":  "arn:aws:batch:us-east-1:000000000000:job/" + id,
		"jobId":   id,
		"jobName": body.JobName,
	})
	return jsonResponse(http.StatusOK, "", string(out)), nil
}

func jsonResponse(status int, errType, body string) *http.Response {
	h := http.Header{"Content-Type": {"application/json"}}
	if errType != "" {
		h.Set("X-Amzn-ErrorType", errType)
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader([]byte(body)))}
}
