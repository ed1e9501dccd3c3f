// Package interceptors decorates outbound transports with workflow
// identity, so the LLM service can correlate its logs with the Temporal
// execution that called it.
package interceptors

import (
	"net/http"

	"go.temporal.io/sdk/activity"
)

// Header names the LLM service reads for correlation.
const (
	HeaderWorkflowID = "X-Workflow-ID"
	HeaderRunID      = "X-Run-ID"
	HeaderActivity   = "X-Activity-Type"
)

// WorkflowHTTPRoundTripper stamps outgoing requests with the workflow and
// run IDs of the activity they were issued from. Outside an activity
// context (unit tests, startup probes) requests pass through untouched.
type WorkflowHTTPRoundTripper struct {
	base http.RoundTripper
}

// NewWorkflowHTTPRoundTripper wraps base; nil means http.DefaultTransport.
func NewWorkflowHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WorkflowHTTPRoundTripper{base: base}
}

// RoundTrip implements http.RoundTripper.
func (w *WorkflowHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// activity.GetInfo panics outside an activity context; recover and
	// send the request unlabelled.
	func() {
		defer func() {
			_ = recover()
		}()
		info := activity.GetInfo(req.Context())
		if info.WorkflowExecution.ID != "" {
			req.Header.Set(HeaderWorkflowID, info.WorkflowExecution.ID)
			req.Header.Set(HeaderRunID, info.WorkflowExecution.RunID)
			req.Header.Set(HeaderActivity, info.ActivityType.Name)
		}
	}()
	return w.base.RoundTrip(req)
}
