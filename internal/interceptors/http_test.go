package interceptors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

type recordedHeaders struct {
	workflowID string
	runID      string
	activity   string
}

func newRecordingServer(t *testing.T, rec *recordedHeaders) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.workflowID = r.Header.Get(HeaderWorkflowID)
		rec.runID = r.Header.Get(HeaderRunID)
		rec.activity = r.Header.Get(HeaderActivity)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRoundTripperOutsideActivityContext(t *testing.T) {
	var rec recordedHeaders
	srv := newRecordingServer(t, &rec)

	client := &http.Client{Transport: NewWorkflowHTTPRoundTripper(nil)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Empty(t, rec.workflowID)
	assert.Empty(t, rec.runID)
}

func TestRoundTripperInsideActivityContext(t *testing.T) {
	var rec recordedHeaders
	srv := newRecordingServer(t, &rec)

	client := &http.Client{Transport: NewWorkflowHTTPRoundTripper(nil)}
	probe := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}

	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(probe)
	_, err := env.ExecuteActivity(probe)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.workflowID)
	assert.NotEmpty(t, rec.runID)
	assert.NotEmpty(t, rec.activity)
}
