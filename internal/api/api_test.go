package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelworks/triage/internal/engine"
	"github.com/sentinelworks/triage/internal/pipeline"
	"github.com/sentinelworks/triage/internal/store"
	"github.com/sentinelworks/triage/internal/triage"
)

type cannedGenerator struct {
	diagnosisJSON string
	draftText     string
}

func (g *cannedGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	if strings.Contains(system, "root_cause") {
		return g.diagnosisJSON, nil
	}
	return g.draftText, nil
}

func newTestAPI(t *testing.T, gen *cannedGenerator) *httptest.Server {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "triage.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	eng := engine.New(st, pipeline.New(gen, nil, nil))
	svc := triage.NewService(st, eng, 1, slog.New(slog.NewTextHandler(discardWriter{}, nil)))
	t.Cleanup(svc.Close)

	srv := httptest.NewServer(NewServer(svc, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func approvalGenerator() *cannedGenerator {
	return &cannedGenerator{
		diagnosisJSON: `{"root_cause": "documentation_gap", "confidence": 0.6, "reasoning": "docs unclear"}`,
		draftText:     "Here is how to configure shipping zones.",
	}
}

func autoResolveGenerator() *cannedGenerator {
	return &cannedGenerator{
		diagnosisJSON: `{"root_cause": "merchant_misconfiguration", "confidence": 0.92, "reasoning": "clear"}`,
		draftText:     "1. Re-upload the logo",
	}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

const analyzeBody = `{"tickets": [{"merchant_id": "m1", "subject": "Shipping zones missing", "migration_stage": "pre-migration", "priority": "low"}]}`

func TestAnalyze_BadJSON(t *testing.T) {
	srv := newTestAPI(t, autoResolveGenerator())
	resp := postJSON(t, srv.URL+"/api/v1/analyze", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid JSON body", decode(t, resp)["error"])
}

func TestAnalyze_EmptyInput(t *testing.T) {
	srv := newTestAPI(t, autoResolveGenerator())
	resp := postJSON(t, srv.URL+"/api/v1/analyze", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode(t, resp)["error"], "at least one ticket")
}

func TestAnalyze_ReturnsDecision(t *testing.T) {
	srv := newTestAPI(t, autoResolveGenerator())
	resp := postJSON(t, srv.URL+"/api/v1/analyze", analyzeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "merchant_misconfiguration", out["root_cause"])
	assert.Equal(t, false, out["requires_human_approval"])
	assert.NotEmpty(t, out["session_id"])
}

func TestSubmitSignal_Accepted(t *testing.T) {
	srv := newTestAPI(t, autoResolveGenerator())
	resp := postJSON(t, srv.URL+"/api/v1/signals", `{"message": "images broken on landing page", "merchant_id": "m2"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	out := decode(t, resp)
	assert.Equal(t, "received", out["status"])
	assert.NotEmpty(t, out["session_id"])
}

func TestSubmitSignal_MissingMessage(t *testing.T) {
	srv := newTestAPI(t, autoResolveGenerator())
	resp := postJSON(t, srv.URL+"/api/v1/signals", `{"merchant_id": "m2"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetSession_NotFound(t *testing.T) {
	srv := newTestAPI(t, autoResolveGenerator())
	resp := getJSON(t, srv.URL+"/api/v1/sessions/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListSessions(t *testing.T) {
	srv := newTestAPI(t, autoResolveGenerator())
	postJSON(t, srv.URL+"/api/v1/analyze", analyzeBody)

	resp := getJSON(t, srv.URL+"/api/v1/sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := decode(t, resp)["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, "completed", sessions[0].(map[string]any)["status"])
}

func TestListSessions_InvalidLimit(t *testing.T) {
	srv := newTestAPI(t, autoResolveGenerator())
	for _, q := range []string{"0", "-3", "abc"} {
		resp := getJSON(t, srv.URL+"/api/v1/sessions?limit="+q)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "limit %q", q)
	}
}

func TestSessionStatus_WithholdsInternals(t *testing.T) {
	srv := newTestAPI(t, approvalGenerator())
	resp := postJSON(t, srv.URL+"/api/v1/analyze", analyzeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := decode(t, resp)["session_id"].(string)

	resp = getJSON(t, srv.URL+"/api/v1/sessions/"+id+"/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	assert.Equal(t, "awaiting_approval", out["status"])
	assert.NotContains(t, out, "resolution")
	assert.NotContains(t, out, "confidence")
}

func TestApprovalFlow(t *testing.T) {
	srv := newTestAPI(t, approvalGenerator())
	resp := postJSON(t, srv.URL+"/api/v1/analyze", analyzeBody)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := decode(t, resp)["session_id"].(string)

	resp = getJSON(t, srv.URL+"/api/v1/approvals")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	queue := decode(t, resp)
	assert.Equal(t, float64(1), queue["pending_count"])
	items := queue["items"].([]any)
	item := items[0].(map[string]any)
	assert.Equal(t, id, item["session_id"])
	assert.Equal(t, "documentation_gap", item["root_cause"])
	approvalID := item["id"].(string)

	resp = postJSON(t, fmt.Sprintf("%s/api/v1/approvals/%s/decision", srv.URL, approvalID),
		`{"approved": true, "reviewer_notes": "looks good"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "dispatched", out["status"])

	// A second decision on the same approval is rejected
	resp = postJSON(t, fmt.Sprintf("%s/api/v1/approvals/%s/decision", srv.URL, approvalID),
		`{"approved": false}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDecision_UnknownApproval(t *testing.T) {
	srv := newTestAPI(t, approvalGenerator())
	resp := postJSON(t, srv.URL+"/api/v1/approvals/nope/decision", `{"approved": true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestAPI(t, autoResolveGenerator())
	postJSON(t, srv.URL+"/api/v1/analyze", analyzeBody)

	resp := getJSON(t, srv.URL+"/api/v1/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	assert.Equal(t, float64(1), out["total_sessions"])
	assert.Equal(t, float64(1), out["auto_resolved_count"])
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestAPI(t, autoResolveGenerator())
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/metrics", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
