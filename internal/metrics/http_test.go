package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPHandler(t *testing.T) {
	pr := NewPrometheusRecorder(nil, "")
	pr.IncReleaseCase("snapshot")

	h := HTTPHandler(pr)
	if h == nil {
		t.Fatal("expected handler for prometheus recorder")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `rpmsnap_release_cases_total{case="snapshot"} 1`) {
		t.Errorf("metric missing from output:\n%s", body)
	}
}

func TestHTTPHandler_Noop(t *testing.T) {
	if h := HTTPHandler(NoopRecorder{}); h != nil {
		t.Error("noop recorder should not export a handler")
	}
}
