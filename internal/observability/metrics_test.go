package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
)

func scrape(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rr
}

func TestInitMetrics_ServesPrometheusEndpoint(t *testing.T) {
	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	rr := scrape(t, handler)
	if rr.Code != http.StatusOK {
		t.Fatalf("scrape status = %d, want 200", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Error("scrape returned an empty exposition")
	}
}

func TestInitMetrics_CounterReachesExposition(t *testing.T) {
	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	meter := otel.Meter("clusterplane-test")
	counter, err := meter.Int64Counter("jobs_enqueued_smoke")
	if err != nil {
		t.Fatalf("counter creation failed: %v", err)
	}
	counter.Add(context.Background(), 7)

	rr := scrape(t, handler)
	if rr.Code != http.StatusOK {
		t.Fatalf("scrape status = %d, want 200", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "jobs_enqueued_smoke") {
		t.Errorf("counter missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, "7") {
		t.Errorf("counter value missing from exposition:\n%s", body)
	}
}
