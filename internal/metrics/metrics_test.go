package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"conveyor/internal/metrics"
	"conveyor/internal/pool"
	"conveyor/internal/testsupport"
)

func TestHandlerExposesCollectors(t *testing.T) {
	m := metrics.New()
	m.SubmissionsTotal.WithLabelValues("gpu", "succeeded").Inc()
	m.ExecutionsTotal.WithLabelValues("succeeded").Inc()
	m.ExecutionDuration.Observe(42)

	cfg := testsupport.NewConfig(t)
	pools, err := pool.NewSet(cfg)
	if err != nil {
		t.Fatalf("pool.NewSet: %v", err)
	}
	t.Cleanup(pools.Close)
	m.ObservePools(pools.Pools())

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body := recorder.Body.String()
	for _, want := range []string{
		"conveyor_job_submissions_total",
		"conveyor_executions_total",
		"conveyor_execution_duration_seconds",
		"conveyor_pool_capacity_units",
		`class="light"`,
		`class="accelerated"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s:\n%s", want, body)
		}
	}
}

func TestSeparateRegistries(t *testing.T) {
	first := metrics.New()
	second := metrics.New()
	first.ExecutionsTotal.WithLabelValues("failed").Inc()

	recorder := httptest.NewRecorder()
	second.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(recorder.Body.String(), `status="failed"`) {
		t.Fatal("registries are shared between bundles")
	}
}

func TestObservePoolsNilReceiver(t *testing.T) {
	var m *metrics.Metrics
	m.ObservePools(nil)
}
