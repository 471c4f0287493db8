package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestCallMetrics_Registered(t *testing.T) {
	CallLatency.WithLabelValues("mono_object_new", "wrap").Observe(0.002)
	CallErrors.WithLabelValues("mono_object_new", "backend_failure").Inc()

	names := gatheredNames(t)
	if !names["rmono_call_latency_seconds"] {
		t.Error("rmono_call_latency_seconds not found in gathered metrics")
	}
	if !names["rmono_call_errors_total"] {
		t.Error("rmono_call_errors_total not found in gathered metrics")
	}
}

func TestHandleMetrics_Registered(t *testing.T) {
	HandlesLive.Set(7)
	HandleDoubleFrees.Inc()

	names := gatheredNames(t)
	if !names["rmono_handles_live"] {
		t.Error("rmono_handles_live not found")
	}
	if !names["rmono_handle_double_frees_total"] {
		t.Error("rmono_handle_double_frees_total not found")
	}
}

func TestDeferredFreeMetrics_Registered(t *testing.T) {
	DeferredFreeBatchSize.WithLabelValues("gchandle").Observe(64)

	names := gatheredNames(t)
	if !names["rmono_deferred_free_batch_size"] {
		t.Error("rmono_deferred_free_batch_size not found")
	}
}

func TestAttachMetrics_Registered(t *testing.T) {
	AttachDuration.Observe(0.3)
	WrappersGenerated.Set(9)
	UnsupportedAPICalls.WithLabelValues("mono_array_new_full").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"rmono_attach_duration_seconds",
		"rmono_wrappers_generated",
		"rmono_unsupported_api_calls_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestAllMetricsGatherable(t *testing.T) {
	names := gatheredNames(t)

	rmonoMetrics := 0
	for name := range names {
		if len(name) > 6 && name[:6] == "rmono_" {
			rmonoMetrics++
		}
	}
	if rmonoMetrics < 8 {
		t.Errorf("expected at least 8 rmono_ metrics, got %d", rmonoMetrics)
	}
}
