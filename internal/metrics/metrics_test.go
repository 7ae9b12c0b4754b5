package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("expected re-registration to be tolerated, got %v", err)
	}

	done := RunStarted()
	ObserveRun("simulate", "complete", 10, time.Second)
	done()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{"mirador_pof_ensembles_total", "mirador_pof_iterations_total", "mirador_pof_ensemble_seconds"} {
		if !found[name] {
			t.Fatalf("expected %s to be gathered", name)
		}
	}
}
