package loader

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-pof/internal/engine"
	"github.com/miradorstack/mirador-pof/internal/utils"
)

func quietLoader(useDefaults bool) *Loader {
	logger := slog.New(slog.DiscardHandler)
	return New(Options{UseDefaults: useDefaults, Logger: logger, Engine: engine.Options{Workers: 2, Seed: 3}})
}

func TestLoadFileLinksSharedIndicators(t *testing.T) {
	c, err := quietLoader(false).LoadFile("testdata/pole.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name() != "wood_pole" || len(c.FailureModes()) != 3 {
		t.Fatalf("unexpected component %s with %d failure modes", c.Name(), len(c.FailureModes()))
	}

	termites, _ := c.FailureMode("termites")
	decay, _ := c.FailureMode("fungal_decay")
	a, _ := termites.Indicator("safety_factor")
	b, _ := decay.Indicator("safety_factor")
	if a == nil || a != b {
		t.Fatalf("expected failure modes to share the safety factor indicator")
	}

	lightning, _ := c.FailureMode("lightning")
	if lightning.Active() {
		t.Fatalf("expected lightning to be inactive")
	}
	if !c.Policy().AllowSystemImpact {
		t.Fatalf("expected system impacts allowed by default")
	}
	replace, ok := termites.Task("replace")
	if !ok || !replace.Active() {
		t.Fatalf("expected an active replace task")
	}
}

func TestDecodeAcceptsJSON(t *testing.T) {
	doc := `{"name": "pole", "failure_modes": [{"name": "rot", "distribution": {"alpha": 40, "beta": 2}}]}`
	spec, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Name != "pole" || len(spec.FailureModes) != 1 || spec.FailureModes[0].Distribution.Alpha != 40 {
		t.Fatalf("unexpected spec %+v", spec)
	}
	if err := Validate(spec); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	if _, err := Decode(strings.NewReader("name: pole\ncolour: green\n")); err == nil {
		t.Fatalf("expected an error for an unknown field")
	}
	if _, err := Decode(strings.NewReader("")); !errors.Is(err, utils.ErrInvalidConfig) {
		t.Fatalf("expected invalid config for an empty document, got %v", err)
	}
}

const badCurve = `
name: pole
indicators:
  - name: wall
    curve: exponential
    perfect: 100
    failed: 0
    pf_interval: 10
failure_modes:
  - name: rot
    distribution: {alpha: 40, beta: 2}
    indicators: [wall]
`

func TestInvalidIndicatorFailsWithoutDefaults(t *testing.T) {
	spec, err := Decode(strings.NewReader(badCurve))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = quietLoader(false).Build(spec)
	if !errors.Is(err, utils.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if !strings.Contains(err.Error(), "indicator wall") || !strings.Contains(err.Error(), "Curve") {
		t.Fatalf("expected the error to name the entity and field, got %v", err)
	}
}

func TestInvalidIndicatorUsesDefaults(t *testing.T) {
	spec, err := Decode(strings.NewReader(badCurve))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := quietLoader(true).Build(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wall, ok := c.Indicator("wall")
	if !ok {
		t.Fatalf("expected the default indicator to keep its name")
	}
	if wall.Perfect() != DefaultIndicator.Perfect || wall.PFInterval() != DefaultIndicator.PFInterval {
		t.Fatalf("expected default limits, got perfect %v pf %d", wall.Perfect(), wall.PFInterval())
	}
}

func TestInvalidDistributionUsesDefaults(t *testing.T) {
	doc := "name: pole\nfailure_modes:\n  - name: rot\n    distribution: {alpha: -1, beta: 2}\n"
	spec, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := quietLoader(false).Build(spec); !errors.Is(err, utils.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	c, err := quietLoader(true).Build(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rot, _ := c.FailureMode("rot")
	if rot.Untreated().Alpha != DefaultDistribution.Alpha {
		t.Fatalf("expected default alpha, got %v", rot.Untreated().Alpha)
	}
}

func TestUnknownIndicatorReference(t *testing.T) {
	doc := "name: pole\nfailure_modes:\n  - name: rot\n    distribution: {alpha: 40, beta: 2}\n    indicators: [wall]\n"
	spec, err := Decode(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// structural errors are not replaced by defaults
	if _, err := quietLoader(true).Build(spec); !errors.Is(err, utils.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	specs, err := LoadDir("testdata")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := specs["wood_pole"]; !ok || len(specs) != 1 {
		t.Fatalf("expected only wood_pole, got %v", len(specs))
	}
}
