package distribution

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func TestNewRejectsInvalidParameters(t *testing.T) {
	cases := []struct {
		name               string
		alpha, beta, gamma float64
	}{
		{"zero alpha", 0, 1, 0},
		{"negative beta", 10, -1, 0},
		{"inf alpha", math.Inf(1), 1, 0},
		{"nan gamma", 10, 1, math.NaN()},
	}
	for _, tc := range cases {
		if _, err := New(tc.alpha, tc.beta, tc.gamma); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestSFBeforeLocationIsOne(t *testing.T) {
	d, err := New(50, 1.5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.SF(5) != 1 || d.SF(10) != 1 {
		t.Fatalf("expected survival 1 before location")
	}
	want := math.Exp(-math.Pow(40.0/50.0, 1.5))
	if math.Abs(d.SF(50)-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, d.SF(50))
	}
}

func TestSurvivalIsNonIncreasing(t *testing.T) {
	d := Weibull{Alpha: 20, Beta: 3, Gamma: 0}
	sf := d.Survival(0, 100)
	if len(sf) != 101 {
		t.Fatalf("expected 101 points, got %d", len(sf))
	}
	for i := 1; i < len(sf); i++ {
		if sf[i] > sf[i-1] {
			t.Fatalf("survival increased at %d", i)
		}
	}
}

func TestConditionalFailureProbability(t *testing.T) {
	d := Weibull{Alpha: 10, Beta: 1, Gamma: 0}
	// exponential: memoryless
	p1 := d.ConditionalFailureProbability(0, 5)
	p2 := d.ConditionalFailureProbability(20, 25)
	if math.Abs(p1-p2) > 1e-9 {
		t.Fatalf("expected memoryless probabilities, got %v and %v", p1, p2)
	}
}

func TestSampleNeverNegative(t *testing.T) {
	d := Weibull{Alpha: 5, Beta: 2, Gamma: -50}
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		if v := d.Sample(rng); v < 0 {
			t.Fatalf("negative sample %v", v)
		}
	}
}

func TestShiftDoesNotMutate(t *testing.T) {
	d := Weibull{Alpha: 50, Beta: 1.5, Gamma: 10}
	s := d.Shift(5)
	if d.Gamma != 10 || s.Gamma != 5 {
		t.Fatalf("unexpected gammas: original %v shifted %v", d.Gamma, s.Gamma)
	}
}

func TestFitRecoversShape(t *testing.T) {
	truth := Weibull{Alpha: 30, Beta: 2.5}
	rng := rand.New(rand.NewPCG(42, 7))
	samples := make([]float64, 2000)
	for i := range samples {
		samples[i] = truth.Sample(rng)
	}
	fit, err := Fit(samples, len(samples))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(fit.Beta-truth.Beta) > 0.3 {
		t.Fatalf("expected beta near %v, got %v", truth.Beta, fit.Beta)
	}
	if math.Abs(fit.Alpha-truth.Alpha) > 3 {
		t.Fatalf("expected alpha near %v, got %v", truth.Alpha, fit.Alpha)
	}
}

func TestFitNeedsTwoDistinctFailures(t *testing.T) {
	if _, err := Fit([]float64{4}, 10); !errors.Is(err, ErrNoFit) {
		t.Fatalf("expected ErrNoFit, got %v", err)
	}
	if _, err := Fit([]float64{4, 4}, 10); !errors.Is(err, ErrNoFit) {
		t.Fatalf("expected ErrNoFit, got %v", err)
	}
}
