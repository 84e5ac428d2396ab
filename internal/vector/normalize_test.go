package vector

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/nidhogg/embedgate/internal/embederr"
)

func TestNormalize(t *testing.T) {
	t.Run("normalizes to unit length", func(t *testing.T) {
		out, err := Normalize([]float32{3, 4})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// 3-4-5 triangle
		const tol = 1e-6
		if math.Abs(float64(out[0])-0.6) > tol || math.Abs(float64(out[1])-0.8) > tol {
			t.Errorf("expected (0.6, 0.8), got (%f, %f)", out[0], out[1])
		}
	})

	t.Run("does not modify input", func(t *testing.T) {
		in := []float32{1, 1, 1}
		if _, err := Normalize(in); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if in[0] != 1 || in[1] != 1 || in[2] != 1 {
			t.Errorf("input modified: %v", in)
		}
	})

	t.Run("random vectors have unit norm", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		for i := 0; i < 200; i++ {
			raw := make([]float32, 1+rng.Intn(1024))
			for j := range raw {
				raw[j] = float32(rng.NormFloat64() * 100)
			}
			raw[0] += 1 // never all-zero
			out, err := Normalize(raw)
			if err != nil {
				t.Fatalf("case %d: unexpected error: %v", i, err)
			}
			if n := Norm(out); math.Abs(n-1) > Tolerance {
				t.Fatalf("case %d: norm %v not within tolerance", i, n)
			}
		}
	})
}

func TestNormalizeDegenerate(t *testing.T) {
	cases := map[string][]float32{
		"empty":    {},
		"zero":     {0, 0, 0},
		"nan":      {1, float32(math.NaN()), 2},
		"infinity": {float32(math.Inf(1)), 1},
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(raw)
			if !errors.Is(err, embederr.ErrDegenerateVector) {
				t.Fatalf("expected degenerate vector error, got %v", err)
			}
		})
	}
}

func TestCheckDims(t *testing.T) {
	if err := CheckDims(make([]float32, 512), 512); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckDims(make([]float32, 384), 512); !errors.Is(err, embederr.ErrDegenerateVector) {
		t.Errorf("expected degenerate vector error, got %v", err)
	}
}

func TestIsUnit(t *testing.T) {
	cases := []struct {
		name string
		v    []float32
		want bool
	}{
		{"unit", []float32{0.6, 0.8}, true},
		{"empty", nil, false},
		{"long", []float32{3, 4}, false},
		{"nan", []float32{float32(math.NaN()), 1}, false},
		{"infinity", []float32{float32(math.Inf(-1))}, false},
	}
	for _, tc := range cases {
		if got := IsUnit(tc.v); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCosine(t *testing.T) {
	s, err := Cosine([]float32{1, 0}, []float32{0, 1})
	if err != nil || s != 0 {
		t.Errorf("orthogonal: got %v, %v", s, err)
	}
	s, err = Cosine([]float32{1, 2, 3}, []float32{2, 4, 6})
	if err != nil || math.Abs(s-1) > 1e-9 {
		t.Errorf("parallel: got %v, %v", s, err)
	}
	if _, err := Cosine([]float32{1}, []float32{1, 2}); err == nil {
		t.Error("expected error comparing vectors of different spaces")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, float32(math.SmallestNonzeroFloat32)}
	out, err := BytesToFloat32s(Float32sToBytes(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: got %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := BytesToFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated data")
	}
}
