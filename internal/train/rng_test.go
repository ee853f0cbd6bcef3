package train

import "testing"

func TestRNGDeterministicForSameSeed(t *testing.T) {
	a := NewRNG(42)
	b := NewRNG(42)

	for i := 0; i < 100; i++ {
		if a.Float64() != b.Float64() {
			t.Fatalf("same seed produced diverging sequences at step %d", i)
		}
	}
}

func TestRNGIntnWithinBounds(t *testing.T) {
	r := NewRNG(7)
	for i := 0; i < 1000; i++ {
		n := r.Intn(10)
		if n < 0 || n >= 10 {
			t.Fatalf("Intn(10) out of bounds: %d", n)
		}
	}
}

func TestRNGUniformRangeWithinBounds(t *testing.T) {
	r := NewRNG(7)
	for i := 0; i < 1000; i++ {
		v := r.UniformRange(0.01, 0.3)
		if v < 0.01 || v > 0.3 {
			t.Fatalf("UniformRange out of bounds: %v", v)
		}
	}
}

func TestRNGGaussianFinite(t *testing.T) {
	r := NewRNG(1)
	for i := 0; i < 100; i++ {
		v := r.Gaussian()
		if v != v { // NaN check
			t.Fatalf("Gaussian produced NaN")
		}
	}
}
