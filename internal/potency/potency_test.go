package potency

import (
	"sync"
	"testing"
)

func TestRangeBounds(t *testing.T) {
	names := []string{"", "Blue Dream", "Sour Diesel", "OG Kush", "gelato #33", "日本語", "  padded  "}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			low, high := Range(name)
			if low > high {
				t.Fatalf("low %.2f > high %.2f", low, high)
			}
			if low < MinTHC || high > MaxTHC {
				t.Fatalf("range (%.2f, %.2f) outside [%.1f, %.1f]", low, high, MinTHC, MaxTHC)
			}
		})
	}
}

func TestRangeDeterministic(t *testing.T) {
	low, high := Range("Blue Dream")
	for i := 0; i < 100; i++ {
		l, h := Range("Blue Dream")
		if l != low || h != high {
			t.Fatalf("call %d returned (%v, %v), want (%v, %v)", i, l, h, low, high)
		}
	}
}

func TestRangeConcurrent(t *testing.T) {
	wantLow, wantHigh := Range("Gelato")

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, h := Range("Gelato")
			if l != wantLow || h != wantHigh {
				errs <- "mismatch"
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatal(e)
	}
}

func TestRangeDependsOnName(t *testing.T) {
	l1, h1 := Range("Blue Dream")
	l2, h2 := Range("Sour Diesel")
	if l1 == l2 && h1 == h2 {
		t.Fatalf("expected different ranges for different names, both got (%v, %v)", l1, h1)
	}
}

func TestMidpoint(t *testing.T) {
	low, high := Range("Blue Dream")
	want := Round2((low + high) / 2)
	if got := Midpoint("Blue Dream"); got != want {
		t.Fatalf("Midpoint = %v, want %v", got, want)
	}
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{22.346, 22.35},
		{22.344, 22.34},
		{20.5, 20.5},
		{0, 0},
	}
	for _, tt := range tests {
		if got := Round2(tt.in); got != tt.want {
			t.Errorf("Round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
