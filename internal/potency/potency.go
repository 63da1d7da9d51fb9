// Package potency derives a reproducible THC range from a strain name.
//
// The mapping is a pure function of the name: two processes that never talk to
// each other compute the same pair for the same string, so a client-side
// estimate and a persisted value always agree.
package potency

import (
	"hash/fnv"
	"math"
)

const (
	// MinTHC and MaxTHC bound every generated value.
	MinTHC = 20.5
	MaxTHC = 26.5

	seedLow  = "strainscan:thc:a"
	seedHigh = "strainscan:thc:b"
)

// Range returns the deterministic (low, high) THC range for name.
// low <= high and both lie within [MinTHC, MaxTHC].
func Range(name string) (low, high float64) {
	a := interpolate(normalize(hash(seedLow, name)))
	b := interpolate(normalize(hash(seedHigh, name)))
	if a > b {
		a, b = b, a
	}
	return a, b
}

// Midpoint returns the canonical THC value for name, rounded to 2 decimals.
func Midpoint(name string) float64 {
	low, high := Range(name)
	return Round2((low + high) / 2)
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func hash(seed, name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}

func normalize(h uint32) float64 {
	return float64(h%10000) / 9999
}

func interpolate(t float64) float64 {
	return Round2(MinTHC + t*(MaxTHC-MinTHC))
}
