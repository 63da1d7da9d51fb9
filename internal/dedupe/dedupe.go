// Package dedupe groups near-identical product records.
package dedupe

import (
	"math"
	"regexp"
	"strings"

	"github.com/greenshelf/strainscan/internal/models"
)

// Weights are the per-factor points of the 100-point similarity scale. The
// defaults are heuristic and meant to be tuned through configuration.
type Weights struct {
	NameExact      int     `toml:"name_exact" json:"name_exact"`
	NameFuzzy      int     `toml:"name_fuzzy" json:"name_fuzzy"`
	NameContains   int     `toml:"name_contains" json:"name_contains"`
	FuzzyThreshold float64 `toml:"fuzzy_threshold" json:"fuzzy_threshold"`
	Type           int     `toml:"type" json:"type"`
	THCNear        int     `toml:"thc_near" json:"thc_near"`
	THCFar         int     `toml:"thc_far" json:"thc_far"`
	THCNearDelta   float64 `toml:"thc_near_delta" json:"thc_near_delta"`
	THCFarDelta    float64 `toml:"thc_far_delta" json:"thc_far_delta"`
	CBDNear        int     `toml:"cbd_near" json:"cbd_near"`
	CBDFar         int     `toml:"cbd_far" json:"cbd_far"`
	CBDNearDelta   float64 `toml:"cbd_near_delta" json:"cbd_near_delta"`
	CBDFarDelta    float64 `toml:"cbd_far_delta" json:"cbd_far_delta"`
	TerpeneEach    int     `toml:"terpene_each" json:"terpene_each"`
	TerpeneCap     int     `toml:"terpene_cap" json:"terpene_cap"`
	Threshold      int     `toml:"threshold" json:"threshold"`
}

// DefaultWeights returns the stock scoring weights
func DefaultWeights() Weights {
	return Weights{
		NameExact:      40,
		NameFuzzy:      35,
		NameContains:   30,
		FuzzyThreshold: 0.85,
		Type:           20,
		THCNear:        20,
		THCFar:         10,
		THCNearDelta:   2,
		THCFarDelta:    5,
		CBDNear:        10,
		CBDFar:         5,
		CBDNearDelta:   1,
		CBDFarDelta:    3,
		TerpeneEach:    5,
		TerpeneCap:     10,
		Threshold:      75,
	}
}

// Score returns the similarity of a and b in [0,100]
func Score(a, b *models.ProductRecord, w Weights) int {
	score := nameScore(normalizeName(a.Name), normalizeName(b.Name), w)

	if a.Type != "" && a.Type == b.Type {
		score += w.Type
	}
	score += tiered(math.Abs(a.THC-b.THC), w.THCNearDelta, w.THCNear, w.THCFarDelta, w.THCFar)
	score += tiered(math.Abs(a.CBD-b.CBD), w.CBDNearDelta, w.CBDNear, w.CBDFarDelta, w.CBDFar)

	overlap := terpeneOverlap(a, b) * w.TerpeneEach
	if overlap > w.TerpeneCap {
		overlap = w.TerpeneCap
	}
	score += overlap

	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

// FindGroups partitions records into duplicate groups in a single pass. Each
// unprocessed record absorbs every later unprocessed record it matches, so no
// record appears in two groups. Records without a match form no group.
func FindGroups(records []*models.ProductRecord, w Weights) []models.DuplicateGroup {
	processed := make([]bool, len(records))
	var groups []models.DuplicateGroup

	for i, anchor := range records {
		if processed[i] || anchor == nil {
			continue
		}
		group := models.DuplicateGroup{
			AnchorName: anchor.Name,
			Members:    []*models.ProductRecord{anchor},
		}
		minScore := 100
		for j := i + 1; j < len(records); j++ {
			if processed[j] || records[j] == nil {
				continue
			}
			s := Score(anchor, records[j], w)
			if s < w.Threshold {
				continue
			}
			processed[j] = true
			group.Members = append(group.Members, records[j])
			if s < minScore {
				minScore = s
			}
		}
		processed[i] = true
		if len(group.Members) > 1 {
			group.SimilarityScore = minScore
			groups = append(groups, group)
		}
	}
	return groups
}

func nameScore(a, b string, w Weights) int {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return w.NameExact
	}
	if similarity(a, b) >= w.FuzzyThreshold {
		return w.NameFuzzy
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return w.NameContains
	}
	return 0
}

func tiered(delta, nearDelta float64, near int, farDelta float64, far int) int {
	switch {
	case delta <= nearDelta:
		return near
	case delta <= farDelta:
		return far
	}
	return 0
}

func terpeneOverlap(a, b *models.ProductRecord) int {
	seen := make(map[string]struct{}, len(a.Terpenes))
	for _, t := range a.Terpenes {
		seen[normalizeName(t.Name)] = struct{}{}
	}
	count := 0
	for _, t := range b.Terpenes {
		key := normalizeName(t.Name)
		if _, ok := seen[key]; ok {
			count++
			delete(seen, key)
		}
	}
	return count
}

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]`)

func normalizeName(name string) string {
	name = strings.ToLower(name)
	name = punctuation.ReplaceAllString(name, "")
	return strings.Join(strings.Fields(name), " ")
}

// similarity is 1 minus the normalised Levenshtein distance
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(s1, s2 []rune) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}
