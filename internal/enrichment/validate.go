package enrichment

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/greenshelf/strainscan/internal/models"
)

const (
	defaultName = "Unknown Strain"
	maxListLen  = 6
	maxNameLen  = 80
	maxTHC      = 40.0
	maxCBD      = 30.0
)

// primaryFields is the structured reply of the primary extraction stage
type primaryFields struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Confidence  float64  `json:"confidence"`
	THC         float64  `json:"thc"`
	CBD         float64  `json:"cbd"`
	Lineage     string   `json:"lineage"`
	Flavors     []string `json:"flavors"`
	Terpenes    []string `json:"terpenes"`
	Effects     []string `json:"effects"`
	Description string   `json:"description"`
}

func decodePrimary(raw string) (primaryFields, error) {
	var fields primaryFields
	if err := DecodeJSON(raw, &fields); err != nil {
		return primaryFields{}, fmt.Errorf("decode primary fields: %w", err)
	}
	return fields, nil
}

// validate clamps and defaults every field so later stages never see
// missing or out-of-range values.
func validate(f primaryFields) primaryFields {
	f.Name = normalizeName(f.Name)
	f.Type = string(normalizeType(f.Type))
	f.Confidence = clamp(f.Confidence, 0, 1)
	f.THC = clamp(f.THC, 0, maxTHC)
	f.CBD = clamp(f.CBD, 0, maxCBD)
	f.Lineage = strings.TrimSpace(f.Lineage)
	f.Flavors = cleanList(f.Flavors)
	f.Terpenes = cleanList(f.Terpenes)
	f.Effects = cleanList(f.Effects)
	f.Description = strings.TrimSpace(f.Description)
	if f.Description == "" {
		f.Description = defaultDescription(f.Name, models.StrainType(f.Type))
	}
	return f
}

// fallbackFields builds the minimal synthetic record used when the primary
// stage yields nothing usable.
func fallbackFields(query string) primaryFields {
	return validate(primaryFields{Name: query})
}

func defaultDescription(name string, t models.StrainType) string {
	return fmt.Sprintf("%s is a %s strain.", name, strings.ToLower(string(t)))
}

func normalizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return defaultName
	}
	if runes := []rune(name); len(runes) > maxNameLen {
		name = strings.TrimSpace(string(runes[:maxNameLen]))
	}
	// Respect deliberate casing like "OG Kush"; only fix all-lower or all-upper input.
	if name == strings.ToLower(name) || name == strings.ToUpper(name) {
		name = cases.Title(language.English).String(name)
	}
	return name
}

func normalizeType(t string) models.StrainType {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "indica", "indica-dominant", "indica dominant":
		return models.StrainIndica
	case "sativa", "sativa-dominant", "sativa dominant":
		return models.StrainSativa
	default:
		return models.StrainHybrid
	}
}

func cleanList(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.Join(strings.Fields(item), " ")
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
		if len(out) == maxListLen {
			break
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
