package enrichment

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/greenshelf/strainscan/internal/models"
)

// attributeInfo is the presentational metadata for a known secondary attribute
type attributeInfo struct {
	Name        string
	Color       string
	Description string
}

const (
	defaultColor     = "#9CA3AF"
	defaultIntensity = 3
)

var terpeneTable = map[string]attributeInfo{
	"myrcene":       {"Myrcene", "#8B5CF6", "Earthy and musky, associated with relaxing body effects."},
	"limonene":      {"Limonene", "#FACC15", "Bright citrus aroma, associated with elevated mood."},
	"caryophyllene": {"Caryophyllene", "#B45309", "Peppery and spicy, the only terpene known to bind CB2 receptors."},
	"pinene":        {"Pinene", "#16A34A", "Fresh pine scent, associated with alertness."},
	"linalool":      {"Linalool", "#C084FC", "Floral lavender notes, associated with calm."},
	"humulene":      {"Humulene", "#65A30D", "Woody and hoppy, found in beer hops."},
	"terpinolene":   {"Terpinolene", "#14B8A6", "Herbal and floral with a hint of citrus."},
	"ocimene":       {"Ocimene", "#F472B6", "Sweet and herbaceous."},
	"bisabolol":     {"Bisabolol", "#FDE68A", "Light floral aroma found in chamomile."},
	"valencene":     {"Valencene", "#FB923C", "Sweet orange aroma."},
	"nerolidol":     {"Nerolidol", "#A3E635", "Woody with notes of tree bark."},
	"geraniol":      {"Geraniol", "#F87171", "Rose-like floral scent."},
}

var effectTable = map[string]attributeInfo{
	"relaxed":   {"Relaxed", "#6366F1", "Eases physical and mental tension."},
	"happy":     {"Happy", "#F59E0B", "Lifts mood."},
	"euphoric":  {"Euphoric", "#EC4899", "Intense sense of well-being."},
	"uplifted":  {"Uplifted", "#22C55E", "Energizes and brightens outlook."},
	"creative":  {"Creative", "#A855F7", "Encourages new ideas."},
	"focused":   {"Focused", "#0EA5E9", "Sharpens attention."},
	"sleepy":    {"Sleepy", "#1E3A8A", "Promotes rest."},
	"energetic": {"Energetic", "#EF4444", "Boosts energy."},
	"hungry":    {"Hungry", "#D97706", "Stimulates appetite."},
	"talkative": {"Talkative", "#F97316", "Encourages conversation."},
	"tingly":    {"Tingly", "#14B8A6", "Light body buzz."},
	"calm":      {"Calm", "#60A5FA", "Quiets racing thoughts."},
	"giggly":    {"Giggly", "#FB7185", "Everything gets funnier."},
	"aroused":   {"Aroused", "#DB2777", "Heightened sensation."},
}

var (
	defaultTerpenes = []string{"myrcene", "caryophyllene"}
	defaultEffects  = []string{"relaxed", "happy"}
)

func lookup(table map[string]attributeInfo, name string) (attributeInfo, bool) {
	info, ok := table[normalizeKey(name)]
	return info, ok
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// annotate back-fills presentational metadata on attr from table
func annotate(table map[string]attributeInfo, attr models.SecondaryAttribute) models.SecondaryAttribute {
	attr.Name = strings.Join(strings.Fields(attr.Name), " ")
	attr.Intensity = clampIntensity(attr.Intensity)
	info, known := lookup(table, attr.Name)
	if known {
		attr.Name = info.Name
	} else if attr.Name == strings.ToLower(attr.Name) {
		attr.Name = cases.Title(language.English).String(attr.Name)
	}
	if strings.TrimSpace(attr.Color) == "" {
		attr.Color = defaultColor
		if known {
			attr.Color = info.Color
		}
	}
	if strings.TrimSpace(attr.Description) == "" && known {
		attr.Description = info.Description
	}
	return attr
}

// synthesize builds an attribute list from flat names at a fixed mid-level
// intensity. Empty input falls back to defaults so the result is never empty.
func synthesize(table map[string]attributeInfo, names, defaults []string) []models.SecondaryAttribute {
	if len(names) == 0 {
		names = defaults
	}
	out := make([]models.SecondaryAttribute, 0, len(names))
	for _, name := range names {
		out = append(out, annotate(table, models.SecondaryAttribute{Name: name, Intensity: defaultIntensity}))
	}
	return out
}

func clampIntensity(v int) int {
	switch {
	case v <= 0:
		return defaultIntensity
	case v > 5:
		return 5
	}
	return v
}
