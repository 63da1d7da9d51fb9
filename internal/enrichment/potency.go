package enrichment

import (
	"regexp"
	"strconv"

	"github.com/greenshelf/strainscan/internal/models"
	"github.com/greenshelf/strainscan/internal/potency"
)

const (
	percentFigure = `\d{1,2}(?:\.\d+)?`
	percentSpan   = `(?:` + percentFigure + `\s*%?\s*(?:-|to)\s*` + percentFigure + `\s*%|` + percentFigure + `\s*%)`
)

var potencyPattern = regexp.MustCompile(
	`(?i)\bTHC(?:\s+(?:content|level|levels|percentage|potency))?(?:\s*(?:of|at|around|is|:|~|=))?(?:\s*(?:about|approximately|around|roughly|~))?\s*` + percentSpan +
		`|\b` + percentSpan + `\s+THC\b`,
)

// ApplyPotency overwrites the THC fields of rec with the values derived from
// its final name and rewrites the description to match.
func ApplyPotency(rec *models.ProductRecord) {
	low, high := potency.Range(rec.Name)
	rec.THCMin = low
	rec.THCMax = high
	rec.THC = potency.Midpoint(rec.Name)
	rec.Description = RewritePotencySentence(rec.Description, rec.THC)
}

// RewritePotencySentence replaces the first THC figure in desc with the
// canonical value. When desc has none, the canonical phrase is prefixed.
func RewritePotencySentence(desc string, thc float64) string {
	canonical := "THC content of " + formatPercent(thc)
	loc := potencyPattern.FindStringIndex(desc)
	if loc == nil {
		if desc == "" {
			return canonical + "."
		}
		return canonical + ". " + desc
	}
	return desc[:loc[0]] + canonical + desc[loc[1]:]
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(potency.Round2(v), 'f', -1, 64) + "%"
}
