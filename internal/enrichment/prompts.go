package enrichment

import (
	"fmt"
	"strings"

	"github.com/greenshelf/strainscan/internal/potency"
)

const systemPrompt = `You are a cannabis product specialist working the intake desk of a licensed dispensary.
You identify flower strains from packaging photos, spoken names, or typed queries and describe them accurately.
Always respond with a single JSON value and nothing else.`

func primaryPrompt(query string, hasImages bool) string {
	provisional := query
	if provisional == "" {
		provisional = "unknown"
	}
	low, high := potency.Range(provisional)

	var sb strings.Builder
	if hasImages {
		sb.WriteString("Identify the cannabis strain shown in the attached photo(s) of the product or its label.\n")
		if query != "" {
			fmt.Fprintf(&sb, "The operator also noted: %q\n", query)
		}
	} else {
		fmt.Fprintf(&sb, "Identify the cannabis strain described by this query: %q\n", query)
	}
	fmt.Fprintf(&sb, "THC for this product falls between %.2f%% and %.2f%%; report a value inside that range.\n", low, high)
	sb.WriteString(`Respond with a JSON object with exactly these keys:
{
  "name": "strain name",
  "type": "Indica | Sativa | Hybrid",
  "confidence": 0.0-1.0,
  "thc": number,
  "cbd": number,
  "lineage": "parent strains, if known",
  "flavors": ["up to 6 flavors"],
  "terpenes": ["up to 6 dominant terpenes"],
  "effects": ["up to 6 common effects"],
  "description": "two or three sentences, mentioning THC content"
}
If you cannot identify the strain, set confidence to 0 and give your best guess for the name.`)
	return sb.String()
}

func terpenePrompt(name, strainType string, hints []string) string {
	return secondaryPrompt("terpene", name, strainType, hints, "aroma and the effect it contributes")
}

func effectPrompt(name, strainType string, hints []string) string {
	return secondaryPrompt("effect", name, strainType, hints, "what the consumer feels")
}

func secondaryPrompt(kind, name, strainType string, hints []string, about string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "List the dominant %ss of the %s strain %q.\n", kind, strings.ToLower(strainType), name)
	if len(hints) > 0 {
		fmt.Fprintf(&sb, "Previously reported %ss: %s.\n", kind, strings.Join(hints, ", "))
	}
	fmt.Fprintf(&sb, `Respond with a JSON object {"items": [...]} holding at most %d entries, each:
{"name": "%s name", "intensity": 1-5, "description": "one short sentence about the %s"}
Order entries from strongest to weakest.`, maxListLen, kind, about)
	return sb.String()
}
