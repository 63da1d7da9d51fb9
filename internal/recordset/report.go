package recordset

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/greenshelf/strainscan/internal/models"
)

// Report is the YAML document describing one duplicate scan
type Report struct {
	GeneratedAt string        `yaml:"generatedat"`
	Operator    string        `yaml:"operator,omitempty"`
	Scanned     int           `yaml:"scanned"`
	Threshold   int           `yaml:"threshold"`
	Groups      []GroupReport `yaml:"groups"`
}

// GroupReport is one duplicate group; the first member is the one to keep
type GroupReport struct {
	Anchor          string         `yaml:"anchor"`
	SimilarityScore int            `yaml:"similarityscore"`
	Members         []MemberReport `yaml:"members"`
}

// MemberReport identifies one record inside a group
type MemberReport struct {
	ID   string  `yaml:"id"`
	Name string  `yaml:"name"`
	Type string  `yaml:"type"`
	THC  float64 `yaml:"thc"`
	CBD  float64 `yaml:"cbd"`
	Keep bool    `yaml:"keep,omitempty"`
}

// NewReport builds a Report from computed groups
func NewReport(operator string, scanned, threshold int, groups []models.DuplicateGroup) Report {
	report := Report{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Operator:    operator,
		Scanned:     scanned,
		Threshold:   threshold,
		Groups:      make([]GroupReport, 0, len(groups)),
	}
	for _, g := range groups {
		gr := GroupReport{Anchor: g.AnchorName, SimilarityScore: g.SimilarityScore}
		for i, m := range g.Members {
			gr.Members = append(gr.Members, MemberReport{
				ID:   m.ID,
				Name: m.Name,
				Type: string(m.Type),
				THC:  m.THC,
				CBD:  m.CBD,
				Keep: i == 0,
			})
		}
		report.Groups = append(report.Groups, gr)
	}
	return report
}

// WriteYAML encodes report to w
func WriteYAML(w io.Writer, report Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return enc.Close()
}
