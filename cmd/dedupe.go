package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/greenshelf/strainscan/internal/catalog"
	"github.com/greenshelf/strainscan/internal/dedupe"
	"github.com/greenshelf/strainscan/internal/models"
	"github.com/greenshelf/strainscan/internal/recordset"
)

func newDedupeCmd(a *app) *cobra.Command {
	var (
		operator string
		input    string
		format   string
		snapshot string
	)

	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Report groups of near-identical records",
		Long: `Scans an operator's catalog (or an exported record set) for records that
likely describe the same product. The first member of every group is the one
to keep.

Output defaults to a table on a terminal and JSON otherwise.`,
		Example: `  # Scan one operator's catalog
  strainscan dedupe --operator store-12

  # Scan an exported record set and write a YAML report
  strainscan dedupe --input records.parquet --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				records []*models.ProductRecord
				err     error
			)
			if input != "" {
				records, err = recordset.NewLoader(input).Load()
			} else {
				records, err = listCatalog(cmd, a.cfg.Storage.CatalogPath, operator)
			}
			if err != nil {
				return err
			}

			if snapshot != "" {
				if err := recordset.WriteParquet(snapshot, records); err != nil {
					return err
				}
				a.logger.Info("Wrote record snapshot", "path", snapshot, "records", len(records))
			}

			groups := dedupe.FindGroups(records, a.cfg.Dedupe)
			report := recordset.NewReport(operator, len(records), a.cfg.Dedupe.Threshold, groups)

			if format == "" {
				format = "json"
				if isTerminal(cmd.OutOrStdout()) {
					format = "table"
				}
			}
			return writeReport(cmd, format, report, groups)
		},
	}

	cmd.Flags().StringVarP(&operator, "operator", "o", "", "Operator catalog to scan (empty scans all operators)")
	cmd.Flags().StringVarP(&input, "input", "i", "", "Scan a .parquet, .jsonl or .json record set instead of the catalog")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: table, json or yaml")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "Also write the scanned records to this parquet file")

	return cmd
}

func listCatalog(cmd *cobra.Command, path, operator string) ([]*models.ProductRecord, error) {
	store, err := catalog.Open(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.List(cmd.Context(), operator)
}

func writeReport(cmd *cobra.Command, format string, report recordset.Report, groups []models.DuplicateGroup) error {
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		if groups == nil {
			groups = []models.DuplicateGroup{}
		}
		return writeJSON(cmd, map[string]any{
			"generated_at": report.GeneratedAt,
			"operator":     report.Operator,
			"scanned":      report.Scanned,
			"threshold":    report.Threshold,
			"groups":       groups,
		})
	case "yaml":
		return recordset.WriteYAML(out, report)
	case "table":
		return writeReportTable(out, report)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func writeReportTable(out io.Writer, report recordset.Report) error {
	if len(report.Groups) == 0 {
		_, err := fmt.Fprintf(out, "No duplicates among %d record(s).\n", report.Scanned)
		return err
	}
	rows := make([][]string, 0)
	for i, g := range report.Groups {
		for _, m := range g.Members {
			keep := ""
			if m.Keep {
				keep = "keep"
			}
			rows = append(rows, []string{
				strconv.Itoa(i + 1),
				m.Name,
				m.Type,
				strconv.FormatFloat(m.THC, 'f', -1, 64),
				strconv.Itoa(g.SimilarityScore),
				keep,
				m.ID,
			})
		}
	}
	table := renderTable([]string{"Group", "Name", "Type", "THC %", "Score", "", "ID"}, rows, 0, 3, 4)
	_, err := fmt.Fprintf(out, "%s\n%d group(s) among %d record(s), threshold %d\n",
		table, len(report.Groups), report.Scanned, report.Threshold)
	return err
}
