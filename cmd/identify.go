package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/greenshelf/strainscan/internal/enrichment"
	"github.com/greenshelf/strainscan/internal/models"
	"github.com/greenshelf/strainscan/internal/providers"
)

func newIdentifyCmd(a *app) *cobra.Command {
	var (
		images   []string
		text     string
		operator string
		source   string
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Identify one product from label photos or a text query",
		Example: `  # Identify from a photo
  strainscan identify --image label.jpg

  # Identify from a query and record it for an operator
  strainscan identify --text "blue dream 22%" --operator store-12`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := enrichment.Request{
				Text:       text,
				Source:     models.Source(source),
				OperatorID: operator,
			}
			if source != "" && !req.Source.Valid() {
				return fmt.Errorf("invalid source %q: must be image, text or voice", source)
			}
			for _, path := range images {
				img, err := readImage(path)
				if err != nil {
					return err
				}
				req.Images = append(req.Images, img)
			}
			if !quiet {
				errOut := cmd.ErrOrStderr()
				req.Progress = func(ev enrichment.Event) {
					fmt.Fprintf(errOut, "» %-15s %s\n", ev.Phase, ev.Message)
				}
			}

			st, err := newStack(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := st.service.Enrich(cmd.Context(), req)
			var pipelineErr *enrichment.PipelineError
			if errors.As(err, &pipelineErr) {
				if werr := writeJSON(cmd, pipelineErr.Fallback); werr != nil {
					return werr
				}
				return err
			}
			if err != nil {
				return err
			}
			if result.Duplicate && !quiet {
				fmt.Fprintln(cmd.ErrOrStderr(), "» already cataloged, returning cached record")
			}
			return writeJSON(cmd, result)
		},
	}

	cmd.Flags().StringArrayVarP(&images, "image", "i", nil, "Image file to analyze (repeatable)")
	cmd.Flags().StringVarP(&text, "text", "t", "", "Free-text product query")
	cmd.Flags().StringVarP(&operator, "operator", "o", "", "Operator whose catalog receives the record")
	cmd.Flags().StringVar(&source, "source", "", "Capture source: image, text or voice")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")

	return cmd
}

func readImage(path string) (providers.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return providers.Image{}, fmt.Errorf("read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return providers.Image{}, fmt.Errorf("%s: unsupported content type %q", path, mime)
	}
	return providers.Image{Data: data, MIMEType: mime}, nil
}
