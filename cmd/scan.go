package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenshelf/strainscan/internal/capture"
	"github.com/greenshelf/strainscan/internal/logging"
	"github.com/greenshelf/strainscan/internal/models"
	"github.com/greenshelf/strainscan/internal/session"
)

type sessionEnder interface {
	End() (*models.ScanSession, error)
	Session() *models.ScanSession
}

// endSession ends the active session. When the loop already ended it, the
// last session snapshot is returned instead.
func endSession(m sessionEnder) (*models.ScanSession, error) {
	sess, err := m.End()
	if errors.Is(err, session.ErrNotActive) {
		if last := m.Session(); last != nil {
			return last, nil
		}
	}
	return sess, err
}

func newScanCmd(a *app) *cobra.Command {
	var (
		frames    string
		operator  string
		duration  time.Duration
		stability bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a continuous scan session against a frame directory",
		Long: `Runs a scan session that treats the newest image in a directory as the live
camera frame. Stable frames are submitted for identification and every
identified product is appended to the session.

Session events are printed as JSON lines. The session ends on Ctrl+C, when
--duration elapses, or when the capture device cannot be recovered.`,
		Example: `  strainscan scan --frames ./capture --operator store-12 --duration 2m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if frames == "" {
				frames = a.cfg.Server.CaptureDir
			}
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			st, err := newStack(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			manager := session.NewManager(
				capture.NewDirDevice(frames, logging.NewComponentLogger(a.logger, "capture")),
				st.service,
				a.cfg.SessionConfig(),
				logging.NewComponentLogger(a.logger, "session"),
			)
			if _, err := manager.Start(ctx, operator); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case <-ctx.Done():
					sess, err := endSession(manager)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "» session %s ended with %d scan(s)\n", sess.ID, len(sess.Scans))
					return writeJSON(cmd, sess)
				case ev := <-manager.Events():
					if ev.Type == session.EventStability && !stability {
						continue
					}
					if err := enc.Encode(ev); err != nil {
						return err
					}
					if ev.Type == session.EventSessionEnded {
						return fmt.Errorf("session ended: %s", ev.Session.EndReason)
					}
				}
			}
		},
	}

	cmd.Flags().StringVarP(&frames, "frames", "f", "", "Directory whose newest image is the current frame (default: server.capture_dir)")
	cmd.Flags().StringVarP(&operator, "operator", "o", "", "Operator whose catalog receives identified records")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&stability, "stability", false, "Also print per-tick stability events")

	return cmd
}
