package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// ExitError carries a non-zero exit code requested by the application.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("node exited with code %d", e.Code)
}

// NewRunCmd creates the run command
func NewRunCmd(newApp AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Build, start and supervise a trading node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			app := newApp(cfg)
			if err := app.Err(); err != nil {
				return fmt.Errorf("failed to assemble node: %w", err)
			}

			startCtx, cancel := context.WithTimeout(cmd.Context(), app.StartTimeout())
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}

			sig := <-app.Wait()

			stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
			defer cancelStop()
			if err := app.Stop(stopCtx); err != nil {
				return err
			}

			if sig.ExitCode != 0 {
				return &ExitError{Code: sig.ExitCode}
			}
			return nil
		},
	}
}
