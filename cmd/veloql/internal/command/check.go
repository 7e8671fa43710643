package command

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCheckCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Resolve the model configuration and report its diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.load()
			if err != nil {
				return err
			}
			st := &stack{s: s, log: zap.NewNop()}
			m, diags, err := st.loadModel()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, d := range diags {
				fmt.Fprintln(out, d)
			}
			fmt.Fprintf(out, "%d entities, %d enums, %d diagnostics\n", len(m.Entities), len(m.Enums), len(diags))
			return diags.Err()
		},
	}
}
