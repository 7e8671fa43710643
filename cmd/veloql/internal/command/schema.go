package command

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/syssam/veloql/engine"
)

func newSchemaCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the GraphQL schema of the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.load()
			if err != nil {
				return err
			}
			st := &stack{s: s, log: zap.NewNop()}
			m, _, err := st.loadModel()
			if err != nil {
				return err
			}
			rt, err := engine.New(cmd.Context(), m, engine.WithoutSeeding(), engine.WithLogger(st.log))
			if err != nil {
				return err
			}
			rt.Schema().WriteSDL(cmd.OutOrStdout())
			return nil
		},
	}
}
