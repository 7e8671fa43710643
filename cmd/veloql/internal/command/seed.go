package command

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSeedCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the seeds of the model into the datastore",
		Long: "seed stores the seed records of every entity, wires their\n" +
			"associations and prints the report as JSON. With --truncate the\n" +
			"collections of seeded entities are emptied first.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.load()
			if err != nil {
				return err
			}
			log, err := newLogger(s.LogMode)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			st, err := newStack(ctx, s, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					log.Warn("closing collaborators failed", zap.Error(err))
				}
			}()
			m, _, err := st.loadModel()
			if err != nil {
				return err
			}
			rt, _, err := st.runtime(ctx, m)
			if err != nil {
				return err
			}
			report, err := rt.Seed(ctx, s.Truncate)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
