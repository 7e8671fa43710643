// Package command implements the veloql command line.
package command

import (
	"github.com/spf13/cobra"

	"github.com/syssam/veloql/cmd/veloql/internal/settings"
)

// options are the settings shared by every subcommand.
type options struct {
	configPath string
	flags      *settings.Flags
}

// load returns the layered process settings.
func (o *options) load() (*settings.Settings, error) {
	s, err := settings.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	o.flags.Apply(s)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewRootCommand returns the veloql command.
func NewRootCommand() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "veloql",
		Short: "Serve a GraphQL API generated from a model configuration",
		Long: "veloql resolves a declarative entity configuration into a model and\n" +
			"serves the GraphQL API derived from it: object, input, filter and sort\n" +
			"types, CRUD queries and mutations, subscriptions and seeding.\n\n" +
			"Settings come from defaults, the --config JSON file, VELOQL_*\n" +
			"environment variables and flags, in that order.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "process settings JSON file")
	o.flags = settings.Bind(pf)

	cmd.AddCommand(
		newServeCommand(o),
		newSchemaCommand(o),
		newSeedCommand(o),
		newCheckCommand(o),
	)
	return cmd
}
