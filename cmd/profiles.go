package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/resale-arb/internal/cost"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Print the resolved strategy profiles",
	Long:  "Prints the built-in strategy profiles merged with strategy.profiles overrides, as YAML that can be pasted back into config.yaml.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeProfiles(os.Stdout, cfg.Strategy.Profile, cfg.Strategy.Profiles)
	},
}

// writeProfiles encodes the merged profiles under a strategy key.
func writeProfiles(out io.Writer, active string, overrides map[string]cost.Override) error {
	doc := struct {
		Strategy struct {
			Profile  string                  `yaml:"profile"`
			Profiles map[string]cost.Profile `yaml:"profiles"`
		} `yaml:"strategy"`
	}{}
	if active == "" {
		active = cost.ProfileBalanced
	}
	doc.Strategy.Profile = active
	doc.Strategy.Profiles = cost.Merge(cost.DefaultProfiles(), overrides)

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return eris.Wrap(err, "profiles: encode yaml")
	}
	if err := enc.Close(); err != nil {
		return eris.Wrap(err, "profiles: flush yaml")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}
