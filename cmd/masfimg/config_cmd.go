package main

import (
	"fmt"

	"github.com/masfimg/masfimg/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long: `Inspect masfimg configuration. Subcommands show the effective
configuration and validate a configuration file without running anything.`,
		Example: `  masfimg config show
  masfimg config validate /etc/masfimg/masfimg.yaml`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigValidateCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the effective configuration in YAML format: the loaded config
file (or defaults when none was found) as the create command would use it.`,
		Example: `  masfimg config show
  masfimg config show --config ./masfimg.yaml`,
		RunE: configShowRun,
	}

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if cfgPath != "" {
		fmt.Printf("# %s\n", cfgPath)
	} else {
		fmt.Println("# built-in defaults (no config file found)")
	}
	fmt.Print(string(data))

	return nil
}

func newConfigValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file: parse it and check every rule size,
exclude pattern, and packager setting. Exits non-zero when invalid.`,
		Example: `  masfimg config validate masfimg.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE:    configValidateRun,
	}

	return cmd
}

func configValidateRun(cmd *cobra.Command, args []string) error {
	path := args[0]

	if _, err := config.Load(path); err != nil {
		return err
	}

	fmt.Printf("%s is valid\n", path)
	return nil
}
