package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/stepdash/backend/internal/config"
	"github.com/stepdash/backend/internal/wizard"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stepdash",
		Short:         "Step wizard backend: sessions, tabular uploads and a HuggingFace proxy",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", defaultConfigPath(), "Path to the XML configuration file")

	cmd.AddCommand(serveCmd(), versionCmd(), flowsCmd())
	return cmd
}

// defaultConfigPath puts the config file next to the executable.
func defaultConfigPath() string {
	exePath, err := os.Executable()
	if err != nil {
		return "stepdash.config.xml"
	}
	return filepath.Join(filepath.Dir(exePath), "stepdash.config.xml")
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stepdash %s (built %s)\n", Version, BuildTime)
		},
	}
}

func flowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List the wizard flows sessions can walk",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadConfig(configPath, config.NewViper())
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, f := range catalog.List() {
				marker := " "
				if f.Name == cfg.Wizard.DefaultFlow {
					marker = "*"
				}
				fmt.Fprintf(out, "%s %-16s %d steps  %s\n", marker, f.Name, len(f.Steps), f.Title)
				for i, s := range f.Steps {
					fmt.Fprintf(out, "    %d. %-24s [%s]\n", i+1, s.Title, s.Kind)
				}
			}
			return nil
		},
	}
}

// loadCatalog returns the built-in flows plus those in the flows directory.
func loadCatalog(cfg *config.AppConfig) (*wizard.Catalog, error) {
	catalog, err := wizard.NewCatalog()
	if err != nil {
		return nil, err
	}
	if err := catalog.LoadDir(cfg.Wizard.FlowsDirectory); err != nil {
		return nil, err
	}
	if _, err := catalog.Get(cfg.Wizard.DefaultFlow); err != nil {
		return nil, fmt.Errorf("default flow %q: %w", cfg.Wizard.DefaultFlow, err)
	}
	return catalog, nil
}
