package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"opsbot/config"
	"opsbot/types"
)

var validateConfigPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration without connecting anywhere.

Checks alias uniqueness within each kind, rejects aliases declared in both
control tiers, and verifies resource identifier formats.`,
	Example: `  opsbot validate --config opsbot.yaml`,
	RunE:    runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "opsbot.yaml", "Configuration file path")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(validateConfigPath)
	if err != nil {
		return err
	}

	fmt.Printf("✅ %s is valid\n", validateConfigPath)
	fmt.Printf("   Region: %s\n", cfg.Region)
	for _, kind := range []types.Kind{types.KindEC2, types.KindRDS} {
		aliases := cfg.Aliases(kind)
		fmt.Printf("   %s aliases: %d\n", kind, len(aliases))
		for _, a := range aliases {
			fmt.Printf("     %s -> %s (%s)\n", a.Alias, a.ResourceID, a.Tier)
		}
	}
	if cfg.EKS.Cluster != "" {
		fmt.Printf("   EKS cluster: %s\n", cfg.EKS.Cluster)
	}
	return nil
}
