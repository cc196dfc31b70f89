package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/quote-caller/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize quotecall configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure the LLM provider, the voice vendor secrets and the call policy, and writes a .quotecall.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
