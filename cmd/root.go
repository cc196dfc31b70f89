package cmd

import "github.com/spf13/cobra"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "quotecall",
	Short: "Automated supplier quote calls and quote extraction",
	Long: `quotecall places procurement calls to suppliers through a voice vendor,
drives each conversation turn by turn to collect prices, availability and
lead times, and extracts structured quotes from call transcripts and
supplier email replies.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".quotecall.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
