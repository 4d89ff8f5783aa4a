package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/cliutil"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "worker",
	Short:        "Subtitle worker: runs extraction and translation jobs consumed from Kafka",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/worker/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(cliutil.InitConfig("worker", &cfgFile))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./worker.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	cliutil.BindFlag("log_level", rootCmd.PersistentFlags(), "log-level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cliutil.NewInitCmd("worker", defaultWorkerYAML, &cfgFile))
	rootCmd.AddCommand(cliutil.NewVersionCmd("worker"))
}
