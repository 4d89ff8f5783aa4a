package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/cliutil"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "tasksync",
	Short:        "Follow a subtitle task to its final status",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/tasksync/main.go. The process
// exit code reflects the watched outcome, see exitCode.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadDotEnv, cliutil.InitConfig("tasksync", &cfgFile))

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./tasksync.yaml)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level: debug | info | warn | error")
	cliutil.BindFlag("log_level", rootCmd.PersistentFlags(), "log-level")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cliutil.NewInitCmd("tasksync", defaultTasksyncYAML, &cfgFile))
	rootCmd.AddCommand(cliutil.NewVersionCmd("tasksync"))
}

// loadDotEnv reads ./.env into the environment without overriding variables
// that are already set, so a token can live next to the binary.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "error reading .env:", err)
	}
	_ = viper.BindEnv("token", "TASKSYNC_TOKEN")
	_ = viper.BindEnv("gateway_url", "TASKSYNC_GATEWAY_URL")
}

const defaultTasksyncYAML = `# tasksync client config
# Priority: CLI flag > env (.env is loaded too) > this file > default.

gateway_url:    "http://localhost:8080"
redis_addr:     "localhost:6379"   # push channel; leave empty to poll only
# token: ""                        # prefer TASKSYNC_TOKEN in .env

pull_timeout:   "10s"
ack_timeout:    "3s"
fallback_after: "20s"   # push silence before polling takes over
hard_timeout:   "120s"  # give up waiting after this long
log_level:      "warn"
`
