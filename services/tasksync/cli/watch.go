package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/cliutil"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/domain"
	redisstore "github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/redis"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/pkg/tasksync"
	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/services/tasksync/config"
)

var watchCmd = &cobra.Command{
	Use:   "watch <task-id>",
	Short: "Wait for a task to finish and print the outcome",
	Long: `Follow a task over the Redis push channel, falling back to polling the
gateway when push goes quiet. Exit codes: 0 success, 1 failure, 2 client timeout.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().String("expect", string(domain.StatusCompleted), "status that means success: extracted | completed")
	watchCmd.Flags().Bool("json", false, "print the final task snapshot as JSON")
	watchCmd.Flags().String("gateway-url", "http://localhost:8080", "API gateway base URL")
	watchCmd.Flags().String("redis-addr", "localhost:6379", "Redis address for push updates; empty polls only")
	watchCmd.Flags().String("token", "", "bearer token (or TASKSYNC_TOKEN)")
	watchCmd.Flags().Duration("pull-timeout", 10*time.Second, "timeout for one status request")
	watchCmd.Flags().Duration("ack-timeout", 3*time.Second, "timeout for the push subscription to be confirmed")
	watchCmd.Flags().Duration("fallback-after", tasksync.DefaultFallbackAfter, "push silence before polling")
	watchCmd.Flags().Duration("hard-timeout", tasksync.DefaultHardTimeout, "stop waiting after this long")

	cliutil.BindFlag("gateway_url", watchCmd.Flags(), "gateway-url")
	cliutil.BindFlag("redis_addr", watchCmd.Flags(), "redis-addr")
	cliutil.BindFlag("token", watchCmd.Flags(), "token")
	cliutil.BindFlag("pull_timeout", watchCmd.Flags(), "pull-timeout")
	cliutil.BindFlag("ack_timeout", watchCmd.Flags(), "ack-timeout")
	cliutil.BindFlag("fallback_after", watchCmd.Flags(), "fallback-after")
	cliutil.BindFlag("hard_timeout", watchCmd.Flags(), "hard-timeout")
}

// exitError carries the process exit code for a non-successful outcome.
type exitError struct {
	code    int
	message string
}

func (e *exitError) Error() string { return e.message }

func runWatch(cmd *cobra.Command, args []string) error {
	cfg := config.Load(viper.GetViper())
	logger := cliutil.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, "tasksync")

	expected := domain.Status(mustString(cmd, "expect"))
	if expected != domain.StatusExtracted && expected != domain.StatusCompleted {
		return fmt.Errorf("--expect must be extracted or completed, got %q", expected)
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	var pusher tasksync.Pusher
	if cfg.RedisAddr != "" {
		client := redisstore.NewClient(cfg.RedisAddr)
		defer func() { _ = client.Close() }()
		pusher = tasksync.NewRedisPusher(client, cfg.AckTimeout, logger)
	}
	puller := tasksync.NewHTTPPuller(cfg.GatewayURL, cfg.Token, cfg.PullTimeout)

	out := cmd.OutOrStdout()
	sync := tasksync.New(puller, pusher,
		tasksync.WithFallbackAfter(cfg.FallbackAfter),
		tasksync.WithHardTimeout(cfg.HardTimeout),
		tasksync.WithLogger(logger),
		tasksync.WithOnUpdate(func(t *domain.Task) {
			if !asJSON {
				fmt.Fprintf(out, "%s  %-11s %3d%%\n", t.UpdatedAt.Local().Format(time.TimeOnly), t.Status, t.Progress)
			}
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome, err := sync.Watch(ctx, args[0], expected)
	if err != nil {
		return fmt.Errorf("watch interrupted: %w", err)
	}
	return report(out, outcome, asJSON)
}

// report prints the outcome and returns an exitError for anything but success.
func report(w io.Writer, o tasksync.Outcome, asJSON bool) error {
	if asJSON && o.Task != nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(o.Task)
	} else if o.Kind == tasksync.Succeeded {
		fmt.Fprintf(w, "task %s %s\n", o.Task.ID, o.Task.Status)
	}

	code := exitCode(o.Kind)
	if code == 0 {
		return nil
	}
	msg := o.Message
	if msg == "" && o.Err != nil {
		msg = o.Err.Error()
	}
	return &exitError{code: code, message: fmt.Sprintf("%s: %s", o.Kind, msg)}
}

// exitCode maps an outcome to the process exit status.
func exitCode(k tasksync.OutcomeKind) int {
	switch k {
	case tasksync.Succeeded:
		return 0
	case tasksync.ClientTimeout:
		return 2
	default:
		return 1
	}
}

func mustString(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(errors.Join(fmt.Errorf("flag %s", name), err))
	}
	return v
}
