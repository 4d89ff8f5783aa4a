// Package cliutil holds the cobra/viper plumbing every service binary shares.
package cliutil

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JPierreXiong/subtitleTK-final-backup-sub001/internal/version"
)

// ConfigDir is the per-user directory searched for <service>.yaml.
const ConfigDir = ".subtitle-tasks"

// InitConfig returns a cobra.OnInitialize hook that loads <service>.yaml, or
// *cfgFile when set, into the global viper instance.
func InitConfig(service string, cfgFile *string) func() {
	return func() {
		if *cfgFile != "" {
			viper.SetConfigFile(*cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.SetConfigName(service)
			viper.SetConfigType("yaml")
			viper.AddConfigPath(".")
			viper.AddConfigPath(filepath.Join(home, ConfigDir))
			viper.AddConfigPath("/etc/subtitle-tasks")
		}

		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		viper.AutomaticEnv()

		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				fmt.Fprintln(os.Stderr, "error reading config file:", err)
				os.Exit(1)
			}
		} else {
			fmt.Fprintln(os.Stderr, "config:", viper.ConfigFileUsed())
		}
	}
}

// BuildLogger returns a JSON logger tagged with the service name.
func BuildLogger(level, service string) *slog.Logger {
	return NewLogger(os.Stdout, level, service)
}

// NewLogger is BuildLogger writing to w.
func NewLogger(w io.Writer, level, service string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})).
		With(slog.String("service", service))
}

// BindFlag binds a pflag to a viper key. Panics on a misspelt flag name.
func BindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}

// NewInitCmd returns an "init" subcommand that writes defaultYAML to *cfgFile,
// or to ~/.subtitle-tasks/<service>.yaml when no path is given.
func NewInitCmd(service, defaultYAML string, cfgFile *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: fmt.Sprintf(`Write default configuration for %s.

If --config is given the file is written to that path.
Otherwise it is written to ~/%s/%s.yaml.
Fails if the file already exists unless --force is passed.`, service, ConfigDir, service),
		RunE: func(cmd *cobra.Command, _ []string) error {
			dest := *cfgFile
			if dest == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("home dir: %w", err)
				}
				dest = filepath.Join(home, ConfigDir, service+".yaml")
			}
			if err := WriteConfig(dest, defaultYAML, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", dest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")
	return cmd
}

// WriteConfig writes content to dest, creating parent directories. An
// existing file is only replaced when force is set.
func WriteConfig(dest, content string, force bool) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if !force {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", dest, err)
		}
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// NewVersionCmd prints build information for service.
func NewVersionCmd(service string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.String(service))
		},
	}
}
