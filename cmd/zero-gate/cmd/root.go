package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/gematik/zero-gate/pkg/config"
	"github.com/joho/godotenv"
	"github.com/phsym/console-slog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	verbose   bool
	workdir   string
	envFiles  []string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "zero-gate",
	Short: "Discord membership gate in front of a protected web resource",
	Long: `zero-gate lets visitors through to the upstream web map only after they signed in
with Discord and hold one of the authorized roles in the community guild.

Settings come from an optional YAML file and from the environment, either as
` + config.EnvPrefix + `_<KEY> or under the variable names of earlier deployments
(DISCORD_TOKEN, SECRET_KEY, WEB_MAP_URL, ...).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workdir != "" {
			if err := os.Chdir(workdir); err != nil {
				return fmt.Errorf("change working directory: %w", err)
			}
		}
		if err := loadEnvFiles(envFiles, cmd.Flags().Changed("env-file")); err != nil {
			return err
		}
		return setupLogging(logFormat, verbose)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix(config.EnvPrefix)
	persistentFlags := rootCmd.PersistentFlags()
	persistentFlags.StringVarP(&workdir, "workdir", "w", "", "working directory")
	persistentFlags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	persistentFlags.StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment is read")
	persistentFlags.StringVar(&logFormat, "log-format", "console", "log format: console, text or json")
	persistentFlags.StringP("config-file", "f", "gate.yaml", "config file, optional when configured through the environment")
	_ = viper.BindPFlag("config_file", persistentFlags.Lookup("config-file"))
}

// loadEnvFiles never overrides variables that are already set. Missing files are only
// an error when they were named explicitly.
func loadEnvFiles(files []string, explicit bool) error {
	for _, file := range files {
		err := godotenv.Load(file)
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			continue
		}
		if err != nil {
			return fmt.Errorf("load env file %s: %w", file, err)
		}
	}
	return nil
}

func setupLogging(format string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	// PRETTY_LOGS=false is what older deployments set
	if format == "console" && os.Getenv("PRETTY_LOGS") == "false" {
		format = "text"
	}

	var handler slog.Handler
	switch format {
	case "console":
		handler = console.NewHandler(os.Stderr, &console.HandlerOptions{Level: level})
	case "text":
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func configFile() string {
	path := viper.GetString("config_file")
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = strings.Replace(path, "~", home, 1)
	}
	return path
}

// withConfig loads the configuration before handing over to run.
func withConfig(run func(cmd *cobra.Command, cfg *config.Config) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper(), configFile())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		slog.Debug("Loaded config", "config_file", configFile(), "address", cfg.Address, "upstream_url", cfg.UpstreamURL)
		return run(cmd, cfg)
	}
}
