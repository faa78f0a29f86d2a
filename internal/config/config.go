package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/choco0031/thisorthat/internal/engine"
	"github.com/choco0031/thisorthat/internal/tracker"
)

const ReleaseVersion = "0.4.0"

const envPrefix = "THISORTHAT"

type Config struct {
	Bind           string
	Port           int
	Topics         string
	Rounds         int
	Grace          time.Duration
	SweepInterval  time.Duration
	PublicURL      string
	AllowedOrigins []string
	DatabaseURL    string
	Verbose        bool
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port))
	}
	if c.Rounds < 1 {
		errs = append(errs, fmt.Errorf("--rounds must be at least 1: %d", c.Rounds))
	}
	if c.Grace <= 0 {
		errs = append(errs, fmt.Errorf("--grace must be positive: %s", c.Grace))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("--sweep-interval must be positive: %s", c.SweepInterval))
	}
	if c.DatabaseURL != "" {
		if _, err := pgx.ParseConfig(c.DatabaseURL); err != nil {
			errs = append(errs, fmt.Errorf("--database-url: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NewCommand builds the root command. Flags can also be set through
// THISORTHAT_* environment variables; run is called with the validated
// config.
func NewCommand(cfg *Config, run func(ctx context.Context, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "thisorthat",
		Short:   "Real-time server for the this-or-that party game.",
		Args:    cobra.ExactArgs(0),
		Version: ReleaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: THISORTHAT_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 3000, "port to listen on (env: THISORTHAT_PORT)")
	fs.StringVar(&cfg.Topics, "topics", "topics.txt", "topic file, one \"option1,option2\" per line (env: THISORTHAT_TOPICS)")
	fs.IntVar(&cfg.Rounds, "rounds", engine.DefaultTotalRounds, "rounds per game (env: THISORTHAT_ROUNDS)")
	fs.DurationVar(&cfg.Grace, "grace", tracker.DefaultGrace, "how long a dropped player keeps their seat (env: THISORTHAT_GRACE)")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", 60*time.Second, "how often expired seats are swept (env: THISORTHAT_SWEEP_INTERVAL)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "front end URL used in join links (env: THISORTHAT_PUBLIC_URL)")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", nil, "extra websocket origin patterns (env: THISORTHAT_ALLOWED_ORIGINS)")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres URL for the finished-game archive, empty to disable (env: THISORTHAT_DATABASE_URL)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "debug logging (env: THISORTHAT_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("thisorthat v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
