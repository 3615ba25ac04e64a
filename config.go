// config.go
//
// Command line and environment configuration.
//
// Every flag can also be set through the environment as ALMADLE_<FLAG>, with
// dashes turned into underscores (e.g. --rate-burst → ALMADLE_RATE_BURST).
// A .env file in the working directory is loaded first (see main.go).
// Explicit flags win over the environment.

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	releaseVersion = "0.4.0"

	devSecret       = "dev-only-secret-change-me"
	minProdSecret   = 32
	shutdownTimeout = 10 * time.Second
	limiterIdleTTL  = 30 * time.Minute
	limiterSweep    = 5 * time.Minute
)

type Config struct {
	bind           string
	port           int
	secret         string
	production     bool
	clientOrigin   string
	catalogPath    string
	imageDirs      []string
	s3Bucket       string
	s3Prefix       string
	s3Region       string
	timezone       string
	logLevel       string
	rateRPS        float64
	rateBurst      int
	requestTimeout time.Duration

	// snapshot command
	snapshotOut string
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.production && (c.secret == "" || c.secret == devSecret) {
		return errors.New("--secret must be set in production")
	}
	if c.production && len(c.secret) < minProdSecret {
		return fmt.Errorf("--secret must be at least %d characters in production", minProdSecret)
	}
	if _, err := time.LoadLocation(c.timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.timezone, err)
	}
	if _, err := zerolog.ParseLevel(c.logLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.logLevel, err)
	}
	if c.rateRPS <= 0 || c.rateBurst < 1 {
		return fmt.Errorf("invalid rate limit: %.2f rps, burst %d", c.rateRPS, c.rateBurst)
	}
	if c.requestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout: %s", c.requestTimeout)
	}
	return nil
}

func (c *Config) location() *time.Location {
	loc, err := time.LoadLocation(c.timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ALMADLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "almadle",
		Short:         "Daily canteen-dish guessing game with progressive image reveal.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			setupLogging(cfg)
			return serve(cmd.Context(), cfg)
		},
	}

	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Write the configured catalog to a SQLite snapshot file.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			if cfg.snapshotOut == "" {
				return errors.New("--out is required")
			}
			setupLogging(cfg)
			return writeSnapshot(cmd.Context(), cfg)
		},
	}
	cmd.AddCommand(snapshot)

	normalize := func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	}

	pfs := cmd.PersistentFlags()
	pfs.SetNormalizeFunc(normalize)
	pfs.StringVar(&cfg.catalogPath, "catalog", "", "dish catalog: .json or .db file, empty for the built-in set (env: ALMADLE_CATALOG)")
	pfs.StringVar(&cfg.logLevel, "log-level", "info", "trace|debug|info|warn|error (env: ALMADLE_LOG_LEVEL)")
	pfs.BoolVar(&cfg.production, "production", false, "production mode: JSON logs, secure cookies, strict secret (env: ALMADLE_PRODUCTION)")
	pfs.StringVar(&cfg.timezone, "timezone", "Europe/Amsterdam", "zone that decides the daily round's date (env: ALMADLE_TIMEZONE)")

	fs := cmd.Flags()
	fs.SetNormalizeFunc(normalize)
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: ALMADLE_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: ALMADLE_PORT)")
	fs.StringVar(&cfg.secret, "secret", devSecret, "session signing secret (env: ALMADLE_SECRET)")
	fs.StringVar(&cfg.clientOrigin, "client-origin", "", "enable credentialed CORS for this origin (env: ALMADLE_CLIENT_ORIGIN)")
	fs.StringSliceVar(&cfg.imageDirs, "image-dirs", []string{"data/images", "public/images"}, "directories searched for dish photos, in order (env: ALMADLE_IMAGE_DIRS)")
	fs.StringVar(&cfg.s3Bucket, "s3-bucket", "", "S3 bucket holding dish photos, tried before local dirs (env: ALMADLE_S3_BUCKET)")
	fs.StringVar(&cfg.s3Prefix, "s3-prefix", "", "key prefix inside the S3 bucket (env: ALMADLE_S3_PREFIX)")
	fs.StringVar(&cfg.s3Region, "s3-region", "", "S3 region, default from the AWS config chain (env: ALMADLE_S3_REGION)")
	fs.Float64Var(&cfg.rateRPS, "rate-rps", 5, "sustained start/guess requests per second per client (env: ALMADLE_RATE_RPS)")
	fs.IntVar(&cfg.rateBurst, "rate-burst", 20, "start/guess burst per client (env: ALMADLE_RATE_BURST)")
	fs.DurationVar(&cfg.requestTimeout, "request-timeout", 10*time.Second, "per-request handler timeout (env: ALMADLE_REQUEST_TIMEOUT)")

	sfs := snapshot.Flags()
	sfs.StringVarP(&cfg.snapshotOut, "out", "o", "", "SQLite file to write (env: ALMADLE_OUT)")

	for _, set := range []*pflag.FlagSet{pfs, fs, sfs} {
		set.VisitAll(func(f *pflag.Flag) {
			_ = v.BindPFlag(f.Name, f)
			_ = v.BindEnv(f.Name)
			if !f.Changed && v.IsSet(f.Name) {
				_ = set.Set(f.Name, envValue(v.Get(f.Name)))
			}
		})
	}

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("almadle v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// envValue renders a viper value the way pflag parses it back.
func envValue(val any) string {
	if s, ok := val.([]string); ok {
		return strings.Join(s, ",")
	}
	return fmt.Sprintf("%v", val)
}
