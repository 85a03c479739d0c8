package main

import (
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	openqalocal "github.com/gophersatwork/openqa-log-local"
)

// envPrefix maps flags to environment variables: --cache-dir becomes
// OPENQA_CACHE_DIR and so on.
const envPrefix = "OPENQA"

func newRootCmd() *cobra.Command {
	v := viper.New()
	logger := logrus.New()

	root := &cobra.Command{
		Use:   "openqa-log-local",
		Short: "Local cache for openQA job details and log files",
		Long: `openqa-log-local keeps openQA job details, log listings, and log files in
a local disk cache, fetching from the remote instance only when the cache
has no fresh answer.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v.SetEnvPrefix(envPrefix)
			v.AutomaticEnv()
			return bindFlags(cmd, v)
		},
	}

	root.PersistentFlags().String("host", "", "openQA host to talk to (OPENQA_HOST)")
	root.PersistentFlags().String("cache-dir", ".cache", "cache root directory (OPENQA_CACHE_DIR)")
	root.PersistentFlags().Int64("ttl", -1, "cache TTL in seconds, -1 never stale, 0 disabled (OPENQA_TTL)")
	root.PersistentFlags().Int64("max-size", openqalocal.DefaultMaxSize, "advisory cache size bound in bytes (OPENQA_MAX_SIZE)")
	root.PersistentFlags().Bool("no-cache", false, "ignore cached data, always fetch (OPENQA_NO_CACHE)")
	root.PersistentFlags().Bool("debug", false, "enable debug logging (OPENQA_DEBUG)")

	root.AddCommand(
		newGetDetailsCmd(v, logger),
		newGetLogListCmd(v, logger),
		newGetLogDataCmd(v, logger),
		newStatsCmd(v, logger),
		newPruneCmd(v, logger),
	)

	return root
}

// bindFlags binds every persistent flag to its viper key, so environment
// variables provide defaults and explicit flags win.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var err error
	cmd.Root().PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if e := v.BindPFlag(key, f); e != nil && err == nil {
			err = e
		}
	})
	return err
}

// buildService assembles the library stack from the resolved configuration.
func buildService(v *viper.Viper, logger *logrus.Logger) (*openqalocal.Service, error) {
	if v.GetBool("debug") {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	host := v.GetString("host")
	if host == "" {
		return nil, errors.New("no host given: set --host or OPENQA_HOST")
	}

	ttl := openqalocal.TTLNever
	if secs := v.GetInt64("ttl"); secs >= 0 {
		ttl = time.Duration(secs) * time.Second
	}

	opts := []openqalocal.Option{
		openqalocal.WithCacheDir(v.GetString("cache_dir")),
		openqalocal.WithTTL(ttl),
		openqalocal.WithMaxSize(v.GetInt64("max_size")),
		openqalocal.WithLogger(logger),
		openqalocal.WithFileLocking(),
	}
	if v.GetBool("no_cache") {
		opts = append(opts, openqalocal.WithIgnoreCache())
	}

	return openqalocal.NewService(host, opts...)
}
