// Package app provides the entry point for the sessionctl command-line application.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/haiyiyun/sessionstore"
)

type (
	storeKey  struct{}
	configKey struct{}
	loggerKey struct{}
)

// NewRootCmd creates the sessionctl root command with its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SESSIONCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Inspect and manage stored web sessions",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
				}
			}
			cfg := loadConfig(v)

			logger, err := newLogger(cfg.Debug)
			if err != nil {
				return err
			}

			if cmd.Annotations["needs-store"] != "true" {
				return nil
			}
			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return err
			}
			store.On(sessionstore.EventError, func(args ...any) {
				logger.Error("session backend error", zap.Any("args", args))
			})
			ctx := context.WithValue(cmd.Context(), storeKey{}, store)
			ctx = context.WithValue(ctx, configKey{}, cfg)
			cmd.SetContext(context.WithValue(ctx, loggerKey{}, logger))
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.String("backend", backendRedis, "session backend: redis, sqlite or cache")
	flags.String("redis-addr", "127.0.0.1:6379", "redis address (redis and cache backends)")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-db", 0, "redis database number")
	flags.String("cache-namespace", "sessionctl", "namespace for the cache backend")
	flags.String("prefix", "sess:", "session key prefix")
	flags.String("sqlite-path", "sessions.db", "sqlite database file")
	flags.Duration("ttl", 0, "lifetime of sessions without cookie expiry (0 uses the backend default)")
	flags.String("id-format", "uuid", "format of regenerated session ids: uuid or random")
	flags.Bool("debug", false, "enable debug logging")
	_ = v.BindPFlags(flags)

	rootCmd.AddCommand(
		newGetCmd(),
		newDestroyCmd(),
		newTouchCmd(),
		newListCmd(),
		newRegenerateCmd(),
		newPruneCmd(),
		newWatchCmd(),
	)
	return rootCmd
}

func storeFrom(cmd *cobra.Command) *sessionstore.Store {
	if cmd.Context() == nil {
		return nil
	}
	store, _ := cmd.Context().Value(storeKey{}).(*sessionstore.Store)
	return store
}

func configFrom(cmd *cobra.Command) Config {
	cfg, _ := cmd.Context().Value(configKey{}).(Config)
	return cfg
}

// withStore marks a command as needing an open session store. The store is
// closed when RunE returns, also on error.
func withStore(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations["needs-store"] = "true"

	run := cmd.RunE
	cmd.RunE = func(c *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := closeStore(c); err == nil {
				err = cerr
			}
		}()
		return run(c, args)
	}
	return cmd
}

func closeStore(cmd *cobra.Command) error {
	var err error
	if store := storeFrom(cmd); store != nil {
		err = store.Close()
	}
	if logger, ok := cmd.Context().Value(loggerKey{}).(*zap.Logger); ok {
		_ = logger.Sync()
	}
	return err
}
