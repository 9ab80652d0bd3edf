package main

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/librisk"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "chainlock",
	Short:         "Dependency supply-chain risk analyser",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		setupLogging()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./chainlock.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.String("output-dir", "", "directory for reports and run history")
	pf.String("cache-backend", librisk.CacheMemory, "cache backend: memory, file, sqlite, postgres")
	pf.String("cache-dir", "", "directory for the file and sqlite cache backends")
	pf.Int64("pool-size", librisk.DefaultPoolSize, "bound on concurrent registry and vulnerability requests")
	pf.Int("max-depth", librisk.DefaultMaxDepth, "transitive resolution depth bound")

	viper.BindPFlag("output_dir", pf.Lookup("output-dir"))
	viper.BindPFlag("cache.backend", pf.Lookup("cache-backend"))
	viper.BindPFlag("cache.dir", pf.Lookup("cache-dir"))
	viper.BindPFlag("pool_size", pf.Lookup("pool-size"))
	viper.BindPFlag("max_depth", pf.Lookup("max-depth"))

	rootCmd.AddCommand(scanCmd, serveCmd, sbomCmd, cacheCmd)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("chainlock")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("CHAINLOCK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &nf) {
			return err
		}
		// No config file is fine; flags and env suffice.
	}
	return nil
}

func setupLogging() {
	zerolog.SetGlobalLevel(level(logLevel))
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}

func level(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	}
	return zerolog.InfoLevel
}

// optsFromConfig builds the library options from the merged configuration.
func optsFromConfig() *librisk.Opts {
	o := &librisk.Opts{
		OutputDir:         viper.GetString("output_dir"),
		CacheBackend:      viper.GetString("cache.backend"),
		CacheDir:          viper.GetString("cache.dir"),
		CacheDSN:          viper.GetString("cache.dsn"),
		CacheMaxBytes:     viper.GetInt64("cache.max_bytes"),
		OSVRoot:           viper.GetString("osv.root"),
		MaliciousFeedURL:  viper.GetString("feed.url"),
		MaliciousFeedFile: viper.GetString("feed.file"),
		LLMKey:            viper.GetString("llm.key"),
		LLMRoot:           viper.GetString("llm.root"),
		LLMModel:          viper.GetString("llm.model"),
		PoolSize:          viper.GetInt64("pool_size"),
		MaxDepth:          viper.GetInt("max_depth"),
		RunTimeout:        viper.GetDuration("run_timeout"),
	}
	roots := make(map[chainlock.Ecosystem]string)
	if r := viper.GetString("registry.npm"); r != "" {
		roots[chainlock.NPM] = r
	}
	if r := viper.GetString("registry.pypi"); r != "" {
		roots[chainlock.PyPI] = r
	}
	if len(roots) != 0 {
		o.RegistryRoots = roots
	}
	return o
}
