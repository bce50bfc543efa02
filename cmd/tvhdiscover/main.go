// Package main is the tvhdiscover command: it connects to a Tvheadend
// server over HTSP, lists its channels and follows its notifications.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aeolun/tvhdiscover/pkg/client"
	"github.com/aeolun/tvhdiscover/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

var logger logrus.FieldLogger = logrus.StandardLogger()

type options struct {
	configPath string
	host       string
	port       int
	user       string
	pass       string
	ssh        string
	statePath  string
	metrics    string
	logLevel   string
	once       bool
	limit      int
}

func defaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tvhdiscover", "config.toml")
	}
	return "~/.config/tvhdiscover/config.toml"
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "tvhdiscover",
		Short:         "Discover the channels of a Tvheadend server over HTSP",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runDiscover(cmd.Context(), cmd, cfg, opts.once)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", defaultConfigPath(), "Path to config file")
	pf.StringVar(&opts.statePath, "state", "", "Path to state database (overrides config)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")

	f := rootCmd.Flags()
	f.StringVar(&opts.host, "host", "", "HTSP server host (overrides config)")
	f.IntVar(&opts.port, "port", 0, "HTSP server port (overrides config)")
	f.StringVar(&opts.user, "user", "", "HTSP user name (overrides config)")
	f.StringVar(&opts.pass, "pass", "", "HTSP password (overrides config)")
	f.StringVar(&opts.ssh, "ssh", "", "Tunnel through an SSH host, e.g. ssh://user@jump:22 (overrides config)")
	f.StringVar(&opts.metrics, "metrics", "", "Serve Prometheus metrics on this address (overrides config)")
	f.BoolVar(&opts.once, "once", false, "Exit after the channel sync instead of following notifications")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent discovery sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			state, err := openState(cfg)
			if err != nil {
				return err
			}
			defer state.Close()

			records, err := state.ListSessions(opts.limit)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			renderHistory(cmd.OutOrStdout(), records)
			return nil
		},
	}
	historyCmd.Flags().IntVar(&opts.limit, "limit", 20, "Number of sessions to show")

	channelsCmd := &cobra.Command{
		Use:   "channels",
		Short: "List the channels stored by the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			state, err := openState(cfg)
			if err != nil {
				return err
			}
			defer state.Close()

			channels, err := state.ListChannels(cfg.ToConfig().Address())
			if err != nil {
				return fmt.Errorf("list channels: %w", err)
			}
			renderChannels(cmd.OutOrStdout(), channels)
			return nil
		},
	}

	var backup bool
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or reset the config file",
	}
	configPathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), opts.configPath)
		},
	}
	configResetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Overwrite the config file with defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backupPath, err := client.ResetConfigToDefault(opts.configPath, backup)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if backupPath != "" {
				fmt.Fprintf(out, "Previous config saved to %s\n", backupPath)
			}
			fmt.Fprintln(out, okStyle.Render("✓ Configuration reset to defaults"))
			return nil
		},
	}
	configResetCmd.Flags().BoolVar(&backup, "backup", true, "Keep a dated copy of the current file")
	configCmd.AddCommand(configPathCmd, configResetCmd)

	rootCmd.AddCommand(historyCmd, channelsCmd, configCmd)
	return rootCmd
}

// loadConfig reads the config file and applies the flags that were set
func loadConfig(cmd *cobra.Command, opts *options) (client.TOMLConfig, error) {
	cfg, err := client.LoadConfig(opts.configPath)
	if err != nil {
		return client.TOMLConfig{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("user") {
		cfg.Server.User = opts.user
	}
	if flags.Changed("pass") {
		cfg.Server.Pass = opts.pass
	}
	if flags.Changed("ssh") {
		cfg.Tunnel.SSH = opts.ssh
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Listen = opts.metrics
	}
	if flags.Changed("state") {
		cfg.Local.StateDB = opts.statePath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}

	if !log.ValidLevel(cfg.Log.Level) {
		return client.TOMLConfig{}, fmt.Errorf("invalid log level %q", cfg.Log.Level)
	}
	log.SetLogger(cfg.Log.Level)
	return cfg, nil
}

func openState(cfg client.TOMLConfig) (*client.State, error) {
	path, err := cfg.GetStateDBPath()
	if err != nil {
		return nil, err
	}
	state, err := client.OpenState(path)
	if err != nil {
		return nil, fmt.Errorf("open state database %s: %w", path, err)
	}
	return state, nil
}

func runDiscover(ctx context.Context, cmd *cobra.Command, tcfg client.TOMLConfig, once bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	state, err := openState(tcfg)
	if err != nil {
		return err
	}
	defer state.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := client.NewMetrics(reg)
	if tcfg.Metrics.Listen != "" {
		srv := serveMetrics(tcfg.Metrics.Listen, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	cfg := tcfg.ToConfig()
	memory := client.NewMemoryCatalog()
	catalog := client.MultiCatalog{memory, state.Catalog(cfg.Address())}

	d, err := client.Open(cfg, catalog,
		client.WithLogger(logger),
		client.WithMetrics(metrics),
		client.WithHistory(state),
	)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"server": cfg.Address(), "session": d.ID()}).Info("discovery started")

	updates := d.StateChanges()
wait:
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			break wait
		case <-d.Done():
			break wait
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if once && (u.State == client.StateSynced || u.State == client.StateSyncFailed) {
				break wait
			}
		}
	}

	runErr := d.Close()

	out := cmd.OutOrStdout()
	renderChannels(out, memory.Channels())
	if rec, ok := d.Record(); ok {
		fmt.Fprintln(out)
		renderSummary(out, rec)
	}
	return runErr
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()
	logger.WithField("addr", addr).Info("serving metrics")
	return srv
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var cfgErr *client.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "Configuration error in %s\n", cfgErr.Error())
			fmt.Fprintln(os.Stderr, "Fix the file or run `tvhdiscover config reset` to restore the defaults")
			os.Exit(2)
		}
		logger.Fatal(err)
	}
}
