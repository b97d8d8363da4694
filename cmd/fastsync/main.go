// Command fastsync runs the background sync agent.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"fastsync/internal/agent"
	"fastsync/internal/config"
	configmem "fastsync/internal/config/memory"
	configsqlite "fastsync/internal/config/sqlite"
	"fastsync/internal/dispatch"
	"fastsync/internal/endpoint"
	"fastsync/internal/home"
	"fastsync/internal/logging"
	"fastsync/internal/server"
)

var version = "dev"

func main() {
	// Base logger with ComponentFilterHandler for dynamic log level control.
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug, // allow all levels; filtering done by ComponentFilterHandler
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:   "fastsync",
		Short: "Background sync agent for photos, texts, and clipboard",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			pprofAddr, _ := cmd.Flags().GetString("pprof")
			if pprofAddr != "" {
				go func() {
					logger.Info("pprof server listening", "addr", pprofAddr)
					if err := http.ListenAndServe(pprofAddr, nil); err != nil {
						logger.Error("pprof server error", "error", err)
					}
				}()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("home", "", "home directory (default: platform config dir)")
	rootCmd.PersistentFlags().String("config-type", "sqlite", "config store type: sqlite or memory")
	rootCmd.PersistentFlags().String("pprof", "", "pprof HTTP server address (e.g. localhost:6060). Bind to loopback only")

	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the sync agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			homeFlag, _ := cmd.Flags().GetString("home")
			configType, _ := cmd.Flags().GetString("config-type")
			apiAddr, _ := cmd.Flags().GetString("addr")
			noDiscovery, _ := cmd.Flags().GetBool("no-discovery")
			statsInterval, _ := cmd.Flags().GetDuration("stats-interval")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return run(ctx, logger, homeFlag, configType, apiAddr, noDiscovery, statsInterval)
		},
	}
	agentCmd.Flags().String("addr", server.DefaultAddr, "control API listen address (host:port)")
	agentCmd.Flags().Bool("no-discovery", false, "disable mDNS receiver discovery")
	agentCmd.Flags().Duration("stats-interval", time.Minute, "stats report interval (0 disables)")

	endpointCmd := &cobra.Command{
		Use:   "endpoint",
		Short: "Inspect or override the receiver endpoint",
	}

	endpointSetCmd := &cobra.Command{
		Use:   "set <ip> [port]",
		Short: "Persist a manual receiver endpoint override",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			homeFlag, _ := cmd.Flags().GetString("home")
			configType, _ := cmd.Flags().GetString("config-type")

			port := endpoint.DefaultPort
			if len(args) == 2 {
				if _, err := fmt.Sscanf(args[1], "%d", &port); err != nil {
					return fmt.Errorf("invalid port %q: %w", args[1], err)
				}
			}

			cfgStore, closeStore, err := openConfigStore(logger, homeFlag, configType)
			if err != nil {
				return err
			}
			defer closeStore()

			ov := config.EndpointOverride{Host: args[0], Port: port}
			if err := config.SaveEndpointOverride(cmd.Context(), cfgStore, ov); err != nil {
				return err
			}
			ep := endpoint.Endpoint{Host: ov.Host, Port: ov.Port}
			fmt.Println(ep.URL())
			return nil
		},
	}

	endpointShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted endpoint override",
		RunE: func(cmd *cobra.Command, args []string) error {
			homeFlag, _ := cmd.Flags().GetString("home")
			configType, _ := cmd.Flags().GetString("config-type")

			cfgStore, closeStore, err := openConfigStore(logger, homeFlag, configType)
			if err != nil {
				return err
			}
			defer closeStore()

			ov, err := config.LoadEndpointOverride(cmd.Context(), cfgStore)
			if err != nil {
				return err
			}
			if ov == nil {
				fmt.Println("no override set")
				return nil
			}
			fmt.Println(endpoint.Endpoint{Host: ov.Host, Port: ov.Port}.URL())
			return nil
		},
	}

	endpointCmd.AddCommand(endpointSetCmd, endpointShowCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(agentCmd, endpointCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveHome picks the explicit home flag or the platform default.
func resolveHome(homeFlag string) (home.Dir, error) {
	if homeFlag != "" {
		return home.New(homeFlag), nil
	}
	return home.Default()
}

// openConfigStore resolves the home directory and opens the config store.
// The returned func closes the store if the backend needs it.
func openConfigStore(logger *slog.Logger, homeFlag, configType string) (config.Store, func(), error) {
	hd, err := resolveHome(homeFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve home directory: %w", err)
	}

	switch configType {
	case "memory":
		return configmem.NewStore(), func() {}, nil
	case "sqlite":
		if err := hd.EnsureExists(); err != nil {
			return nil, nil, err
		}
		logger.Info("home directory", "path", hd.Root())
		s, err := configsqlite.NewStore(hd.ConfigPath("sqlite"))
		if err != nil {
			return nil, nil, fmt.Errorf("open config store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown config store type: %s", configType)
	}
}

func run(ctx context.Context, logger *slog.Logger, homeFlag, configType, apiAddr string, noDiscovery bool, statsInterval time.Duration) error {
	hd, err := resolveHome(homeFlag)
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	if configType != "memory" {
		if err := hd.EnsureExists(); err != nil {
			return err
		}
	}

	instanceID, err := hd.InstanceID()
	if err == nil {
		logger.Info("agent identity", "instance", instanceID)
	}

	cfgStore, closeStore, err := openConfigStore(logger, homeFlag, configType)
	if err != nil {
		return err
	}
	defer closeStore()

	// Load configuration, bootstrapping defaults on first run.
	logger.Info("loading config", "type", configType)
	cfg, err := cfgStore.Load(ctx)
	if err != nil {
		return err
	}
	if cfg == nil {
		logger.Info("no config found, bootstrapping default configuration")
		if err := config.Bootstrap(ctx, cfgStore); err != nil {
			return fmt.Errorf("bootstrap config: %w", err)
		}
		cfg, err = cfgStore.Load(ctx)
		if err != nil {
			return fmt.Errorf("load bootstrapped config: %w", err)
		}
	}
	logger.Info("loaded config", "sources", len(cfg.Sources))

	// Endpoint resolver: fallback first, then persisted override, then
	// live discovery. Later events replace earlier ones wholesale.
	var browser endpoint.Browser
	if !noDiscovery {
		browser = endpoint.NewMDNSBrowser(logger)
	}
	resolver := endpoint.NewResolver(endpoint.Config{
		Browser: browser,
		Logger:  logger,
	})
	if ov, err := config.LoadEndpointOverride(ctx, cfgStore); err != nil {
		logger.Warn("failed to load endpoint override", "error", err)
	} else if ov != nil {
		resolver.SetManual(ov.Host, ov.Port)
	}

	dispatcher := dispatch.New(dispatch.Config{
		Endpoints: resolver,
		Logger:    logger,
	})

	ag, err := agent.New(agent.Config{
		Resolver:      resolver,
		Dispatcher:    dispatcher,
		StatsInterval: statsInterval,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if err := ag.BuildSources(cfg.Sources, agent.DefaultFactories(), logger); err != nil {
		return err
	}

	logger.Info("starting agent")
	if err := ag.Start(ctx); err != nil {
		return err
	}
	logger.Info("agent started")

	var srv *server.Server
	if apiAddr != "" {
		srv = server.New(ag, resolver, cfgStore, server.Config{Addr: apiAddr, Logger: logger})
		if err := srv.Start(); err != nil {
			stopErr := ag.Stop()
			if stopErr != nil {
				logger.Warn("agent stop after server failure", "error", stopErr)
			}
			return err
		}
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("control api shutdown failed", "error", err)
		}
	}
	if err := ag.Stop(); err != nil {
		logger.Warn("agent shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
