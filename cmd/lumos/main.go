package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"lumos/internal/agent"
	"lumos/internal/bus"
	"lumos/internal/channel"
	"lumos/internal/config"
	"lumos/internal/domain"
	"lumos/internal/provider"
	"lumos/internal/voice"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "lumos",
		Short: "Lumos: the CLUMOSS website chat assistant",
		Long:  "Lumos answers visitor questions with canned replies, points them at the right page section, and can talk and listen.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.lumos/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(routeCmd())
	root.AddCommand(intentsCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(serviceCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when it does
// not exist yet. The logger is reconfigured from the result.
func loadConfig() (*config.Config, io.Closer, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if _, statErr := os.Stat(config.ExpandPath(cfgPath)); statErr == nil {
			return nil, nil, err
		}
		logger.Warn("config not found, using defaults", "path", cfgPath)
		cfg = config.Defaults()
	}
	closer, err := setupLogger(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

// setupLogger replaces the global logger with one at the configured level,
// writing to the log file when one is set.
func setupLogger(gc config.GeneralConfig) (io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(gc.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if gc.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(gc.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(gc.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// buildRouter returns the intent router: the built-in table, the rules
// file, or a watcher over the rules file.
func buildRouter(cfg *config.Config) (domain.IntentRouter, *agent.RuleWatcher, error) {
	rulesFile := cfg.Assistant.RulesFile
	if rulesFile == "" {
		return agent.NewDefaultRouter(), nil, nil
	}
	if cfg.Assistant.WatchRules {
		w, err := agent.NewRuleWatcher(agent.RuleWatcherConfig{
			Path: rulesFile,
			OnReload: func(r *agent.Router) {
				logger.Info("intent rules reloaded", "rules", len(r.Rules()))
			},
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return w, w, nil
	}
	rs, err := agent.LoadRules(rulesFile)
	if err != nil {
		return nil, nil, err
	}
	return rs.Router(), nil, nil
}

func voicePreferences(vc config.VoiceOutputConfig) voice.Preferences {
	return voice.Preferences{
		Lang:      vc.PreferredLang,
		NameHints: strings.Fields(vc.PreferredName),
		Rate:      vc.Rate,
		Pitch:     vc.Pitch,
		Volume:    vc.Volume,
	}
}

func newSessionFactory(cfg *config.Config, router domain.IntentRouter, speech agent.SpeechConstructor) *agent.SessionFactory {
	return agent.NewSessionFactory(agent.FactoryConfig{
		Router:        router,
		Speech:        speech,
		Voice:         voicePreferences(cfg.Voice.Output),
		SpeechMuted:   !cfg.Voice.Output.Enabled,
		ThinkingDelay: cfg.Assistant.ThinkingDelay(),
		Greeting:      cfg.Assistant.Greeting,
		Logger:        logger,
	})
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and intent rules file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}

			rulesPath := filepath.Join(filepath.Dir(cfgPath), "rules.yaml")
			rules, err := agent.MarshalDefaultRules()
			if err != nil {
				return err
			}
			if err := os.WriteFile(rulesPath, rules, 0o644); err != nil {
				return fmt.Errorf("write rules: %w", err)
			}

			cfg := config.Defaults()
			cfg.Assistant.RulesFile = rulesPath
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "rules", rulesPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func chatCmd() *cobra.Command {
	var muted bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			router, watcher, err := buildRouter(cfg)
			if err != nil {
				return err
			}
			if watcher != nil {
				go watcher.Watch(ctx)
			}

			speech := provider.NewFactory(cfg.Voice, logger)
			if muted {
				cfg.Voice.Output.Enabled = false
			}
			session := newSessionFactory(cfg, router, speech.Speech).New(nil)
			defer session.Close()

			cli := channel.NewCLI(channel.CLIConfig{
				Session: session,
				Color:   cfg.Channels.CLI.Color,
				Logger:  logger,
			})
			return cli.Start(ctx)
		},
	}
	cmd.Flags().BoolVar(&muted, "mute", false, "start with voice responses off")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the WebSocket and Telegram front ends",
		Long:  "Starts every enabled channel plus the metrics endpoint. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router, watcher, err := buildRouter(cfg)
	if err != nil {
		return err
	}
	if watcher != nil {
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				logger.Error("rule watcher stopped", "err", err)
			}
		}()
	}

	// Browser sessions bring their own speech; text channels have none.
	factory := newSessionFactory(cfg, router, nil)
	errCh := make(chan error, 2)
	running := 0

	var ws *channel.WebSocket
	if cfg.Channels.Web.Enabled {
		webCfg := cfg.Channels.Web
		metricsPath := ""
		if cfg.Metrics.Enabled {
			metricsPath = cfg.Metrics.Endpoint
		}
		ws = channel.NewWebSocket(channel.WSConfig{
			Addr:           webCfg.Addr(),
			Path:           webCfg.Path,
			AllowedOrigins: webCfg.AllowedOrigins,
			Factory:        factory,
			Limiter:        agent.NewRateLimiter(webCfg.Burst, webCfg.MessagesPerMinute),
			MetricsPath:    metricsPath,
			Logger:         logger,
		})
		running++
		go func() { errCh <- ws.Start(ctx) }()
	}

	var messageBus *bus.InMemoryBus
	var hub *agent.Hub
	if cfg.Channels.Telegram.Enabled {
		tgCfg := cfg.Channels.Telegram
		messageBus = bus.New(bus.Config{Buffer: 100, Logger: logger})
		hub = agent.NewHub(agent.HubConfig{
			Bus:         messageBus,
			Factory:     factory,
			Limiter:     agent.NewRateLimiter(tgCfg.Burst, tgCfg.MessagesPerMinute),
			IdleTimeout: cfg.Assistant.SessionIdle(),
			Logger:      logger,
		})
		go hub.Run(ctx)

		telegram := channel.NewTelegram(channel.TelegramConfig{
			Token:     tgCfg.Token,
			AllowFrom: tgCfg.AllowFrom,
			SiteURL:   tgCfg.SiteURL,
			Bus:       messageBus,
			Logger:    logger,
		})
		running++
		go func() { errCh <- telegram.Start(ctx) }()
	} else {
		logger.Info("telegram channel disabled")
	}

	if running == 0 {
		return fmt.Errorf("no channels enabled (set channels.web.enabled or channels.telegram.enabled)")
	}
	logger.Info("lumos serving. Press Ctrl+C to stop.", "version", version)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("channel failed", "err", serveErr)
		}
		stop()
	}
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		if ws != nil {
			ws.Stop()
		}
		if messageBus != nil {
			messageBus.Close()
		}
		if hub != nil {
			hub.CloseAll()
		}
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
	return serveErr
}

func routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <text>",
		Short: "Show how a message would be answered",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()
			router, _, err := buildRouter(cfg)
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(router.Route(strings.Join(args, " ")), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	}
}

func intentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "intents",
		Short: "List the intent rules in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()
			router, watcher, err := buildRouter(cfg)
			if err != nil {
				return err
			}
			var r *agent.Router
			switch {
			case watcher != nil:
				r = watcher.Router()
			default:
				r, _ = router.(*agent.Router)
			}
			if r == nil {
				return fmt.Errorf("router does not expose its rules")
			}
			for i, rule := range r.Rules() {
				target := rule.Target
				if target == "" {
					target = "-"
				}
				fmt.Printf("%d. %-14s -> %-13s %s\n", i+1, rule.Name, target, strings.Join(rule.Keywords, ", "))
			}
			fmt.Printf("   %-14s    %s\n", domain.IntentFallback, r.Fallback())
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. assistant.thinkingDelayMs)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. voice.output.enabled false)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
