package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"lumos/internal/agent"
	"lumos/internal/config"
	"lumos/internal/provider"

	"github.com/spf13/cobra"
)

// checkReport tallies doctor results.
type checkReport struct {
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *checkReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *checkReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Lumos installation",
		Long: `Verifies that the configuration, intent rules, speech providers and
listen address are set up correctly. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("Lumos Doctor v%s\n", version)
			fmt.Printf("----------------------------------------\n\n")

			var r checkReport

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'lumos init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			checkRules(&r, cfg.Assistant)
			checkSpeech(&r, cfg.Voice)

			if cfg.Channels.Web.Enabled {
				addr := cfg.Channels.Web.Addr()
				if err := checkListen(addr); err != nil {
					r.warn("Web address", fmt.Sprintf("%s may be in use: %v", addr, err))
				} else {
					r.pass("Web address", addr+" available")
				}
			}
			if cfg.Channels.Telegram.Enabled {
				if len(cfg.Channels.Telegram.AllowFrom) == 0 {
					r.warn("Telegram", "no allowFrom list, every user may chat")
				} else {
					r.pass("Telegram", fmt.Sprintf("%d allowed user(s)", len(cfg.Channels.Telegram.AllowFrom)))
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return r.summary()
		},
	}
}

func checkRules(r *checkReport, ac config.AssistantConfig) {
	if ac.RulesFile == "" {
		r.pass("Intent rules", fmt.Sprintf("built-in (%d rules)", len(agent.DefaultRules())))
		return
	}
	rs, err := agent.LoadRules(ac.RulesFile)
	if err != nil {
		r.fail("Intent rules", err.Error())
		return
	}
	r.pass("Intent rules", fmt.Sprintf("%s (%d rules)", ac.RulesFile, len(rs.Rules)))
}

func checkSpeech(r *checkReport, vc config.VoiceConfig) {
	f := provider.NewFactory(vc, logger)

	in, err := f.Input()
	switch {
	case err != nil:
		r.fail("Speech input", err.Error())
	case vc.Input.Provider == "" || vc.Input.Provider == "none":
		r.pass("Speech input", "none (browser sessions use the browser)")
	case !in.Available():
		r.warn("Speech input", vc.Input.Provider+" configured but missing API key or source")
	default:
		r.pass("Speech input", vc.Input.Provider)
	}

	out, err := f.Output()
	switch {
	case err != nil:
		r.fail("Speech output", err.Error())
	case vc.Output.Provider == "" || vc.Output.Provider == "none":
		r.pass("Speech output", "none (browser sessions use the browser)")
	case !out.Available():
		r.warn("Speech output", vc.Output.Provider+" configured but missing API key")
	default:
		r.pass("Speech output", fmt.Sprintf("%s, %d voice(s)", vc.Output.Provider, len(out.Voices())))
	}
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func (r *checkReport) summary() error {
	fmt.Printf("\n----------------------------------------\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nLumos should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! Lumos is ready to run.\n")
	}
	return nil
}
