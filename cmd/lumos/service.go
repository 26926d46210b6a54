package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"
)

const launchdLabel = "com.clumoss.lumos"

// serviceUnit describes how the service manager starts `lumos serve`.
type serviceUnit struct {
	Label   string
	Exec    string
	Config  string
	Log     string
	ErrLog  string
	UnitDir string
	File    string
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run `lumos serve` as a user service (launchd/systemd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Write the service file for this OS",
		RunE: func(cmd *cobra.Command, args []string) error {
			unit, tmpl, err := newServiceUnit()
			if err != nil {
				return err
			}
			return installService(unit, tmpl)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			unit, _, err := newServiceUnit()
			if err != nil {
				return err
			}
			if err := os.Remove(unit.File); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", unit.File)
			return nil
		},
	})
	return cmd
}

func newServiceUnit() (serviceUnit, *template.Template, error) {
	execPath, err := os.Executable()
	if err != nil {
		return serviceUnit{}, nil, fmt.Errorf("cannot determine executable path: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return serviceUnit{}, nil, err
	}
	cfgPath, err := filepath.Abs(resolveConfigPath())
	if err != nil {
		return serviceUnit{}, nil, err
	}
	unit := serviceUnit{
		Label:  launchdLabel,
		Exec:   execPath,
		Config: cfgPath,
		Log:    filepath.Join(home, ".lumos", "logs", "lumos.log"),
		ErrLog: filepath.Join(home, ".lumos", "logs", "lumos-error.log"),
	}

	switch runtime.GOOS {
	case "darwin":
		unit.UnitDir = filepath.Join(home, "Library", "LaunchAgents")
		unit.File = filepath.Join(unit.UnitDir, launchdLabel+".plist")
		return unit, launchdTemplate, nil
	case "linux":
		unit.UnitDir = filepath.Join(home, ".config", "systemd", "user")
		unit.File = filepath.Join(unit.UnitDir, "lumos.service")
		return unit, systemdTemplate, nil
	default:
		return serviceUnit{}, nil, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
	}
}

func installService(unit serviceUnit, tmpl *template.Template) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, unit); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unit.Log), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(unit.UnitDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(unit.File, buf.Bytes(), 0o644); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", unit.File)
	if runtime.GOOS == "darwin" {
		fmt.Printf("To start: launchctl load %s\n", unit.File)
		fmt.Printf("To stop:  launchctl unload %s\n", unit.File)
	} else {
		fmt.Printf("To start:  systemctl --user start lumos\n")
		fmt.Printf("To enable: systemctl --user enable lumos\n")
	}
	return nil
}

var launchdTemplate = template.Must(template.New("launchd").Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Exec}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{.Config}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{.ErrLog}}</string>
</dict>
</plist>
`))

var systemdTemplate = template.Must(template.New("systemd").Parse(`[Unit]
Description=Lumos chat assistant (CLUMOSS)
After=network.target

[Service]
Type=simple
ExecStart={{.Exec}} serve --config {{.Config}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`))
