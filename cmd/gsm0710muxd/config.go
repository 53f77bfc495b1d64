package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML config file shape. Every field is a
// pointer so the zero value means "not set in the file" and flags (or
// the built-in default) can still win.
type fileConfig struct {
	Device     *string `yaml:"device"`
	Baud       *int    `yaml:"baud"`
	Channels   *int    `yaml:"channels"`
	MTU        *int    `yaml:"mtu"`
	Initiator  *bool   `yaml:"initiator"`
	TracePath   *string `yaml:"trace_path"`
	Advertise   *bool   `yaml:"advertise"`
	HangupChip  *string `yaml:"hangup_chip"`
	HangupLine  *int    `yaml:"hangup_line"`
	MonitorAddr *string `yaml:"monitor_addr"`
}

// config is the fully resolved set of daemon settings: built-in
// defaults, overridden by the YAML file, overridden by flags.
type config struct {
	Device     string
	Baud       int
	Channels   int
	MTU        int
	Initiator  bool
	TracePath  string
	Advertise   bool
	HangupChip  string
	HangupLine  int
	MonitorAddr string
}

func defaultConfig() config {
	return config{
		Device:      "/dev/ttyUSB0",
		Baud:        115200,
		Channels:    4,
		MTU:         98,
		Initiator:   true,
		MonitorAddr: "127.0.0.1:7010",
	}
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

// applyFileConfig layers fc onto cfg wherever fc sets a value.
func applyFileConfig(cfg config, fc fileConfig) config {
	if fc.Device != nil {
		cfg.Device = *fc.Device
	}
	if fc.Baud != nil {
		cfg.Baud = *fc.Baud
	}
	if fc.Channels != nil {
		cfg.Channels = *fc.Channels
	}
	if fc.MTU != nil {
		cfg.MTU = *fc.MTU
	}
	if fc.Initiator != nil {
		cfg.Initiator = *fc.Initiator
	}
	if fc.TracePath != nil {
		cfg.TracePath = *fc.TracePath
	}
	if fc.Advertise != nil {
		cfg.Advertise = *fc.Advertise
	}
	if fc.HangupChip != nil {
		cfg.HangupChip = *fc.HangupChip
	}
	if fc.HangupLine != nil {
		cfg.HangupLine = *fc.HangupLine
	}
	if fc.MonitorAddr != nil {
		cfg.MonitorAddr = *fc.MonitorAddr
	}
	return cfg
}

// flagSet holds every flag and whether the caller explicitly set it,
// so a flag's own default doesn't clobber a value the config file
// already supplied.
type flagSet struct {
	configPath *string
	device     *string
	baud       *int
	channels   *int
	mtu        *int
	initiator  *bool
	tracePath  *string
	advertise  *bool
	hangupChip  *string
	hangupLine  *int
	monitorAddr *string
}

func registerFlags() *flagSet {
	fs := &flagSet{
		configPath: pflag.StringP("config", "c", "", "YAML config file path"),
		device:     pflag.StringP("device", "d", "", "Modem serial device, e.g. /dev/ttyUSB0"),
		baud:       pflag.IntP("baud", "b", 0, "Serial baud rate"),
		channels:   pflag.IntP("channels", "n", 0, "Number of DLCIs including the control channel"),
		mtu:        pflag.IntP("mtu", "m", 0, "Proposed MTU for PN negotiation"),
		initiator:  pflag.Bool("initiator", false, "Act as link initiator (opens DLCI 0 first)"),
		tracePath:  pflag.String("trace", "", "strftime-pattern path for a frame trace log, e.g. /var/log/gsm0710mux/%Y%m%d.trace"),
		advertise:  pflag.Bool("advertise", false, "Advertise the monitor port over mDNS"),
		hangupChip:  pflag.String("hangup-chip", "", "GPIO chip for the optional hardware hangup line, e.g. gpiochip0"),
		hangupLine:  pflag.Int("hangup-line", -1, "GPIO line offset for the optional hardware hangup line"),
		monitorAddr: pflag.String("monitor-addr", "", "Listen address for the control socket, e.g. 127.0.0.1:7010"),
	}
	pflag.Parse()
	return fs
}

func (fs *flagSet) apply(cfg config) config {
	if pflag.CommandLine.Changed("device") {
		cfg.Device = *fs.device
	}
	if pflag.CommandLine.Changed("baud") {
		cfg.Baud = *fs.baud
	}
	if pflag.CommandLine.Changed("channels") {
		cfg.Channels = *fs.channels
	}
	if pflag.CommandLine.Changed("mtu") {
		cfg.MTU = *fs.mtu
	}
	if pflag.CommandLine.Changed("initiator") {
		cfg.Initiator = *fs.initiator
	}
	if pflag.CommandLine.Changed("trace") {
		cfg.TracePath = *fs.tracePath
	}
	if pflag.CommandLine.Changed("advertise") {
		cfg.Advertise = *fs.advertise
	}
	if pflag.CommandLine.Changed("hangup-chip") {
		cfg.HangupChip = *fs.hangupChip
	}
	if pflag.CommandLine.Changed("hangup-line") {
		cfg.HangupLine = *fs.hangupLine
	}
	if pflag.CommandLine.Changed("monitor-addr") {
		cfg.MonitorAddr = *fs.monitorAddr
	}
	return cfg
}

// resolveConfig builds the final config from defaults, an optional
// YAML file, and command-line flags, in that precedence order (flags
// win, file values win over defaults).
func resolveConfig() (config, error) {
	fs := registerFlags()

	cfg := defaultConfig()
	if fs.configPath != nil && *fs.configPath != "" {
		fc, err := loadFileConfig(*fs.configPath)
		if err != nil {
			return config{}, err
		}
		cfg = applyFileConfig(cfg, fc)
	}
	cfg = fs.apply(cfg)
	return cfg, nil
}
