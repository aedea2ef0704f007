package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/swarmit/swarmitctl/internal/command"
	"github.com/swarmit/swarmitctl/internal/controller"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds every flag value across the shared settings and the
// per-subcommand arguments, so main.go can validate and dispatch.
type cliConfig struct {
	command string

	settings controller.Settings
	logLevel string

	// reset
	locations map[string]command.ResetLocation

	// flash
	firmwarePath string
	flashYes     bool
	flashStart   bool

	// message
	text string
}

var validCommands = map[string]bool{
	"status": true, "start": true, "stop": true, "reset": true,
	"flash": true, "message": true, "monitor": true,
}

// deviceListFlag implements flag.Value for a comma-separated device
// selection, e.g. -devices 00..01,00..02.
type deviceListFlag []string

func (d *deviceListFlag) String() string { return strings.Join(*d, ",") }
func (d *deviceListFlag) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			*d = append(*d, part)
		}
	}
	return nil
}

func parseFlags(args []string) (*cliConfig, error) {
	if len(args) == 0 {
		return nil, errors.New("missing command: status|start|stop|reset|flash|message|monitor")
	}
	cmdName := args[0]
	if !validCommands[cmdName] {
		return nil, fmt.Errorf("unknown command %q", cmdName)
	}

	fs := flag.NewFlagSet("swarmitctl "+cmdName, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	def := controller.DefaultSettings()
	cfg := &cliConfig{command: cmdName}
	var devices deviceListFlag

	fs.StringVar(&cfg.settings.SerialPort, "port", def.SerialPort, "serial port path (edge adapter)")
	fs.IntVar(&cfg.settings.SerialBaudrate, "baudrate", def.SerialBaudrate, "serial baud rate (edge adapter)")
	fs.StringVar(&cfg.settings.MQTTHost, "mqtt-host", def.MQTTHost, "MQTT broker host (cloud adapter)")
	fs.IntVar(&cfg.settings.MQTTPort, "mqtt-port", def.MQTTPort, "MQTT broker port (cloud adapter)")
	fs.BoolVar(&cfg.settings.MQTTUseTLS, "mqtt-tls", def.MQTTUseTLS, "use TLS for the MQTT connection")
	networkID := fs.String("network-id", fmt.Sprintf("%04x", def.NetworkID), "network id, hex (cloud adapter topic scoping)")
	fs.StringVar(&cfg.settings.Adapter, "adapter", def.Adapter, "gateway transport: edge|cloud")
	fs.Var(&devices, "devices", "comma-separated device address selection; empty means all")
	fs.IntVar(&cfg.settings.OtaMaxRetries, "ota-max-retries", def.OtaMaxRetries, "max resend attempts per OTA frame")
	otaTimeout := fs.Float64("ota-timeout", def.OtaTimeout.Seconds(), "OTA ack wait timeout, seconds")
	fs.BoolVar(&cfg.settings.Verbose, "verbose", false, "verbose logging, including dropped per-frame errors")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	showVersion := fs.Bool("version", false, "print version and exit")

	switch cmdName {
	case "flash":
		fs.BoolVar(&cfg.flashYes, "y", false, "skip the interactive confirmation prompt")
		fs.BoolVar(&cfg.flashStart, "s", false, "start the firmware once flashed")
		timeoutFlag := fs.Duration("t", 0, "override ota-timeout for this transfer")
		retriesFlag := fs.Int("r", -1, "override ota-max-retries for this transfer")
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		if *timeoutFlag > 0 {
			*otaTimeout = timeoutFlag.Seconds()
		}
		if *retriesFlag >= 0 {
			cfg.settings.OtaMaxRetries = *retriesFlag
		}
		rest := fs.Args()
		if len(rest) != 1 {
			return nil, errors.New("flash requires exactly one firmware file argument")
		}
		cfg.firmwarePath = rest[0]
	case "reset":
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) != 1 {
			return nil, errors.New("reset requires a LOCATIONS argument, e.g. ADDR:x,y-ADDR:x,y")
		}
		locs, err := parseLocations(rest[0])
		if err != nil {
			return nil, fmt.Errorf("invalid LOCATIONS: %w", err)
		}
		cfg.locations = locs
	case "message":
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) != 1 {
			return nil, errors.New("message requires exactly one text argument")
		}
		cfg.text = rest[0]
	default:
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		if fs.NArg() != 0 {
			return nil, fmt.Errorf("%s takes no positional arguments", cmdName)
		}
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg.settings.Devices = devices
	cfg.settings.OtaTimeout = time.Duration(*otaTimeout * float64(time.Second))

	nid, err := strconv.ParseUint(strings.TrimPrefix(*networkID, "0x"), 16, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid network-id %q: %w", *networkID, err)
	}
	cfg.settings.NetworkID = uint16(nid)

	switch cfg.settings.Adapter {
	case "edge", "cloud":
	default:
		return nil, fmt.Errorf("invalid adapter %q, want edge or cloud", cfg.settings.Adapter)
	}
	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}
	if cfg.settings.Adapter == "edge" && cfg.settings.SerialPort == "" {
		return nil, errors.New("-port is required for the edge adapter")
	}
	if cfg.settings.Adapter == "cloud" && cfg.settings.MQTTHost == "" {
		return nil, errors.New("-mqtt-host is required for the cloud adapter")
	}

	return cfg, nil
}

// parseLocations parses "ADDR:x,y-ADDR:x,y-..." where x,y are floats in
// metres, converted to micrometres by multiplying by 1e6 (spec.md §6.3).
func parseLocations(raw string) (map[string]command.ResetLocation, error) {
	out := make(map[string]command.ResetLocation)
	for _, entry := range strings.Split(raw, "-") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addrPart, coordsPart, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("entry %q: want ADDR:x,y", entry)
		}
		x, y, ok := strings.Cut(coordsPart, ",")
		if !ok {
			return nil, fmt.Errorf("entry %q: coordinates want x,y", entry)
		}
		xm, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: invalid x: %w", entry, err)
		}
		ym, err := strconv.ParseFloat(strings.TrimSpace(y), 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q: invalid y: %w", entry, err)
		}
		out[strings.ToUpper(strings.TrimSpace(addrPart))] = command.ResetLocation{
			PosX: int32(xm * 1_000_000),
			PosY: int32(ym * 1_000_000),
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no locations parsed")
	}
	return out, nil
}
