package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/swarmit/swarmitctl/internal/command"
	"github.com/swarmit/swarmitctl/internal/controller"
	"github.com/swarmit/swarmitctl/internal/errs"
	"github.com/swarmit/swarmitctl/internal/logger"
	"github.com/swarmit/swarmitctl/internal/ota"
	"github.com/swarmit/swarmitctl/internal/protocol"
	"github.com/swarmit/swarmitctl/internal/registry"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli", "command", cfg.command)

	c, err := controller.New(cfg.settings)
	if err != nil {
		log.Error("failed to open gateway adapter", "error", err)
		os.Exit(1)
	}
	defer c.Terminate()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c, cfg); err != nil {
		var abort *errs.UserAbortError
		if errors.As(err, &abort) {
			log.Info("aborted", "reason", abort.Reason)
			os.Exit(0)
		}
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *controller.Controller, cfg *cliConfig) error {
	switch cfg.command {
	case "status":
		entries, err := c.Status()
		if err != nil {
			return err
		}
		printStatus(entries)
		return nil
	case "start":
		entries, err := c.Start()
		if err != nil {
			return err
		}
		printStatus(entries)
		return nil
	case "stop":
		entries, err := c.Stop()
		if err != nil {
			return err
		}
		printStatus(entries)
		return nil
	case "reset":
		locations := make(map[protocol.NodeAddress]command.ResetLocation, len(cfg.locations))
		for hex, loc := range cfg.locations {
			addr, err := protocol.ParseAddress(hex)
			if err != nil {
				return fmt.Errorf("location address %q: %w", hex, err)
			}
			locations[addr] = loc
		}
		return c.Reset(locations)
	case "message":
		return c.Message([]byte(cfg.text))
	case "flash":
		return runFlash(c, cfg)
	case "monitor":
		fmt.Println("monitoring device events, ctrl-c to stop")
		return c.Monitor(ctx)
	default:
		return fmt.Errorf("unhandled command %q", cfg.command)
	}
}

func runFlash(c *controller.Controller, cfg *cliConfig) error {
	firmware, err := os.ReadFile(cfg.firmwarePath)
	if err != nil {
		return fmt.Errorf("read firmware: %w", err)
	}

	if !cfg.flashYes {
		fmt.Printf("flash %d bytes to the current device selection? [y/N] ", len(firmware))
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			return &errs.UserAbortError{Reason: "flash confirmation declined"}
		}
	}

	startResult, err := c.StartOta(firmware)
	if err != nil {
		var incomplete *errs.StartOtaIncompleteError
		if errors.As(err, &incomplete) {
			if _, stopErr := c.Stop(); stopErr != nil && cfg.settings.Verbose {
				fmt.Fprintln(os.Stderr, "warning: stop after aborted start-ota failed:", stopErr)
			}
			return fmt.Errorf("start-ota incomplete, devices missed ack: %s", strings.Join(incomplete.Missed, ", "))
		}
		return err
	}
	fmt.Printf("start-ota acked by %d device(s), %d chunk(s) to send\n", len(startResult.Acked), startResult.TotalChunks)

	status, err := c.Transfer(startResult.Acked)
	if err != nil {
		var incomplete *errs.TransferIncompleteError
		if errors.As(err, &incomplete) {
			printTransferStatus(status)
			return fmt.Errorf("transfer incomplete, %d device(s) failed", len(incomplete.FailedDevices))
		}
		return err
	}
	printTransferStatus(status)

	if cfg.flashStart {
		if _, err := c.Start(); err != nil {
			return fmt.Errorf("start after flash: %w", err)
		}
	}
	return nil
}

func printTransferStatus(status map[protocol.NodeAddress]*ota.TransferStatus) {
	for addr, st := range status {
		fmt.Printf("%s  success=%t  chunks=%d\n", addr.String(), st.Success, len(st.Chunks))
	}
}

func printStatus(entries []registry.Entry) {
	if len(entries) == 0 {
		fmt.Println("no devices known")
		return
	}
	for _, e := range entries {
		fmt.Printf("%s  %-12s battery=%dmV(%s)  pos=(%d,%d)um\n",
			e.Addr.String(), e.Status.Lifecycle.String(), e.Status.BatteryMV, e.Status.BatteryHealth(),
			e.Status.PosX, e.Status.PosY)
	}
}
