// Command gsm0710muxd runs a TS 27.010 basic-mode multiplexer daemon:
// it owns the real serial link to a modem and exposes each data DLCI
// to consumer applications as its own pseudo-terminal.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tiny-modem/gsm0710mux/gsm07010"
	"github.com/tiny-modem/gsm0710mux/link"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})

	cfg, err := resolveConfig()
	if err != nil {
		logger.Fatal("config", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	device := cfg.Device
	if device == "" {
		found, err := discoverModem(ctx, "", logger)
		if err != nil {
			logger.Fatal("no modem device configured and discovery failed", "err", err)
		}
		device = found
	}

	serial, err := link.Open(device, cfg.Baud, logger.With("component", "serial"))
	if err != nil {
		logger.Fatal("failed to open modem link", "err", err)
	}
	defer serial.Close()

	var trace *link.FrameTrace
	if cfg.TracePath != "" {
		trace, err = link.OpenFrameTrace(cfg.TracePath, logger)
		if err != nil {
			logger.Warn("failed to open frame trace, continuing without one", "err", err)
		} else {
			defer trace.Close()
		}
	}

	conn := gsm07010.NewConnection(
		serial,
		gsm07010.WithInitiator(cfg.Initiator),
		gsm07010.WithChannels(cfg.Channels),
		gsm07010.WithMTU(cfg.MTU),
		gsm07010.WithLogger(logger.With("component", "mux")),
	)
	defer conn.Close()

	if cfg.HangupChip != "" && cfg.HangupLine >= 0 {
		watcher, err := link.WatchHangup(cfg.HangupChip, cfg.HangupLine, func() {
			logger.Warn("hardware hangup detected, tearing down link")
			conn.Close()
		}, logger)
		if err != nil {
			logger.Warn("failed to watch hangup line", "err", err)
		} else {
			defer watcher.Close()
		}
	}

	go func() {
		if err := serial.ReadLoop(ctx, func(p []byte) {
			if trace != nil {
				trace.Record("RX", p)
			}
			conn.LinkBytes(p)
		}); err != nil && ctx.Err() == nil {
			logger.Error("link read loop ended", "err", err)
		}
	}()

	if cfg.MonitorAddr != "" {
		go func() {
			if err := runMonitor(ctx, cfg.MonitorAddr, conn, logger); err != nil {
				logger.Error("control socket stopped", "err", err)
			}
		}()

		if cfg.Advertise {
			_, portStr, err := net.SplitHostPort(cfg.MonitorAddr)
			if err == nil {
				if port, err := strconv.Atoi(portStr); err == nil {
					advertiseMonitorPort("gsm0710mux", port, logger)
				}
			}
		}
	}

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	bridges := make([]*ptyBridge, 0, cfg.Channels-1)
	for dlci := 1; dlci < cfg.Channels; dlci++ {
		ch, err := conn.OpenChannel(openCtx, dlci)
		if err != nil {
			logger.Error("failed to open data channel", "dlci", dlci, "err", err)
			continue
		}
		bridge, err := newPTYBridge(dlci, ch, logger)
		if err != nil {
			logger.Error("failed to create pty for channel", "dlci", dlci, "err", err)
			continue
		}
		bridges = append(bridges, bridge)
		go bridge.run(ctx)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	for _, b := range bridges {
		b.close()
	}
}
