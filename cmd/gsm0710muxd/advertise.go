package main

import (
	"context"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

const mdnsServiceType = "_gsm0710mux._tcp"

// advertiseMonitorPort announces the daemon's monitor/control TCP port
// over mDNS/DNS-SD so client tools can find it without a hardcoded
// host:port.
func advertiseMonitorPort(name string, port int, logger *log.Logger) {
	if name == "" {
		name = "gsm0710mux"
	}

	cfg := dnssd.Config{
		Name: name,
		Type: mdnsServiceType,
		Port: port,
	}

	sv, err := dnssd.NewService(cfg)
	if err != nil {
		logger.Error("dns-sd: failed to create service", "err", err)
		return
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		logger.Error("dns-sd: failed to create responder", "err", err)
		return
	}

	if _, err := rp.Add(sv); err != nil {
		logger.Error("dns-sd: failed to add service", "err", err)
		return
	}

	logger.Info("dns-sd: announcing monitor port", "port", port, "name", name)
	go func() {
		if err := rp.Respond(context.Background()); err != nil {
			logger.Error("dns-sd: responder error", "err", err)
		}
	}()
}
