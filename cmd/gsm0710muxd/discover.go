package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jochenvg/go-udev"
)

// discoverModem finds a modem tty device when no --device was given.
// It first looks for one already attached, then falls back to waiting
// for a hotplug add event. subsystemHint narrows the search (e.g. a
// model substring to match against the device's ID_MODEL udev property); an
// empty hint matches any tty.
func discoverModem(ctx context.Context, subsystemHint string, logger *log.Logger) (string, error) {
	u := udev.Udev{}

	if node := enumerateExisting(u, subsystemHint); node != "" {
		logger.Info("found modem tty already attached", "device", node)
		return node, nil
	}

	logger.Info("no modem tty attached yet, waiting for hotplug")
	m := u.NewMonitorFromNetlink("udev")
	if err := m.FilterAddMatchSubsystem("tty"); err != nil {
		return "", fmt.Errorf("discover: filter tty subsystem: %w", err)
	}

	ch, err := m.DeviceChan(ctx)
	if err != nil {
		return "", fmt.Errorf("discover: start udev monitor: %w", err)
	}

	for {
		select {
		case dev, ok := <-ch:
			if !ok {
				return "", fmt.Errorf("discover: udev monitor closed without a match")
			}
			if dev.Action() != "add" {
				continue
			}
			node := dev.Devnode()
			if node == "" {
				continue
			}
			if subsystemHint != "" && !strings.Contains(strings.ToLower(dev.Properties()["ID_MODEL"]), strings.ToLower(subsystemHint)) {
				continue
			}
			logger.Info("modem tty attached", "device", node)
			return node, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func enumerateExisting(u udev.Udev, hint string) string {
	e := u.NewEnumerate()
	if err := e.AddMatchSubsystem("tty"); err != nil {
		return ""
	}
	devices, err := e.Devices()
	if err != nil {
		return ""
	}
	for _, d := range devices {
		node := d.Devnode()
		if node == "" {
			continue
		}
		if hint != "" && !strings.Contains(strings.ToLower(d.Properties()["ID_MODEL"]), strings.ToLower(hint)) {
			continue
		}
		return node
	}
	return ""
}
