package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tiny-modem/gsm0710mux/gsm07010"
)

// runMonitor serves a line-based control protocol for gsm0710muxctl:
//
//	TEST                 run a TEST loopback round trip, reply OK or ERR <reason>
//	HANGUP <dlci>         send the modem-hangup MSC signal on a channel, reply OK or ERR <reason>
//	STATE <dlci>          reply with the DLCI's current lifecycle state
//
// One connection is handled at a time per line; the listener itself
// accepts concurrently.
func runMonitor(ctx context.Context, addr string, conn *gsm07010.Connection, logger *log.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor: listen on %s: %w", addr, err)
	}
	logger.Info("control socket listening", "addr", ln.Addr())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("monitor: accept: %w", err)
		}
		go serveMonitorConn(ctx, c, conn, logger)
	}
}

func serveMonitorConn(ctx context.Context, c net.Conn, conn *gsm07010.Connection, logger *log.Logger) {
	defer c.Close()
	scanner := bufio.NewScanner(c)
	for scanner.Scan() {
		reply := dispatchMonitorCommand(ctx, conn, scanner.Text())
		if _, err := fmt.Fprintln(c, reply); err != nil {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("monitor connection read error", "err", err)
	}
}

func dispatchMonitorCommand(ctx context.Context, conn *gsm07010.Connection, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERR empty command"
	}

	switch strings.ToUpper(fields[0]) {
	case "TEST":
		testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := conn.RunTest(testCtx); err != nil {
			return "ERR " + err.Error()
		}
		return "OK"

	case "HANGUP":
		if len(fields) != 2 {
			return "ERR usage: HANGUP <dlci>"
		}
		dlci, err := strconv.Atoi(fields[1])
		if err != nil {
			return "ERR invalid dlci"
		}
		ch, err := conn.OpenChannel(ctx, dlci)
		if err != nil {
			return "ERR " + err.Error()
		}
		if err := ch.IoctlHangup(); err != nil {
			return "ERR " + err.Error()
		}
		return "OK"

	case "STATE":
		if len(fields) != 2 {
			return "ERR usage: STATE <dlci>"
		}
		dlci, err := strconv.Atoi(fields[1])
		if err != nil {
			return "ERR invalid dlci"
		}
		ch, err := conn.OpenChannel(ctx, dlci)
		if err != nil {
			return "ERR " + err.Error()
		}
		return "OK " + ch.State().String()

	default:
		return "ERR unknown command " + fields[0]
	}
}
