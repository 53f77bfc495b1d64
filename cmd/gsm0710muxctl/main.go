// Command gsm0710muxctl is a thin client for a running gsm0710muxd's
// control socket: it sends one command (TEST, HANGUP <dlci>, STATE
// <dlci>) and prints the reply.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	addr := pflag.StringP("addr", "a", "127.0.0.1:7010", "Daemon control socket address")
	timeout := pflag.DurationP("timeout", "t", 10*time.Second, "Connection and reply timeout")
	help := pflag.BoolP("help", "h", false, "Display help text")
	pflag.Parse()

	if *help || pflag.NArg() == 0 {
		usage()
		if *help {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cmd := strings.Join(pflag.Args(), " ")
	reply, err := send(*addr, cmd, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gsm0710muxctl:", err)
		os.Exit(1)
	}
	fmt.Println(reply)
	if strings.HasPrefix(reply, "ERR") {
		os.Exit(1)
	}
}

func send(addr, cmd string, timeout time.Duration) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))

	if _, err := fmt.Fprintln(conn, cmd); err != nil {
		return "", fmt.Errorf("send command: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return strings.TrimRight(reply, "\r\n"), nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "%s - control a running gsm0710muxd daemon.\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <command>\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  TEST              run a TEST loopback round trip\n")
	fmt.Fprintf(os.Stderr, "  HANGUP <dlci>     send the modem-hangup signal on a channel\n")
	fmt.Fprintf(os.Stderr, "  STATE <dlci>      report a channel's lifecycle state\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	pflag.PrintDefaults()
}
