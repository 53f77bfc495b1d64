package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
	"github.com/tiny-modem/gsm0710mux/gsm07010"
)

const ptySymlinkPrefix = "/tmp/gsm0710mux-dlci"

// ptyBridge pumps bytes between a pseudo-terminal's master side and
// one multiplexer Channel, giving an external application a plain
// character device for the DLCI.
type ptyBridge struct {
	dlci   int
	master *os.File
	slave  *os.File
	ch     *gsm07010.Channel
	log    *log.Logger
}

func newPTYBridge(dlci int, ch *gsm07010.Channel, logger *log.Logger) (*ptyBridge, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("pty for dlci %d: %w", dlci, err)
	}

	symlink := fmt.Sprintf("%s%d", ptySymlinkPrefix, dlci)
	os.Remove(symlink)
	if err := os.Symlink(slave.Name(), symlink); err != nil {
		logger.Warn("failed to create pty symlink", "dlci", dlci, "path", symlink, "err", err)
	} else {
		logger.Info("virtual channel available", "dlci", dlci, "path", symlink, "pty", slave.Name())
	}

	return &ptyBridge{
		dlci:   dlci,
		master: master,
		slave:  slave,
		ch:     ch,
		log:    logger.With("component", "pty-bridge", "dlci", dlci),
	}, nil
}

// run pumps bytes in both directions until ctx is cancelled or either
// side hits an unrecoverable error. It returns once both pump
// goroutines have stopped.
func (b *ptyBridge) run(ctx context.Context) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		b.pumpPTYToChannel(ctx)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		b.pumpChannelToPTY(ctx)
	}()

	<-ctx.Done()
	b.master.Close()
	b.slave.Close()
	<-done
	<-done
}

func (b *ptyBridge) pumpPTYToChannel(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, err := b.master.Read(buf)
		if n > 0 {
			if _, werr := b.ch.Write(ctx, buf[:n]); werr != nil {
				b.log.Warn("write to channel failed", "err", werr)
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				b.log.Debug("pty read ended", "err", err)
			}
			return
		}
	}
}

func (b *ptyBridge) pumpChannelToPTY(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		if err := b.ch.WaitReadable(ctx); err != nil {
			if ctx.Err() == nil {
				b.log.Debug("channel closed", "err", err)
			}
			return
		}
		n := b.ch.Read(buf)
		if n == 0 {
			continue
		}
		if _, err := b.master.Write(buf[:n]); err != nil {
			b.log.Warn("write to pty failed", "err", err)
			return
		}
	}
}

func (b *ptyBridge) close() {
	os.Remove(fmt.Sprintf("%s%d", ptySymlinkPrefix, b.dlci))
	b.master.Close()
	b.slave.Close()
}
