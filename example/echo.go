package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Zereker/throw"
)

// lastCommand remembers the most recent command seen by the passive
// callback, the way a scene object keeps the last pose it was sent.
type lastCommand struct {
	sync.Mutex
	command string
}

func (l *lastCommand) observe(m throw.Message[float32]) error {
	l.Lock()
	defer l.Unlock()

	l.command = m.Command()
	return nil
}

// echo answers every request with the same tensor shifted by 0.1.
func echo(m throw.Message[float32]) (throw.Message[float32], error) {
	data := make([]float32, len(m.Data))
	for i, v := range m.Data {
		data[i] = v + 0.1
	}
	h := m.Header
	return throw.NewMessage("ok", int(h.Width), int(h.Height), int(h.Depth), data), nil
}

func main() {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:8000")
	if err != nil {
		panic(err)
	}

	manager, err := throw.NewManager[float32, float32](addr)
	if err != nil {
		slog.Error("failed to create manager", "error", err)
		return
	}

	last := &lastCommand{}
	manager.SetActiveCallback(echo)
	manager.AddPassiveCallback(last.observe)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("server start", "addr", addr.String())
	if err := manager.Serve(ctx); err != nil && ctx.Err() == nil {
		slog.Error("server error", "error", err)
	}

	last.Lock()
	slog.Info("last command", "command", last.command)
	last.Unlock()
}
