package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shm-chat/domain"
	"shm-chat/infrastructure/segment"
	"shm-chat/internal"
	"shm-chat/observability"
	"shm-chat/runtime/workers"
	"shm-chat/services"
	"shm-chat/shm"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run keeps every deferred cleanup on the way out, the segment unlink included.
func run() (int, error) {
	// 1. Configuration & Logger
	config, err := internal.LoadConfig(os.Args[1:]...)
	if err != nil {
		return exitConfig, err
	}
	log := logs.GetLoggerFromString(config.LogLevel).With("session", uuid.NewString(), "role", "server")

	mod, err := internal.LoadModerator(config, log)
	if err != nil {
		return exitConfig, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Metrics
	monitor := observability.NewMonitoringManager(log, config.MetricInterval)
	sup := workers.NewSupervisor(log)
	sup.Add(monitor)
	go sup.Run(ctx)
	defer sup.Stop()

	// 3. Shared memory
	provider := segment.NewProvider(config.SegmentName, shm.Size, log)
	opts := []services.ServerOption{services.WithServerRecorder(monitor)}
	if mod != nil {
		opts = append(opts, services.WithServerModerator(mod))
	}
	server := services.NewChatServer(provider, services.ServerConfig{
		ScanInterval:      config.ScanInterval,
		EvictionThreshold: config.EvictionThreshold,
		LockPolicy:        config.LockPolicy(),
	}, log, opts...)

	if err := server.Initialize(); err != nil {
		return exitRuntime, err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			log.Error("Failed to release shared memory", "error", err)
		}
	}()
	if err := server.Start(ctx); err != nil {
		return exitRuntime, err
	}
	log.Info("Chat server ready", "segment", provider.Path())

	if config.DebugPort > 0 {
		internal.StartDebugServer(ctx, config.DebugPort, inspector(server, monitor), log)
	}

	// 4. Admin console
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down gracefully...")
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				log.Info("Console closed, shutting down")
				return exitOK, nil
			}
			if quit := handleCommand(os.Stdout, server, config.HistoryLimit, strings.TrimSpace(line)); quit {
				return exitOK, nil
			}
		}
	}
}

// handleCommand runs one console line. Anything that is not a command is
// broadcast to every client.
func handleCommand(out io.Writer, server *services.ChatServer, historyLimit int, line string) bool {
	switch {
	case line == "":
	case line == "/quit":
		return true
	case line == "/who":
		names, err := server.GetConnectedClients()
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		fmt.Fprintf(out, "%d connected: %s\n", len(names), strings.Join(names, ", "))
	case line == "/history":
		messages, err := server.GetRecentMessages(historyLimit)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		if server.ConsumeBroadcast() {
			fmt.Fprintln(out, "-- server notices since last /history --")
		}
		for _, m := range messages {
			fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.TimeOnly), m.Author, m.Body)
		}
	case line == "/scan":
		freed, err := server.ScanNow()
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		fmt.Fprintf(out, "evicted %d client(s)\n", len(freed))
	case strings.HasPrefix(line, "/kick "):
		name := strings.TrimSpace(strings.TrimPrefix(line, "/kick "))
		res, err := server.UnregisterClient(name)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
		} else if res == domain.NotFound {
			fmt.Fprintf(out, "%s is not connected\n", name)
		}
	default:
		if err := server.Broadcast(line); err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	}
	return false
}

func inspector(server *services.ChatServer, monitor *observability.MonitoringManager) http.Handler {
	return internal.NewDebugHandler("/inspect", map[string]internal.RowSource{
		"messages": func() ([]internal.InspectRow, error) {
			head, messages, err := server.GetRecentMessagesWithHead(shm.CapacityM)
			if err != nil {
				return nil, err
			}
			return internal.MessageRows(messages, head.Seq), nil
		},
		"clients": func() ([]internal.InspectRow, error) {
			records, err := server.GetClientRecords()
			if err != nil {
				return nil, err
			}
			return internal.ClientRows(records, time.Now()), nil
		},
	}, []string{"messages", "clients"}, func() map[string]any {
		stats := monitor.GetLatest()
		ring, _ := server.RingStats()
		return map[string]any{
			"count":             ring.Count,
			"sequence":          ring.Sequence,
			"appended":          stats.MessagesAppended,
			"ring_evictions":    stats.RingEvictions,
			"lock_timeouts":     stats.LockTimeouts,
			"clients_evicted":   stats.ClientsEvicted,
			"broadcast_pending": server.BroadcastPending(),
			"server":            lo.Ternary(server.IsRunning(), "running", "stopped"),
		}
	})
}
