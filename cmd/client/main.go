package main

import (
	"bufio"
	"context"
	"fmt"
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
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

var (
	serverStyle = color.New(color.FgYellow, color.OpBold)
	selfStyle   = color.New(color.FgGreen)
	otherStyle  = color.New(color.FgCyan)
	timeStyle   = color.New(color.FgGray)
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	config, err := internal.LoadConfig(os.Args[1:]...)
	if err != nil {
		return exitConfig, err
	}
	color.Enable = config.Colours
	log := logs.GetLoggerFromString(config.LogLevel).With("session", uuid.NewString(), "role", "client")

	mod, err := internal.LoadModerator(config, log)
	if err != nil {
		return exitConfig, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor := observability.NewMonitoringManager(log, config.MetricInterval)
	sup := workers.NewSupervisor(log)
	sup.Add(monitor)
	go sup.Run(ctx)
	defer sup.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	name := config.ClientName
	if name == "" {
		fmt.Print("Name: ")
		select {
		case <-ctx.Done():
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			name = strings.TrimSpace(line)
		}
	}

	opts := []services.ClientOption{
		services.WithClientRecorder(monitor),
		services.WithProcessProbe(segment.ProcessAlive),
	}
	if mod != nil {
		opts = append(opts, services.WithClientModerator(mod))
	}
	client := services.NewChatClient(segment.NewProvider(config.SegmentName, shm.Size, log), services.ClientConfig{
		PollInterval:       config.PollInterval,
		ServerWaitTimeout:  config.ServerWaitTimeout,
		ServerWaitInterval: config.ServerWaitInterval,
		LockPolicy:         config.LockPolicy(),
	}, log, opts...)
	client.OnMessage(printer{self: name})

	res, err := client.Connect(ctx, name)
	if err != nil {
		return exitConfig, err
	}
	switch res {
	case domain.ConnectTaken:
		return exitRuntime, fmt.Errorf("name %q is already taken", name)
	case domain.ConnectFull:
		return exitRuntime, fmt.Errorf("chat is full (%d clients)", shm.CapacityC)
	case domain.ConnectServerUnavailable:
		return exitRuntime, fmt.Errorf("no server running on segment %q", config.SegmentName)
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			log.Error("Disconnect failed", "error", err)
		}
	}()

	fmt.Println(timeStyle.Render("--- live, /who /history /quit ---"))

	ticker := time.NewTicker(config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case <-ticker.C:
			if !client.IsConnected() {
				return exitRuntime, fmt.Errorf("server went away or dropped %q", name)
			}
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if quit := handleInput(client, config.HistoryLimit, strings.TrimSpace(line)); quit {
				return exitOK, nil
			}
		}
	}
}

func handleInput(client *services.ChatClient, historyLimit int, line string) bool {
	switch line {
	case "":
	case "/quit":
		return true
	case "/who":
		names, err := client.GetRoster()
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		fmt.Println(timeStyle.Sprintf("%d connected: %s", len(names), strings.Join(names, ", ")))
	case "/history":
		messages, err := client.GetHistory(historyLimit)
		if err != nil {
			fmt.Println("error:", err)
			return false
		}
		for _, m := range messages {
			printer{self: client.Name()}.Handle(m)
		}
	default:
		res, err := client.SendMessage(line)
		switch {
		case err != nil:
			fmt.Println("error:", err)
		case res == domain.SendTooLong:
			fmt.Printf("message too long, %d bytes max\n", shm.MaxBodyLen)
		case res == domain.SendEmpty:
			fmt.Println("nothing left to send after moderation")
		case res == domain.SendNotConnected:
			fmt.Println("not connected")
		}
	}
	return false
}

// printer renders delivered messages on stdout.
type printer struct {
	self string
}

func (p printer) Handle(m domain.Message) {
	style := otherStyle
	switch {
	case m.IsBroadcast():
		style = serverStyle
	case m.Author == p.self:
		style = selfStyle
	}
	fmt.Printf("%s %s %s\n",
		timeStyle.Render(m.CreatedAt.Local().Format(time.TimeOnly)),
		style.Render(m.Author+":"),
		m.Body,
	)
}
