package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/skip2/go-qrcode"

	"github.com/nugget/subzero/internal/api"
	"github.com/nugget/subzero/internal/bridge"
	"github.com/nugget/subzero/internal/buildinfo"
	"github.com/nugget/subzero/internal/config"
	"github.com/nugget/subzero/internal/metrics"
	"github.com/nugget/subzero/internal/mqtt"
	"github.com/nugget/subzero/internal/tools"
	"github.com/nugget/subzero/internal/web"
)

// shutdownTimeout bounds the wait for in-flight deliveries at exit.
const shutdownTimeout = 10 * time.Second

// runServe starts the bridge, the HTTP server with the phone UI, and
// the optional MQTT publisher. It blocks until ctx is cancelled or a
// SIGINT/SIGTERM arrives. Shutdown order:
//
//  1. The HTTP server stops accepting requests.
//  2. The bridge stops its heartbeat, waits for in-flight deliveries
//     and saves whatever is still queued.
//  3. The MQTT publisher marks the device offline.
//  4. The browser session and the database are closed.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level, cfg.LogFormat)
	logger.Info("starting SubZero", "version", buildinfo.Version, "config", cfgPath, "model", cfg.Ollama.Model)

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// --- Connection bridge ---
	b := a.newBridge(bridge.Handlers{})
	restoreCtx, restoreCancel := context.WithTimeout(ctx, 5*time.Second)
	if n, err := b.Restore(restoreCtx); err != nil {
		logger.Warn("failed to restore queued messages", "error", err)
	} else if n > 0 {
		logger.Info("queued messages restored", "count", n)
	}
	restoreCancel()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b.Start(ctx)
	closeBridge := func() {
		closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer closeCancel()
		if err := b.Close(closeCtx); err != nil {
			logger.Error("bridge shutdown incomplete", "error", err)
		}
	}

	// --- Metrics ---
	m := metrics.New()
	go m.Run(ctx, a.bus, logger)

	// --- MQTT ---
	// The publisher outlives ctx so it can report the final bridge
	// state before marking the device offline.
	pubCtx, pubCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer pubCancel()
	var mqttDone chan struct{}
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.InstanceID(cfg.DataDir)
		if err != nil {
			closeBridge()
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		pub := mqtt.New(cfg.MQTT, instanceID, b, a.bus, logger)
		mqttDone = make(chan struct{})
		go func() {
			defer close(mqttDone)
			if err := pub.Start(pubCtx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"accept_prompts", cfg.MQTT.AcceptPrompts,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	// --- HTTP ---
	phoneURL := lanURL(cfg.Listen.Port)
	ui := web.NewWebServer(web.Config{
		Model:      cfg.Ollama.Model,
		PhoneURL:   phoneURL,
		StatusFunc: b.Status,
		ToolsFunc:  a.executor.Log,
		Logger:     logger,
	})
	server := api.NewServer(api.Config{
		Address:  cfg.Listen.Address,
		Port:     cfg.Listen.Port,
		Agent:    a.agent,
		Bridge:   b,
		Executor: a.executor,
		Bus:      a.bus,
		Metrics:  m.Handler(),
		Web:      ui,
		Logger:   logger,
	})

	printBanner(stderr, cfg, phoneURL, a.executor.Registry())

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "error", err)
		}
	}()

	serveErr := server.Start(ctx)
	if ctx.Err() == nil {
		cancel()
	} else {
		serveErr = nil
	}

	closeBridge()
	pubCancel()
	if mqttDone != nil {
		<-mqttDone
	}

	if serveErr != nil {
		return fmt.Errorf("server failed: %w", serveErr)
	}
	logger.Info("SubZero stopped", "queued", b.QueueLen())
	return nil
}

// printBanner shows where to point a phone, with a QR code for the
// LAN URL when one could be determined.
func printBanner(w io.Writer, cfg *config.Config, phoneURL string, reg *tools.Registry) {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprintf(w, "\n  SubZero %s\n\n", buildinfo.Version)
	green.Fprint(w, "  ▶ ")
	fmt.Fprintf(w, "Model:   %s at %s\n", cfg.Ollama.Model, cfg.Ollama.URL)
	green.Fprint(w, "  ▶ ")
	fmt.Fprintf(w, "Tools:   %d registered\n", reg.Len())
	green.Fprint(w, "  ▶ ")
	fmt.Fprintf(w, "Local:   http://localhost:%d/\n", cfg.Listen.Port)
	if cfg.Tools.AutoTrade {
		yellow.Fprintln(w, "  ! auto-trade is on: trades run without confirmation")
	}
	if phoneURL == "" {
		fmt.Fprintln(w)
		return
	}
	green.Fprint(w, "  ▶ ")
	fmt.Fprintf(w, "Phone:   %s\n\n", phoneURL)
	if qr, err := qrcode.New(phoneURL, qrcode.Medium); err == nil {
		fmt.Fprintln(w, qr.ToSmallString(false))
	}
}

// lanURL returns the UI address on the first private IPv4 interface,
// or "" when the host has none.
func lanURL(port int) string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	if ip := pickLANAddr(addrs); ip != nil {
		return fmt.Sprintf("http://%s/", net.JoinHostPort(ip.String(), fmt.Sprint(port)))
	}
	return ""
}

func pickLANAddr(addrs []net.Addr) net.IP {
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() || !ip.IsPrivate() {
			continue
		}
		return ip
	}
	return nil
}

// bridgeLogger logs bridge events for the one-shot send command, which
// has no dashboard to watch.
func bridgeLogger(logger *slog.Logger) bridge.Handlers {
	return bridge.Handlers{
		OnStatusChange: func(old, new bridge.State) {
			logger.Info("bridge state changed", "from", old, "to", new)
		},
		OnMessageQueued: func(_ string, size int) {
			logger.Info("message queued", "queue_size", size)
		},
	}
}
