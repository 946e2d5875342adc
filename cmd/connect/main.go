package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"
	"github.com/nahidhasan98/wacrm/internal/config"
	"github.com/nahidhasan98/wacrm/internal/connect"
	"github.com/nahidhasan98/wacrm/internal/events"
	"github.com/nahidhasan98/wacrm/internal/gateway"
	"github.com/nahidhasan98/wacrm/internal/logger"
)

const (
	exitConnected   = 0
	exitFailed      = 1
	exitInterrupted = 130

	qrPixels = 256
)

func main() {
	user := flag.String("user", "", "CRM user id to connect")
	qrOut := flag.String("qr-out", "", "write the QR image to this PNG file")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(2)
	}

	// Try to load .env file (ignore errors - it's optional)
	_ = godotenv.Load(".env")

	cfg := config.FromEnv()
	if err := cfg.Gateway.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(exitFailed)
	}
	if err := cfg.Connect.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(exitFailed)
	}

	log := logger.NewWithWriter(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	gw, err := gateway.FromConfig(cfg, log)
	if err != nil {
		log.Fatal("Failed to create gateway client", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, *user, *qrOut, gw, connect.TimingFromConfig(cfg.Connect), cfg.Gateway, log, os.Stdout))
}

// run performs one bootstrap and returns the process exit code
func run(ctx context.Context, user, qrOut string, gw *gateway.Client, timing connect.Timing,
	gwCfg config.GatewayConfig, log *logger.Logger, out io.Writer) int {
	bus := events.NewBus()
	defer bus.Close()

	sub, cancel := bus.Subscribe(16, events.KindConnectionState, events.KindConnectionQR)
	defer cancel()

	flow := connect.NewFlow(user, gw, timing, connect.Options{
		Bus:     bus,
		Webhook: gateway.SessionConfigFromConfig(gwCfg),
		Log:     log.With("user", user),
	})

	handle := func(evt events.Event) {
		switch data := evt.Data.(type) {
		case events.ConnectionState:
			printState(out, data)
		case events.ConnectionQR:
			showQR(ctx, out, gw, flow, data.Session, qrOut, log)
		}
	}

	done := make(chan error, 1)
	go func() { done <- flow.Run(ctx) }()

	for {
		select {
		case evt := <-sub.C:
			handle(evt)

		case err := <-done:
			for drained := false; !drained; {
				select {
				case evt := <-sub.C:
					handle(evt)
				default:
					drained = true
				}
			}
			return exitCode(out, flow.Snapshot(), err)
		}
	}
}

func printState(out io.Writer, s events.ConnectionState) {
	line := fmt.Sprintf("%s -> %s", s.From, s.To)
	if s.Session != "" {
		line += " (" + s.Session + ")"
	}
	if s.Error != "" {
		line += ": " + s.Error
	}
	fmt.Fprintln(out, line)
}

// showQR draws the QR from the raw value when the gateway exposes it and writes the
// image to qrOut, re-encoded from the raw value or as served by the gateway
func showQR(ctx context.Context, out io.Writer, gw *gateway.Client, flow *connect.Flow, session, qrOut string, log *logger.Logger) {
	img := flow.QR()

	value, err := gw.FetchQRValue(ctx, session)
	if err != nil {
		log.Debugf("Raw QR value unavailable: %v", err)
	} else {
		fmt.Fprintln(out, "\n"+strings.Repeat("=", 64))
		fmt.Fprintln(out, "SCAN QR CODE WITH WHATSAPP MOBILE APP")
		fmt.Fprintln(out, strings.Repeat("=", 64))

		qrterminal.GenerateWithConfig(value, qrterminal.Config{
			Level:      qrterminal.M,
			Writer:     out,
			HalfBlocks: true,
			QuietZone:  1,
		})

		fmt.Fprintln(out, strings.Repeat("=", 64))
		fmt.Fprintln(out, "Open WhatsApp > Settings > Linked Devices > Link a Device")
		fmt.Fprintln(out, strings.Repeat("=", 64)+"\n")

		if encoded, err := gateway.EncodeQR(value, qrPixels); err == nil {
			img = encoded
		} else {
			log.Warnf("Failed to re-encode QR value: %v", err)
		}
	}

	if qrOut == "" {
		return
	}
	if img == nil {
		log.Warn("No QR image to write")
		return
	}
	if err := os.WriteFile(qrOut, img.Data, 0o600); err != nil {
		log.Error("Failed to write QR image", err)
		return
	}
	fmt.Fprintf(out, "QR image written to %s\n", qrOut)
}

func exitCode(out io.Writer, snap connect.Snapshot, err error) int {
	switch {
	case err == nil:
		fmt.Fprintf(out, "Connected: %s\n", snap.Session)
		return exitConnected
	case errors.Is(err, connect.ErrCancelled):
		fmt.Fprintln(out, "Interrupted")
		return exitInterrupted
	default:
		fmt.Fprintf(out, "Connection failed: %v\n", err)
		return exitFailed
	}
}
