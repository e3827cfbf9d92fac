// scan-kiosk feeds badge reads into the session engine. It expects an
// external decoder process to write one decoded identifier per camera frame
// to stdin, with an empty line for frames that held no badge:
//
//	qr-decoder --camera /dev/video0 | scan-kiosk --required-frames 2
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"qrlogin/attendance-service/internal/app"
	"qrlogin/attendance-service/internal/config"
	"qrlogin/attendance-service/internal/scan"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	var (
		dsn            string
		cooldown       time.Duration
		requiredFrames int
		logLevel       string
	)
	flagSet := pflag.NewFlagSet("scan-kiosk", pflag.ContinueOnError)
	flagSet.StringVar(&dsn, "dsn", cfg.DatabaseURL, "postgres connection string (default: $DB_DSN; empty uses an in-memory store)")
	flagSet.DurationVar(&cooldown, "cooldown", cfg.ScanCooldown, "minimum time between accepted scans of the same badge")
	flagSet.IntVar(&requiredFrames, "required-frames", cfg.ScanRequiredFrames, "consecutive identical reads needed to accept a badge")
	flagSet.StringVar(&logLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg.DatabaseURL = dsn
	logger := config.NewLogger(logLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	dispatcher := scan.NewDispatcher(a.Sessions, scan.Options{
		Cooldown:       cooldown,
		RequiredFrames: requiredFrames,
		Logger:         logger,
	})
	reads := make(chan scan.Read)
	lines := scan.NewLineSource(os.Stdin)
	defer lines.Close()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(reads)
		return scan.Capture(ctx, lines, scan.PassthroughDecoder, reads)
	})
	group.Go(func() error {
		return dispatcher.Run(ctx, reads)
	})

	logger.Info("scan kiosk ready", "cooldown", cooldown.String(), "required_frames", requiredFrames)
	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `scan-kiosk toggles attendance sessions from decoded badge reads.

Reads one decoded identifier per line from stdin. A bare employee id or a
JSON badge payload ({"employee_id": "..."}) is accepted; an empty line marks
a frame without a badge.

Usage:
  scan-kiosk [flags]

Flags:
`)
	flagSet.PrintDefaults()
}
