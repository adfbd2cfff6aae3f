// Command srtrelay is the relay server's entrypoint: load config, boot the
// Manager's first generation, and drive reload/shutdown from OS signals
// and the PID file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/srtrelay/srtrelay/internal/config"
	"github.com/srtrelay/srtrelay/internal/manager"
	"github.com/srtrelay/srtrelay/internal/pidfile"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	confPath := flag.String("c", "./sls.conf", "path to configuration file")
	signalCmd := flag.String("s", "", "send a signal to the running instance: reload")
	logLevel := flag.String("l", "", "override the configured log level")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("srtrelay " + version)
		return 0
	}

	cfg, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "srtrelay: load config: %v\n", err)
		return 1
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if *signalCmd != "" {
		return sendSignal(*signalCmd, cfg.PIDFile)
	}

	log := newLogger(cfg.LogLevel, cfg.LogFile)

	if err := pidfile.Write(cfg.PIDFile); err != nil {
		log.Error().Err(err).Msg("write pid file")
		return 1
	}
	defer func() {
		if err := pidfile.Remove(cfg.PIDFile); err != nil {
			log.Warn().Err(err).Msg("remove pid file")
		}
	}()

	mgr := manager.New(log)
	if err := mgr.Reload(cfg); err != nil {
		log.Error().Err(err).Msg("initial reload")
		return 1
	}
	log.Info().Str("config", *confPath).Msg("srtrelay started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			log.Info().Msg("reload requested")
			next, err := config.Load(*confPath)
			if err != nil {
				log.Error().Err(err).Msg("reload: load config")
				continue
			}
			if err := mgr.Reload(next); err != nil {
				log.Error().Err(err).Msg("reload failed")
				continue
			}
			log.Info().Msg("reload complete")
		default:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := mgr.Shutdown(ctx)
			cancel()
			if err != nil {
				log.Error().Err(err).Msg("shutdown")
				return 1
			}
			return 0
		}
	}
	return 0
}

func newLogger(level, file string) zerolog.Logger {
	w := os.Stderr
	var out *os.File = w
	if file != "" {
		if f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			out = f
		}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// sendSignal implements "-s reload": look up the running instance's PID via
// the PID file and send it SIGHUP.
func sendSignal(cmd, pidPath string) int {
	if cmd != "reload" {
		fmt.Fprintf(os.Stderr, "srtrelay: unknown -s value %q\n", cmd)
		return 1
	}
	pid, err := pidfile.ReadPID(pidPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "srtrelay: %v\n", err)
		return 1
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "srtrelay: find process %d: %v\n", pid, err)
		return 1
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		fmt.Fprintf(os.Stderr, "srtrelay: signal process %d: %v\n", pid, err)
		return 1
	}
	return 0
}
