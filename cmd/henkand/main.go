// henkand - Japanese input method front-end daemon
//
// henkand turns romaji keystrokes into hiragana, drives the external
// henkan-server conversion engine over a framed JSON protocol, and manages
// candidate and segment selection until text is committed.
//
// This binary hosts the coordinator behind a line-oriented terminal surface,
// which is the development and debugging front end; editor integrations
// embed the same coordinator behind their own surfaces.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"henkan/internal/config"
	"henkan/internal/engine"
	"henkan/internal/history"
	"henkan/internal/ime"
	"henkan/internal/logging"
	"henkan/internal/notify"
)

const version = "0.3.0"

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file")
		logLevel    = flag.String("log-level", "", "override log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("henkand %s\n", version)
		return
	}

	if err := run(*configPath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "henkand: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer loader.Close()

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer logger.Close()
	log := logger.Logger

	log.Info("starting", "version", version)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		notifier = notify.NewDesktop(log)
	}

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path, log)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
	}

	conn := engine.New(engine.Config{
		ExecutablePath: cfg.Engine.Path,
		ExecutableName: cfg.Engine.Name,
		BuildDirs:      cfg.Engine.BuildDirs,
		Args:           cfg.Engine.Args,
		Options:        cfg.EngineOptions(),
		StopTimeout:    cfg.StopTimeout(),
		Logger:         log,
	})

	surface := newTermSurface(os.Stdout)

	opts := ime.Options{
		DebounceInterval: cfg.DebounceInterval(),
		Notifier:         notifier,
		Logger:           log,
	}
	if store != nil {
		opts.History = store
	}
	coord := ime.NewCoordinator(conn, surface, opts)

	loader.OnChange(func(newCfg *config.Config) {
		log.Info("configuration reloaded", "path", config.ConfigPath())
	})
	if err := loader.Watch(); err != nil {
		log.Warn("config watch unavailable", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := coord.Run(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	g.Go(func() error {
		defer cancel()
		return inputLoop(ctx, coord, surface)
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-loader.Errors():
				log.Warn("config reload failed", "error", err)
			}
		}
	})

	err = g.Wait()

	// The engine outlives sessions; it is torn down only on daemon exit.
	if conn.Running() {
		stopped := make(chan struct{})
		if serr := conn.Stop(func(error) { close(stopped) }); serr == nil {
			<-stopped
		}
	}

	log.Info("stopped")
	return err
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		Component: "henkand",
	})
}

// inputLoop reads lines from stdin and feeds them to the coordinator as
// keys. Lines starting with ":" are control commands.
func inputLoop(ctx context.Context, coord *ime.Coordinator, surface *termSurface) error {
	fmt.Println("henkand interactive surface. Commands: :enable :disable :show :quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()

		if strings.HasPrefix(line, ":") {
			switch strings.TrimSpace(line) {
			case ":enable":
				coord.Enable()
			case ":disable":
				coord.Disable()
			case ":show":
				surface.Show()
			case ":quit":
				return nil
			default:
				fmt.Printf("unknown command %q\n", line)
			}
			continue
		}

		for _, key := range splitKeys(line) {
			coord.KeyPressed(key)
		}
	}
	return scanner.Err()
}

// splitKeys tokenizes one input line: angle-bracketed names like <cr> are
// single keys, everything else is one key per rune.
func splitKeys(line string) []string {
	var keys []string
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '<' {
			end := -1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '>' {
					end = j
					break
				}
			}
			if end > i {
				keys = append(keys, string(runes[i:end+1]))
				i = end
				continue
			}
		}
		keys = append(keys, string(runes[i]))
	}
	return keys
}
