// mailfiler files messages into mailboxes according to the rules in
// its configuration file, against either an IMAP server or a local
// maildir tree.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/nhle/mailfiler/internal/client"
	"github.com/nhle/mailfiler/internal/engine"
	"github.com/nhle/mailfiler/internal/model"
	"github.com/nhle/mailfiler/internal/secrets"
	"github.com/nhle/mailfiler/internal/ui"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "mailfiler:", err)
		}
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("mailfiler", flag.ContinueOnError)
	var (
		configFile     string
		listMailboxes  bool
		dryRun         bool
		verbose        bool
		showVersion    bool
		forgetPassword bool
	)
	fs.StringVar(&configFile, "c", model.DefaultConfigPath(), "configuration file")
	fs.StringVar(&configFile, "config-file", model.DefaultConfigPath(), "configuration file")
	fs.BoolVar(&listMailboxes, "list-mailboxes", false, "print a list of mailboxes instead of processing rules")
	fs.BoolVar(&dryRun, "dry-run", false, "report actions without performing them")
	fs.BoolVar(&verbose, "v", false, "report more details about what is happening")
	fs.BoolVar(&verbose, "verbose", false, "report more details about what is happening")
	fs.BoolVar(&showVersion, "version", false, "print the version and exit")
	fs.BoolVar(&forgetPassword, "forget-password", false, "remove the password stored in the system keyring and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showVersion {
		fmt.Println(version)
		return nil
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := model.LoadConfig(configFile)
	if err != nil {
		return err
	}

	if forgetPassword {
		if cfg.Server == nil {
			return fmt.Errorf("forget-password requires a server configuration")
		}
		return secrets.Discard(cfg.Server)
	}

	// On interrupt the in-flight message finishes, statistics are
	// reported, and the session is released.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var password client.PasswordFunc
	if cfg.Server != nil {
		provider := secrets.Resolve(cfg.Server)
		password = provider.Password
	}

	conn, err := client.Open(ctx, cfg, password)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Disconnect(); err != nil {
			log.Warn("disconnecting failed", "error", err)
		}
	}()

	if listMailboxes {
		names, err := conn.ListMailboxes()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	}

	presenter := ui.NewPresenter(os.Stdout)

	// The live display owns the terminal; fall back to plain log
	// lines when stdout is redirected or verbose logging is on.
	interactive := term.IsTerminal(int(os.Stdout.Fd())) && !verbose
	if interactive {
		return runInteractive(ctx, conn, cfg, dryRun, log, presenter)
	}

	eng, err := engine.New(conn, cfg,
		engine.WithDryRun(dryRun),
		engine.WithLogger(log),
		engine.WithEventHandler(presenter.HandleEvent),
	)
	if err != nil {
		return err
	}

	stats, runErr := eng.Run(ctx)
	presenter.Summary(stats, errors.Is(runErr, context.Canceled))
	return runErr
}

// runInteractive drives the run underneath a live progress display.
// The engine runs in its own goroutine and reaches the display only
// through events; Ctrl-C cancels the run's context, the engine stops
// between messages, and the engine goroutine delivers the closing
// DoneMsg.
func runInteractive(ctx context.Context, conn client.Client, cfg *model.Config, dryRun bool, log *slog.Logger, presenter *ui.Presenter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var prog *tea.Program
	eng, err := engine.New(conn, cfg,
		engine.WithDryRun(dryRun),
		engine.WithLogger(log),
		engine.WithEventHandler(func(ev engine.Event) { prog.Send(ev) }),
	)
	if err != nil {
		return err
	}

	prog = tea.NewProgram(ui.NewProgress(cancel, eng.TotalMailboxes()))

	var stats engine.Stats
	var runErr error
	go func() {
		stats, runErr = eng.Run(ctx)
		prog.Send(ui.DoneMsg{
			Stats:       stats,
			Interrupted: errors.Is(runErr, context.Canceled),
		})
	}()

	if _, err := prog.Run(); err != nil {
		return err
	}
	presenter.Summary(stats, errors.Is(runErr, context.Canceled))
	return runErr
}
