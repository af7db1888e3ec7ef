// Command contacts-client is a terminal address book that keeps working
// while the contacts store is unreachable. Changes made offline are cached
// locally, queued, and replayed once the store answers again.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-contacts/internal/config"
	"github.com/tbourn/go-contacts/internal/connectivity"
	"github.com/tbourn/go-contacts/internal/localstore"
	"github.com/tbourn/go-contacts/internal/randomuser"
	"github.com/tbourn/go-contacts/internal/reconcile"
	"github.com/tbourn/go-contacts/internal/remote"
	"github.com/tbourn/go-contacts/internal/sysutil"
)

var Version = "dev"

const usage = `usage: contacts-client [-api URL] [-state PATH] <command> [args]

commands:
  list [-favorites] [-pending]   print the cached contacts
  show <id>                      print one contact
  add -email E [-first F] [-last L] [flags]
  update <id> [flags]            change the given fields only
  fav <id>                       toggle favorite
  rm <id> [-y]                   delete a contact
  random [count]                 add generated contacts (online only)
  sync                           replay queued changes, then refresh
  reload                         replace the cache with the store's list
  pending                        print queued changes
  status                         print connectivity and queue size
  watch                          stay running and sync on reconnect
  version
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	global := flag.NewFlagSet("contacts-client", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	apiURL := global.String("api", "", "contacts store base URL (overrides CONTACTS_API_URL)")
	statePath := global.String("state", "", "local state file (overrides CONTACTS_STATE_PATH)")
	if err := global.Parse(args); err != nil {
		fmt.Fprint(stdout, usage)
		return err
	}
	if global.NArg() == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}
	cmd, rest := global.Arg(0), global.Args()[1:]

	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	case "version":
		fmt.Fprintln(stdout, Version)
		return nil
	}

	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.APIURL = sysutil.FirstNonEmpty(*apiURL, cfg.APIURL)
	cfg.StatePath = sysutil.FirstNonEmpty(*statePath, cfg.StatePath)

	sysutil.SetLogLevel(cfg.LogLevel)
	logger := sysutil.NewLogger(os.Stderr, cfg.LogPretty, "client")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, stdin, stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.dispatch(ctx, cmd, rest)
}

// app holds the wired client core for one invocation.
type app struct {
	cfg     config.ClientConfig
	log     zerolog.Logger
	local   *localstore.Store
	monitor *connectivity.Monitor
	engine  *reconcile.Engine
	in      io.Reader
	out     io.Writer
}

func newApp(ctx context.Context, cfg config.ClientConfig, logger zerolog.Logger, in io.Reader, out io.Writer) (*app, error) {
	local, err := localstore.Open(cfg.StatePath, logger.With().Str("component", "localstore").Logger())
	if err != nil {
		return nil, fmt.Errorf("opening local state: %w", err)
	}

	store, err := remote.New(cfg.APIURL, &http.Client{Timeout: cfg.RequestTimeout}, logger.With().Str("component", "remote").Logger())
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("contacts store client: %w", err)
	}

	monitor := connectivity.New(ctx, store, cfg.ProbeInterval, logger.With().Str("component", "connectivity").Logger())
	engine := reconcile.New(store, local.Cache(), local.PendingLog(), monitor, reconcile.Options{
		DrainDelay:  cfg.DrainDelay,
		ReloadDelay: cfg.ReloadDelay,
		Generator:   randomuser.NewClient(cfg.RandomUserURL, &http.Client{Timeout: cfg.RandomTimeout}),
		Logger:      logger.With().Str("component", "reconcile").Logger(),
	})

	return &app{cfg: cfg, log: logger, local: local, monitor: monitor, engine: engine, in: in, out: out}, nil
}

func (a *app) Close() {
	a.engine.Close()
	if err := a.local.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing local state")
	}
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "add", "create", "update", "edit", "fav", "favorite", "rm", "delete", "random":
		a.catchUp(ctx)
	}

	switch cmd {
	case "list", "ls":
		return a.list(args)
	case "show", "get":
		return a.show(ctx, args)
	case "add", "create":
		return a.add(ctx, args)
	case "update", "edit":
		return a.update(ctx, args)
	case "fav", "favorite":
		return a.favorite(ctx, args)
	case "rm", "delete":
		return a.remove(ctx, args)
	case "random":
		return a.random(ctx, args)
	case "sync":
		return a.sync(ctx)
	case "reload":
		return a.reload(ctx)
	case "pending":
		return a.pending()
	case "status":
		return a.status()
	case "watch":
		return a.watch(ctx)
	}
	fmt.Fprint(a.out, usage)
	return fmt.Errorf("unknown command %q", cmd)
}

// catchUp replays changes queued by earlier runs before a new one is made,
// when the store answered the startup probe.
func (a *app) catchUp(ctx context.Context) {
	if !a.monitor.Online() || len(a.engine.Pending()) == 0 {
		return
	}
	n, err := a.engine.Drain(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("replaying queued changes failed")
		return
	}
	a.log.Info().Int("replayed", n).Int("left", len(a.engine.Pending())).Msg("replayed queued changes")
}

// watch probes the store and replays the queue after every reconnect
// until interrupted.
func (a *app) watch(ctx context.Context) error {
	a.log.Info().
		Str("version", Version).
		Str("api", a.cfg.APIURL).
		Bool("online", a.monitor.Online()).
		Int("pending", len(a.engine.Pending())).
		Msg("watching contacts store")

	if a.monitor.Online() {
		if n, err := a.engine.Drain(ctx); err != nil {
			a.log.Warn().Err(err).Msg("initial drain failed")
		} else {
			a.log.Info().Int("replayed", n).Msg("initial drain")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.monitor.Run(gctx) })
	g.Go(func() error { return a.engine.Run(gctx) })
	return g.Wait()
}
