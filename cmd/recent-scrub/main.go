// Package main provides recent-scrub, a session daemon that keeps the desktop
// "recently used files" list free of entries under blacklisted locations.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/entrhq/recent-scrub/pkg/blacklist"
	"github.com/entrhq/recent-scrub/pkg/config"
	"github.com/entrhq/recent-scrub/pkg/location"
	"github.com/entrhq/recent-scrub/pkg/logging"
	"github.com/entrhq/recent-scrub/pkg/registry"
	"github.com/entrhq/recent-scrub/pkg/registry/xbel"
	"github.com/entrhq/recent-scrub/pkg/scrub"
	"github.com/entrhq/recent-scrub/pkg/watcher"
)

const version = "0.1.0"

// Exit codes
const (
	exitOK    = 0
	exitError = 1
)

// cliOptions holds the parsed command line
type cliOptions struct {
	Add         []string
	Remove      []string
	Once        bool
	Purge       bool
	Verbose     int
	Quiet       int
	ConfigPath  string
	Blacklist   string
	ShowVersion bool

	flags *pflag.FlagSet
}

func main() {
	// Create context with signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	code := run(ctx, afero.NewOsFs(), os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// parseFlags parses the command line into options
func parseFlags(args []string, stderr io.Writer) (*cliOptions, error) {
	opts := &cliOptions{}
	fs := pflag.NewFlagSet("recent-scrub", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringArrayVarP(&opts.Add, "add", "a", nil, "Add a location prefix to the blacklist (repeatable)")
	fs.StringArrayVarP(&opts.Remove, "remove", "r", nil, "Remove every blacklisted prefix covering a location (repeatable)")
	fs.BoolVar(&opts.Once, "once", false, "Scrub every registry once and exit")
	fs.BoolVar(&opts.Purge, "purge", false, "Empty every registry and exit")
	fs.CountVarP(&opts.Verbose, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	fs.CountVarP(&opts.Quiet, "quiet", "q", "Decrease log verbosity")
	fs.StringVar(&opts.ConfigPath, "config", "", "Configuration file (default $"+config.EnvPath+" or $XDG_CONFIG_HOME/recent-scrub/config.yaml)")
	fs.StringVar(&opts.Blacklist, "blacklist", "", "Blacklist file (overrides the configuration)")
	fs.BoolVar(&opts.ShowVersion, "version", false, "Show version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "recent-scrub - keep blacklisted locations out of the recently used files list\n\n")
		fmt.Fprintf(stderr, "Usage: recent-scrub [options]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  recent-scrub                       # Watch for the whole session\n")
		fmt.Fprintf(stderr, "  recent-scrub -a ~/Downloads        # Blacklist a folder\n")
		fmt.Fprintf(stderr, "  recent-scrub --once -v             # Clean up once and report\n")
		fmt.Fprintf(stderr, "  recent-scrub --purge               # Forget everything\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if opts.Once && opts.Purge {
		return nil, errors.New("--once and --purge are mutually exclusive")
	}
	opts.flags = fs
	return opts, nil
}

// loadConfig reads the configuration file and applies command line overrides
func loadConfig(fsys afero.Fs, opts *cliOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.Load(fsys, opts.ConfigPath)
	} else {
		cfg, err = config.LoadDefault(fsys)
	}
	if err != nil {
		return nil, err
	}

	if opts.flags.Changed("blacklist") {
		cfg.Blacklist = opts.Blacklist
	}
	cfg.Logging.Verbosity += opts.Verbose - opts.Quiet

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, fsys afero.Fs, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	if opts.ShowVersion {
		fmt.Fprintf(stdout, "recent-scrub v%s\n", version)
		return exitOK
	}

	cfg, err := loadConfig(fsys, opts)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	verbose, quiet := cfg.Logging.Verbosity, 0
	if verbose < 0 {
		verbose, quiet = 0, -verbose
	}
	// A log file that cannot be opened falls back to stderr with a warning.
	log, _ := logging.New("recent-scrub", logging.Options{
		Level: logging.LevelFromVerbosity(verbose, quiet),
		File:  cfg.Logging.File,
	})
	defer log.Close()

	// Fail closed: never scrub, or edit, with an unreadable blacklist.
	store, err := blacklist.Load(fsys, cfg.Blacklist)
	if err != nil {
		log.Errorf("cannot load blacklist: %v", err)
		return exitError
	}

	if len(opts.Add) > 0 || len(opts.Remove) > 0 {
		return editBlacklist(store, opts, stdout, stderr)
	}

	mode := watcher.Watch
	switch {
	case opts.Once:
		mode = watcher.Once
	case opts.Purge:
		mode = watcher.Purge
	}

	adapters, skipped := registry.Discover(fsys, cfg.Targets, xbel.OpenFunc(fsys, xbel.WithLogger(log.Named("xbel"))))
	for _, err := range skipped {
		log.Warnf("skipping target: %v", err)
	}

	ctrl := scrub.NewController(store, fsys, log.Named("scrub"))
	wopts := []watcher.Option{
		watcher.WithDebounce(cfg.Debounce),
		watcher.WithLogger(log.Named("watcher")),
		watcher.OnResult(func(r scrub.Result) {
			if mode != watcher.Watch && opts.Verbose > 0 {
				reportResult(stdout, mode, r)
			}
		}),
	}
	if cfg.ReloadBlacklist && mode == watcher.Watch {
		wopts = append(wopts, watcher.WithBlacklistReload(store))
	}

	if err := watcher.New(adapters, ctrl, wopts...).Run(ctx, mode); err != nil {
		log.Errorf("%v", err)
		return exitError
	}
	return exitOK
}

// editBlacklist applies --add and --remove, in that order
func editBlacklist(store *blacklist.Store, opts *cliOptions, stdout, stderr io.Writer) int {
	code := exitOK
	for _, in := range opts.Add {
		loc, err := location.FromUserInput(in)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			code = exitError
			continue
		}
		added, err := store.Add(loc)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		if added {
			fmt.Fprintf(stdout, "Added %s\n", loc)
		} else {
			fmt.Fprintf(stdout, "Already covered: %s\n", loc)
		}
	}

	for _, in := range opts.Remove {
		loc, err := location.FromUserInput(in)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			code = exitError
			continue
		}
		n, err := store.Remove(loc)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		if n == 0 {
			fmt.Fprintf(stdout, "Not blacklisted: %s\n", loc)
		} else {
			fmt.Fprintf(stdout, "Removed %d prefix(es) covering %s\n", n, loc)
		}
	}
	return code
}

// reportResult prints a one-line summary of a one-shot cycle
func reportResult(w io.Writer, mode watcher.Mode, r scrub.Result) {
	if mode == watcher.Purge {
		fmt.Fprintf(w, "%s: purged %d entries\n", r.Target, r.Purged)
		return
	}
	fmt.Fprintf(w, "%s: removed %d of %d entries\n", r.Target, r.Removed, r.Examined)
}
