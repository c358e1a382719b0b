package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

const usage = `usage: riverlevels [-v|-d] ACTION [options]

actions:
  level [-q QUALIFIER] STATION   print the latest level of a station
  alerts [-c FILE]               evaluate alerts, print them and save state
  email-alerts [-c FILE] [-n]    evaluate alerts and email them
  watch [-c FILE] [-interval D] [-email] [-n]
                                 evaluate alerts on a schedule

global options:
`

// configEnv overrides the default configuration file path.
const configEnv = "RIVERLEVELS_CONFIG"

// errUsage marks errors caused by bad command-line arguments.
var errUsage = errors.New("usage")

type command func(ctx context.Context, e *env, args []string) error

var commands = map[string]command{
	"level":        cmdLevel,
	"alerts":       cmdAlerts,
	"email-alerts": cmdEmailAlerts,
	"watch":        cmdWatch,
}

// env is the process environment handed to a command.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	log    *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run parses the global flags, dispatches to the named action and returns
// the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("riverlevels", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var verbose, debug bool
	flags.BoolVar(&verbose, "v", false, "log at info level")
	flags.BoolVar(&verbose, "verbose", false, "log at info level")
	flags.BoolVar(&debug, "d", false, "log at debug level")
	flags.BoolVar(&debug, "debug", false, "log at debug level")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: logLevel(verbose, debug)}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("could not load .env", "err", err)
	}

	if flags.NArg() == 0 {
		flags.Usage()
		return 2
	}
	name := flags.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "riverlevels: unknown action %q\n", name)
		flags.Usage()
		return 2
	}

	e := &env{stdin: stdin, stdout: stdout, stderr: stderr, log: logger}
	if err := cmd(ctx, e, flags.Args()[1:]); err != nil {
		switch {
		case errors.Is(err, flag.ErrHelp):
			return 0
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "riverlevels %s: %v\n", name, err)
			return 2
		}
		logger.Error(name+" failed", "err", err)
		return 1
	}
	return 0
}

// logLevel maps the global flags to a slog level: warnings only by
// default, info with -v, debug with -d.
func logLevel(verbose, debug bool) slog.Level {
	switch {
	case debug:
		return slog.LevelDebug
	case verbose:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

func newFlagSet(name string, e *env) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(e.stderr)
	return flags
}
