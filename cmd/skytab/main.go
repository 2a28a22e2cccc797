package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/aussiebroadwan/skytab/internal/app"
	"github.com/aussiebroadwan/skytab/pkg/apierr"
)

const usage = `skytab: a small Bluesky client

Usage:
  skytab [global flags] <command> [flags] [args]

Commands:
  login     authenticate and store the session
  logout    end the stored session
  status    show the stored session
  timeline  print the home timeline (public feed when logged out)
  post      publish a post: skytab post <text...>
  like      like a post: skytab like <at-uri>
  show      print a post: skytab show <at-uri>
  replies   print direct replies: skytab replies <at-uri>

Global flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(app.ExitCode(err))
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg := app.LoadConfig()

	global := pflag.NewFlagSet("skytab", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(stderr)
	global.StringVar(&cfg.Service, "service", cfg.Service, "service endpoint (env SKYTAB_SERVICE)")
	global.StringVar(&cfg.SessionFile, "session-file", cfg.SessionFile, "session file path (env SKYTAB_SESSION_FILE)")
	global.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	version := global.Bool("version", false, "print the version and exit")
	global.Usage = func() {
		fmt.Fprint(stderr, usage)
		global.PrintDefaults()
	}

	if err := global.Parse(args); err != nil {
		return usageErr(err)
	}
	if *version {
		fmt.Fprintln(stdout, "skytab", app.BuildVersion)
		return nil
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return apierr.Validation("skytab", "missing command")
	}

	application := app.New(cfg, stdout)
	cmd, cmdArgs := rest[0], rest[1:]

	switch cmd {
	case "login":
		return runLogin(ctx, application, cmdArgs, stderr)
	case "logout":
		if err := noArgs(cmd, cmdArgs, stderr); err != nil {
			return err
		}
		return application.Logout(ctx)
	case "status":
		if err := noArgs(cmd, cmdArgs, stderr); err != nil {
			return err
		}
		return application.Status()
	case "timeline":
		return runTimeline(ctx, application, cmdArgs, stderr)
	case "post":
		fs := newFlagSet(cmd, stderr)
		if err := fs.Parse(cmdArgs); err != nil {
			return usageErr(err)
		}
		if fs.NArg() == 0 {
			return apierr.Validation(cmd, "post text is required")
		}
		return application.Post(ctx, strings.Join(fs.Args(), " "))
	case "like", "show", "replies":
		uri, err := oneArg(cmd, cmdArgs, stderr)
		if err != nil {
			return err
		}
		switch cmd {
		case "like":
			return application.Like(ctx, uri)
		case "show":
			return application.Show(ctx, uri)
		default:
			return application.Replies(ctx, uri)
		}
	case "help":
		global.Usage()
		return nil
	default:
		global.Usage()
		return apierr.Validation("skytab", "unknown command %q", cmd)
	}
}

func runLogin(ctx context.Context, a *app.Application, args []string, stderr io.Writer) error {
	fs := newFlagSet("login", stderr)
	identifier := fs.StringP("identifier", "u", "", "handle or email")
	password := fs.String("password", "", "password or app password (env SKYTAB_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return usageErr(err)
	}
	if fs.NArg() > 0 {
		return apierr.Validation("login", "unexpected argument %q", fs.Arg(0))
	}

	secret := *password
	if secret == "" {
		secret = os.Getenv("SKYTAB_PASSWORD")
	}
	if secret == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(stderr, "Password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(stderr)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		secret = string(raw)
	}
	return a.Login(ctx, *identifier, secret)
}

func runTimeline(ctx context.Context, a *app.Application, args []string, stderr io.Writer) error {
	fs := newFlagSet("timeline", stderr)
	cursor := fs.String("cursor", "", "continue from a previous page")
	limit := fs.IntP("limit", "n", 0, "page size, 1-100 (default 50)")
	if err := fs.Parse(args); err != nil {
		return usageErr(err)
	}
	if fs.NArg() > 0 {
		return apierr.Validation("timeline", "unexpected argument %q", fs.Arg(0))
	}
	return a.Timeline(ctx, *cursor, *limit)
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet("skytab "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func noArgs(cmd string, args []string, stderr io.Writer) error {
	fs := newFlagSet(cmd, stderr)
	if err := fs.Parse(args); err != nil {
		return usageErr(err)
	}
	if fs.NArg() > 0 {
		return apierr.Validation(cmd, "unexpected argument %q", fs.Arg(0))
	}
	return nil
}

func oneArg(cmd string, args []string, stderr io.Writer) (string, error) {
	fs := newFlagSet(cmd, stderr)
	if err := fs.Parse(args); err != nil {
		return "", usageErr(err)
	}
	if fs.NArg() != 1 {
		return "", apierr.Validation(cmd, "expected exactly one post URI")
	}
	return fs.Arg(0), nil
}

// usageErr keeps ErrHelp recognisable and classifies other flag errors as
// invalid input.
func usageErr(err error) error {
	if errors.Is(err, pflag.ErrHelp) {
		return err
	}
	return &apierr.Error{Kind: apierr.KindValidation, Op: "skytab", Message: err.Error(), Err: err}
}
