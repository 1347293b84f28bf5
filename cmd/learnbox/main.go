package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/learnbox-auth/internal/config"
	"github.com/jrsteele09/learnbox-auth/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "learnbox: %s\n", err)
		os.Exit(1)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	var configPath, provider, store, namespace, logLevel string
	flagSet := pflag.NewFlagSet("learnbox", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	flagSet.StringVar(&provider, "provider", "", "identity provider: dev or oidc")
	flagSet.StringVar(&store, "store", "", "token store: memory, keyring, file or redis")
	flagSet.StringVar(&namespace, "namespace", "", "token store namespace")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	// Flags win over the environment and the file, so they are applied as
	// environment overrides before the config is read.
	for name, value := range map[string]string{
		"IDENTITY_PROVIDER":     provider,
		"TOKEN_STORE":           store,
		"TOKEN_STORE_NAMESPACE": namespace,
		"LOG_LEVEL":             logLevel,
	} {
		if value != "" {
			os.Setenv(name, value)
		}
	}

	c := config.New()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		c = loaded
	}
	logging.Setup(c.GetLogLevel(), c.GetLogFormat(), os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.close()

	if args := flagSet.Args(); len(args) > 0 {
		return a.exec(ctx, args)
	}
	displayAppname(c.GetAppName())
	return a.repl(ctx)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: learnbox [flags] [command [args]]\n\nWith no command an interactive prompt is started.\n\nFlags:\n")
	flagSet.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nCommands:\n%s", commandHelp)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
