// rawsock obtains raw sockets through the rawsocket-helper without running
// privileged itself.
//
// Usage:
//
//	rawsock [--config PATH] [--log-level LEVEL] <command> [flags]
//
// Commands:
//
//	open        obtain a raw socket and report what was received
//	capture     print link-layer frames from a brokered AF_PACKET socket
//	interfaces  list network interfaces
//	check       inspect the helper installation without running it
//	config      print the effective configuration as YAML
//
// Configuration is read from /etc/rawsock/config.yaml when present.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/pflag"

	"github.com/doughall/rawsock/internal/config"
	"github.com/doughall/rawsock/internal/logging"
	"github.com/doughall/rawsock/internal/rawsock"
	"github.com/doughall/rawsock/internal/version"
)

const program = "rawsock"

// env is what every command receives after global flags are handled.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

// broker builds a broker from the loaded configuration.
func (e *env) broker() (*rawsock.Broker, error) {
	opts := e.cfg.BrokerOptions()
	opts.Logger = logging.WithComponent(e.logger, "broker")
	return rawsock.NewBroker(opts)
}

type command struct {
	summary string
	run     func(e *env, args []string) error
}

var commands = map[string]command{
	"open":       {"obtain a raw socket and report what was received", runOpen},
	"capture":    {"print link-layer frames from a brokered AF_PACKET socket", runCapture},
	"interfaces": {"list network interfaces", runInterfaces},
	"check":      {"inspect the helper installation without running it", runCheck},
	"config":     {"print the effective configuration as YAML", runConfig},
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var configPath, logLevel string
	var showVersion bool

	flagSet := pflag.NewFlagSet(program, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&configPath, "config", config.DefaultConfigPath, "path to configuration file")
	flagSet.StringVar(&logLevel, "log-level", "", "override the configured log level")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Fprintln(stdout, version.Info(program))
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(stderr, flagSet)
		return errors.New("no command given")
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	e := &env{
		cfg:    cfg,
		logger: logging.SetupLogger(cfg.LogLevel, stderr),
		stdout: stdout,
		stderr: stderr,
	}
	return cmd.run(e, rest[1:])
}

// subcommandFlags returns a flag set for a subcommand that reports usage
// errors instead of exiting.
func (e *env) subcommandFlags(name string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(program+" "+name, pflag.ContinueOnError)
	flagSet.SetOutput(e.stderr)
	return flagSet
}

// parseSubcommand parses args and rejects positional arguments. It returns
// done when --help was requested.
func parseSubcommand(flagSet *pflag.FlagSet, args []string) (done bool, err error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	if flagSet.NArg() > 0 {
		return false, fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	return false, nil
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: %s [flags] <command> [command flags]\n\nCommands:\n", program)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-12s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "\nFlags:\n%s", flagSet.FlagUsages())
}
