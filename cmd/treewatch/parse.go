package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"treewatch/internal/config"
	"treewatch/internal/logging"
)

const (
	envLogLevel    = "TREEWATCH_LOG_LEVEL"
	envMonitorAddr = "TREEWATCH_MONITOR_ADDR"
)

var (
	ErrMixedForms   = errors.New("a positional root cannot be combined with watch flags")
	ErrUnknownToken = errors.New("unrecognized argument")
	errHelp         = errors.New("help requested")
)

// flagForm lists the flags that belong to the flag form. Any of them next to
// a positional root is rejected.
var flagForm = []string{"directory", "command", "skipDirectories", "match", "env-file", "pty"}

type Config struct {
	Options     config.Options
	ConfigFile  string
	MonitorAddr string
	LogLevel    logging.Level
	ShowVersion bool
}

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func usageErr(err error) error {
	return &usageError{err: err}
}

type flagValues struct {
	directory       string
	command         string
	skipDirectories []string
	match           []string
	envFile         string
	pty             bool
	configFile      string
	monitorAddr     string
	logLevel        string
	showVersion     bool
}

func newRootCommand(values *flagValues, positional *[]string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "treewatch [ROOT]",
		Short: "Run a command whenever something changes below a directory",
		Long: `treewatch watches a directory tree and runs a command for every change.

The command runs in the root directory with WATCHED_DIR, WATCHED_FILE and
WATCHED_EXTENSION describing the changed entry.`,
		Example: `  treewatch ./src
  treewatch -d ./src -c 'make test' --skipDirectories .git,node_modules
  treewatch -d . -c 'go test ./...' --match '**/*.go' --monitor 127.0.0.1:9310`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			*positional = append([]string(nil), args...)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.SortFlags = false
	flags.StringVarP(&values.directory, "directory", "d", "", "root directory to watch (default: current directory)")
	flags.StringVarP(&values.command, "command", "c", "", "command to run for each change")
	flags.StringSliceVar(&values.skipDirectories, "skipDirectories", nil, "comma-separated directory names to leave unwatched")
	flags.StringArrayVar(&values.match, "match", nil, "only run the command for paths matching this glob (repeatable)")
	flags.StringVar(&values.envFile, "env-file", "", "dotenv file with extra variables for the command")
	flags.BoolVar(&values.pty, "pty", false, "run the command on a pseudo-terminal")
	flags.StringVar(&values.configFile, "config", "", "YAML config file")
	flags.StringVar(&values.monitorAddr, "monitor", "", "serve status, metrics and streams on this address (env: "+envMonitorAddr+")")
	flags.StringVar(&values.logLevel, "log-level", "", "debug, info, warn or error (env: "+envLogLevel+", default: info)")
	flags.BoolVar(&values.showVersion, "version", false, "print version and exit")
	cmd.InitDefaultHelpFlag()
	return cmd
}

func parseArgs(args []string, out, errOut io.Writer, getenv func(string) string) (Config, error) {
	var values flagValues
	var positional []string
	cmd := newRootCommand(&values, &positional)
	// A nil slice makes cobra fall back to os.Args.
	cmd.SetArgs(append([]string{}, args...))
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	if err := validateTokens(args, cmd.Flags()); err != nil {
		return Config{}, usageErr(err)
	}
	if err := cmd.Execute(); err != nil {
		return Config{}, usageErr(err)
	}
	if help := cmd.Flags().Lookup("help"); help != nil && help.Changed {
		return Config{}, errHelp
	}
	if values.showVersion {
		return Config{ShowVersion: true}, nil
	}

	flags := cmd.Flags()
	if len(positional) > 0 {
		for _, name := range flagForm {
			if flags.Changed(name) {
				return Config{}, usageErr(fmt.Errorf("%w: --%s", ErrMixedForms, name))
			}
		}
	}

	var file config.File
	if values.configFile != "" {
		loaded, err := config.LoadFile(values.configFile)
		if err != nil {
			return Config{}, usageErr(err)
		}
		file = loaded
	}

	options := file.Options()
	if len(positional) > 0 {
		options.Root = positional[0]
	}
	if flags.Changed("directory") {
		options.Root = values.directory
	}
	if flags.Changed("command") {
		options.Command = values.command
	}
	if flags.Changed("skipDirectories") {
		options.SkipDirectories = config.SplitList(strings.Join(values.skipDirectories, ","))
	}
	if flags.Changed("match") {
		options.Match = values.match
	}
	if flags.Changed("env-file") {
		options.EnvFile = values.envFile
	}
	if flags.Changed("pty") {
		options.Pty = values.pty
	}

	level, err := resolveLogLevel(values.logLevel, getenv(envLogLevel), file.LogLevel)
	if err != nil {
		return Config{}, usageErr(err)
	}

	return Config{
		Options:     options,
		ConfigFile:  values.configFile,
		MonitorAddr: firstNonEmpty(values.monitorAddr, getenv(envMonitorAddr), file.Monitor),
		LogLevel:    level,
	}, nil
}

// validateTokens rejects any dash token that is not the exact spelling of a
// known flag: -x, --name or --name=value. Attached shorthand values and
// grouped shorthands are refused.
func validateTokens(args []string, flags *pflag.FlagSet) error {
	for index := 0; index < len(args); index++ {
		token := args[index]
		if token == "--" {
			return nil
		}
		if len(token) < 2 || token[0] != '-' {
			continue
		}

		var flag *pflag.Flag
		hasValue := false
		if strings.HasPrefix(token, "--") {
			var name string
			name, _, hasValue = strings.Cut(token[2:], "=")
			flag = flags.Lookup(name)
		} else if len(token) == 2 {
			flag = flags.ShorthandLookup(token[1:])
		}
		if flag == nil {
			return fmt.Errorf("%w: %s", ErrUnknownToken, token)
		}
		if !hasValue && flag.Value.Type() != "bool" {
			index++
		}
	}
	return nil
}

func resolveLogLevel(values ...string) (logging.Level, error) {
	raw := firstNonEmpty(values...)
	if raw == "" {
		return logging.LevelInfo, nil
	}
	level, ok := logging.ParseLevel(raw)
	if !ok {
		return "", fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
