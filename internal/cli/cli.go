package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/vk/cmdgrid/internal/app"
	"github.com/vk/cmdgrid/internal/config"
)

// AppName is the binary name shown in help output.
const AppName = "cmdgrid"

// Exit codes.
const (
	ExitFailed = 1
	ExitUsage  = 2
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Run parses args (args[0] is the program name) and executes the selected
// command. Results go to outW, logs to errW.
func Run(ctx context.Context, args []string, outW, errW io.Writer) error {
	err := newApp(outW, errW).RunContext(ctx, args)
	return toExitError(err)
}

func toExitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	var failed *app.RunFailedError
	if errors.As(err, &failed) {
		return &ExitError{Code: ExitFailed, Message: failed.Error()}
	}
	return &ExitError{Code: ExitFailed, Message: err.Error()}
}

func newApp(outW, errW io.Writer) *cli.App {
	return &cli.App{
		Name:      AppName,
		Usage:     "run dependency graphs of shell commands with cached results",
		Writer:    outW,
		ErrWriter: errW,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML configuration file",
				EnvVars: []string{"CMDGRID_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log output format. Options: 'text' or 'json'.",
			},
			&cli.PathFlag{
				Name:  "out-root",
				Usage: "Directory the cmdgrid-out tree is created under",
			},
			&cli.IntFlag{
				Name:  "max-parallel",
				Usage: "Maximum number of commands executing at once",
			},
			&cli.StringFlag{
				Name:  "executor",
				Usage: "Executor backend. Options: 'local' or 'docker'.",
			},
			&cli.PathFlag{
				Name:  "journal",
				Usage: "Record every event to this file (msgpack)",
			},
			&cli.IntFlag{
				Name:  "healthcheck-port",
				Usage: "Port for the HTTP health check server. 0 is disabled.",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run commands from graph files in-process",
				ArgsUsage: "GRAPH_PATH...",
				Flags:     selectionFlags(),
				Action: func(c *cli.Context) error {
					a, err := newAppFromFlags(c)
					if err != nil {
						return err
					}
					return a.Run(c.Context, app.RunOptions{
						GraphPaths: c.Args().Slice(),
						Names:      c.StringSlice("name"),
						TargetType: c.String("type"),
						Rerun:      c.Bool("rerun"),
					})
				},
			},
			{
				Name:      "serve",
				Usage:     "Serve the controller protocol over socket.io",
				ArgsUsage: "[GRAPH_PATH...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Usage: "Address to listen on"},
				},
				Action: func(c *cli.Context) error {
					a, err := newAppFromFlags(c)
					if err != nil {
						return err
					}
					return a.Serve(c.Context, app.ServeOptions{GraphPaths: c.Args().Slice()})
				},
			},
			{
				Name:      "client",
				Usage:     "Drive a remote cmdgrid server",
				ArgsUsage: "[GRAPH_PATH]",
				Flags: append(selectionFlags(),
					&cli.StringFlag{Name: "url", Value: "http://127.0.0.1:7373", Usage: "Server URL"},
					&cli.BoolFlag{Name: "insecure", Usage: "Skip TLS certificate verification"},
				),
				Action: func(c *cli.Context) error {
					if c.NArg() > 1 {
						return &ExitError{Code: ExitUsage, Message: "client accepts at most one graph file"}
					}
					a, err := newAppFromFlags(c)
					if err != nil {
						return err
					}
					return a.Client(c.Context, app.ClientOptions{
						URL:        c.String("url"),
						GraphPath:  c.Args().First(),
						Names:      c.StringSlice("name"),
						TargetType: c.String("type"),
						Rerun:      c.Bool("rerun"),
						Insecure:   c.Bool("insecure"),
					})
				},
			},
			{
				Name:      "digest",
				Usage:     "Print definition digests of commands",
				ArgsUsage: "GRAPH_PATH...",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "name", Aliases: []string{"n"}, Usage: "Only these commands"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return &ExitError{Code: ExitUsage, Message: "digest needs at least one graph file"}
					}
					a, err := newAppFromFlags(c)
					if err != nil {
						return err
					}
					return a.Digest(c.Context, c.Args().Slice(), c.StringSlice("name"))
				},
			},
			{
				Name:      "replay",
				Usage:     "Print the events recorded in a journal",
				ArgsUsage: "JOURNAL",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return &ExitError{Code: ExitUsage, Message: "replay needs exactly one journal file"}
					}
					a, err := newAppFromFlags(c)
					if err != nil {
						return err
					}
					return a.Replay(c.Context, c.Args().First())
				},
			},
		},
		OnUsageError: func(_ *cli.Context, err error, _ bool) error {
			return &ExitError{Code: ExitUsage, Message: err.Error()}
		},
		// Exit codes are decided by the caller of Run.
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func selectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{Name: "name", Aliases: []string{"n"}, Usage: "Command to run, repeatable"},
		&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "Run every command of this target type: test, stimulus or build"},
		&cli.BoolFlag{Name: "rerun", Usage: "Rerun failing tests once after the run"},
	}
}

// newAppFromFlags builds the configuration from the optional file and the
// flags that were set, then creates the App.
func newAppFromFlags(c *cli.Context) (*app.App, error) {
	cfg := config.Default()
	if path := c.Path("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, &ExitError{Code: ExitUsage, Message: err.Error()}
		}
		cfg = loaded
	}

	if c.IsSet("log-level") {
		cfg.Log.Level = strings.ToLower(c.String("log-level"))
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = strings.ToLower(c.String("log-format"))
	}
	if c.IsSet("out-root") {
		cfg.Engine.OutRoot = c.Path("out-root")
	}
	if c.IsSet("max-parallel") {
		cfg.Engine.MaxParallel = c.Int("max-parallel")
	}
	if c.IsSet("executor") {
		cfg.Engine.Executor = c.String("executor")
	}
	if c.IsSet("journal") {
		cfg.Engine.Journal = c.Path("journal")
	}
	if c.IsSet("healthcheck-port") {
		cfg.Server.HealthcheckPort = c.Int("healthcheck-port")
	}
	if c.IsSet("listen") {
		cfg.Server.Listen = c.String("listen")
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("invalid configuration: %v", err)}
	}
	return app.NewApp(c.App.Writer, c.App.ErrWriter, cfg), nil
}
