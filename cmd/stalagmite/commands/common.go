// Package commands implements the stalagmite command line.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/stalagmite/internal/config"
	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/generator"
	"git.home.luguber.info/inful/stalagmite/internal/logfields"
	"git.home.luguber.info/inful/stalagmite/internal/metrics"
	"git.home.luguber.info/inful/stalagmite/internal/notify"
)

// Version is set at build time.
var Version = "dev"

// Global carries process-wide state into commands.
type Global struct {
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
}

// CLI definition & global flags.
type CLI struct {
	Project string           `short:"C" help:"Project root directory" default:"." type:"path"`
	Config  string           `short:"c" help:"Configuration file (default: <project>/stalagmite.yaml)" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Generate GenerateCmd `cmd:"" help:"Render the site into the output directory"`
	Init     InitCmd     `cmd:"" help:"Scaffold a new project"`
	Add      AddCmd      `cmd:"" help:"Add content to the project"`
	Serve    ServeCmd    `cmd:"" help:"Serve the site locally and rebuild on change"`
	Clean    CleanCmd    `cmd:"" help:"Remove cached state and published generations"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply(g *Global) error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	g.Logger = slog.New(slog.NewTextHandler(g.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(g.Logger)
	return nil
}

// Main parses args, runs the selected command and returns the exit code.
func Main(args []string, stdout, stderr io.Writer) int {
	var cli CLI
	g := &Global{Logger: slog.Default(), Stdout: stdout, Stderr: stderr}
	parser, err := kong.New(&cli,
		kong.Name("stalagmite"),
		kong.Description("Incremental static site generator."),
		kong.Writers(stdout, stderr),
		kong.Vars{"version": Version},
		kong.Bind(g),
	)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	adapter := ferrors.NewCLIErrorAdapter(cli.Verbose, g.Logger)
	return adapter.Report(stderr, kctx.Run(&cli))
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// load reads the project configuration.
func (c *CLI) load() (*config.Config, config.Project, error) {
	cfg, err := config.Load(c.Project, c.Config)
	if err != nil {
		return nil, config.Project{}, err
	}
	p, err := cfg.Resolve(c.Project)
	if err != nil {
		return nil, config.Project{}, ferrors.WrapError(err, ferrors.CategoryConfig, "resolve project paths").Fatal().Build()
	}
	return cfg, p, nil
}

// configPath is the file watched by serve.
func (c *CLI) configPath(p config.Project) string {
	if c.Config != "" {
		return c.Config
	}
	return filepath.Join(p.Root, config.FileName)
}

// newGenerator wires the generator with the optional notifier. The returned
// cleanup closes the notifier connection.
func newGenerator(g *Global, p config.Project, cfg *config.Config, rec metrics.Recorder) (*generator.Generator, func(), error) {
	opts := []generator.Option{generator.WithLogger(g.Logger), generator.WithRecorder(rec)}
	pub, err := notify.Connect(cfg.Notify, g.Logger)
	if err != nil {
		return nil, nil, err
	}
	if pub != nil {
		opts = append(opts, generator.WithNotifier(pub))
	}
	gen, err := generator.New(p, cfg, opts...)
	if err != nil {
		pub.Close()
		return nil, nil, err
	}
	return gen, pub.Close, nil
}

// printReport writes the one-line summary of a run to stdout.
func printReport(g *Global, report *generator.BuildReport, err error) {
	if report == nil {
		return
	}
	_, _ = fmt.Fprintln(g.Stdout, report.Summary())
	if err != nil && !errors.Is(err, generator.ErrPartialBuild) {
		return
	}
	for _, issue := range report.IssuesSnapshot() {
		if issue.Severity == generator.SeverityError {
			g.Logger.Warn("Artifact failed", logfields.Route(issue.Route), logfields.Path(issue.Path),
				slog.String("code", string(issue.Code)), slog.String("message", issue.Message))
		}
	}
}
