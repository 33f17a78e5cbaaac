// Package cli implements the keymed command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/turtacn/KeyMed-Intelligence/internal/bootstrap"
	"github.com/turtacn/KeyMed-Intelligence/internal/config"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	NoColor      bool
	Timeout      time.Duration
}

// App carries configuration and lazily built services through the command
// tree.  Config and Logger may be preset; otherwise they are loaded before
// the first command runs.
type App struct {
	Config *config.Config
	Logger logging.Logger

	opts       RootOptions
	components *bootstrap.Components
}

// Components builds the service stack on first use.
func (a *App) Components(ctx context.Context) (*bootstrap.Components, error) {
	if a.components != nil {
		return a.components, nil
	}
	c, err := bootstrap.New(ctx, a.Config, a.Logger, bootstrap.Options{
		Source:         "keymed-cli",
		SkipMigrations: true,
	})
	if err != nil {
		return nil, err
	}
	a.components = c
	return c, nil
}

// Close releases the service stack.
func (a *App) Close() {
	if a.components != nil {
		a.components.Close()
		a.components = nil
	}
}

func (a *App) jsonOutput() bool { return strings.EqualFold(a.opts.OutputFormat, outputJSON) }

// context bounds a command by the global timeout.
func (a *App) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.opts.Timeout)
}

// NewRootCommand creates the keymed root command with every subcommand.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&App{})
}

func newRootCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keymed",
		Short: "KeyMed-Intelligence CLI: clinical document import and lab pattern analysis",
		Long: "keymed classifies and extracts clinical documents, imports the records with\n" +
			"duplicate review, and matches lab values against the clinical pattern library.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) { app.Close() },
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&app.opts.ConfigPath, "config", "c", "", "config file path (default: KEYMED_* environment)")
	pf.StringVar(&app.opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&app.opts.OutputFormat, "output", "o", outputTable, "output format (table, json)")
	pf.BoolVar(&app.opts.NoColor, "no-color", false, "disable colored output")
	pf.DurationVar(&app.opts.Timeout, "timeout", 5*time.Minute, "overall command timeout")

	cmd.AddCommand(
		newClassifyCmd(app),
		newExtractCmd(app),
		newImportCmd(app),
		newLabsCmd(app),
		newPatternsCmd(app),
		newMigrateCmd(app),
		newVersionCmd(),
	)
	return cmd
}

func (a *App) init() error {
	switch strings.ToLower(a.opts.OutputFormat) {
	case outputTable, outputJSON:
	default:
		return errors.New(errors.ErrCodeValidation, "unknown output format").WithDetail(a.opts.OutputFormat)
	}
	if a.opts.NoColor {
		color.NoColor = true
	}
	if a.Config == nil {
		cfg, err := config.LoadOrDefault(a.opts.ConfigPath)
		if err != nil {
			return err
		}
		a.Config = cfg
	}
	if a.Logger == nil {
		logger, err := logging.NewLogger(logging.LogConfig{
			Level:            a.opts.LogLevel,
			Format:           "console",
			OutputPaths:      []string{"stderr"},
			ErrorOutputPaths: []string{"stderr"},
		})
		if err != nil {
			return err
		}
		a.Logger = logger
	}
	return nil
}

// Execute runs the CLI and prints any error to stderr.
func Execute() error {
	app := &App{}
	defer app.Close()
	root := newRootCommand(app)
	if err := root.Execute(); err != nil {
		PrintError(root, err)
		return err
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Output helpers
// ─────────────────────────────────────────────────────────────────────────────

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

// PrintError writes err to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("Error:"), err.Error())
}

// readDocument reads path, or stdin when path is "-".
func readDocument(cmd *cobra.Command, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeBadRequest, "failed to read document").WithDetail(path)
	}
	return string(data), nil
}

func percent(v float64) string { return fmt.Sprintf("%.0f%%", v*100) }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

//Personal.AI order the ending
