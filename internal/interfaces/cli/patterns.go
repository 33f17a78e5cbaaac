package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/KeyMed-Intelligence/internal/bootstrap"
	"github.com/turtacn/KeyMed-Intelligence/internal/domain/labpattern"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

func newPatternsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Browse the clinical lab pattern library",
	}
	cmd.AddCommand(newPatternsListCmd(app), newPatternsGetCmd(app), newPatternsCategoriesCmd(app))
	return cmd
}

// library loads the configured pattern library without building the rest of
// the service stack.
func (a *App) library() (*labpattern.Library, error) {
	if a.components != nil && a.components.Patterns != nil {
		return a.components.Patterns, nil
	}
	return bootstrap.LoadPatterns(a.Config.Patterns, a.Logger)
}

func newPatternsListCmd(app *App) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.library()
			if err != nil {
				return err
			}
			patterns := lib.All()
			if category != "" {
				patterns = lib.ByCategory(category)
			}
			if app.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), patterns)
			}
			table := newTable(cmd.OutOrStdout(), "ID", "Name", "Category", "Severity", "Required")
			for _, p := range patterns {
				table.Append([]string{p.ID, p.Name, p.Category, severityLabel(p.Severity), fmt.Sprint(len(p.RequiredFindings))})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only patterns of this category")
	return cmd
}

func newPatternsGetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := app.library()
			if err != nil {
				return err
			}
			p, ok := lib.Get(args[0])
			if !ok {
				return errors.New(errors.ErrCodePatternNotFound, "pattern not found").WithDetail(args[0])
			}
			if app.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), p)
			}
			printPattern(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func printPattern(out io.Writer, p labpattern.Pattern) {
	fmt.Fprintf(out, "%s (%s)\n", p.Name, p.ID)
	fmt.Fprintf(out, "Category: %s   Severity: %s\n", p.Category, severityLabel(p.Severity))
	if p.Description != "" {
		fmt.Fprintf(out, "\n%s\n", p.Description)
	}
	table := newTable(out, "Finding", "Required")
	for _, f := range p.RequiredFindings {
		table.Append([]string{f.Label(), "yes"})
	}
	for _, f := range p.SupportingFindings {
		table.Append([]string{f.Label(), "no"})
	}
	fmt.Fprintln(out)
	table.Render()
	if len(p.DifferentialDiagnosis) > 0 {
		fmt.Fprintf(out, "\nDifferential: %s\n", strings.Join(p.DifferentialDiagnosis, ", "))
	}
	if len(p.NextSteps) > 0 {
		fmt.Fprintln(out, "\nNext steps:")
		for _, s := range p.NextSteps {
			fmt.Fprintf(out, "  - %s\n", s.Action)
		}
	}
	for _, pearl := range p.ClinicalPearls {
		fmt.Fprintf(out, "  * %s\n", pearl)
	}
}

func newPatternsCategoriesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List pattern categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lib, err := app.library()
			if err != nil {
				return err
			}
			cats := lib.Categories()
			if app.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), cats)
			}
			for _, c := range cats {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}

//Personal.AI order the ending
