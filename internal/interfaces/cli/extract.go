package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/turtacn/KeyMed-Intelligence/pkg/types/clinical"
)

const dateLayout = "2006-01-02"

func newExtractCmd(app *App) *cobra.Command {
	var docType string
	cmd := &cobra.Command{
		Use:   "extract FILE",
		Short: "Extract structured records from a clinical document without importing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()

			text, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			comps, err := app.Components(ctx)
			if err != nil {
				return err
			}
			dt := clinical.DocumentType(docType)
			if docType == "" {
				dt = comps.Classifier.Classify(text)
			}
			res, err := comps.Extractor.Extract(ctx, text, dt)
			if err != nil {
				return err
			}
			if app.jsonOutput() {
				return printJSON(cmd.OutOrStdout(), res)
			}
			printExtraction(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&docType, "type", "", "document type (default: detected)")
	return cmd
}

func printExtraction(out io.Writer, res *clinical.RecordExtraction) {
	fmt.Fprintf(out, "Document type: %s\n", res.DocumentType)
	if res.PatientName != "" {
		fmt.Fprintf(out, "Patient:       %s\n", res.PatientName)
	}
	if res.DateOfService != nil {
		fmt.Fprintf(out, "Service date:  %s\n", res.DateOfService.Format(dateLayout))
	}
	if res.Facility != "" {
		fmt.Fprintf(out, "Facility:      %s\n", res.Facility)
	}
	if res.Provider != "" {
		fmt.Fprintf(out, "Provider:      %s\n", res.Provider)
	}
	fmt.Fprintf(out, "Confidence:    %s\n", confidenceLabel(res.Confidence))

	if len(res.Labs) > 0 {
		fmt.Fprintln(out, "\nLabs")
		table := newTable(out, "Test", "Value", "Unit", "Status", "Collected")
		for _, l := range res.Labs {
			table.Append([]string{l.TestName, l.Value.String(), l.Unit, labStatus(l.Status), formatDate(l.CollectedAt)})
		}
		table.Render()
	}
	if len(res.Medications) > 0 {
		fmt.Fprintln(out, "\nMedications")
		table := newTable(out, "Name", "Dosage", "Frequency", "Route", "Status")
		for _, m := range res.Medications {
			table.Append([]string{m.Name, m.Dosage, m.Frequency, m.Route, string(m.Status)})
		}
		table.Render()
	}
	if len(res.Conditions) > 0 {
		fmt.Fprintln(out, "\nConditions")
		table := newTable(out, "Name", "Status")
		for _, c := range res.Conditions {
			table.Append([]string{c.Name, string(c.Status)})
		}
		table.Render()
	}
	if len(res.Imaging) > 0 {
		fmt.Fprintln(out, "\nImaging")
		table := newTable(out, "Study", "Modality", "Impression")
		for _, i := range res.Imaging {
			table.Append([]string{i.StudyName, i.Modality, truncate(i.Impression, 60)})
		}
		table.Render()
	}
	if len(res.Vitals) > 0 {
		fmt.Fprintln(out, "\nVitals")
		table := newTable(out, "Type", "Value", "Unit")
		for _, v := range res.Vitals {
			table.Append([]string{v.Type, v.Value.String(), v.Unit})
		}
		table.Render()
	}
	if res.RecordCount() == 0 {
		fmt.Fprintln(out, color.YellowString("No records extracted."))
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(out, "%s %s\n", color.YellowString("warning:"), w)
	}
}

func confidenceLabel(c float64) string {
	switch {
	case c >= 0.8:
		return color.GreenString(percent(c))
	case c >= 0.5:
		return color.YellowString(percent(c))
	default:
		return color.RedString(percent(c))
	}
}

func labStatus(s clinical.LabStatus) string {
	switch s {
	case clinical.LabStatusCritical:
		return color.RedString(string(s))
	case clinical.LabStatusHigh, clinical.LabStatusLow:
		return color.YellowString(string(s))
	}
	return string(s)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

//Personal.AI order the ending
