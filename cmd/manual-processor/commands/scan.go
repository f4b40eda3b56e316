package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/spherical/manual-processor/cmd/manual-processor/ui"
	"github.com/spherical/manual-processor/internal/app"
	"github.com/spherical/manual-processor/internal/language"
	"github.com/spherical/manual-processor/internal/pdf"
)

var scanCmd = &cobra.Command{
	Use:   "scan <pdf>",
	Short: "Show the language sections of a PDF manual",
	Long: `Sample the native text of a PDF manual, group the pages into language
sections and show which section the process command would extract.
No OCR or translation is performed.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	pdfPath := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	validator := pdf.NewValidator(cfg.Jobs.MaxUploadMB << 20)
	if err := validator.ValidatePDFPath(pdfPath); err != nil {
		return err
	}

	detector, err := app.NewDetector(cfg, validator, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	spinner := ui.NewSpinner("Scanning for language sections...")
	spinner.Start()
	sel, err := detector.Detect(ctx, pdfPath)
	spinner.Stop()
	if err != nil {
		return err
	}

	ui.Section("Language sections")
	if len(sel.Sections) > 0 {
		ui.Table(os.Stdout, []string{"LANGUAGE", "PAGES", "COUNT", "SELECTED"}, sectionRows(sel))
		ui.Newline()
	}
	if ui.Verbose() && len(sel.Samples) > 0 {
		ui.Table(os.Stdout, []string{"PAGE", "SAMPLED AS"}, sampleRows(sel))
		ui.Newline()
	}

	switch {
	case sel.Override:
		ui.Info("Using configured page range %d-%d", sel.StartPage+1, sel.EndPage+1)
	case sel.FullDocument:
		ui.Warning("No clear language sections detected, the whole document would be extracted")
	default:
		ui.Success("Selected %s", sel.String())
	}
	return nil
}

func sectionRows(sel language.Selection) [][]string {
	rows := make([][]string, 0, len(sel.Sections))
	for _, s := range sel.Sections {
		mark := ""
		if !sel.FullDocument && s.StartPage == sel.StartPage && s.EndPage == sel.EndPage {
			mark = "*"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%s (%s)", language.DisplayName(s.Language), s.Language),
			fmt.Sprintf("%d-%d", s.StartPage+1, s.EndPage+1),
			strconv.Itoa(s.PageCount()),
			mark,
		})
	}
	return rows
}

func sampleRows(sel language.Selection) [][]string {
	rows := make([][]string, 0, len(sel.Samples))
	for _, s := range sel.Samples {
		rows = append(rows, []string{strconv.Itoa(s.PageIndex + 1), s.Language})
	}
	return rows
}
