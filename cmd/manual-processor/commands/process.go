package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/manual-processor/cmd/manual-processor/ui"
	"github.com/spherical/manual-processor/internal/app"
	"github.com/spherical/manual-processor/internal/jobs"
	"github.com/spherical/manual-processor/internal/reference"
)

const pollInterval = 300 * time.Millisecond

var (
	processOutputDir string
	processPageRange string
	processWorkDir   string
)

var processCmd = &cobra.Command{
	Use:   "process <pdf>",
	Short: "Convert a PDF manual into English reference markdown",
	Long: `Run the full pipeline on a PDF manual: language scan, OCR of the selected
section, translation to English when needed and reference generation.
Press Ctrl-C once to cancel after the current page, twice to abort.`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processOutputDir, "output", "o", "", "directory to copy the reference and images into")
	processCmd.Flags().StringVar(&processPageRange, "pages", "", "process this 1-based page range (e.g. 12-40) instead of scanning")
	processCmd.Flags().StringVar(&processWorkDir, "work-dir", "", "job working directory (overrides config)")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	pdfPath := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if processPageRange != "" {
		cfg.Language.PageRange = processPageRange
	}
	if processWorkDir != "" {
		cfg.Jobs.WorkDir = processWorkDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	services, err := app.New(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	mgr := services.Manager
	defer mgr.Close()

	f, err := os.Open(pdfPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", pdfPath, err)
	}
	token, err := mgr.Submit(ctx, filepath.Base(pdfPath), f)
	f.Close()
	if err != nil {
		return err
	}

	ui.Section("Processing " + filepath.Base(pdfPath))
	if ui.Verbose() {
		ui.KeyValue("Job", token)
		ui.KeyValue("Vision model", cfg.Inference.VisionModel)
		ui.KeyValue("Text model", cfg.Inference.TextModel)
		ui.Newline()
	}

	start := time.Now()
	snap, err := watch(mgr, token)
	if err != nil {
		return err
	}

	ui.Newline()
	switch snap.Status {
	case jobs.StatusComplete:
		return reportComplete(mgr, snap, time.Since(start))
	case jobs.StatusCancelled:
		ui.Warning("Processing cancelled")
		return nil
	default:
		return errors.New("processing failed")
	}
}

// watch renders job progress until the job finishes. The first interrupt
// requests cancellation; a second one aborts.
func watch(mgr *jobs.Manager, token string) (jobs.Snapshot, error) {
	done, err := mgr.Done(token)
	if err != nil {
		return jobs.Snapshot{}, err
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	view := newProgressView()
	defer view.close()

	cancelling := false
	for {
		select {
		case <-ticker.C:
			if err := view.refresh(mgr, token); err != nil {
				return jobs.Snapshot{}, err
			}
		case <-done:
			if err := view.refresh(mgr, token); err != nil {
				return jobs.Snapshot{}, err
			}
			return mgr.Poll(token)
		case <-sigs:
			if cancelling {
				return jobs.Snapshot{}, errors.New("aborted")
			}
			cancelling = true
			if _, err := mgr.Cancel(token); err != nil {
				return jobs.Snapshot{}, err
			}
			view.interrupt("Cancelling after the current page (Ctrl-C again to abort)")
		}
	}
}

func reportComplete(mgr *jobs.Manager, snap jobs.Snapshot, elapsed time.Duration) error {
	path, err := mgr.ReferencePath(snap.Token)
	if err != nil {
		return err
	}

	if processOutputDir != "" {
		path, err = copyArtifacts(path, processOutputDir)
		if err != nil {
			return err
		}
	}

	ui.Success("Reference generated in %s", ui.FormatDuration(elapsed))
	ui.KeyValue("Output", path)
	if snap.DetectedLanguage != "" {
		ui.KeyValue("Detected language", snap.DetectedLanguage)
	}
	if snap.Translated != nil {
		ui.KeyValue("Translated", strconv.FormatBool(*snap.Translated))
	}
	return nil
}

// copyArtifacts copies the reference and its images directory into dir and
// returns the new reference path.
func copyArtifacts(refPath, dir string) (string, error) {
	if err := os.MkdirAll(filepath.Join(dir, reference.ImagesDir), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	dst := filepath.Join(dir, filepath.Base(refPath))
	if err := copyFile(refPath, dst); err != nil {
		return "", err
	}

	srcImages := filepath.Join(filepath.Dir(refPath), reference.ImagesDir)
	entries, err := os.ReadDir(srcImages)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read images: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(srcImages, e.Name()), filepath.Join(dir, reference.ImagesDir, e.Name())); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

var pageLine = regexp.MustCompile(`^\[(?:OK|WARN)\] Page (\d+)/(\d+) `)

// pageProgress extracts "i/total" from a per-page job log line
func pageProgress(line string) (current, total int, ok bool) {
	m := pageLine.FindStringSubmatch(line)
	if m == nil {
		return 0, 0, false
	}
	current, _ = strconv.Atoi(m[1])
	total, _ = strconv.Atoi(m[2])
	return current, total, true
}

// stageMessage is the spinner text shown while a job is in stage s
func stageMessage(s jobs.Stage) string {
	switch s {
	case jobs.StageStarting, jobs.StageLanguageScan:
		return "Scanning for language sections..."
	case jobs.StageOCRExtraction:
		return "Extracting pages..."
	case jobs.StageOCRComplete, jobs.StageLanguageDetection:
		return "Detecting language..."
	case jobs.StageTranslating:
		return "Translating to English..."
	case jobs.StageGeneratingReference:
		return "Generating reference..."
	default:
		return ""
	}
}

// progressView prints new job log lines and drives the spinner and page bar
type progressView struct {
	seen    int
	stage   jobs.Stage
	spinner *ui.Spinner
	bar     *ui.ProgressBar
}

func newProgressView() *progressView {
	return &progressView{spinner: ui.NewSpinner(stageMessage(jobs.StageStarting))}
}

func (v *progressView) refresh(mgr *jobs.Manager, token string) error {
	snap, err := mgr.Poll(token)
	if err != nil {
		return err
	}

	if snap.Stage != v.stage {
		v.setStage(snap.Stage)
	}

	for _, line := range snap.Logs[min(v.seen, len(snap.Logs)):] {
		v.line(line)
	}
	v.seen = len(snap.Logs)
	return nil
}

func (v *progressView) setStage(s jobs.Stage) {
	if v.stage == jobs.StageOCRExtraction && v.bar != nil {
		v.bar.Finish()
		v.bar = nil
	}
	v.stage = s

	msg := stageMessage(s)
	switch {
	case msg == "" || s == jobs.StageOCRExtraction:
		v.spinner.Stop()
	case v.spinner.Active():
		v.spinner.UpdateMessage(msg)
	default:
		v.spinner.UpdateMessage(msg)
		v.spinner.Start()
	}
}

func (v *progressView) line(line string) {
	current, total, isPage := pageProgress(line)
	if isPage {
		if v.bar == nil {
			v.bar = ui.NewProgressBar(int64(total), "OCR")
		}
		v.bar.SetTotal(int64(total))
		// Successful pages only advance the bar unless verbose
		if line[1] == 'O' && !ui.Verbose() {
			v.bar.Set(int64(current))
			return
		}
	}

	v.print(line)
	if isPage {
		v.bar.Set(int64(current))
	}
}

func (v *progressView) interrupt(msg string) {
	if v.bar != nil {
		v.bar.Clear()
	}
	ui.Warning("%s", msg)
}

func (v *progressView) print(line string) {
	if v.bar != nil {
		v.bar.Clear()
	}
	active := v.spinner.Active()
	if active {
		v.spinner.Stop()
	}
	ui.JobLog(line)
	if active {
		v.spinner.Start()
	}
}

func (v *progressView) close() {
	v.spinner.Stop()
	if v.bar != nil {
		v.bar.Finish()
	}
}
