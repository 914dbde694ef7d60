package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/artpar/dahlia-deploy/internal/core/monitoring"
)

// Report formats accepted by --format.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatYAML = "yaml"
)

var reportFormats = []string{FormatJSON, FormatText, FormatYAML}

// ErrLogFileNotFound is returned when the analyzed log file does not exist.
var ErrLogFileNotFound = errors.New("log file not found")

// maxLogLine bounds a single scanned log line.
const maxLogLine = 1 << 20

type analyzeOptions struct {
	logFile string
	output  string
	format  string
	window  time.Duration
}

func (a *app) newAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Summarize requests and errors from an application log",
		Long: `Scan an application log for request and error lines and produce a
health report. JSON and YAML reports are written to --output; the text
report is printed.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAnalyze(opts)
		},
	}

	cmd.Flags().StringVar(&opts.logFile, "log-file", "/tmp/dahlia.log", "application log file to analyze")
	cmd.Flags().StringVar(&opts.output, "output", "analytics_report.json", "report output file")
	cmd.Flags().StringVar(&opts.format, "format", FormatJSON, "report format (json|text|yaml)")
	cmd.Flags().DurationVar(&opts.window, "window", monitoring.DefaultWindow, "report window")
	return cmd
}

func (a *app) runAnalyze(opts *analyzeOptions) error {
	if !slices.Contains(reportFormats, opts.format) {
		return usageErrorf("invalid --format %q (choose from json, text, yaml)", opts.format)
	}
	if opts.window <= 0 {
		return usageErrorf("--window must be positive")
	}

	fmt.Fprintln(a.stdout, "Dahlia Analytics Starting...")

	analyzer, err := a.processLogFile(opts.logFile)
	if err != nil {
		return err
	}
	report := analyzer.Report(a.now(), opts.window)

	switch opts.format {
	case FormatText:
		fmt.Fprintln(a.stdout)
		fmt.Fprint(a.stdout, report.Text())
		return nil
	case FormatYAML:
		data, err := yaml.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return a.writeReport(opts.output, data)
	default:
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return a.writeReport(opts.output, append(data, '\n'))
	}
}

// processLogFile classifies every line of path, stamping entries as they
// are read.
func (a *app) processLogFile(path string) (*monitoring.Analyzer, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrLogFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	analyzer := monitoring.NewAnalyzer()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for scanner.Scan() {
		analyzer.Add(scanner.Text(), a.now())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return analyzer, nil
}

func (a *app) writeReport(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(a.stdout, "Analytics exported to %s\n", path)
	return nil
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageErrorf("%q accepts no arguments, got %q", cmd.CommandPath(), args[0])
	}
	return nil
}
