package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/examclean/internal/consolidate"
	"github.com/sells-group/examclean/internal/input"
	"github.com/sells-group/examclean/internal/model"
	"github.com/sells-group/examclean/internal/orchestrator"
	"github.com/sells-group/examclean/internal/session"
)

var (
	processInput    string
	processOutput   string
	processFormat   string
	processModel    string
	processReranker string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Clean a file of exam names and write the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("process"); err != nil {
			return err
		}
		if processModel != "" {
			cfg.Service.Model = processModel
		}
		if processReranker != "" {
			cfg.Service.Reranker = processReranker
		}
		return runProcess(cmd.Context(), newSession(cfg), processInput, processOutput, processFormat, cmd.OutOrStdout())
	},
}

// processReport is the file written by the process command.
type processReport struct {
	Strategy   orchestrator.Strategy `json:"strategy" yaml:"strategy"`
	FellBack   bool                  `json:"fell_back" yaml:"fell_back"`
	BatchID    string                `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
	Degraded   bool                  `json:"degraded,omitempty" yaml:"degraded,omitempty"`
	Notice     string                `json:"notice,omitempty" yaml:"notice,omitempty"`
	ResultsURL string                `json:"results_url,omitempty" yaml:"results_url,omitempty"`
	Warnings   []string              `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Stats      consolidate.Stats     `json:"stats" yaml:"stats"`
	Records    []model.MappingRecord `json:"records" yaml:"records"`
}

func runProcess(ctx context.Context, sess *session.Session, inPath, outPath, format string, out io.Writer) error {
	format = strings.ToLower(format)
	if format != "json" && format != "yaml" {
		return eris.Errorf("process: unknown format %q (want json or yaml)", format)
	}

	exams, err := input.Load(inPath)
	if err != nil {
		return err
	}
	if len(exams) == 0 {
		return eris.Errorf("process: no exams with an exam name in %s", inPath)
	}
	zap.L().Info("exams loaded", zap.String("path", inPath), zap.Int("count", len(exams)))

	res, err := sess.Process(ctx, exams)
	if err != nil {
		return err
	}

	stats := sess.Stats()
	printStats(out, res, stats)

	if outPath == "" {
		return nil
	}

	report := processReport{
		Strategy:   res.Strategy,
		FellBack:   res.FellBack,
		BatchID:    res.BatchID,
		Degraded:   res.Degraded,
		Notice:     res.Notice,
		ResultsURL: res.ResultsURL,
		Warnings:   res.Warnings,
		Stats:      stats,
		Records:    res.Records,
	}
	data, err := encodeReport(report, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return eris.Wrapf(err, "process: write %s", outPath)
	}
	zap.L().Info("results written", zap.String("path", outPath), zap.String("format", format))
	return nil
}

func encodeReport(r processReport, format string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if format == "yaml" {
		data, err = yaml.Marshal(r)
	} else {
		data, err = json.MarshalIndent(r, "", "  ")
	}
	if err != nil {
		return nil, eris.Wrapf(err, "process: encode %s", format)
	}
	return data, nil
}

func printStats(w io.Writer, res *orchestrator.RunResult, s consolidate.Stats) {
	fmt.Fprintf(w, "strategy:            %s", res.Strategy)
	if res.FellBack {
		fmt.Fprint(w, " (fell back from batch)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "records:             %d (%d ok, %d errors)\n", s.TotalRecords, s.Successful, s.Errors)
	fmt.Fprintf(w, "unique clean names:  %d\n", s.UniqueCleanNames)
	fmt.Fprintf(w, "consolidation ratio: %.2f\n", s.ConsolidationRate)
	fmt.Fprintf(w, "flagged groups:      %d\n", s.FlaggedGroups)
	if s.SecondaryApplied > 0 {
		fmt.Fprintf(w, "secondary pipeline:  %d applied, %d improved\n", s.SecondaryApplied, s.SecondaryImproved)
	}
	if res.Notice != "" {
		fmt.Fprintf(w, "notice:              %s\n", res.Notice)
	}
}

func init() {
	processCmd.Flags().StringVarP(&processInput, "input", "i", "", "exam file (.csv, .json or .xlsx)")
	processCmd.Flags().StringVarP(&processOutput, "output", "o", "", "write results to this file")
	processCmd.Flags().StringVar(&processFormat, "format", "json", "output format: json or yaml")
	processCmd.Flags().StringVar(&processModel, "model", "", "model override (default from config)")
	processCmd.Flags().StringVar(&processReranker, "reranker", "", "reranker override (default from config)")
	_ = processCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(processCmd)
}
