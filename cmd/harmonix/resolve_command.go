package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"harmonix/internal/host"
	"harmonix/internal/logging"
	"harmonix/internal/resolver"
)

type resolveReport struct {
	Resolved    bool              `json:"resolved"`
	Error       string            `json:"error,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Candidates  *candidateReport  `json:"candidates,omitempty"`
}

type candidateReport struct {
	Entry   []candidate `json:"entry"`
	Runtime []candidate `json:"runtime"`
	AuxTool []candidate `json:"aux_tool"`
}

type candidate struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var showCandidates bool

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show how the worker, interpreter and codec tool resolve",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			r, err := host.NewResolver(cfg, logging.NewNop())
			if err != nil {
				return err
			}

			report := resolveReport{}
			env, resolveErr := r.Resolve()
			if resolveErr != nil {
				report.Error = resolveErr.Error()
			} else {
				report.Resolved = true
				report.Environment = make(map[string]string)
				for _, field := range env.Summary() {
					report.Environment[field.Name] = field.Value
				}
			}
			// A failed resolution always lists what was checked.
			if showCandidates || resolveErr != nil {
				workDir, err := r.WorkDir()
				if err != nil {
					return err
				}
				report.Candidates = &candidateReport{
					Entry:   markExisting(r.EntryCandidates(workDir)),
					Runtime: markExisting(r.RuntimeCandidates()),
					AuxTool: markExisting(r.AuxToolCandidates(workDir)),
				}
			}

			if jsonOutput {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				renderResolve(cmd, env, report)
			}
			if resolveErr != nil {
				return resolutionExit(resolveErr)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&showCandidates, "candidates", false, "List every candidate path in search order")
	return cmd
}

func renderResolve(cmd *cobra.Command, env *resolver.Environment, report resolveReport) {
	out := cmd.OutOrStdout()
	if env != nil {
		rows := make([][]string, 0, 8)
		for _, field := range env.Summary() {
			value := field.Value
			if value == "" {
				value = "-"
			}
			rows = append(rows, []string{field.Name, value})
		}
		fmt.Fprintln(out, renderFields(rows))
	} else {
		fmt.Fprintf(out, "Resolution failed: %s\n", report.Error)
	}
	if report.Candidates == nil {
		return
	}
	rows := make([][]string, 0, 32)
	appendRows := func(kind string, list []candidate) {
		for _, c := range list {
			rows = append(rows, []string{kind, c.Path, yesNo(c.Exists)})
		}
	}
	appendRows("entry", report.Candidates.Entry)
	appendRows("runtime", report.Candidates.Runtime)
	appendRows("aux_tool", report.Candidates.AuxTool)
	fmt.Fprintln(out, renderTable([]string{"Kind", "Candidate", "Exists"}, rows, nil))
}

func markExisting(paths []string) []candidate {
	out := make([]candidate, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		out = append(out, candidate{Path: p, Exists: err == nil && !info.IsDir()})
	}
	return out
}

// resolutionExit shortens the error returned to main; the report already
// carries the full candidate list.
func resolutionExit(err error) error {
	var resErr *resolver.ResolutionError
	if errors.As(err, &resErr) {
		return resErr.Err
	}
	return err
}
