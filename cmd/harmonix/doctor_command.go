package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"harmonix/internal/deps"
	"harmonix/internal/host"
	"harmonix/internal/logging"
	"harmonix/internal/preflight"
)

type doctorReport struct {
	Checks       []checkRow    `json:"checks"`
	Dependencies []deps.Status `json:"dependencies,omitempty"`
	Passed       bool          `json:"passed"`
}

type checkRow struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var skipProbe bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the worker bundle and host directories are usable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var prober preflight.Prober
			if !skipProbe {
				prober = host.NewSupervisor(cfg, logging.NewNop())
			}
			results := preflight.RunAll(cmd.Context(), cfg, prober)

			report := doctorReport{Passed: len(preflight.Failed(results)) == 0}
			for _, r := range results {
				report.Checks = append(report.Checks, checkRow{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
			}
			if _, env := preflight.CheckResolution(cfg); env != nil {
				report.Dependencies = preflight.CheckSystemDeps(env)
				if len(deps.Missing(report.Dependencies)) > 0 {
					report.Passed = false
				}
			}

			if jsonOutput {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				renderDoctor(cmd, report)
			}
			if !report.Passed {
				return fmt.Errorf("doctor: %d check(s) failed", countFailures(report))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&skipProbe, "skip-probe", false, "Do not start the worker for the readiness check")
	return cmd
}

func renderDoctor(cmd *cobra.Command, report doctorReport) {
	out := cmd.OutOrStdout()
	rows := make([][]string, 0, len(report.Checks))
	for _, c := range report.Checks {
		rows = append(rows, []string{c.Name, passLabel(c.Passed), c.Detail})
	}
	fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, rows, nil))

	if len(report.Dependencies) == 0 {
		return
	}
	rows = rows[:0]
	for _, d := range report.Dependencies {
		state := passLabel(d.Available)
		if !d.Available && d.Optional {
			state = "optional"
		}
		detail := d.Command
		if d.Detail != "" {
			detail = d.Detail
		}
		rows = append(rows, []string{d.Name, state, detail, d.Description})
	}
	fmt.Fprintln(out, renderTable([]string{"Dependency", "Result", "Command", "Purpose"}, rows, nil))
}

func passLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAIL"
}

func countFailures(report doctorReport) int {
	n := 0
	for _, c := range report.Checks {
		if !c.Passed {
			n++
		}
	}
	n += len(deps.Missing(report.Dependencies))
	return n
}
