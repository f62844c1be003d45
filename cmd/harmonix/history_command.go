package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"harmonix/internal/history"
	"harmonix/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var statuses []string
	var jsonOutput bool
	var remote bool

	cmd := &cobra.Command{
		Use:   "history [ID]",
		Short: "List recorded invocations, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote {
				if len(args) == 1 {
					return fmt.Errorf("--remote lists records; drop the ID or read the local store")
				}
				return ctx.withClient(func(client *ipc.Client) error {
					resp, err := client.History(limit, statuses)
					if err != nil {
						return err
					}
					return renderHistory(cmd, resp.Records, jsonOutput)
				})
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				rec, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, ipc.FromRecord(*rec))
				}
				renderRecord(cmd, *rec)
				return nil
			}

			opts := history.ListOptions{Limit: limit}
			for _, raw := range statuses {
				status, ok := history.ParseStatus(strings.TrimSpace(raw))
				if !ok {
					return fmt.Errorf("unknown status %q (want running, succeeded, failed or rejected)", raw)
				}
				opts.Statuses = append(opts.Statuses, status)
			}
			records, err := store.List(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := make([]ipc.HistoryRecord, 0, len(records))
			for _, rec := range records {
				out = append(out, ipc.FromRecord(rec))
			}
			return renderHistory(cmd, out, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records to list")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only list these statuses (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print records as JSON")
	cmd.Flags().BoolVar(&remote, "remote", false, "Query the running daemon instead of the local store")
	return cmd
}

func renderHistory(cmd *cobra.Command, records []ipc.HistoryRecord, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(cmd, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No invocations recorded")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		duration := time.Duration(0)
		if !rec.FinishedAt.IsZero() {
			duration = rec.FinishedAt.Sub(rec.StartedAt)
		}
		rows = append(rows, []string{
			shortID(rec.ID),
			rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Operation,
			strconv.Itoa(len(rec.Files)),
			rec.Format,
			rec.Status,
			formatDuration(duration),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"ID", "Started", "Operation", "Files", "Format", "Status", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight},
	))
	return nil
}

func renderRecord(cmd *cobra.Command, rec history.Record) {
	rows := [][]string{
		{"ID", rec.ID},
		{"Operation", rec.Operation},
		{"Status", string(rec.Status)},
		{"Format", rec.Format},
		{"Output", rec.Output},
		{"Files", strings.Join(rec.Files, "\n")},
		{"Started", rec.StartedAt.Local().Format(time.RFC3339)},
		{"Duration", formatDuration(rec.Duration())},
		{"Interpreter", rec.Interpreter},
		{"Bundled runtime", yesNo(rec.BundledRuntime)},
		{"Progress events", strconv.Itoa(rec.ProgressEvents)},
	}
	if rec.ResultStatus != "" {
		rows = append(rows, []string{"Result", rec.ResultStatus})
	}
	if rec.Message != "" {
		rows = append(rows, []string{"Message", rec.Message})
	}
	if len(rec.Outputs) > 0 {
		rows = append(rows, []string{"Outputs", strings.Join(rec.Outputs, "\n")})
	}
	if rec.ExitCode != nil {
		rows = append(rows, []string{"Exit code", strconv.Itoa(*rec.ExitCode)})
	}
	if rec.ErrorMessage != "" {
		rows = append(rows, []string{"Error", rec.ErrorMessage})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderFields(rows))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
