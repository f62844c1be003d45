package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"harmonix/internal/daemonctl"
	"harmonix/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, snap)
			}
			renderStatus(cmd, snap)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print status as JSON")
	return cmd
}

func renderStatus(cmd *cobra.Command, status *daemonctl.Snapshot) {
	out := cmd.OutOrStdout()
	uptime := "-"
	if status.Running && !status.StartedAt.IsZero() {
		uptime = time.Since(status.StartedAt).Round(time.Second).String()
	}
	active := "none"
	if len(status.Active) > 0 {
		active = strings.Join(status.Active, ", ")
	}
	pid := "-"
	if status.Running {
		pid = strconv.Itoa(status.PID)
	}
	rows := [][]string{
		{"Running", yesNo(status.Running)},
		{"PID", pid},
		{"Uptime", uptime},
		{"Active", active},
		{"Socket", status.SocketPath},
		{"History", status.HistoryPath},
		{"Dependencies", status.DependencySummary.Detail},
	}
	keys := make([]string, 0, len(status.Stats))
	for k := range status.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, []string{"Invocations " + k, strconv.Itoa(status.Stats[k])})
	}
	fmt.Fprintln(out, renderFields(rows))

	if !status.Running {
		fmt.Fprintln(out, "Daemon not running (start it with `harmonix start`)")
	}
	if len(status.Checks) == 0 {
		return
	}
	checks := make([][]string, 0, len(status.Checks))
	for _, c := range status.Checks {
		checks = append(checks, []string{c.Name, passLabel(c.Passed), c.Detail})
	}
	fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, checks, nil))
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a running invocation on the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if !resp.Canceled {
					return fmt.Errorf("invocation %s is not running", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Canceled %s\n", args[0])
				return nil
			})
		},
	}
}
