package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"harmonix/internal/history"
	"harmonix/internal/host"
	"harmonix/internal/ipc"
	"harmonix/internal/logging"
	"harmonix/internal/protocol"
)

// progressPollWait is how long one remote Progress call may block.
const progressPollWait = time.Second

type convertOptions struct {
	operation  string
	format     string
	output     string
	overwrite  bool
	concurrent int
	jsonOutput bool
	remote     bool
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var opts convertOptions

	cmd := &cobra.Command{
		Use:   "convert FILES...",
		Short: "Convert audio files through the worker",
		Long: `Convert sends one request to the conversion worker and waits for its result.

Arguments may be glob patterns, including ** for recursive matches. Progress is
shown as a live status line on a terminal; with --json every worker message is
printed as one JSON line followed by the outcome.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := expandInputs(args)
			if err != nil {
				return err
			}
			output, err := filepath.Abs(strings.TrimSpace(opts.output))
			if err != nil {
				return fmt.Errorf("resolve output: %w", err)
			}
			req := protocol.Request{
				Operation:       protocol.Operation(strings.TrimSpace(opts.operation)),
				Files:           files,
				Format:          strings.TrimSpace(opts.format),
				Output:          output,
				ConcurrentFiles: opts.concurrent,
			}
			if cmd.Flags().Changed("overwrite") {
				overwrite := opts.overwrite
				req.OverwriteExisting = &overwrite
			}
			if err := req.Validate(); err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			renderer := newProgressRenderer(cmd.OutOrStdout(), opts.jsonOutput)
			var outcome host.Outcome
			if opts.remote {
				outcome, err = convertRemote(runCtx, ctx, req, renderer)
			} else {
				outcome, err = convertLocal(runCtx, ctx, req, renderer)
			}
			renderer.Finish()
			if outcome.InvocationID == "" || outcome.Status == "" {
				if err == nil {
					err = errors.New("conversion did not report an outcome")
				}
				return err
			}
			return reportOutcome(cmd, outcome, opts.jsonOutput)
		},
	}

	cmd.Flags().StringVar(&opts.operation, "operation", string(protocol.OpConvert), "Worker operation (convert, master, trim)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Target audio format (mp3, flac, wav, ...)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output directory")
	cmd.Flags().BoolVar(&opts.overwrite, "overwrite", true, "Replace existing output files")
	cmd.Flags().IntVar(&opts.concurrent, "concurrent", 0, "Files converted in parallel by the worker (0 uses the worker default)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print worker messages and the outcome as JSON")
	cmd.Flags().BoolVar(&opts.remote, "remote", false, "Run through the harmonix daemon instead of in-process")
	_ = cmd.MarkFlagRequired("format")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func convertLocal(runCtx context.Context, ctx *commandContext, req protocol.Request, renderer *progressRenderer) (host.Outcome, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return host.Outcome{}, err
	}
	logger, err := ctx.logger()
	if err != nil {
		return host.Outcome{}, err
	}
	store, err := history.Open(cfg)
	if err != nil {
		return host.Outcome{}, err
	}
	defer store.Close()

	svc := host.New(cfg, host.WithLogger(logger), host.WithHistory(store))
	defer svc.Close()

	return svc.Convert(runCtx, req, func(msg protocol.Message) {
		kind := "progress"
		if msg.Kind == protocol.KindComplete {
			kind = "complete"
		}
		renderer.Render(kind, msg.Payload())
	})
}

func convertRemote(runCtx context.Context, ctx *commandContext, req protocol.Request, renderer *progressRenderer) (host.Outcome, error) {
	var outcome host.Outcome
	err := ctx.withClient(func(client *ipc.Client) error {
		started, err := client.Start(req)
		if err != nil {
			return err
		}
		id := started.InvocationID

		var cursor uint64
		for {
			if runCtx.Err() != nil {
				if _, err := client.Cancel(id); err != nil {
					return err
				}
				break
			}
			batch, err := client.Progress(ipc.ProgressRequest{
				InvocationID: id,
				Since:        cursor,
				WaitMillis:   int(progressPollWait / time.Millisecond),
			})
			if err != nil {
				return err
			}
			if batch.Dropped {
				if logger, err := ctx.logger(); err == nil {
					logger.Warn("progress events were evicted before delivery",
						logging.String("invocation_id", id),
						logging.String(logging.FieldEventType, "progress_gap"),
					)
				}
			}
			for _, evt := range batch.Events {
				renderer.Render(string(evt.Kind), evt.Payload)
			}
			cursor = batch.Next
			if batch.Done {
				break
			}
		}

		resp, err := client.Outcome(ipc.OutcomeRequest{InvocationID: id, WaitMillis: int(time.Minute / time.Millisecond)})
		if err != nil {
			return err
		}
		if resp.Running {
			return fmt.Errorf("invocation %s still running", id)
		}
		outcome = resp.Outcome
		return nil
	})
	return outcome, err
}

func reportOutcome(cmd *cobra.Command, outcome host.Outcome, jsonOutput bool) error {
	if jsonOutput {
		if err := writeJSONLine(cmd.OutOrStdout(), outcome); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		if outcome.Succeeded() {
			line := outcome.Result.Status
			if outcome.Result.Message != "" {
				line += ": " + outcome.Result.Message
			}
			fmt.Fprintf(out, "%s (%s)\n", line, outcome.Duration().Round(time.Millisecond))
			for _, path := range outcome.Result.Outputs {
				fmt.Fprintf(out, "  %s\n", path)
			}
		}
	}
	if !outcome.Succeeded() {
		return fmt.Errorf("%s: %s", outcome.Status, outcome.Error)
	}
	return nil
}

// expandInputs resolves glob patterns and makes every input absolute. A
// pattern that matches nothing is an error; literal paths pass through for
// the worker to report.
func expandInputs(args []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	add := func(path string) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		if _, ok := seen[abs]; ok {
			return nil
		}
		seen[abs] = struct{}{}
		files = append(files, abs)
		return nil
	}

	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		if !strings.ContainsAny(arg, "*?[{") {
			if err := add(arg); err != nil {
				return nil, err
			}
			continue
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", arg)
		}
		for _, match := range matches {
			if err := add(match); err != nil {
				return nil, err
			}
		}
	}
	if len(files) == 0 {
		return nil, errors.New("no input files")
	}
	return files, nil
}
