package ipc_test

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"harmonix/internal/daemon"
	"harmonix/internal/history"
	"harmonix/internal/host"
	"harmonix/internal/ipc"
	"harmonix/internal/logging"
	"harmonix/internal/protocol"
	"harmonix/internal/testsupport"
)

const worker = `read -r line
case "$line" in
  *slow*) sleep 30 ;;
esac
echo '{"event":"progress","pct":10}'
echo 'not json'
echo '{"event":"progress","pct":90}'
echo '{"event":"complete","status":"ok","message":"converted","outputs":["/tmp/a.mp3"]}'
`

func startServer(t *testing.T) *ipc.Client {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets and shell workers")
	}
	cfg := testsupport.NewConfig(t, testsupport.WithWorkerScript(worker))
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	svc := host.New(cfg, host.WithHistory(store), host.WithLogger(logger))
	d, err := daemon.New(cfg, svc, store, logger, daemon.WithoutPreflight())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon Start: %v", err)
	}

	socket := filepath.Join(cfg.Paths.StateDir, "harmonix.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
	})

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return client
}

func request(format string) protocol.Request {
	return protocol.Request{Operation: protocol.OpConvert, Files: []string{"a.wav"}, Format: format, Output: "/tmp"}
}

func TestIPCConvertAndHistory(t *testing.T) {
	client := startServer(t)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.PID == 0 {
		t.Fatalf("unexpected status %#v", status)
	}

	resp, err := client.Convert(request("mp3"))
	if err != nil {
		t.Fatalf("Convert RPC failed: %v", err)
	}
	if resp.Outcome.Status != history.StatusSucceeded {
		t.Fatalf("expected success, got %#v", resp.Outcome)
	}
	if resp.Outcome.Result.Message != "converted" || len(resp.Outcome.Result.Outputs) != 1 {
		t.Fatalf("unexpected result %#v", resp.Outcome.Result)
	}
	if resp.Outcome.ProgressEvents != 3 {
		t.Fatalf("expected 3 forwarded messages, got %d", resp.Outcome.ProgressEvents)
	}

	rejected, err := client.Convert(protocol.Request{Operation: "shred", Files: []string{"a.wav"}, Format: "mp3", Output: "/tmp"})
	if err != nil {
		t.Fatalf("Convert RPC failed: %v", err)
	}
	if rejected.Outcome.Status != history.StatusRejected || rejected.Outcome.Error == "" {
		t.Fatalf("expected rejected outcome, got %#v", rejected.Outcome)
	}

	hist, err := client.History(10, nil)
	if err != nil {
		t.Fatalf("History RPC failed: %v", err)
	}
	if len(hist.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(hist.Records))
	}
	if hist.Records[0].ID != rejected.Outcome.InvocationID {
		t.Fatalf("expected newest record first, got %s", hist.Records[0].ID)
	}

	onlyOK, err := client.History(10, []string{"succeeded"})
	if err != nil {
		t.Fatalf("History filter failed: %v", err)
	}
	if len(onlyOK.Records) != 1 || onlyOK.Records[0].ID != resp.Outcome.InvocationID {
		t.Fatalf("unexpected filtered history %#v", onlyOK.Records)
	}

	if _, err := client.History(10, []string{"bogus"}); err == nil {
		t.Fatal("expected unknown status to be refused")
	}

	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.Stats["succeeded"] != 1 || status.Stats["rejected"] != 1 {
		t.Fatalf("unexpected stats %#v", status.Stats)
	}
}

func TestIPCStartAndFollowProgress(t *testing.T) {
	client := startServer(t)

	started, err := client.Start(request("mp3"))
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if started.InvocationID == "" {
		t.Fatal("expected invocation id")
	}

	var events []ipc.ProgressEvent
	var cursor uint64
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		batch, err := client.Progress(ipc.ProgressRequest{InvocationID: started.InvocationID, Since: cursor, WaitMillis: 500})
		if err != nil {
			t.Fatalf("Progress RPC failed: %v", err)
		}
		events = append(events, batch.Events...)
		cursor = batch.Next
		if batch.Done {
			break
		}
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %#v", events)
	}
	if events[2].Kind != "complete" {
		t.Fatalf("expected last event complete, got %s", events[2].Kind)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Sequence <= events[i-1].Sequence {
			t.Fatalf("events out of order: %#v", events)
		}
	}

	outcome, err := client.Outcome(ipc.OutcomeRequest{InvocationID: started.InvocationID, WaitMillis: 5000})
	if err != nil {
		t.Fatalf("Outcome RPC failed: %v", err)
	}
	if outcome.Running || outcome.Outcome.Status != history.StatusSucceeded {
		t.Fatalf("unexpected outcome %#v", outcome)
	}
}

func TestIPCCancel(t *testing.T) {
	client := startServer(t)

	if resp, err := client.Cancel("missing"); err != nil || resp.Canceled {
		t.Fatalf("expected unknown cancel to be a no-op, got %#v, %v", resp, err)
	}

	started, err := client.Start(request("slow"))
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	pending, err := client.Outcome(ipc.OutcomeRequest{InvocationID: started.InvocationID})
	if err != nil {
		t.Fatalf("Outcome RPC failed: %v", err)
	}
	if !pending.Running {
		t.Fatalf("expected running invocation, got %#v", pending)
	}

	resp, err := client.Cancel(started.InvocationID)
	if err != nil || !resp.Canceled {
		t.Fatalf("expected cancel to succeed, got %#v, %v", resp, err)
	}
	outcome, err := client.Outcome(ipc.OutcomeRequest{InvocationID: started.InvocationID, WaitMillis: 10000})
	if err != nil {
		t.Fatalf("Outcome RPC failed: %v", err)
	}
	if outcome.Running || outcome.Outcome.Status != history.StatusFailed {
		t.Fatalf("expected failed outcome after cancel, got %#v", outcome)
	}
	if !strings.Contains(outcome.Outcome.Error, "context canceled") {
		t.Fatalf("expected cancellation in error, got %q", outcome.Outcome.Error)
	}

	if _, err := client.Outcome(ipc.OutcomeRequest{InvocationID: "missing"}); err == nil {
		t.Fatal("expected unknown invocation error")
	}
}
