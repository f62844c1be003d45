package host

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const outputLockRetry = 250 * time.Millisecond

// outputDir is the directory an invocation writes into: output itself when it
// is an existing directory, otherwise its parent.
func outputDir(output string) string {
	cleaned := filepath.Clean(output)
	if info, err := os.Stat(cleaned); err == nil && info.IsDir() {
		return cleaned
	}
	return filepath.Dir(cleaned)
}

// lockOutput blocks until the output directory's lock is held. Lock files live
// under lockDir so user directories are never touched.
func lockOutput(ctx context.Context, lockDir, output string) (*flock.Flock, error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	abs, err := filepath.Abs(outputDir(output))
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	sum := sha256.Sum256([]byte(abs))
	lock := flock.New(filepath.Join(lockDir, hex.EncodeToString(sum[:8])+".lock"))
	ok, err := lock.TryLockContext(ctx, outputLockRetry)
	if err != nil {
		return nil, fmt.Errorf("lock output directory %s: %w", abs, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock output directory %s: not acquired", abs)
	}
	return lock, nil
}
