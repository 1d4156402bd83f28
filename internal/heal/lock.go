package heal

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"
)

const lockTimeout = 5 * time.Second

// fileLock holds an advisory exclusive lock on a backing file. The pattern
// library and failure log are shared between concurrent runs; every
// read-modify-write cycle happens under this lock so usage counters are
// never lost to a racing writer.
type fileLock struct {
	file *os.File
}

// acquireLock takes an exclusive flock on path, creating the file if
// needed. Fails if the lock cannot be acquired within the timeout.
func acquireLock(ctx context.Context, path string) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- syscall.Flock(int(file.Fd()), syscall.LOCK_EX)
	}()

	select {
	case err := <-done:
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to acquire lock on %s: %w", path, err)
		}
		return &fileLock{file: file}, nil
	case <-lockCtx.Done():
		file.Close()
		return nil, fmt.Errorf("%s locked by another process (timeout after %v)", path, lockTimeout)
	}
}

// release drops the lock and closes the file.
func (l *fileLock) release() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return l.file.Close()
}
