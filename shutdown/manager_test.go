package shutdown

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sdcampaign/core"
	"sdcampaign/logging"
)

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *observer.ObservedLogs, *[]int) {
	t.Helper()
	zcore, logs := observer.New(zapcore.DebugLevel)
	var exits []int
	opts = append(opts, WithExitFunc(func(code int) { exits = append(exits, code) }))
	return NewManager(logging.NewFromZap(zap.New(zcore)), opts...), logs, &exits
}

func TestManager_FirstSignalCancels(t *testing.T) {
	manager, logs, exits := newTestManager(t)

	manager.handle(os.Interrupt)

	select {
	case <-manager.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not canceled by the first signal")
	}
	if len(*exits) != 0 {
		t.Errorf("exit called after one signal: %v", *exits)
	}
	if manager.ExitCode() != core.ExitCodeSIGINT {
		t.Errorf("ExitCode() = %d, want %d", manager.ExitCode(), core.ExitCodeSIGINT)
	}
	if logs.FilterMessageSnippet("stopping after the current request").Len() != 1 {
		t.Error("missing stop notice")
	}
}

func TestManager_SecondSignalForcesExit(t *testing.T) {
	manager, _, exits := newTestManager(t)

	manager.handle(syscall.SIGTERM)
	manager.handle(os.Interrupt)

	if len(*exits) != 1 || (*exits)[0] != core.ExitCodeSIGTERM {
		t.Errorf("exits = %v, want [%d]", *exits, core.ExitCodeSIGTERM)
	}
}

func TestManager_NoSignal(t *testing.T) {
	manager, _, _ := newTestManager(t)

	if manager.Signal() != nil || manager.ExitCode() != core.ExitCodeSuccess {
		t.Errorf("Signal()=%v ExitCode()=%d", manager.Signal(), manager.ExitCode())
	}
	if manager.Context().Err() != nil {
		t.Error("context canceled without a signal")
	}
}

func TestManager_ShutdownRunsCleanup(t *testing.T) {
	manager, logs, _ := newTestManager(t, WithTimeout(time.Second))
	var order []string
	manager.Register("database", 30, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("cleanup context has no deadline")
		}
		order = append(order, "database")
		return nil
	})
	manager.Register("history-flush", 10, func(ctx context.Context) error {
		order = append(order, "history-flush")
		return errors.New("queue stuck")
	})
	manager.Start()

	err := manager.Shutdown()
	if err == nil || err.Error() != "history-flush: queue stuck" {
		t.Errorf("Shutdown() error = %v", err)
	}
	if len(order) != 2 || order[0] != "history-flush" {
		t.Errorf("order = %v", order)
	}
	if logs.FilterMessage("cleanup failed").Len() != 1 {
		t.Error("cleanup failure not logged")
	}
	if manager.Context().Err() == nil {
		t.Error("context should be canceled after Shutdown")
	}

	if err := manager.Shutdown(); err != nil {
		t.Errorf("second Shutdown() = %v", err)
	}
	if len(order) != 2 {
		t.Error("cleanup ran twice")
	}
}

func TestManager_WithParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	manager, _, _ := newTestManager(t, WithParent(parent))

	cancel()
	if manager.Context().Err() == nil {
		t.Error("parent cancellation not propagated")
	}
	if manager.Signal() != nil {
		t.Error("parent cancellation is not a signal")
	}
}

func TestManager_StartIdempotent(t *testing.T) {
	manager, _, _ := newTestManager(t)
	manager.Start()
	manager.Start()
	if err := manager.Shutdown(); err != nil {
		t.Fatal(err)
	}
}
