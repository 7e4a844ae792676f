package shutdown

import (
	"context"
	"errors"
	"os"
	"reflect"
	"syscall"
	"testing"
	"time"

	"sdgateway/logging"
)

func TestRegistry_RunsInPriorityOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	step := func(name string) Func {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	r.Register("database", PriorityStorage, step("database"))
	r.Register("listener", PriorityListener, step("listener"))
	r.Register("history", PriorityWorkers, step("history"))
	r.Register("drain", PriorityDrain, step("drain"))

	want := []string{"listener", "drain", "history", "database"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if errs := r.Run(context.Background()); len(errs) != 0 {
		t.Fatalf("Run() errors = %v", errs)
	}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestRegistry_ContinuesPastFailures(t *testing.T) {
	r := NewRegistry()
	ran := false
	r.Register("bad", 1, func(context.Context) error { return errors.New("boom") })
	r.Register("good", 2, func(context.Context) error { ran = true; return nil })

	errs := r.Run(context.Background())
	if len(errs) != 1 || errs[0].Error() != "bad: boom" {
		t.Errorf("errors = %v", errs)
	}
	if !ran {
		t.Error("later step skipped after failure")
	}
	if errs := r.Run(context.Background()); errs != nil {
		t.Errorf("second Run() = %v, want nil", errs)
	}
}

func TestManager_ShutdownCancelsContextOnce(t *testing.T) {
	m := NewManager(logging.NewNop(), WithTimeout(time.Second))
	calls := 0
	m.Register("step", PriorityWorkers, func(ctx context.Context) error {
		calls++
		if _, ok := ctx.Deadline(); !ok {
			t.Error("cleanup context has no deadline")
		}
		return nil
	})

	if err := m.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	select {
	case <-m.Context().Done():
	default:
		t.Error("context not cancelled")
	}
}

func TestManager_ReportsFailedSteps(t *testing.T) {
	m := NewManager(logging.NewNop())
	m.Register("db", PriorityStorage, func(context.Context) error { return errors.New("locked") })
	if err := m.Shutdown(); err == nil {
		t.Error("expected error")
	}
}

func TestManager_SecondSignalForcesExit(t *testing.T) {
	m := NewManager(logging.NewNop())
	code := -1
	m.exit = func(c int) { code = c }

	m.handleSignal(os.Interrupt)
	select {
	case <-m.Context().Done():
	default:
		t.Fatal("first signal did not cancel the context")
	}
	if code != -1 {
		t.Fatal("first signal exited")
	}

	m.handleSignal(syscall.SIGTERM)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}
