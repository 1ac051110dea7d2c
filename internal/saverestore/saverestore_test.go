package saverestore

import (
	"errors"
	"testing"
	"time"

	"SimFed/internal/hla"
)

func newTestManager(t *testing.T, kind Kind, feds ...hla.FederateHandle) *Manager {
	t.Helper()

	m := New(kind)
	for _, f := range feds {
		m.AddFederate(f)
	}

	t.Cleanup(m.Close)

	return m
}

func TestSingleActiveSave(t *testing.T) {
	m := newTestManager(t, Save, 1, 2)

	if err := m.Request(1, "s1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := m.Request(2, "s2"); !errors.Is(err, hla.ErrSaveInProgress) {
		t.Fatalf("second request: got %v, want SaveInProgress", err)
	}

	if m.Label() != "s1" || m.Registrant() != 1 {
		t.Errorf("active save: label %q registrant %s", m.Label(), m.Registrant())
	}

	for _, f := range []hla.FederateHandle{1, 2} {
		if got := m.Status(f); got != Initiated {
			t.Errorf("%s: got %s, want INITIATED", f, got)
		}
	}
}

func TestSaveCompletionIsDerived(t *testing.T) {
	m := newTestManager(t, Save, 1, 2, 3)

	_ = m.Request(1, "s1")
	_ = m.Begun(1)
	_ = m.Complete(1)
	_ = m.Complete(2)

	if m.IsComplete() {
		t.Fatal("federate 3 has not finished")
	}

	_ = m.NotComplete(3)

	if !m.IsComplete() {
		t.Fatal("every federate is terminal")
	}

	if m.IsCompleteSuccessful() {
		t.Error("federate 3 failed, operation must not be successful")
	}

	if got := m.Failed(); len(got) != 1 || got[0] != 3 {
		t.Errorf("failed: got %v, want [3]", got)
	}

	m.Reset()

	if m.Active() || m.Label() != "" {
		t.Error("reset should clear the label")
	}

	if err := m.Request(2, "s2"); err != nil {
		t.Errorf("request after reset: %v", err)
	}
}

func TestTransitionsRequireActiveSave(t *testing.T) {
	m := newTestManager(t, Save, 1)

	for name, fn := range map[string]func(hla.FederateHandle) error{
		"begun":        m.Begun,
		"complete":     m.Complete,
		"not complete": m.NotComplete,
	} {
		if err := fn(1); !errors.Is(err, hla.ErrSaveNotInitiated) {
			t.Errorf("%s: got %v, want SaveNotInitiated", name, err)
		}
	}
}

func TestResignCompletesSave(t *testing.T) {
	m := newTestManager(t, Save, 1, 2)

	_ = m.Request(1, "s1")
	_ = m.Complete(1)

	if !m.RemoveFederate(2) {
		t.Error("resignation of the last unfinished federate should complete the save")
	}

	if !m.IsCompleteSuccessful() {
		t.Error("remaining federate completed successfully")
	}
}

func TestJoinDuringSave(t *testing.T) {
	m := newTestManager(t, Save, 1)

	_ = m.Request(1, "s1")
	m.AddFederate(2)

	if got := m.Status(2); got != Initiated {
		t.Errorf("late joiner: got %s, want INITIATED", got)
	}
}

func TestAbort(t *testing.T) {
	m := newTestManager(t, Save, 1, 2)

	_ = m.Request(1, "s1")
	_ = m.Complete(1)
	m.Abort()

	if !m.IsComplete() || m.IsCompleteSuccessful() {
		t.Error("abort should finish the save unsuccessfully")
	}

	if m.Status(1) != Complete {
		t.Error("abort must not overwrite finished federates")
	}
}

func TestFinishedFederateStaysFinished(t *testing.T) {
	m := newTestManager(t, Save, 1, 2, 3)

	_ = m.Request(1, "s1")
	_ = m.Begun(1)
	_ = m.Complete(1)
	_ = m.NotComplete(2)

	tests := []struct {
		name string
		fed  hla.FederateHandle
		call func(hla.FederateHandle) error
		want State
	}{
		{"begun after complete", 1, m.Begun, Complete},
		{"not complete after complete", 1, m.NotComplete, Complete},
		{"complete twice", 1, m.Complete, Complete},
		{"begun after not complete", 2, m.Begun, NotComplete},
		{"complete after not complete", 2, m.Complete, NotComplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(tt.fed); !errors.Is(err, hla.ErrSaveNotInitiated) {
				t.Errorf("got %v, want SaveNotInitiated", err)
			}

			if got := m.Status(tt.fed); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if m.IsComplete() {
		t.Fatal("federate 3 has not finished")
	}

	_ = m.Complete(3)

	if got := m.Failed(); len(got) != 1 || got[0] != 2 {
		t.Errorf("failed: got %v, want [2]", got)
	}

	// a new save starts every federate over
	m.Reset()
	_ = m.Request(2, "s2")

	if err := m.Begun(1); err != nil {
		t.Errorf("begun in a new save: %v", err)
	}
}

func TestRestoreTieBreak(t *testing.T) {
	orders := [][]hla.FederateHandle{{3, 7}, {7, 3}}

	for _, order := range orders {
		m := newTestManager(t, Restore, 3, 7)

		for _, f := range order {
			label := "from-7"
			if f == 3 {
				label = "from-3"
			}

			if err := m.Request(f, label); err != nil {
				t.Fatalf("request %s: %v", f, err)
			}
		}

		if got := m.Status(7); got != Requested {
			t.Errorf("status before initiate: got %s, want REQUESTED", got)
		}

		init, err := m.Initiate()
		if err != nil {
			t.Fatalf("initiate: %v", err)
		}

		if init.Registrant != 3 || init.Label != "from-3" {
			t.Errorf("order %v: winner %s %q, want fed-3 from-3", order, init.Registrant, init.Label)
		}

		if m.Status(7) != Initiated {
			t.Errorf("status after initiate: got %s", m.Status(7))
		}

		if err := m.Request(7, "again"); !errors.Is(err, hla.ErrRestoreInProgress) {
			t.Errorf("request during restore: got %v", err)
		}
	}
}

func TestInitiateWithoutRequest(t *testing.T) {
	m := newTestManager(t, Restore, 1)

	if _, err := m.Initiate(); !errors.Is(err, hla.ErrRestoreNotRequested) {
		t.Errorf("got %v, want RestoreNotRequested", err)
	}

	if err := m.Complete(1); !errors.Is(err, hla.ErrRestoreNotInitiated) {
		t.Errorf("got %v, want RestoreNotInitiated", err)
	}
}

func TestInitiateAfterWindow(t *testing.T) {
	m := newTestManager(t, Restore, 2, 5)

	done := make(chan Initiation, 1)
	fire := func(init Initiation, err error) {
		if err != nil {
			t.Errorf("initiate: %v", err)
		}

		done <- init
	}

	_ = m.Request(5, "late")
	m.InitiateAfter(20*time.Millisecond, fire)

	_ = m.Request(2, "early")
	m.InitiateAfter(20*time.Millisecond, fire)

	select {
	case init := <-done:
		if init.Registrant != 2 {
			t.Errorf("winner: got %s, want fed-2", init.Registrant)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("settle timer never fired")
	}

	select {
	case <-done:
		t.Error("second InitiateAfter in the same window should not fire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseStopsTimer(t *testing.T) {
	m := New(Restore)
	m.AddFederate(1)

	_ = m.Request(1, "r")

	fired := make(chan struct{}, 1)
	m.InitiateAfter(20*time.Millisecond, func(Initiation, error) { fired <- struct{}{} })
	m.Close()

	select {
	case <-fired:
		t.Error("closed manager initiated")
	case <-time.After(60 * time.Millisecond):
	}

	if m.Active() {
		t.Error("closed manager should not be active")
	}
}
