package errors

import (
	"fmt"
	"testing"
)

func TestSchedulerError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *SchedulerError
		want string
	}{
		{
			name: "message only",
			err:  NewSchedulerError(KindQueueOverflow, "queue full", nil),
			want: "queue_overflow: queue full",
		},
		{
			name: "with component and key",
			err: NewSchedulerError(KindCallbackFailure, "subscriber panicked", New("boom")).
				WithComponent("coalescer").
				WithKey("UNIT_AURA"),
			want: "callback_failure [component=coalescer, key=UNIT_AURA]: subscriber panicked: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchedulerError_IsMatchesKindSentinel(t *testing.T) {
	err := NewSchedulerError(KindTargetInvalid, "dead target", nil)

	if !Is(err, ErrTargetInvalid) {
		t.Error("expected error to match ErrTargetInvalid")
	}
	if Is(err, ErrCallbackFailure) {
		t.Error("did not expect error to match ErrCallbackFailure")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var schedErr *SchedulerError
	if !As(wrapped, &schedErr) {
		t.Fatal("expected As to find SchedulerError")
	}
	if schedErr.Kind != KindTargetInvalid {
		t.Errorf("Kind = %v, want %v", schedErr.Kind, KindTargetInvalid)
	}
}

func TestSchedulerError_DefaultSeverity(t *testing.T) {
	tests := []struct {
		kind Kind
		want Severity
	}{
		{KindInvalidInput, SeverityDebug},
		{KindTargetInvalid, SeverityWarning},
		{KindQueueOverflow, SeverityWarning},
		{KindCallbackFailure, SeverityCritical},
		{KindPersistenceCorrupt, SeverityCritical},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := NewSchedulerError(tt.kind, "x", nil)
			if got := GetSeverity(err); got != tt.want {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPersistenceError_Corrupt(t *testing.T) {
	corrupt := NewPersistenceError("load", Corruptf("network shape %dx%d", 3, 4)).
		WithBackend("file", "/tmp/state.json")
	if !corrupt.Corrupt() {
		t.Error("expected Corrupt() to be true")
	}
	if !IsCorrupt(corrupt) {
		t.Error("expected IsCorrupt to be true")
	}
	if GetSeverity(corrupt) != SeverityCritical {
		t.Errorf("GetSeverity() = %v, want critical", GetSeverity(corrupt))
	}

	versioned := NewPersistenceError("load", ErrVersionMismatch).WithVersion(7)
	if !versioned.Corrupt() {
		t.Error("expected version mismatch to count as corrupt")
	}

	io := NewPersistenceError("save", New("disk full"))
	if io.Corrupt() {
		t.Error("did not expect IO failure to count as corrupt")
	}
	if IsCorrupt(nil) {
		t.Error("nil is never corrupt")
	}
}

func TestKindOf(t *testing.T) {
	if _, ok := KindOf(New("plain")); ok {
		t.Error("plain errors have no kind")
	}
	k, ok := KindOf(Wrap(NewSchedulerError(KindQueueOverflow, "full", nil), "push"))
	if !ok || k != KindQueueOverflow {
		t.Errorf("KindOf() = %v, %v; want queue_overflow, true", k, ok)
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should be nil")
	}
}
