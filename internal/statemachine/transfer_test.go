package statemachine

import "testing"

func TestTransfer_ValidTransitions(t *testing.T) {
	manifest := testManifest("f1", 4)
	tr := NewTransfer(manifest, DirectionSend, "peer-1", "Peer One")

	if tr.Status() != StatusPreparing {
		t.Fatalf("expected initial status Preparing, got %s", tr.Status())
	}
	if err := tr.TransitionTo(StatusTransferring, "", false); err != nil {
		t.Fatalf("Preparing->Transferring should be valid: %v", err)
	}
	if err := tr.TransitionTo(StatusPaused, "", false); err != nil {
		t.Fatalf("Transferring->Paused should be valid: %v", err)
	}
	if err := tr.TransitionTo(StatusTransferring, "", false); err != nil {
		t.Fatalf("Paused->Transferring should be valid: %v", err)
	}
	if err := tr.TransitionTo(StatusCompleted, "", false); err != nil {
		t.Fatalf("Transferring->Completed should be valid: %v", err)
	}
}

func TestTransfer_InvalidTransitionRejected(t *testing.T) {
	manifest := testManifest("f1", 4)
	tr := NewTransfer(manifest, DirectionSend, "peer-1", "Peer One")

	if err := tr.TransitionTo(StatusCompleted, "", false); err != ErrInvalidTransition {
		t.Fatalf("expected ErrInvalidTransition going straight to Completed, got %v", err)
	}
}

func TestTransfer_TerminalStatesAreFinal(t *testing.T) {
	manifest := testManifest("f1", 4)
	tr := NewTransfer(manifest, DirectionSend, "peer-1", "Peer One")
	tr.TransitionTo(StatusTransferring, "", false)
	tr.TransitionTo(StatusFailed, "boom", true)

	if err := tr.TransitionTo(StatusTransferring, "", false); err != ErrInvalidTransition {
		t.Fatal("expected Failed to be a terminal state")
	}

	reason, canRetry := tr.FailInfo()
	if reason != "boom" || !canRetry {
		t.Fatalf("expected fail info to be recorded, got %q canRetry=%v", reason, canRetry)
	}
}

func TestTransfer_ProgressPercent(t *testing.T) {
	manifest := testManifest("f1", 4)
	tr := NewTransfer(manifest, DirectionSend, "peer-1", "Peer One")

	if tr.ProgressPercent() != 0 {
		t.Fatalf("expected 0%% progress initially, got %f", tr.ProgressPercent())
	}

	tr.setBitmap([]byte{0b00000011})
	if got := tr.ProgressPercent(); got != 50 {
		t.Fatalf("expected 50%% progress with 2/4 chunks done, got %f", got)
	}
}
