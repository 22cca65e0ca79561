package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestPacer_AllowRespectsBurst(t *testing.T) {
	p := NewPacer(1, 2)
	if !p.Allow(2) {
		t.Fatal("expected burst of 2 to be allowed immediately")
	}
	if p.Allow(1) {
		t.Fatal("expected third immediate request to be denied after burst exhausted")
	}
}

func TestPacer_WaitUnblocksWithinDeadline(t *testing.T) {
	p := NewPacer(1000, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Wait(ctx, 1); err != nil {
		t.Fatalf("expected Wait to succeed at high rate, got %v", err)
	}
}

func TestPacer_WaitRespectsCancellation(t *testing.T) {
	p := NewPacer(0.001, 1)
	p.Allow(1) // exhaust burst
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Wait(ctx, 1); err == nil {
		t.Fatal("expected Wait to return an error once context deadline elapses")
	}
}
