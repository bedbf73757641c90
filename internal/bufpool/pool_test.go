package bufpool

import (
	"errors"
	"testing"
)

func TestAllocReleaseRoundTrip(t *testing.T) {
	p := New(64, 2)

	b1, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc 1: %v", err)
	}
	if len(b1.Data()) != 64 {
		t.Errorf("Expected 64 byte buffer, got %d", len(b1.Data()))
	}
	if p.LiveCount() != 1 {
		t.Errorf("Expected LiveCount 1, got %d", p.LiveCount())
	}

	b2, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc 2: %v", err)
	}
	if p.LiveCount() != 2 {
		t.Errorf("Expected LiveCount 2, got %d", p.LiveCount())
	}

	_, err = p.Alloc()
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Expected ErrExhausted, got %v", err)
	}

	p.Release(b1)
	if p.LiveCount() != 1 {
		t.Errorf("Expected LiveCount 1 after release, got %d", p.LiveCount())
	}
	if p.FreeCount() != 1 {
		t.Errorf("Expected FreeCount 1 after release, got %d", p.FreeCount())
	}

	b3, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc 3 (from free list): %v", err)
	}
	if p.FreeCount() != 0 {
		t.Errorf("Expected free list consumed, FreeCount %d", p.FreeCount())
	}

	p.Release(b2)
	p.Release(b3)
}

func TestLiveCountNeverExceedsMaxCount(t *testing.T) {
	p := New(8, 4)
	var bufs []*Buffer
	for i := 0; i < 4; i++ {
		b, err := p.Alloc()
		if err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
		bufs = append(bufs, b)
	}
	if p.LiveCount() > p.MaxCount() {
		t.Fatalf("LiveCount %d exceeded MaxCount %d", p.LiveCount(), p.MaxCount())
	}
	if _, err := p.Alloc(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Expected ErrExhausted at capacity, got %v", err)
	}
	for _, b := range bufs {
		p.Release(b)
	}
	if p.LiveCount() != 0 {
		t.Fatalf("Expected LiveCount 0 after releasing all, got %d", p.LiveCount())
	}
}

func TestZeroIsSharedAndDoesNotCountAgainstCapacity(t *testing.T) {
	p := New(16, 1)
	z1 := p.Zero()
	z2 := p.Zero()
	if z1 != z2 {
		t.Error("Zero() should return the same shared instance")
	}
	for _, v := range z1.Data() {
		if v != 0 {
			t.Fatal("Zero buffer should be zero-filled")
		}
	}
	if p.LiveCount() != 0 {
		t.Errorf("Zero() should not count against live capacity, got LiveCount %d", p.LiveCount())
	}
	// The real single slot of capacity is still available.
	if _, err := p.Alloc(); err != nil {
		t.Fatalf("Alloc after Zero(): %v", err)
	}
}

func TestShrinkDropsFreeListButKeepsUsedBuffersValid(t *testing.T) {
	p := New(8, 2)
	b1, _ := p.Alloc()
	b2, _ := p.Alloc()
	p.Release(b1)
	if p.FreeCount() != 1 {
		t.Fatalf("Expected FreeCount 1, got %d", p.FreeCount())
	}

	p.Shrink()
	if p.FreeCount() != 0 {
		t.Errorf("Expected FreeCount 0 after Shrink, got %d", p.FreeCount())
	}
	if p.LiveCount() != 1 {
		t.Errorf("Shrink must not touch in-use buffers, LiveCount = %d", p.LiveCount())
	}

	// Capacity is still tracked correctly post-shrink: only one more slot should be available.
	b3, err := p.Alloc()
	if err != nil {
		t.Fatalf("Alloc after Shrink: %v", err)
	}
	if _, err := p.Alloc(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Expected ErrExhausted after consuming reclaimed capacity, got %v", err)
	}

	p.Release(b2)
	p.Release(b3)
}

func TestReleaseNilIsSafe(t *testing.T) {
	p := New(8, 1)
	p.Release(nil) // Must not panic nor affect accounting
	if p.LiveCount() != 0 {
		t.Errorf("Expected LiveCount 0, got %d", p.LiveCount())
	}
}
