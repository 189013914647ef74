package slot

import (
	"context"
	"errors"
	"os"
	"testing"
)

// driverTest exercises the Slot contract against a driver instance.
func driverTest(t *testing.T, s Slot) {
	t.Helper()
	ctx := context.Background()

	t.Run("Read of missing key returns ErrNotFound", func(t *testing.T) {
		_, err := s.Read(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Write then Read round-trips", func(t *testing.T) {
		if err := s.Write(ctx, "user-1", []byte(`{"sessions":[]}`)); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		data, err := s.Read(ctx, "user-1")
		if err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		if string(data) != `{"sessions":[]}` {
			t.Errorf("unexpected data: %s", data)
		}
	})

	t.Run("Write replaces previous value", func(t *testing.T) {
		if err := s.Write(ctx, "user-1", []byte("second")); err != nil {
			t.Fatalf("Failed to overwrite: %v", err)
		}
		data, err := s.Read(ctx, "user-1")
		if err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		if string(data) != "second" {
			t.Errorf("expected overwritten value, got %s", data)
		}
	})

	t.Run("Keys are isolated", func(t *testing.T) {
		if err := s.Write(ctx, "user-2", []byte("other")); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		data, err := s.Read(ctx, "user-1")
		if err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		if string(data) != "second" {
			t.Errorf("user-1 value clobbered by user-2 write: %s", data)
		}
	})

	t.Run("Delete removes value, deleting missing key is fine", func(t *testing.T) {
		if err := s.Delete(ctx, "user-1"); err != nil {
			t.Fatalf("Failed to delete: %v", err)
		}
		if _, err := s.Read(ctx, "user-1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		if err := s.Delete(ctx, "never-existed"); err != nil {
			t.Errorf("deleting a missing key should not error: %v", err)
		}
	})
}

func TestMemorySlot(t *testing.T) {
	s := NewMemorySlot()
	defer s.Close()
	driverTest(t, s)
}

func TestMemorySlotReadReturnsCopy(t *testing.T) {
	s := NewMemorySlot()
	defer s.Close()
	ctx := context.Background()

	if err := s.Write(ctx, "k", []byte("abc")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	data, err := s.Read(ctx, "k")
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	data[0] = 'x'

	again, err := s.Read(ctx, "k")
	if err != nil {
		t.Fatalf("Failed to re-read: %v", err)
	}
	if string(again) != "abc" {
		t.Errorf("stored value mutated through returned slice: %s", again)
	}
}

func TestSQLiteSlot(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-slot-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	s, err := NewSQLiteSlot(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to create sqlite slot: %v", err)
	}
	defer s.Close()

	driverTest(t, s)
}

func TestSQLiteSlotPersistsAcrossReopen(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-slot-reopen-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Close()

	ctx := context.Background()

	s, err := NewSQLiteSlot(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to create sqlite slot: %v", err)
	}
	if err := s.Write(ctx, "durable", []byte("survives")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteSlot(tmpFile.Name())
	if err != nil {
		t.Fatalf("Failed to reopen sqlite slot: %v", err)
	}
	defer reopened.Close()

	data, err := reopened.Read(ctx, "durable")
	if err != nil {
		t.Fatalf("Failed to read after reopen: %v", err)
	}
	if string(data) != "survives" {
		t.Errorf("expected persisted value, got %s", data)
	}
}

func TestNewFactoryValidation(t *testing.T) {
	if _, err := New(Config{Driver: "bogus"}); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := New(Config{Driver: "sqlite"}); err == nil {
		t.Error("expected error for sqlite driver without path")
	}
	if _, err := New(Config{Driver: "redis"}); err == nil {
		t.Error("expected error for redis driver without address")
	}
	s, err := New(Config{Driver: "memory"})
	if err != nil {
		t.Fatalf("memory driver should not error: %v", err)
	}
	s.Close()
}
