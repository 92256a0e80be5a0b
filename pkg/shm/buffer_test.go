package shm

import (
	"testing"

	"github.com/boristopalov/vecenv/pkg/core"
)

func TestBuffer(t *testing.T) {
	t.Run("test write and read", func(t *testing.T) {
		buf, err := New(2, 3)
		if err != nil {
			t.Fatalf("Failed to create buffer: %v", err)
		}

		if err := buf.Write(1, core.Observation{1.5, -2, 3.25}); err != nil {
			t.Fatalf("Failed to write slot: %v", err)
		}
		obs, err := buf.Read(1)
		if err != nil {
			t.Fatalf("Failed to read slot: %v", err)
		}
		if len(obs) != 3 || obs[0] != 1.5 || obs[1] != -2 || obs[2] != 3.25 {
			t.Errorf("Read %v", obs)
		}

		other, _ := buf.Read(0)
		for _, v := range other {
			if v != 0 {
				t.Errorf("Slot 0 was touched: %v", other)
			}
		}
	})

	t.Run("test layout checks", func(t *testing.T) {
		if _, err := New(0, 3); err == nil {
			t.Error("Expected error for zero slots")
		}
		buf, _ := New(2, 3)
		if err := buf.Write(2, core.Observation{1, 2, 3}); err == nil {
			t.Error("Expected error for slot out of range")
		}
		if err := buf.Write(0, core.Observation{1, 2}); err == nil {
			t.Error("Expected error for short observation")
		}
		if _, err := buf.Read(-1); err == nil {
			t.Error("Expected error for negative slot")
		}
	})
}
