//go:build unix

package shm

import (
	"os"
	"testing"

	"github.com/boristopalov/vecenv/pkg/core"
)

func TestFileBuffer(t *testing.T) {
	dir := t.TempDir()
	owner, err := Create(dir, 2, 2)
	if err != nil {
		t.Fatalf("Failed to create file buffer: %v", err)
	}

	peer, err := Open(owner.Path(), 2, 2)
	if err != nil {
		t.Fatalf("Failed to open file buffer: %v", err)
	}

	if err := peer.Write(1, core.Observation{7, 8}); err != nil {
		t.Fatalf("Failed to write slot: %v", err)
	}
	obs, err := owner.Read(1)
	if err != nil {
		t.Fatalf("Failed to read slot: %v", err)
	}
	if obs[0] != 7 || obs[1] != 8 {
		t.Errorf("Owner read %v, want [7 8]", obs)
	}

	if _, err := Open(owner.Path(), 3, 2); err == nil {
		t.Error("Expected layout mismatch error")
	}

	if err := peer.Close(); err != nil {
		t.Errorf("Failed to close peer: %v", err)
	}
	if _, err := os.Stat(owner.Path()); err != nil {
		t.Errorf("Peer close removed the file: %v", err)
	}
	if err := owner.Close(); err != nil {
		t.Errorf("Failed to close owner: %v", err)
	}
	if _, err := os.Stat(owner.Path()); !os.IsNotExist(err) {
		t.Errorf("Owner close left the file behind: %v", err)
	}
}
