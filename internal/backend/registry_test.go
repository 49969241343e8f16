package backend

import (
	"slices"
	"strings"
	"testing"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry(newTestLogger())
	reg.Register(NewRemote("http://localhost:8080", newTestLogger()))
	reg.Register(NewLocal(t.TempDir(), 1, newTestLogger()))

	if got, want := reg.Names(), []string{"local", "remote"}; !slices.Equal(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}

	conn, err := reg.Get("local")
	if err != nil {
		t.Fatalf("Get(local): %v", err)
	}
	if conn.Name() != "local" {
		t.Errorf("Get(local).Name() = %q", conn.Name())
	}

	_, err = reg.Get("drmaa")
	if err == nil {
		t.Fatal("Get(drmaa): expected error")
	}
	if !strings.Contains(err.Error(), "local") {
		t.Errorf("error %q should list registered backends", err)
	}
}
