package store

import (
	"context"
	"encoding/binary"
	"testing"

	thstore "github.com/cuemby/theater/pkg/store"
	"github.com/cuemby/theater/pkg/types"
)

func TestStoreAtLabelThenGetByLabelRoundTrips(t *testing.T) {
	backend, err := thstore.Open("test", t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(backend.Close)

	tmpl := New(backend)
	inst, err := tmpl.CreateInstance(types.HandlerConfig{Config: map[string]string{"namespace": "actor-1"}}, types.Permissions{})
	if err != nil {
		t.Fatalf("CreateInstance() error = %v", err)
	}
	h := inst.(*Handler)

	label := "conf/app"
	content := []byte("v1")
	var args []byte
	var labelLen [2]byte
	binary.BigEndian.PutUint16(labelLen[:], uint16(len(label)))
	args = append(args, labelLen[:]...)
	args = append(args, label...)
	args = append(args, content...)

	if _, err := h.storeAtLabel(context.Background(), args); err != nil {
		t.Fatalf("storeAtLabel() error = %v", err)
	}

	got, err := h.getByLabel(context.Background(), []byte(label))
	if err != nil {
		t.Fatalf("getByLabel() error = %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("getByLabel() = %q, want %q", got, "v1")
	}
}

func TestGetByLabelMissingFails(t *testing.T) {
	backend, err := thstore.Open("test", t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(backend.Close)

	tmpl := New(backend)
	inst, _ := tmpl.CreateInstance(types.HandlerConfig{Config: map[string]string{"namespace": "actor-1"}}, types.Permissions{})
	h := inst.(*Handler)

	if _, err := h.getByLabel(context.Background(), []byte("missing")); err == nil {
		t.Fatal("getByLabel() of unset label = nil error, want error")
	}
}

func TestCreateInstanceRequiresNamespace(t *testing.T) {
	tmpl := New(nil)
	if _, err := tmpl.CreateInstance(types.HandlerConfig{}, types.Permissions{}); err == nil {
		t.Fatal("CreateInstance() without namespace = nil error, want error")
	}
}
