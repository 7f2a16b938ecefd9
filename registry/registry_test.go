package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbocsi/gotadek/device"
	"github.com/mbocsi/gotadek/loop"
)

func newDevice(t *testing.T, name string) *device.Device {
	t.Helper()
	dev, err := device.Open(device.Config{Name: name, Address: "127.0.0.1", Port: 1}, loop.New(), time.Second)
	if err != nil {
		t.Fatalf("Failed to create device: %v", err)
	}
	return dev
}

func TestRegistry_AddGet(t *testing.T) {
	r := New()
	if err := r.Add(newDevice(t, "lab-1")); err != nil {
		t.Fatalf("Expected add to succeed, got %v", err)
	}
	if err := r.Add(newDevice(t, "lab-1")); !errors.Is(err, ErrNameInUse) {
		t.Errorf("Expected ErrNameInUse, got %v", err)
	}

	dev, ok := r.Get("lab-1")
	if !ok || dev.Name() != "lab-1" {
		t.Errorf("Expected to find lab-1, got %v", dev)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Expected missing device not to be found")
	}
}

func TestRegistry_Remove(t *testing.T) {
	r := New()
	r.Add(newDevice(t, "a"))

	if _, err := r.Remove("a"); err != nil {
		t.Errorf("Expected remove to succeed, got %v", err)
	}
	if _, err := r.Remove("a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_Replace(t *testing.T) {
	r := New()
	r.Add(newDevice(t, "a"))
	r.Add(newDevice(t, "b"))

	if err := r.Replace("a", newDevice(t, "b")); !errors.Is(err, ErrNameInUse) {
		t.Errorf("Expected rename onto existing name to fail, got %v", err)
	}
	if err := r.Replace("a", newDevice(t, "c")); err != nil {
		t.Fatalf("Expected rename to succeed, got %v", err)
	}
	if _, ok := r.Get("a"); ok {
		t.Error("Expected old name to be gone")
	}
	if err := r.Replace("zzz", newDevice(t, "zzz")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	names := []string{}
	for _, dev := range r.List() {
		names = append(names, dev.Name())
	}
	if len(names) != 2 || names[0] != "b" || names[1] != "c" {
		t.Errorf("Expected sorted [b c], got %v", names)
	}
}

func TestYAMLStore_RoundTrip(t *testing.T) {
	store := NewYAMLStore(filepath.Join(t.TempDir(), "conf", "devices.yaml"))

	configs, err := store.Load()
	if err != nil || len(configs) != 0 {
		t.Fatalf("Expected empty list for missing file, got %v (%v)", configs, err)
	}

	want := []device.Config{
		{Name: "desktop", Address: "10.0.0.2", Port: 8089, Description: "lab box", Params: map[string]string{"autoconnect": "true"}},
		{Name: "replay", Protocol: device.ProtocolOffline, File: "/tmp/dump.xml"},
	}
	if err := store.Save(want); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(got))
	}
	if got[0].Name != "desktop" || got[0].Port != 8089 || !got[0].Autoconnect() {
		t.Errorf("Unexpected first device: %+v", got[0])
	}
	if !got[1].Offline() || got[1].File != "/tmp/dump.xml" {
		t.Errorf("Unexpected second device: %+v", got[1])
	}
}

func TestYAMLStore_RejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.yaml")
	data := "devices:\n  - name: a\n    address: h1\n  - name: a\n    address: h2\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	if _, err := NewYAMLStore(path).Load(); !errors.Is(err, ErrNameInUse) {
		t.Errorf("Expected ErrNameInUse, got %v", err)
	}
}
