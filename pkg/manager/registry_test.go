package manager

import (
	"testing"
)

// stubBackend only answers Name; the registry never calls anything else.
type stubBackend struct {
	Backend
	name string
}

func (s *stubBackend) Name() string { return s.name }

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()

	if registry == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if registry.Default() != nil {
		t.Error("empty registry should have no default")
	}
}

func TestRegistryRegister(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubBackend{name: "memory"})
	registry.Register(&stubBackend{name: "pacman"})

	b, ok := registry.Get("pacman")
	if !ok {
		t.Fatal("Get() should find registered backend")
	}
	if b.Name() != "pacman" {
		t.Errorf("expected pacman, got %s", b.Name())
	}

	if registry.Default().Name() != "memory" {
		t.Errorf("first registered backend should be default, got %s", registry.Default().Name())
	}
}

func TestRegistrySetDefault(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubBackend{name: "memory"})
	registry.Register(&stubBackend{name: "pacman"})

	if err := registry.SetDefault("pacman"); err != nil {
		t.Fatalf("SetDefault() error: %v", err)
	}
	if registry.Default().Name() != "pacman" {
		t.Errorf("expected pacman default, got %s", registry.Default().Name())
	}

	if err := registry.SetDefault("apt"); err == nil {
		t.Error("SetDefault() should fail for unknown backend")
	}
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Lookup(""); err == nil {
		t.Error("Lookup on empty registry should fail")
	}

	registry.Register(&stubBackend{name: "memory"})

	b, err := registry.Lookup("")
	if err != nil || b.Name() != "memory" {
		t.Errorf("Lookup(\"\") = %v, %v", b, err)
	}
	if _, err := registry.Lookup("nope"); err == nil {
		t.Error("Lookup should fail for unknown backend")
	}
}

func TestRegistryNames(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubBackend{name: "pacman"})
	registry.Register(&stubBackend{name: "memory"})

	names := registry.Names()
	if len(names) != 2 || names[0] != "memory" || names[1] != "pacman" {
		t.Errorf("Names() = %v", names)
	}
}
