package stream

import (
	"testing"

	"github.com/helmboard/helmboard/internal/protocol"
)

func TestShapingKey_Canonical(t *testing.T) {
	a := Shaping{Units: "binary", Role: "admin"}
	b := Shaping{Role: "admin", Units: "binary"}
	if a.Key() != b.Key() {
		t.Errorf("Expected equal keys, got %q and %q", a.Key(), b.Key())
	}
}

func TestShapingKey_Empty(t *testing.T) {
	if key := (Shaping{}).Key(); key != "" {
		t.Errorf("Expected empty key for zero shaping, got %q", key)
	}
}

func TestShapingKey_DifferentUnits(t *testing.T) {
	a := Shaping{Units: "binary", Role: "admin"}
	b := Shaping{Units: "decimal", Role: "admin"}
	if a.Key() == b.Key() {
		t.Errorf("Expected different keys for different units, both %q", a.Key())
	}
}

func TestNormalizeFilters_SortsAndDedups(t *testing.T) {
	f := NormalizeFilters(protocol.Filters{Devices: []string{"sdb", "sda", " sdb ", ""}})
	if len(f.Devices) != 2 {
		t.Fatalf("Expected 2 devices, got %v", f.Devices)
	}
	if f.Devices[0] != "sda" || f.Devices[1] != "sdb" {
		t.Errorf("Expected sorted [sda sdb], got %v", f.Devices)
	}
}

func TestNormalizeFilters_TrimsName(t *testing.T) {
	f := NormalizeFilters(protocol.Filters{Name: "  web  "})
	if f.Name != "web" {
		t.Errorf("Expected trimmed name 'web', got %q", f.Name)
	}
}

func TestKeyForFilters_OrderIndependent(t *testing.T) {
	a := KeyForFilters(NormalizeFilters(protocol.Filters{Devices: []string{"sda", "sdb"}}))
	b := KeyForFilters(NormalizeFilters(protocol.Filters{Devices: []string{"sdb", "sda"}}))
	if a != b {
		t.Errorf("Expected equal keys for equal device sets, got %q and %q", a, b)
	}
}

func TestKeyForFilters_EmptyIsEmpty(t *testing.T) {
	if key := KeyForFilters(protocol.Filters{}); key != "" {
		t.Errorf("Expected empty key for empty filters, got %q", key)
	}
}

func TestKeyForFilters_DistinguishesSets(t *testing.T) {
	a := KeyForFilters(protocol.Filters{Devices: []string{"sda"}})
	b := KeyForFilters(protocol.Filters{Devices: []string{"sdb"}})
	c := KeyForFilters(protocol.Filters{Name: "sda"})
	if a == b || a == c {
		t.Errorf("Expected distinct keys, got %q %q %q", a, b, c)
	}
}
