package weatherstations

import "testing"

func TestCapabilities(t *testing.T) {
	var caps Capabilities
	if !caps.IsEmpty() || caps.String() != "None" {
		t.Fatalf("zero value should be empty, got %q", caps.String())
	}

	caps.Add(Rain)
	caps.Add(Environment)
	caps.Add(Rain)

	if got := caps.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
	if got := caps.String(); got != "Environment, Rain" {
		t.Errorf("String() = %q, want bit order", got)
	}
	if caps.Has(Wind) {
		t.Error("Has(Wind) = true for a set without wind")
	}

	caps.Remove(Environment)
	if caps.Has(Environment) || !caps.Has(Rain) {
		t.Errorf("after Remove(Environment): %v", caps)
	}

	if got := Capability(0x80).String(); got != "Unknown" {
		t.Errorf("unknown capability String() = %q", got)
	}
}
