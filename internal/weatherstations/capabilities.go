// Package weatherstations defines what every weather station backend provides
// and the capabilities a station can report.
package weatherstations

import "strings"

// Capability represents a specific measurement capability of a weather station.
// Capabilities use a bitmask to allow stations to have multiple capabilities.
type Capability uint8

const (
	// Environment represents temperature, pressure and humidity
	Environment Capability = 1 << 0 // 0x01

	// Light represents ambient light (lux)
	Light Capability = 1 << 1 // 0x02

	// Wind represents anemometer speed and wind vane direction
	Wind Capability = 1 << 2 // 0x04

	// Rain represents rain gauge rate and accumulation
	Rain Capability = 1 << 3 // 0x08
)

// all lists every capability in bit order.
var all = []Capability{Environment, Light, Wind, Rain}

// String returns the human-readable name of a capability.
func (c Capability) String() string {
	switch c {
	case Environment:
		return "Environment"
	case Light:
		return "Light"
	case Wind:
		return "Wind"
	case Rain:
		return "Rain"
	default:
		return "Unknown"
	}
}

// Capabilities represents a set of capabilities using a bitmask.
// This allows efficient storage and checking of multiple capabilities.
type Capabilities uint8

// Has checks if a specific capability is present in the set.
func (c Capabilities) Has(cap Capability) bool {
	return (uint8(c) & uint8(cap)) != 0
}

// Add adds a capability to the set.
func (c *Capabilities) Add(cap Capability) {
	*c = Capabilities(uint8(*c) | uint8(cap))
}

// Remove removes a capability from the set.
func (c *Capabilities) Remove(cap Capability) {
	*c = Capabilities(uint8(*c) &^ uint8(cap))
}

// List returns all capabilities in the set as a slice.
func (c Capabilities) List() []Capability {
	var caps []Capability
	for _, cap := range all {
		if c.Has(cap) {
			caps = append(caps, cap)
		}
	}
	return caps
}

// String returns a comma-separated string of all capabilities in the set.
func (c Capabilities) String() string {
	caps := c.List()
	if len(caps) == 0 {
		return "None"
	}

	strs := make([]string, len(caps))
	for i, cap := range caps {
		strs[i] = cap.String()
	}
	return strings.Join(strs, ", ")
}

// IsEmpty returns true if no capabilities are set.
func (c Capabilities) IsEmpty() bool {
	return uint8(c) == 0
}

// Count returns the number of capabilities in the set.
func (c Capabilities) Count() int {
	return len(c.List())
}
