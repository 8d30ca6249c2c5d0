// Package gpio binds inputs and relay outputs to the Linux GPIO character
// device. It is the only place hardware pins appear; everything above works
// against the devices interfaces.
//
// Inputs are wired active-low (closed switch pulls the line down), the usual
// arrangement for e-stop mushrooms and pressure mats.
package gpio

import "time"

// Debounce applied to edge-triggered inputs before they are queued.
const Debounce = 20 * time.Millisecond

// InputPin describes one digital input line.
type InputPin struct {
	Name   string
	Chip   string
	Line   int
	Invert bool
}

// OutputPin describes one relay output line.
type OutputPin struct {
	Name string
	Chip string
	Line int
}
