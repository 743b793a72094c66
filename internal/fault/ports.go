package fault

import "github.com/sweeney/dimmer-regulator/internal/hal"

// PortMasks holds, per hardware port, the bits of pins checked during port
// validation.
type PortMasks []uint8

// BuildPortMasks collects the checked pins of a layout into per-port masks.
func BuildPortMasks(l hal.Layout) PortMasks {
	masks := make(PortMasks, l.Ports)
	for _, m := range l.Pins {
		if m.Check && m.Port >= 0 && m.Port < l.Ports {
			masks[m.Port] |= 1 << m.Bit
		}
	}
	return masks
}

// Checksum returns the sum of all masks.
func (p PortMasks) Checksum() uint32 {
	var sum uint32
	for _, m := range p {
		sum += uint32(m)
	}
	return sum
}

// Valid reports whether the masks pass the checksum: something is
// monitored, and no configuration monitors every bit of every port.
func (p PortMasks) Valid() bool {
	sum := p.Checksum()
	return sum != 0 && sum < uint32(len(p))*0xFF
}

// pinsFor maps faulty bits of a port back to logical pins.
func pinsFor(l hal.Layout, port int, bits uint8) []hal.Pin {
	var pins []hal.Pin
	for i, m := range l.Pins {
		if m.Port == port && bits&(1<<m.Bit) != 0 {
			pins = append(pins, hal.Pin(i))
		}
	}
	return pins
}
