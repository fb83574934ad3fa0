/*
 * PSPEmu - Device descriptor and instance lifecycle.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package device defines the contract pluggable peripherals implement and
// the static registry the CCD instantiates devices from.
package device

import "fmt"

// Space names the address space a descriptor's window lives in.
type Space int

const (
	SpacePSP Space = iota
	SpaceSMN
	SpaceX86
)

// InitFunc sets up freshly zeroed instance state. Called at registration and
// again on every CCD reset.
type InitFunc func(state []byte) error

// DestructFunc tears an instance down in reverse registration order.
type DestructFunc func(state []byte)

// ReadFunc services a guest read of size bytes at offset within the
// device's window. Unmodeled offsets should zero-fill.
type ReadFunc func(state []byte, offset uint32, size int) uint64

// WriteFunc services a guest write; it must not block.
type WriteFunc func(state []byte, offset uint32, size int, value uint64)

// Descriptor is the immutable, link-time-static record describing one
// device model. The registry holds these; Instances are created from them.
type Descriptor struct {
	Name         string
	Description  string
	Space        Space
	Base         uint64 // For SMN, the ccd package registers the instance at (own CCD id, uint32(Base)).
	WindowSize   uint32
	InstanceSize int
	Init         InitFunc
	Destruct     DestructFunc
	Read         ReadFunc
	Write        WriteFunc
}

// Instance is one live device: its descriptor, zero-initialized state, and
// the base address it was actually registered at (descriptors may be
// registered at a caller-chosen base for SMN/x86 windows).
type Instance struct {
	Descriptor *Descriptor
	State      []byte
	Base       uint64
}

var registry = map[string]*Descriptor{}

// Register adds a descriptor to the static, link-time registry. Devices call
// this from an init function so the registry is populated before main runs.
func Register(d *Descriptor) {
	if _, exists := registry[d.Name]; exists {
		panic(fmt.Sprintf("device: duplicate registration of %q", d.Name))
	}
	registry[d.Name] = d
}

// Lookup returns the descriptor registered under name, or nil.
func Lookup(name string) *Descriptor {
	return registry[name]
}

// All returns every registered descriptor name, for "instantiate everything"
// selection when a config's device list is empty.
func All() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// New creates a zero-initialized instance from d and runs Init. Callers
// destroy it with Destroy once it is unregistered from the I/O manager.
func New(d *Descriptor, base uint64) (*Instance, error) {
	inst := &Instance{
		Descriptor: d,
		State:      make([]byte, d.InstanceSize),
		Base:       base,
	}
	if d.Init != nil {
		if err := d.Init(inst.State); err != nil {
			return nil, fmt.Errorf("device %s: init: %w", d.Name, err)
		}
	}
	return inst, nil
}

// Destroy runs the descriptor's destructor, if any.
func Destroy(inst *Instance) {
	if inst.Descriptor.Destruct != nil {
		inst.Descriptor.Destruct(inst.State)
	}
}
