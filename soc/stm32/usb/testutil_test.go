// Test-only MMIO backing store
// https://github.com/tamago-stm32/tamago
//
// Copyright (c) The tamago-stm32 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import "unsafe"

// arena stands in for the peripheral's register block and Packet Memory
// Area (one instance each). reg.Read16/Write16 operate on raw addresses via
// unsafe.Pointer, so tests back them with ordinary byte slices instead of
// real hardware, the same trick the host-side test build of this kind of
// register package relies on.
type arena struct {
	buf []byte
}

func newArena(size int) *arena {
	return &arena{buf: make([]byte, size)}
}

func (a *arena) base() uintptr {
	return uintptr(unsafe.Pointer(&a.buf[0]))
}

// defaultTestEndpoints gives endpoint 1 a 64-byte bulk IN/OUT pair, enough
// to exercise Write/Read and the SOF IN-poll without needing every index
// populated.
func defaultTestEndpoints() [8]EndpointConfig {
	var eps [8]EndpointConfig
	eps[1] = EndpointConfig{Type: EndpointTypeBulk, SizeIn: 64, SizeOut: 64}
	return eps
}

// newTestController builds an Init'd Controller backed by arenas large
// enough for the register block and a PMA sized for defaultTestEndpoints.
func newTestController(cb Callbacks) (*Controller, *arena, *arena) {
	regs := newArena(256)
	pma := newArena(1024)

	cfg := Config{
		Base:    regs.base(),
		PMA:     pma.base(),
		PMASize: len(pma.buf),
		Endpoints: defaultTestEndpoints(),
	}

	c := New(cfg, cb)
	if err := c.Init(); err != nil {
		panic(err)
	}

	return c, regs, pma
}
