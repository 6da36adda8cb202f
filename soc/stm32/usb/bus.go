// STM32 USB FS device controller
// https://github.com/tamago-stm32/tamago
//
// Copyright (c) The tamago-stm32 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import (
	"fmt"

	"github.com/tamago-stm32/tamago/internal/reg"
)

// Register offsets relative to Config.Base, p649 (USB register map),
// RM0008 Reference Manual.
const (
	offEP0R   = 0x00
	offCNTR   = 0x40
	offISTR   = 0x44
	offFNR    = 0x48
	offDADDR  = 0x4c
	offBTABLE = 0x50
)

// CNTR bit positions, p653 (USB_CNTR), RM0008 Reference Manual.
const (
	cntrCTRM_POS   = 15
	cntrWKUPM_POS  = 12
	cntrSUSPM_POS  = 11
	cntrRESETM_POS = 10
	cntrSOFM_POS   = 9
	cntrESOFM_POS  = 8
	cntrFSUSP_POS  = 3
	cntrLPMODE_POS = 2
	cntrPDWN_POS   = 1
	cntrFRES_POS   = 0
)

// ISTR bits.
const (
	istrCTR       = 15
	istrPMAOVR    = 14
	istrERR       = 13
	istrWKUP      = 12
	istrSUSP      = 11
	istrRESET     = 10
	istrSOF       = 9
	istrESOF      = 8
	istrEPID_POS  = 0
	istrEPID_MASK = 0xf
)

// DADDR bits.
const (
	daddrEF = 1 << 7
)

// EndpointType identifies the transfer type of an endpoint, encoded using
// the same bit pattern as the EP_TYPE field of EPnR.
type EndpointType uint8

// Endpoint transfer types. Isochronous is accepted by the type but rejected
// by Config validation (see Init).
const (
	EndpointTypeBulk        EndpointType = 0b00
	EndpointTypeControl     EndpointType = 0b01
	EndpointTypeIsochronous EndpointType = 0b10
	EndpointTypeInterrupt   EndpointType = 0b11
)

// EndpointConfig describes the compile-time configuration of a single
// endpoint index (1..7). Index 0 is always Control with 64-byte packets and
// does not need to be configured.
type EndpointConfig struct {
	Type     EndpointType
	SizeIn   uint16
	SizeOut  uint16
}

// Config describes a controller instance: register/PMA addresses and the
// compile-time endpoint layout. It replaces the USBD_EPn_* preprocessor
// macros of the reference implementation, since Go has no preprocessor.
type Config struct {
	// Base is the address of the EP0R..EP7R/CNTR/ISTR/FNR/DADDR/BTABLE
	// register block.
	Base uintptr

	// PMA is the address of the Packet Memory Area.
	PMA uintptr

	// PMASize is the total PMA capacity in bytes.
	PMASize int

	// PMAStride is the byte distance between successive 16-bit PMA
	// words as seen by the CPU. STM32F1-family parts map each 16-bit
	// PMA word onto a 32-bit slot (stride 4); F0/L0-family parts pack
	// them at stride 2. Defaults to 2 if zero.
	PMAStride uintptr

	// Endpoints configures indices 1..7 (index 0 is implicit Control,
	// 64/64).
	Endpoints [8]EndpointConfig

	// UniqueID is the MMIO address of the factory-programmed 96-bit
	// unique device identifier used by SerialStringDescriptor. Zero
	// disables the feature.
	UniqueID uintptr
}

// btableBytes is the fixed size, in PMA bytes, of the buffer-descriptor
// table (8 endpoints * 2 directions * (2-byte addr + 2-byte count) = 64).
const btableBytes = 64

// epControlSize is the fixed EP0 packet size mandated by the USB 2.0
// specification for Full-Speed control transfers.
const epControlSize = 64

// epSlot holds the runtime bookkeeping for one endpoint index.
type epSlot struct {
	typ      EndpointType
	sizeIn   uint16
	sizeOut  uint16
	inAddr   uint16 // PMA byte offset of the IN buffer (0 if absent)
	outAddr  uint16 // PMA byte offset of the OUT buffer (0 if absent)
}

func (e *epSlot) hasIn() bool  { return e.sizeIn > 0 }
func (e *epSlot) hasOut() bool { return e.sizeOut > 0 }

// deviceState is the enumeration state machine of §4.4.
type deviceState uint8

const (
	StateDefault deviceState = iota
	StateAddress
	StateConfigured
)

func (s deviceState) String() string {
	switch s {
	case StateDefault:
		return "default"
	case StateAddress:
		return "address"
	case StateConfigured:
		return "configured"
	default:
		return "unknown"
	}
}

// Controller is a single USB device controller instance, the Go analogue
// of the reference implementation's per-peripheral `hw *usb` receiver. All
// mutable fields are owned exclusively by Task and its callees; since the
// core is single-threaded by design (see package doc), no locking is used.
type Controller struct {
	cfg Config

	ep     [8]uintptr // EPnR register addresses
	cntr   uintptr
	istr   uintptr
	fnr    uintptr
	daddr  uintptr
	btable uintptr

	slot [8]epSlot

	state   deviceState
	address uint8

	pendingAddressValid bool
	pendingAddress       uint8

	selfPowered bool
	numInterfaces uint8
	configValue   uint8
	altSetting    [8]uint8

	continuation []byte

	sofCursor int

	cb Callbacks

	serial []byte
}

// New allocates a controller for the given configuration. Init must be
// called before Task is invoked.
func New(cfg Config, cb Callbacks) *Controller {
	if cfg.PMAStride == 0 {
		cfg.PMAStride = 2
	}

	c := &Controller{cfg: cfg, cb: cb}

	for i := 0; i < 8; i++ {
		c.ep[i] = cfg.Base + offEP0R + uintptr(4*i)
	}

	c.cntr = cfg.Base + offCNTR
	c.istr = cfg.Base + offISTR
	c.fnr = cfg.Base + offFNR
	c.daddr = cfg.Base + offDADDR
	c.btable = cfg.Base + offBTABLE

	return c
}

// pmaWordAddr returns the CPU address of PMA byte offset off, rounded down
// to the containing 16-bit word.
func (c *Controller) pmaWordAddr(off uint16) uintptr {
	word := uintptr(off) / 2
	return c.cfg.PMA + word*c.cfg.PMAStride
}

// Init brings the controller's bookkeeping into a known state: validates
// the endpoint configuration, lays out the PMA (§4.1), clears ISTR, enables
// the CTR/WKUP/SUSP/RESET interrupt masks (and SOF if an IN callback is
// configured), sets BTABLE to offset 0, and connects the D+ pull-up.
//
// Peripheral clock/reset sequencing is assumed to have already been
// performed by the caller (§1, Non-goals).
func (c *Controller) Init() error {
	if err := c.validateConfig(); err != nil {
		// Mirrors the reference implementation's use of panic for
		// hardware invariants that cannot be satisfied at runtime
		// (e.g. imx6/usb/bus.go's panic("invalid port speed")); here
		// the invariant is the PMA budget, the Go analogue of the
		// spec's build-time static assertion.
		panic(fmt.Sprintf("stm32_usb: %v", err))
	}

	c.initPMA()

	reg.Write16(c.btable, 0)

	c.state = StateDefault
	c.address = 0
	c.pendingAddressValid = false
	c.continuation = nil
	c.sofCursor = 1

	reg.Write16(c.istr, 0)

	mask := uint16(1<<cntrCTRM_POS | 1<<cntrWKUPM_POS | 1<<cntrSUSPM_POS | 1<<cntrRESETM_POS)
	if c.cb.InEvent != nil {
		mask |= 1 << cntrSOFM_POS
	}
	reg.Write16(c.cntr, mask)

	// Connect D+ pull-up: on this peripheral family this is implied by
	// leaving FRES/PDWN cleared once CNTR has been programmed above;
	// parts with a dedicated DP pull-up control bit are handled by the
	// caller's board-level wiring (outside this core's scope, §1).

	return nil
}

func (c *Controller) validateConfig() error {
	total := btableBytes + epControlSize + epControlSize

	for i := 1; i < 8; i++ {
		e := c.cfg.Endpoints[i]

		if e.Type == EndpointTypeIsochronous {
			return fmt.Errorf("endpoint %d: isochronous endpoints are not supported", i)
		}

		if e.SizeOut > 0 {
			if _, ok := rxCount(e.SizeOut); !ok {
				return fmt.Errorf("endpoint %d: OUT size %d is not encodable as an RX buffer size", i, e.SizeOut)
			}
		}

		total += int(e.SizeIn) + int(e.SizeOut)
	}

	if total > c.cfg.PMASize {
		return fmt.Errorf("PMA overflow: endpoints require %d bytes, only %d available", total, c.cfg.PMASize)
	}

	return nil
}
