// Control transfer state machine
// https://github.com/tamago-stm32/tamago
//
// Copyright (c) The tamago-stm32 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import (
	"log"

	"github.com/tamago-stm32/tamago/internal/reg"
)

// p279, Table 9-4. Standard Request Codes, USB Specification Revision 2.0.
const (
	GetStatus        = 0
	ClearFeature     = 1
	SetFeature       = 3
	SetAddress       = 5
	GetDescriptor    = 6
	SetDescriptor    = 7
	GetConfiguration = 8
	SetConfiguration = 9
	GetInterface     = 10
	SetInterface     = 11
	SynchFrame       = 12
)

// p279, Table 9-5. Descriptor Types, USB Specification Revision 2.0.
const (
	DescriptorDevice        = 0x1
	DescriptorConfiguration = 0x2
	DescriptorString        = 0x3
	DescriptorInterface     = 0x4
	DescriptorEndpoint      = 0x5
)

// bmRequestType bit layout, p248, Table 9-2, USB Specification Revision 2.0.
const (
	reqDirMask  = 1 << 7
	reqDirIn    = 1 << 7 // Device-to-host
	reqTypeMask = 0x60
	reqTypeStandard = 0x00
	reqTypeClass    = 0x20
	reqTypeVendor   = 0x40
	reqRecipientMask      = 0x1f
	reqRecipientDevice    = 0x00
	reqRecipientInterface = 0x01
	reqRecipientEndpoint  = 0x02

	// FeatureEndpointHalt is the only feature selector this core
	// implements (§4.4).
	FeatureEndpointHalt = 0
)

// SetupData is the 8-byte SETUP packet, p276, Table 9-2, USB Specification
// Revision 2.0.
type SetupData struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
}

func parseSetup(buf []byte) SetupData {
	return SetupData{
		RequestType: buf[0],
		Request:     buf[1],
		Value:       uint16(buf[2]) | uint16(buf[3])<<8,
		Index:       uint16(buf[4]) | uint16(buf[5])<<8,
		Length:      uint16(buf[6]) | uint16(buf[7])<<8,
	}
}

func (s *SetupData) isDeviceToHost() bool { return s.RequestType&reqDirMask == reqDirIn }
func (s *SetupData) recipient() uint8     { return s.RequestType & reqRecipientMask }
func (s *SetupData) reqType() uint8       { return s.RequestType & reqTypeMask }

// handleSetup processes a received SETUP packet (§4.4), dispatching by
// request type and, for standard requests, by bRequest. It is invoked by
// the event loop after reading the 8 SETUP bytes out of EP0's OUT slot.
func (c *Controller) handleSetup(setup SetupData) {
	var handled bool

	switch setup.reqType() {
	case reqTypeClass:
		if c.cb.ClassRequest != nil {
			handled = c.cb.ClassRequest(&setup)
		}
	case reqTypeVendor:
		if c.cb.VendorRequest != nil {
			handled = c.cb.VendorRequest(&setup)
		}
	default:
		handled = c.dispatchStandard(setup)
	}

	if !handled {
		log.Printf("stm32_usb: STALL, unhandled request %#x (type %#x, recipient %#x)\n",
			setup.Request, setup.reqType(), setup.recipient())
		c.setTX(0, StatStall, false)
		c.setRX(0, StatStall, false)
		return
	}

	// §4.4 "Status-stage handling": host-to-device requests (no data
	// stage carries host data) complete with a zero-length status IN;
	// device-to-host requests complete when the host's empty status OUT
	// arrives as an ordinary CTR_RX, requiring no action here.
	if !setup.isDeviceToHost() {
		c.Write(0, nil)
	}
}

// dispatchStandard implements the standard request table of §4.4. It
// returns true if the request was handled (including requests it silently
// ignores, like SET_ADDRESS(0) in Default state).
func (c *Controller) dispatchStandard(setup SetupData) bool {
	switch setup.Request {
	case GetStatus:
		return c.getStatus(setup)
	case ClearFeature:
		return c.setClearFeature(setup, false)
	case SetFeature:
		return c.setClearFeature(setup, true)
	case SetAddress:
		return c.setAddress(setup)
	case GetDescriptor:
		return c.getDescriptor(setup)
	case GetConfiguration:
		return c.getConfiguration(setup)
	case SetConfiguration:
		return c.setConfiguration(setup)
	case GetInterface:
		return c.getInterface(setup)
	case SetInterface:
		return c.setInterface(setup)
	case SetDescriptor, SynchFrame:
		return false
	default:
		return false
	}
}

func (c *Controller) getStatus(setup SetupData) bool {
	if !setup.isDeviceToHost() {
		return false
	}

	switch setup.recipient() {
	case reqRecipientDevice:
		if c.state != StateConfigured {
			return false
		}
		status := uint16(0)
		if c.selfPowered {
			status |= 0x01
		}
		c.Write(0, []byte{byte(status), byte(status >> 8)})
		return true

	case reqRecipientInterface:
		if c.state != StateConfigured {
			return false
		}
		itf := uint8(setup.Index)
		if c.cb.InterfaceDescriptor == nil || c.cb.InterfaceDescriptor(itf) == nil {
			return false
		}
		c.Write(0, []byte{0x00, 0x00})
		return true

	case reqRecipientEndpoint:
		if c.state != StateConfigured {
			return false
		}
		n, dir, ok := c.endpointFromIndex(setup.Index)
		if !ok {
			return false
		}
		halted := false
		if dir == 1 {
			halted = c.statTX(n) == StatStall
		} else {
			halted = c.statRX(n) == StatStall
		}
		status := uint16(0)
		if halted {
			status = 0x01
		}
		c.Write(0, []byte{byte(status), byte(status >> 8)})
		return true
	}

	return false
}

// endpointFromIndex decodes a wIndex-style endpoint address (bit7
// direction, bits3:0 number) and reports whether that direction is
// configured.
func (c *Controller) endpointFromIndex(index uint16) (n int, dir int, ok bool) {
	n = int(index & 0xf)
	dir = 0
	if index&0x80 != 0 {
		dir = 1
	}

	if n < 0 || n >= 8 {
		return 0, 0, false
	}

	s := &c.slot[n]
	if dir == 1 {
		ok = s.hasIn()
	} else {
		ok = s.hasOut()
	}

	return n, dir, ok
}

func (c *Controller) setClearFeature(setup SetupData, set bool) bool {
	if setup.isDeviceToHost() {
		return false
	}

	if setup.Value != FeatureEndpointHalt || setup.recipient() != reqRecipientEndpoint {
		return false
	}

	if c.state != StateConfigured {
		return false
	}

	n, dir, ok := c.endpointFromIndex(setup.Index)
	if !ok {
		return false
	}

	if c.slot[n].typ != EndpointTypeBulk && c.slot[n].typ != EndpointTypeInterrupt {
		return false
	}

	if set {
		if dir == 1 {
			c.setTX(n, StatStall, false)
		} else {
			c.setRX(n, StatStall, false)
		}
		return true
	}

	if dir == 1 {
		c.setTX(n, StatNAK, true)
	} else {
		c.setRX(n, StatValid, true)
	}

	return true
}

// setAddress implements the SET_ADDRESS deferral of §4.4/Property 3: the
// address is stashed and applied only when the status-stage IN completes
// (task.go's CTR_TX handler), never written to hardware here.
func (c *Controller) setAddress(setup SetupData) bool {
	if setup.isDeviceToHost() {
		return false
	}

	addr := uint8(setup.Value & 0x7f)

	if c.state == StateDefault && addr == 0 {
		return true
	}

	if c.state != StateDefault && c.state != StateAddress {
		return false
	}

	c.pendingAddress = addr
	c.pendingAddressValid = true

	if c.cb.SetAddressHook != nil {
		c.cb.SetAddressHook(addr)
	}

	return true
}

func (c *Controller) getDescriptor(setup SetupData) bool {
	if !setup.isDeviceToHost() {
		return false
	}

	descType := uint8(setup.Value >> 8)
	index := uint8(setup.Value & 0xff)

	if setup.recipient() == reqRecipientInterface {
		if c.cb.DescriptorInterface == nil {
			return false
		}
		return c.cb.DescriptorInterface(&setup)
	}

	switch descType {
	case DescriptorDevice:
		if c.cb.DeviceDescriptor == nil {
			return false
		}
		d := c.cb.DeviceDescriptor()
		if d == nil {
			return false
		}
		length := len(d)
		if length > int(d[0]) {
			length = int(d[0])
		}
		c.ControlIn(d, min16(length, int(setup.Length)))
		return true

	case DescriptorConfiguration:
		if c.cb.ConfigDescriptor == nil {
			return false
		}
		d := c.cb.ConfigDescriptor()
		if d == nil {
			return false
		}
		total := int(d[2]) | int(d[3])<<8
		c.ControlIn(d, min16(total, int(setup.Length)))
		return true

	case DescriptorString:
		if c.cb.StringDescriptor == nil {
			return false
		}
		d := c.cb.StringDescriptor(setup.Index, index)
		if d == nil {
			return false
		}
		c.ControlIn(d, int(setup.Length))
		return true

	default:
		return false
	}
}

func min16(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (c *Controller) getConfiguration(setup SetupData) bool {
	if !setup.isDeviceToHost() || setup.recipient() != reqRecipientDevice {
		return false
	}

	value := uint8(0)
	if c.state == StateConfigured {
		value = c.configValue
	}

	c.Write(0, []byte{value})
	return true
}

// configDescriptorFields decodes the fixed-offset fields of the
// application-supplied configuration descriptor block needed by the
// control engine (bConfigurationValue, bmAttributes, bNumInterfaces),
// matching the field order of the reference implementation's
// ConfigurationDescriptor struct (imx6/usb/descriptor.go).
func configDescriptorFields(d []byte) (value uint8, selfPowered bool, numInterfaces uint8) {
	value = d[5]
	selfPowered = d[7]&0x40 != 0
	numInterfaces = d[4]
	return
}

// setConfiguration implements §4.4's table entry and the State machine
// table: value 0 moves to Address and disables every endpoint but EP0;
// the one accepted nonzero value moves to Configured and programs every
// configured endpoint's EPnR.
func (c *Controller) setConfiguration(setup SetupData) bool {
	if setup.isDeviceToHost() || setup.recipient() != reqRecipientDevice {
		return false
	}

	if c.state == StateDefault {
		return false
	}

	value := uint8(setup.Value & 0xff)

	if value == 0 {
		for n := 1; n < 8; n++ {
			reg.Write16(c.ep[n], 0)
		}
		c.state = StateAddress
		c.configValue = 0
		return true
	}

	if c.cb.ConfigDescriptor == nil {
		return false
	}

	d := c.cb.ConfigDescriptor()
	if d == nil || len(d) < CONFIGURATION_LENGTH {
		return false
	}

	cfgValue, selfPowered, numInterfaces := configDescriptorFields(d)
	if value != cfgValue {
		return false
	}

	for n := 1; n < 8; n++ {
		s := &c.slot[n]
		if !s.hasIn() && !s.hasOut() {
			continue
		}

		c.setType(n, s.typ, uint8(n))

		if s.hasIn() {
			c.setTX(n, StatNAK, true)
		}
		if s.hasOut() {
			c.setRX(n, StatValid, true)
		}
	}

	c.state = StateConfigured
	c.configValue = value
	c.selfPowered = selfPowered
	c.numInterfaces = numInterfaces

	return true
}

func (c *Controller) getInterface(setup SetupData) bool {
	if !setup.isDeviceToHost() || setup.recipient() != reqRecipientInterface {
		return false
	}

	if c.state != StateConfigured {
		return false
	}

	itf := uint8(setup.Index)
	if itf >= c.numInterfaces || int(itf) >= len(c.altSetting) {
		return false
	}

	d := c.cb.InterfaceDescriptor
	if d == nil {
		return false
	}
	desc := d(itf)
	if desc == nil {
		return false
	}

	c.Write(0, []byte{c.altSetting[itf]})
	return true
}

// setInterface accepts only re-asserting the interface's current (only)
// alternate setting; any other value is rejected (§1 Non-goals, §9 Open
// Question — preserved as a no-op ACK rather than inferring intent).
func (c *Controller) setInterface(setup SetupData) bool {
	if setup.isDeviceToHost() || setup.recipient() != reqRecipientInterface {
		return false
	}

	if c.state != StateConfigured {
		return false
	}

	itf := uint8(setup.Index)
	if itf >= c.numInterfaces || int(itf) >= len(c.altSetting) {
		return false
	}

	value := uint8(setup.Value & 0xff)
	if value != c.altSetting[itf] {
		return false
	}

	return true
}
