// https://github.com/tamago-stm32/tamago
//
// Copyright (c) The tamago-stm32 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import (
	"testing"

	"github.com/tamago-stm32/tamago/internal/reg"
)

func testConfigDescriptor() []byte {
	cfg := &ConfigurationDescriptor{ConfigurationValue: 1}
	cfg.SetDefaults()
	iface := &InterfaceDescriptor{}
	iface.SetDefaults()
	cfg.Interfaces = []*InterfaceDescriptor{iface}
	cfg.NumInterfaces = 1
	return cfg.Bytes()
}

func testDeviceDescriptor() []byte {
	d := &DeviceDescriptor{}
	d.SetDefaults()
	return d.Bytes()
}

func setupPacket(reqType, request uint8, value, index, length uint16) []byte {
	return []byte{
		reqType, request,
		byte(value), byte(value >> 8),
		byte(index), byte(index >> 8),
		byte(length), byte(length >> 8),
	}
}

// TestSetAddressDeferred is the regression test for Property 3 (§4.4): the
// address must not reach DADDR until the status-stage IN completes.
func TestSetAddressDeferred(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})
	c.state = StateDefault

	ok := c.setAddress(parseSetup(setupPacket(0x00, SetAddress, 5, 0, 0)))
	if !ok {
		t.Fatal("setAddress rejected a valid request")
	}

	if c.address != 0 {
		t.Errorf("address applied before status stage: got %d, want 0", c.address)
	}
	if !c.pendingAddressValid || c.pendingAddress != 5 {
		t.Errorf("pendingAddress = %d (valid=%v), want 5 (valid=true)", c.pendingAddress, c.pendingAddressValid)
	}

	// Simulate the peripheral raising CTR_TX for EP0's status-stage IN.
	reg.Write16(c.ep[0], c.readEPR(0)|eprCTR_TX)
	c.handleCTR(0) // EP_ID field is 0

	if c.address != 5 {
		t.Errorf("address after status-stage IN = %d, want 5", c.address)
	}
	if c.state != StateAddress {
		t.Errorf("state after SET_ADDRESS completion = %v, want Address", c.state)
	}
}

func TestSetAddressIgnoresZeroInDefault(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})
	c.state = StateDefault

	ok := c.setAddress(parseSetup(setupPacket(0x00, SetAddress, 0, 0, 0)))
	if !ok {
		t.Error("setAddress(0) in Default should be accepted as a no-op")
	}
	if c.pendingAddressValid {
		t.Error("setAddress(0) should not schedule a pending address")
	}
}

func TestGetDescriptorDevice(t *testing.T) {
	dd := testDeviceDescriptor()

	c, _, _ := newTestController(Callbacks{
		DeviceDescriptor: func() []byte { return dd },
	})

	ok := c.getDescriptor(parseSetup(setupPacket(0x80, GetDescriptor, uint16(DescriptorDevice)<<8, 0, 64)))
	if !ok {
		t.Fatal("getDescriptor(Device) rejected")
	}
}

func TestGetDescriptorConfigurationStallsWithoutCallback(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})

	ok := c.getDescriptor(parseSetup(setupPacket(0x80, GetDescriptor, uint16(DescriptorConfiguration)<<8, 0, 64)))
	if ok {
		t.Error("getDescriptor(Configuration) should fail with no ConfigDescriptor callback")
	}
}

func TestSetConfigurationTransitionsToConfigured(t *testing.T) {
	cd := testConfigDescriptor()

	c, _, _ := newTestController(Callbacks{
		ConfigDescriptor: func() []byte { return cd },
	})
	c.state = StateAddress

	ok := c.setConfiguration(parseSetup(setupPacket(0x00, SetConfiguration, 1, 0, 0)))
	if !ok {
		t.Fatal("setConfiguration(1) rejected")
	}
	if c.state != StateConfigured {
		t.Errorf("state = %v, want Configured", c.state)
	}
	if c.configValue != 1 {
		t.Errorf("configValue = %d, want 1", c.configValue)
	}

	if c.statRX(1) != StatValid {
		t.Errorf("EP1 STAT_RX = %v, want Valid", c.statRX(1))
	}
	if c.statTX(1) != StatNAK {
		t.Errorf("EP1 STAT_TX = %v, want NAK", c.statTX(1))
	}
}

func TestSetConfigurationZeroReturnsToAddress(t *testing.T) {
	cd := testConfigDescriptor()

	c, _, _ := newTestController(Callbacks{
		ConfigDescriptor: func() []byte { return cd },
	})
	c.state = StateAddress

	if !c.setConfiguration(parseSetup(setupPacket(0x00, SetConfiguration, 1, 0, 0))) {
		t.Fatal("setConfiguration(1) rejected")
	}
	if !c.setConfiguration(parseSetup(setupPacket(0x00, SetConfiguration, 0, 0, 0))) {
		t.Fatal("setConfiguration(0) rejected")
	}

	if c.state != StateAddress {
		t.Errorf("state after setConfiguration(0) = %v, want Address", c.state)
	}
}

func TestSetConfigurationRejectedInDefault(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})
	c.state = StateDefault

	if c.setConfiguration(parseSetup(setupPacket(0x00, SetConfiguration, 1, 0, 0))) {
		t.Error("setConfiguration should be rejected in Default state")
	}
}

func TestGetStatusDeviceRequiresConfigured(t *testing.T) {
	c, _, _ := newTestController(Callbacks{})
	c.state = StateAddress

	if c.getStatus(parseSetup(setupPacket(0x80, GetStatus, 0, 0, 2))) {
		t.Error("GET_STATUS(Device) should be rejected before Configured")
	}

	c.state = StateConfigured
	if !c.getStatus(parseSetup(setupPacket(0x80, GetStatus, 0, 0, 2))) {
		t.Error("GET_STATUS(Device) should be accepted once Configured")
	}
}

func TestSetClearFeatureEndpointHalt(t *testing.T) {
	cd := testConfigDescriptor()
	c, _, _ := newTestController(Callbacks{
		ConfigDescriptor: func() []byte { return cd },
	})
	c.state = StateAddress
	c.setConfiguration(parseSetup(setupPacket(0x00, SetConfiguration, 1, 0, 0)))

	ok := c.setClearFeature(parseSetup(setupPacket(0x02, SetFeature, FeatureEndpointHalt, 0x81, 0)), true)
	if !ok {
		t.Fatal("SET_FEATURE(ENDPOINT_HALT) rejected")
	}
	if c.statTX(1) != StatStall {
		t.Errorf("STAT_TX after SET_FEATURE halt = %v, want Stall", c.statTX(1))
	}

	ok = c.setClearFeature(parseSetup(setupPacket(0x02, ClearFeature, FeatureEndpointHalt, 0x81, 0)), false)
	if !ok {
		t.Fatal("CLEAR_FEATURE(ENDPOINT_HALT) rejected")
	}
	if c.statTX(1) != StatNAK {
		t.Errorf("STAT_TX after CLEAR_FEATURE halt = %v, want NAK", c.statTX(1))
	}
}

func TestSetInterfaceOnlyReassertsSameValue(t *testing.T) {
	cd := testConfigDescriptor()
	c, _, _ := newTestController(Callbacks{
		ConfigDescriptor: func() []byte { return cd },
		InterfaceDescriptor: func(itf uint8) *InterfaceDescriptor {
			if itf == 0 {
				return &InterfaceDescriptor{}
			}
			return nil
		},
	})
	c.state = StateAddress
	c.setConfiguration(parseSetup(setupPacket(0x00, SetConfiguration, 1, 0, 0)))

	if !c.setInterface(parseSetup(setupPacket(0x01, SetInterface, 0, 0, 0))) {
		t.Error("SET_INTERFACE(0, alt=0) should be accepted")
	}
	if c.setInterface(parseSetup(setupPacket(0x01, SetInterface, 1, 0, 0))) {
		t.Error("SET_INTERFACE(0, alt=1) should be rejected (no alternate settings)")
	}
}
