// USB descriptor support
// https://github.com/tamago-stm32/tamago
//
// Copyright (c) The tamago-stm32 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"

	"github.com/tamago-stm32/tamago/internal/reg"
)

// Fixed descriptor lengths, USB Specification Revision 2.0.
const (
	DEVICE_LENGTH        = 18
	CONFIGURATION_LENGTH = 9
	INTERFACE_LENGTH     = 9
	ENDPOINT_LENGTH      = 7
)

// DeviceDescriptor implements
// p290, Table 9-8. Standard Device Descriptor, USB Specification Revision 2.0.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	BcdUSB            uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize     uint8
	VendorId          uint16
	ProductId         uint16
	Device            uint16
	Manufacturer      uint8
	Product           uint8
	SerialNumber      uint8
	NumConfigurations uint8
}

// SetDefaults initializes default values for the USB device descriptor.
func (d *DeviceDescriptor) SetDefaults() {
	d.Length = DEVICE_LENGTH
	d.DescriptorType = DescriptorDevice
	d.BcdUSB = 0x0200
	d.MaxPacketSize = epControlSize
	d.NumConfigurations = 1
}

// Bytes converts the descriptor structure to byte array format.
func (d *DeviceDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// ConfigurationDescriptor implements
// p293, Table 9-10. Standard Configuration Descriptor, USB Specification Revision 2.0.
type ConfigurationDescriptor struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	Configuration      uint8
	Attributes         uint8
	MaxPower           uint8

	Interfaces []*InterfaceDescriptor
}

// SetDefaults initializes default values for the USB configuration
// descriptor.
func (d *ConfigurationDescriptor) SetDefaults() {
	d.Length = CONFIGURATION_LENGTH
	d.DescriptorType = DescriptorConfiguration
	d.NumInterfaces = 1
	d.ConfigurationValue = 1
	// bus-powered, no remote wakeup
	d.Attributes = 0x80
	d.MaxPower = 250
}

// Bytes serializes the configuration descriptor together with every
// interface and endpoint descriptor it owns, as expected by
// GET_DESCRIPTOR(Configuration) (§4.4).
func (d *ConfigurationDescriptor) Bytes() []byte {
	var body bytes.Buffer

	for _, iface := range d.Interfaces {
		body.Write(iface.Bytes())
	}

	d.TotalLength = uint16(CONFIGURATION_LENGTH) + uint16(body.Len())

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d.Length)
	binary.Write(buf, binary.LittleEndian, d.DescriptorType)
	binary.Write(buf, binary.LittleEndian, d.TotalLength)
	binary.Write(buf, binary.LittleEndian, d.NumInterfaces)
	binary.Write(buf, binary.LittleEndian, d.ConfigurationValue)
	binary.Write(buf, binary.LittleEndian, d.Configuration)
	binary.Write(buf, binary.LittleEndian, d.Attributes)
	binary.Write(buf, binary.LittleEndian, d.MaxPower)
	buf.Write(body.Bytes())

	return buf.Bytes()
}

// InterfaceDescriptor implements
// p296, Table 9-12. Standard Interface Descriptor, USB Specification Revision 2.0.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	Interface         uint8

	Endpoints        []*EndpointDescriptor
	ClassDescriptors [][]byte
}

// SetDefaults initializes default values for the USB interface descriptor.
func (d *InterfaceDescriptor) SetDefaults() {
	d.Length = INTERFACE_LENGTH
	d.DescriptorType = DescriptorInterface
}

// Bytes converts the descriptor structure to byte array format.
func (d *InterfaceDescriptor) Bytes() []byte {
	d.NumEndpoints = uint8(len(d.Endpoints))

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d.Length)
	binary.Write(buf, binary.LittleEndian, d.DescriptorType)
	binary.Write(buf, binary.LittleEndian, d.InterfaceNumber)
	binary.Write(buf, binary.LittleEndian, d.AlternateSetting)
	binary.Write(buf, binary.LittleEndian, d.NumEndpoints)
	binary.Write(buf, binary.LittleEndian, d.InterfaceClass)
	binary.Write(buf, binary.LittleEndian, d.InterfaceSubClass)
	binary.Write(buf, binary.LittleEndian, d.InterfaceProtocol)
	binary.Write(buf, binary.LittleEndian, d.Interface)

	for _, classDesc := range d.ClassDescriptors {
		buf.Write(classDesc)
	}

	for _, ep := range d.Endpoints {
		buf.Write(ep.Bytes())
	}

	return buf.Bytes()
}

// EndpointDescriptor implements
// p297, Table 9-13. Standard Endpoint Descriptor, USB Specification Revision 2.0.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

// SetDefaults initializes default values for the USB endpoint descriptor.
func (d *EndpointDescriptor) SetDefaults() {
	d.Length = ENDPOINT_LENGTH
	d.DescriptorType = DescriptorEndpoint
}

// Number returns the endpoint number.
func (d *EndpointDescriptor) Number() int {
	return int(d.EndpointAddress & 0xf)
}

// Direction returns the endpoint direction (0 OUT, 1 IN).
func (d *EndpointDescriptor) Direction() int {
	return int(d.EndpointAddress&0x80) / 0x80
}

// Bytes converts the descriptor structure to byte array format.
func (d *EndpointDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d.Length)
	binary.Write(buf, binary.LittleEndian, d.DescriptorType)
	binary.Write(buf, binary.LittleEndian, d.EndpointAddress)
	binary.Write(buf, binary.LittleEndian, d.Attributes)
	binary.Write(buf, binary.LittleEndian, d.MaxPacketSize)
	binary.Write(buf, binary.LittleEndian, d.Interval)
	return buf.Bytes()
}

// StringDescriptor implements
// p273, 9.6.7 String, USB Specification Revision 2.0.
type StringDescriptor struct {
	Length         uint8
	DescriptorType uint8
	Codes          []uint16
}

// NewLangIDDescriptor builds String Descriptor Zero, listing the
// supported language codes (p273, Table 9-15, USB Specification
// Revision 2.0).
func NewLangIDDescriptor(codes ...uint16) *StringDescriptor {
	d := &StringDescriptor{DescriptorType: DescriptorString, Codes: codes}
	d.Length = uint8(2 + 2*len(codes))
	return d
}

// NewStringDescriptor builds a UNICODE string descriptor from a Go string
// (p274, Table 9-16, USB Specification Revision 2.0).
func NewStringDescriptor(s string) *StringDescriptor {
	codes := utf16.Encode([]rune(s))
	d := &StringDescriptor{DescriptorType: DescriptorString, Codes: codes}
	d.Length = uint8(2 + 2*len(codes))
	return d
}

// Bytes converts the descriptor structure to byte array format.
func (d *StringDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(d.Length)
	buf.WriteByte(d.DescriptorType)
	for _, c := range d.Codes {
		binary.Write(buf, binary.LittleEndian, c)
	}
	return buf.Bytes()
}

// serialHexDigits is the hex alphabet used by SerialStringDescriptor,
// matching how bootloaders conventionally render the factory unique ID.
const serialHexDigits = "0123456789ABCDEF"

// SerialStringDescriptor reads the factory-programmed 96-bit unique
// device identifier from Config.UniqueID and materializes it as a
// 24-character hex string descriptor (§6). The result is cached after the
// first call.
func (c *Controller) SerialStringDescriptor() (*StringDescriptor, error) {
	if c.serial != nil {
		return decodeCachedSerial(c.serial), nil
	}

	if c.cfg.UniqueID == 0 {
		return nil, errors.New("unique ID not configured")
	}

	raw := make([]byte, 12)
	for i := 0; i < 3; i++ {
		w := reg.Read16(c.cfg.UniqueID + uintptr(i*4))
		w2 := reg.Read16(c.cfg.UniqueID + uintptr(i*4) + 2)
		raw[i*4] = byte(w)
		raw[i*4+1] = byte(w >> 8)
		raw[i*4+2] = byte(w2)
		raw[i*4+3] = byte(w2 >> 8)
	}

	hex := make([]byte, 24)
	for i, b := range raw {
		hex[i*2] = serialHexDigits[b>>4]
		hex[i*2+1] = serialHexDigits[b&0xf]
	}

	d := NewStringDescriptor(string(hex))
	c.serial = d.Bytes()

	return d, nil
}

func decodeCachedSerial(b []byte) *StringDescriptor {
	n := (len(b) - 2) / 2
	codes := make([]uint16, n)
	for i := 0; i < n; i++ {
		codes[i] = uint16(b[2+i*2]) | uint16(b[2+i*2+1])<<8
	}
	return &StringDescriptor{Length: b[0], DescriptorType: b[1], Codes: codes}
}

// validateConfigurationShape is a development helper returning an error if
// a caller-assembled configuration hierarchy is inconsistent (e.g. a
// descriptor claiming more interfaces than it carries).
func validateConfigurationShape(cfg *ConfigurationDescriptor) error {
	if int(cfg.NumInterfaces) != len(cfg.Interfaces) {
		return fmt.Errorf("configuration declares %d interfaces, has %d", cfg.NumInterfaces, len(cfg.Interfaces))
	}
	return nil
}
