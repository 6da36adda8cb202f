// PMA layout algorithm
// https://github.com/tamago-stm32/tamago
//
// Copyright (c) The tamago-stm32 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import "github.com/tamago-stm32/tamago/internal/reg"

// Buffer-descriptor table entry offsets, relative to the per-endpoint
// 8-byte descriptor block at PMA offset n*8: ADDR_TX, COUNT_TX, ADDR_RX,
// COUNT_RX, each a 16-bit PMA word (§3, "PMA layout").
const (
	bdOffAddrTX  = 0
	bdOffCountTX = 2
	bdOffAddrRX  = 4
	bdOffCountRX = 6
)

// blSizeBit selects the 32-byte block granularity in the RX COUNT
// encoding, in place of the default 2-byte granularity (§4.1).
const blSizeBit = 1 << 15

const rxCountPos = 10

// rxThreshold is the largest size encodable with 2-byte granularity; sizes
// above it must use 32-byte granularity.
const rxThreshold = 62

// rxCount computes the COUNTn_RX field encoding for an RX buffer of the
// given size (§4.1):
//
//	size <= 62, even: count = (size/2) << 10
//	size a multiple of 32, <= 992: count = BL_SIZE | (size/32) << 10
//
// ok is false if size cannot be encoded (odd and <= 62, not a multiple of
// 32 and > 62, zero, or exceeding 992).
func rxCount(size uint16) (count uint16, ok bool) {
	if size == 0 {
		return 0, false
	}

	if size <= rxThreshold {
		if size%2 != 0 {
			return 0, false
		}
		return (size / 2) << rxCountPos, true
	}

	if size%32 != 0 || size > 992 {
		return 0, false
	}

	return blSizeBit | (size/32)<<rxCountPos, true
}

// initPMA lays out the PMA once at Init (§4.1): the buffer-descriptor
// table occupies offsets 0..63, followed by endpoint buffers packed in
// index order EP0-IN, EP0-OUT, EP1-IN, EP1-OUT, ... EP7-OUT. Zero-sized
// directions leave their descriptor entry in place with COUNT=0 and are
// never armed.
func (c *Controller) initPMA() {
	watermark := uint16(btableBytes)

	c.slot[0] = epSlot{typ: EndpointTypeControl, sizeIn: epControlSize, sizeOut: epControlSize}
	for i := 1; i < 8; i++ {
		e := c.cfg.Endpoints[i]
		c.slot[i] = epSlot{typ: e.Type, sizeIn: e.SizeIn, sizeOut: e.SizeOut}
	}

	for n := 0; n < 8; n++ {
		s := &c.slot[n]
		bd := uint16(n * 8)

		if s.hasIn() {
			s.inAddr = watermark
			watermark += s.sizeIn
		}
		c.writeBD(bd+bdOffAddrTX, s.inAddr)
		c.writeBD(bd+bdOffCountTX, 0)

		if s.hasOut() {
			s.outAddr = watermark
			watermark += s.sizeOut

			count, ok := rxCount(s.sizeOut)
			if !ok {
				// validateConfig already rejected this; unreachable
				// in practice, kept defensive since initPMA has no
				// error return.
				count = 0
			}
			c.writeBD(bd+bdOffAddrRX, s.outAddr)
			c.writeBD(bd+bdOffCountRX, count)
		} else {
			c.writeBD(bd+bdOffAddrRX, s.outAddr)
			c.writeBD(bd+bdOffCountRX, 0)
		}
	}
}

// writeBD writes a 16-bit buffer-descriptor-table word at BTABLE+off.
func (c *Controller) writeBD(off uint16, val uint16) {
	reg.Write16(c.pmaWordAddr(off), val)
}

// readBDCountRX returns the live COUNTn_RX field, used by ep_read to learn
// how many bytes the peripheral received and by handleCTR to report that
// count to OutEvent.
func (c *Controller) readBDCountRX(n int) uint16 {
	return reg.Read16(c.pmaWordAddr(uint16(n*8)+bdOffCountRX)) & 0x3ff
}

// writeBDCountTX sets the COUNTn_TX field ahead of arming a TX transfer.
func (c *Controller) writeBDCountTX(n int, count uint16) {
	c.writeBD(uint16(n*8)+bdOffCountTX, count)
}
