// Endpoint register discipline and byte-granular I/O
// https://github.com/tamago-stm32/tamago
//
// Copyright (c) The tamago-stm32 Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import "github.com/tamago-stm32/tamago/internal/reg"

// EPnR bit layout, p655 (USB_EPnR), RM0008 Reference Manual.
const (
	eprCTR_RX      = 1 << 15
	eprDTOG_RX     = 1 << 14
	eprSTAT_RX_POS = 12
	eprSTAT_RX_MASK = 0x3
	eprSETUP       = 1 << 11
	eprEPTYPE_POS  = 9
	eprEPTYPE_MASK = 0x3
	eprEPKIND      = 1 << 8
	eprCTR_TX      = 1 << 7
	eprDTOG_TX     = 1 << 6
	eprSTAT_TX_POS = 4
	eprSTAT_TX_MASK = 0x3
	eprEA_POS      = 0
	eprEA_MASK     = 0xf

	// eprToggleMask covers every bit that is write-1-to-toggle
	// (DTOG_RX/TX, STAT_RX/TX); writing 0 at any of these positions is
	// a no-op, which is what lets the preserve-mask trick below work.
	eprToggleMask = eprDTOG_RX | (eprSTAT_RX_MASK << eprSTAT_RX_POS) | eprDTOG_TX | (eprSTAT_TX_MASK << eprSTAT_TX_POS)

	// eprPreserveMask covers every rw bit that must be written back
	// unchanged, plus the two sticky CTR bits which must be written 1
	// to avoid clearing them (§4.3).
	eprPreserveMask = eprCTR_RX | (eprEPTYPE_MASK << eprEPTYPE_POS) | eprEPKIND | eprCTR_TX | eprEA_MASK
)

// EP status values, shared by STAT_RX and STAT_TX.
type epStat uint16

const (
	StatDisabled epStat = 0b00
	StatStall    epStat = 0b01
	StatNAK      epStat = 0b10
	StatValid    epStat = 0b11
)

// readEPR reads the current EPnR value.
func (c *Controller) readEPR(n int) uint16 {
	return reg.Read16(c.ep[n])
}

// writeToggle performs the single read-modify-write idiom mandated by
// §4.3: the toggle bits set in `set` are flipped (by XOR against the
// current value), every other toggle bit is left alone, and the
// non-toggle rw/sticky bits are written back unchanged so that CTR_RX and
// CTR_TX are never inadvertently cleared.
//
// This is the one helper every endpoint state change in this package goes
// through (§9 design note).
func (c *Controller) writeToggle(n int, set uint16) {
	cur := c.readEPR(n)
	keep := cur & eprPreserveMask
	toggle := (cur & eprToggleMask) ^ (set & eprToggleMask)
	reg.Write16(c.ep[n], keep|toggle)
}

// clearCTR clears the sticky CTR_RX or CTR_TX flag, preserving every other
// bit (§4.3, §4.4 "clear CTR_RX").
func (c *Controller) clearCTR(n int, rx bool) {
	cur := c.readEPR(n)
	keep := cur & eprPreserveMask
	if rx {
		keep &^= eprCTR_RX
	} else {
		keep &^= eprCTR_TX
	}
	reg.Write16(c.ep[n], keep)
}

// setType programs EP_TYPE and the endpoint address field, preserving
// CTR_RX/CTR_TX. Used during SET_CONFIGURATION and bus reset.
func (c *Controller) setType(n int, typ EndpointType, addr uint8) {
	cur := c.readEPR(n)
	keep := cur & eprPreserveMask
	keep &^= uint16(eprEPTYPE_MASK<<eprEPTYPE_POS) | uint16(eprEA_MASK<<eprEA_POS)
	keep |= uint16(typ&eprEPTYPE_MASK) << eprEPTYPE_POS
	keep |= uint16(addr&eprEA_MASK) << eprEA_POS
	reg.Write16(c.ep[n], keep)
}

// statRX/statTX extract the current STAT_RX/STAT_TX field.
func (c *Controller) statRX(n int) epStat {
	return epStat((c.readEPR(n) >> eprSTAT_RX_POS) & eprSTAT_RX_MASK)
}

func (c *Controller) statTX(n int) epStat {
	return epStat((c.readEPR(n) >> eprSTAT_TX_POS) & eprSTAT_TX_MASK)
}

func (c *Controller) dtogRX(n int) bool {
	return c.readEPR(n)&eprDTOG_RX != 0
}

func (c *Controller) dtogTX(n int) bool {
	return c.readEPR(n)&eprDTOG_TX != 0
}

// setRX arms STAT_RX to the target value, optionally resetting DTOG_RX to
// 0 first, in a single register write.
func (c *Controller) setRX(n int, target epStat, resetDtog bool) {
	cur := c.statRX(n)
	set := uint16(cur^target) << eprSTAT_RX_POS

	if resetDtog && c.dtogRX(n) {
		set |= eprDTOG_RX
	}

	c.writeToggle(n, set)
}

// setTX arms STAT_TX to the target value, optionally resetting DTOG_TX to
// 0 first, in a single register write.
func (c *Controller) setTX(n int, target epStat, resetDtog bool) {
	cur := c.statTX(n)
	set := uint16(cur^target) << eprSTAT_TX_POS

	if resetDtog && c.dtogTX(n) {
		set |= eprDTOG_TX
	}

	c.writeToggle(n, set)
}

// copyToPMA copies len(buf) bytes from buf into the PMA starting at byte
// offset addr, assembling bytes into the 16-bit words the peripheral
// expects (§9, "PMA access width").
func (c *Controller) copyToPMA(addr uint16, buf []byte) {
	for i := 0; i < len(buf); i += 2 {
		var word uint16
		if i+1 < len(buf) {
			word = uint16(buf[i]) | uint16(buf[i+1])<<8
		} else {
			word = uint16(buf[i])
		}
		reg.Write16(c.pmaWordAddr(addr+uint16(i)), word)
	}
}

// copyFromPMA copies n bytes from the PMA starting at byte offset addr
// into buf, which must have length >= n.
func (c *Controller) copyFromPMA(addr uint16, buf []byte, n int) {
	for i := 0; i < n; i += 2 {
		word := reg.Read16(c.pmaWordAddr(addr + uint16(i)))
		buf[i] = byte(word)
		if i+1 < n {
			buf[i+1] = byte(word >> 8)
		}
	}
}

// Write implements ep_write (§4.2, §6): copies up to len(buf) bytes into
// the endpoint's IN slot and arms STAT_TX to Valid. It fails if the
// endpoint does not exist, its IN direction is disabled, or the payload
// exceeds the configured IN size.
func (c *Controller) Write(ept int, buf []byte) bool {
	if ept < 0 || ept >= 8 {
		return false
	}

	s := &c.slot[ept]
	if !s.hasIn() {
		return false
	}

	if len(buf) > int(s.sizeIn) {
		return false
	}

	c.copyToPMA(s.inAddr, buf)
	c.writeBDCountTX(ept, uint16(len(buf)))
	c.setTX(ept, StatValid, false)

	return true
}

// Read implements ep_read (§4.2, §6): copies up to len(buf) bytes out of
// the endpoint's OUT slot and re-arms STAT_RX to Valid. Overrun is clamped
// silently (§7, TruncatedRead); returns 0 if the endpoint's OUT direction
// is disabled.
func (c *Controller) Read(ept int, buf []byte) uint16 {
	if ept < 0 || ept >= 8 {
		return 0
	}

	s := &c.slot[ept]
	if !s.hasOut() {
		return 0
	}

	count := c.readBDCountRX(ept)
	n := int(count)
	if n > len(buf) {
		n = len(buf)
	}

	c.copyFromPMA(s.outAddr, buf, n)
	c.setRX(ept, StatValid, false)

	return uint16(n)
}

// ControlIn implements control_in (§4.2, §6): a multi-packet EP0 IN
// convenience for descriptor replies larger than 64 bytes. It writes the
// first min(total, 64) bytes immediately via Write(0, ...) and stashes the
// remainder as a continuation, drained 64 bytes at a time by
// controlInResume on each subsequent EP0 IN completion.
func (c *Controller) ControlIn(buf []byte, reqlen int) {
	total := reqlen
	if len(buf) < total {
		total = len(buf)
	}
	if total < 0 {
		total = 0
	}

	chunk := total
	if chunk > epControlSize {
		chunk = epControlSize
	}

	c.Write(0, buf[:chunk])

	if total > epControlSize {
		c.continuation = buf[epControlSize:total]
	} else {
		c.continuation = nil
	}
}

// controlInResume drains the next 64-byte fragment of a pending
// control-IN continuation, invoked by the event loop on every EP0 CTR_TX
// (§4.2, §4.4).
func (c *Controller) controlInResume() {
	if len(c.continuation) == 0 {
		return
	}

	chunk := len(c.continuation)
	if chunk > epControlSize {
		chunk = epControlSize
	}

	frag := c.continuation[:chunk]
	c.continuation = c.continuation[chunk:]

	c.Write(0, frag)
}
