/*
 * Copyright 2026 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package tcp

import (
	"time"

	"github.com/carverauto/tcpgrab/pkg/models"
	"github.com/carverauto/tcpgrab/pkg/tcpkt"
)

// seqWindow separates "past" from "future" in 32-bit modular sequence
// arithmetic. It deliberately replaces RFC-style window accounting:
// a single-request probe never has 100,000 bytes legitimately in
// flight.
const seqWindow = 100000

// segment is one outgoing, not-yet-acknowledged TCP data unit.
type segment struct {
	seqno uint32
	buf   []byte
	own   models.Ownership
	isFin bool
}

// release drops the segment's buffer according to its ownership tag.
// Static buffers are borrowed and must never be touched.
func (s *segment) release() {
	switch s.own {
	case models.OwnAdopt, models.OwnCopy:
		s.buf = nil
	case models.OwnStatic:
	}
}

// segSend appends application bytes (and/or a FIN) to the connection's
// segment queue, splitting at the MSS. If the queue was empty the new
// head is transmitted immediately. The retransmit timer is always
// re-armed.
func (c *Table) segSend(tcb *TCB, buf []byte, own models.Ownership, isFin bool, now time.Time) {
	length := len(buf)

	var more []byte

	if length > int(tcb.mss) {
		more = buf[tcb.mss:]
		buf = buf[:tcb.mss]
		length = int(tcb.mss)
	}

	if length == 0 && !isFin {
		return
	}

	// Walk to the tail, deriving the next sequence number as we go.
	seqno := tcb.seqnoMe
	blocked := false

	for _, seg := range tcb.segments {
		seqno = seg.seqno + uint32(len(seg.buf)) // #nosec G115 - MSS-bounded
		if seg.isFin {
			seqno++
			blocked = true
		}
	}

	if blocked {
		// Can't send past a FIN. Adopted buffers die here.
		c.logger.Warn().
			Str("ip", tcb.tuple.RemoteIP.String()).
			Uint16("port", tcb.tuple.RemotePort).
			Msg("can't send past a FIN")

		c.timers.arm(c, tcb, ticks(now.Add(time.Second)))

		return
	}

	seg := &segment{
		seqno: seqno,
		own:   own,
	}

	switch own {
	case models.OwnStatic, models.OwnAdopt:
		seg.buf = buf
	case models.OwnCopy:
		seg.buf = append([]byte(nil), buf...)
	}

	if len(more) == 0 {
		seg.isFin = isFin
	}

	tcb.segments = append(tcb.segments, seg)

	c.logtcb(tcb, dirSend, "send segment", len(seg.buf), seg.isFin)

	// New head: transmit right away and flip into the send phase.
	if len(tcb.segments) == 1 {
		flags := uint8(tcpkt.FlagPSH | tcpkt.FlagACK)
		if seg.isFin && len(seg.buf) == 0 {
			// A FIN-only segment goes out as a pure FIN-ACK.
			flags = tcpkt.FlagFIN | tcpkt.FlagACK
		} else if seg.isFin {
			flags |= tcpkt.FlagFIN
		}

		c.sendPacket(tcb, flags, seg.buf)
		c.changeState(tcb, StateEstablishedSend)
	}

	// A split whose outer discipline was Adopt continues as Copy: the
	// ownership of one allocation cannot be divided between segments.
	if len(more) > 0 {
		if own == models.OwnAdopt {
			own = models.OwnCopy
		}

		c.segSend(tcb, more, own, isFin, now)

		return
	}

	c.timers.arm(c, tcb, ticks(now.Add(time.Second)))
}

// segAcknowledge retires queued segments covered by a cumulative ACK.
// Returns false when the ACK is a repeat, stale, or out of range.
func (c *Table) segAcknowledge(tcb *TCB, ackno uint32) bool {
	// Normal: just discard repeats
	if ackno == tcb.seqnoMe {
		return false
	}

	// Duplicate ACK from the past; 32-bit wrapping happens here.
	if ackno-tcb.seqnoMe > seqWindow {
		c.logger.Debug().
			Str("ip", tcb.tuple.RemoteIP.String()).
			Uint32("ackno_me", tcb.acknoMe).
			Uint32("ackno", ackno).
			Msg("tcb: ackno from past")

		return false
	}

	// Invalid ACK from the future. NOTE: the literal `<` comparison is
	// intentional and pinned by tests; see DESIGN.md.
	if tcb.seqnoMe-ackno < seqWindow {
		c.logger.Debug().
			Str("ip", tcb.tuple.RemoteIP.String()).
			Uint32("seqno_me", tcb.seqnoMe).
			Uint32("ackno", ackno).
			Msg("tcb: ackno from future")

		return false
	}

	// Retire fully-covered segments from the head.
	length := ackno - tcb.seqnoMe

	for len(tcb.segments) > 0 {
		seg := tcb.segments[0]

		segSpan := uint32(len(seg.buf)) // #nosec G115 - MSS-bounded
		if seg.isFin {
			segSpan++
		}

		if length < segSpan {
			break
		}

		seg.release()
		length -= segSpan
		tcb.seqnoMe += segSpan
		tcb.acknoThem += segSpan

		c.logtcb(tcb, dirRecv, "ACKed segment", len(seg.buf), seg.isFin)

		tcb.segments = tcb.segments[1:]
	}

	// Partially-acknowledged head: shrink it in place.
	if len(tcb.segments) > 0 && length > 0 && length < uint32(len(tcb.segments[0].buf)) { // #nosec G115 - MSS-bounded
		seg := tcb.segments[0]

		if seg.own == models.OwnAdopt || seg.own == models.OwnCopy {
			// Ownership can't be split; the trimmed remainder becomes
			// this queue's own copy.
			seg.buf = append([]byte(nil), seg.buf[length:]...)
			seg.own = models.OwnCopy
		} else {
			seg.buf = seg.buf[length:]
		}

		seg.seqno += length
		tcb.seqnoMe += length
		tcb.acknoThem += length

		c.logtcb(tcb, dirRecv, "partially ACKed segment", len(seg.buf), seg.isFin)
	}

	// Good ACK; record it.
	tcb.acknoThem = ackno

	return true
}

// segResend retransmits exactly the queue head, byte-identical to the
// original transmission, and re-arms the timer.
func (c *Table) segResend(tcb *TCB, now time.Time) {
	if len(tcb.segments) > 0 {
		seg := tcb.segments[0]

		if tcb.seqnoMe != seg.seqno {
			c.logger.Panic().
				Uint32("seqno_me", tcb.seqnoMe).
				Uint32("seg_seqno", seg.seqno).
				Msg("seqno failure: segment queue corrupt")
		}

		if seg.isFin && len(seg.buf) == 0 {
			// A bare FIN advances sequence space by one but carries no
			// payload bytes.
			c.sendPacket(tcb, tcpkt.FlagFIN|tcpkt.FlagACK, nil)
		} else {
			flags := uint8(tcpkt.FlagPSH | tcpkt.FlagACK)
			if seg.isFin {
				flags |= tcpkt.FlagFIN
			}

			c.sendPacket(tcb, flags, seg.buf)
		}
	}

	c.timers.arm(c, tcb, ticks(now.Add(2*time.Second)))
}
