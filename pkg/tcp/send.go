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
	"github.com/carverauto/tcpgrab/pkg/models"
	"github.com/carverauto/tcpgrab/pkg/tcpkt"
)

const (
	dirSend = 1
	dirRecv = -1
)

// logtcb emits the per-connection trace line: relative sequence
// offsets on both sides plus the current state. Debug level only.
func (c *Table) logtcb(tcb *TCB, dir int, msg string, length int, isFin bool) {
	ev := c.logger.Debug().
		Str("ip", tcb.tuple.RemoteIP.String()).
		Uint16("port", tcb.tuple.RemotePort).
		Uint32("seq_them", tcb.seqnoThem-tcb.seqnoThemFirst).
		Uint32("ack_me", tcb.acknoMe-tcb.seqnoThemFirst).
		Uint32("seq_me", tcb.seqnoMe-tcb.seqnoMeFirst).
		Uint32("ack_them", tcb.acknoThem-tcb.seqnoMeFirst).
		Str("state", tcb.state.String()).
		Int("len", length)

	if dir > 0 {
		ev = ev.Str("dir", "-->")
	} else {
		ev = ev.Str("dir", "<--")
	}

	if isFin {
		ev = ev.Bool("fin", true)
	}

	ev.Msg(msg)
}

func (c *Table) changeState(tcb *TCB, newState State) {
	c.logger.Debug().
		Str("ip", tcb.tuple.RemoteIP.String()).
		Uint16("port", tcb.tuple.RemotePort).
		Str("from", tcb.state.String()).
		Str("to", newState.String()).
		Msg("state change")

	tcb.state = newState
}

// sendPacket formats one packet for the connection and queues it for
// the transmit thread. There are only five shapes: SYN, pure ACK, RST,
// bare FIN-ACK, and PSH-ACK with payload (optionally FIN-flagged).
func (c *Table) sendPacket(tcb *TCB, flags uint8, payload []byte) {
	isSyn := flags == tcpkt.FlagSYN

	if flags&tcpkt.FlagACK != 0 {
		c.logtcb(tcb, dirSend, "xmit ACK", len(payload), flags&tcpkt.FlagFIN != 0)
	}

	// This goroutine never transmits. It formats into a pooled buffer
	// and hands it to the transmit thread via the queue.
	response := c.stack.GetPacketBuffer()
	if response == nil {
		// Pool exhausted even after the stack's retry; drop.
		return
	}

	seqno := tcb.seqnoMe
	if isSyn {
		// A retransmitted SYN consumes the sequence number before the
		// one we'll use for data.
		seqno--
	}

	response.Length = c.tmpl.Format(
		response.Px[:],
		tcb.tuple,
		seqno, tcb.seqnoThem,
		flags,
		payload,
	)

	if tcb.isSmallWindow {
		tcpkt.SetWindow(response.Bytes(), tcpkt.SmallWindow)
	}

	c.stack.TransmitPacketBuffer(response)

	if flags&tcpkt.FlagFIN != 0 {
		c.logtcb(tcb, dirSend, "xmit FIN", len(payload), true)
	}
}

// SendRST answers a packet that doesn't belong to any tracked
// connection. A throwaway TCB carries the endpoint and sequence info;
// it never enters the table.
func (c *Table) SendRST(t models.FourTuple, seqnoThem, acknoThem uint32) {
	tcb := &TCB{
		tuple:     t,
		seqnoMe:   acknoThem,
		acknoMe:   seqnoThem + 1,
		seqnoThem: seqnoThem + 1,
		acknoThem: acknoThem,
	}

	c.logger.Debug().
		Str("ip", t.RemoteIP.String()).
		Uint16("port", t.RemotePort).
		Msg("send RST")

	c.sendPacket(tcb, tcpkt.FlagRST, nil)
}
