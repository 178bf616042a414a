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

	"github.com/carverauto/tcpgrab/pkg/tcpkt"
)

// ProcessTimeouts drains every timer entry that is due at now and runs
// its timeout event. Called from the ingress loop each tick.
func (c *Table) ProcessTimeouts(now time.Time) {
	timestamp := ticks(now)

	for {
		tcb := c.timers.removeExpired(c, timestamp)
		if tcb == nil {
			break
		}

		c.Incoming(tcb, WhatTimeout, nil, now, tcb.seqnoThem, tcb.acknoThem)

		// There must ALWAYS be a timeout associated with a live TCB,
		// otherwise we lose track of it and leak the slot. Transitions
		// are supposed to re-arm before returning; this catch-all
		// backstops the ones that don't.
		if tcb.isActive && tcb.timerIdx == noIndex {
			c.timers.arm(c, tcb, ticks(now.Add(2*time.Second)))
		}
	}
}

// Incoming is the single entry point for connection events: validated
// packets from the capture layer and timeouts from the wheel. Returns
// false for a nil TCB and true for any event delivered to a live TCB,
// whether or not the event destroyed it.
func (c *Table) Incoming(tcb *TCB, what Event, payload []byte, now time.Time, seqnoThem, acknoThem uint32) bool {
	if tcb == nil {
		return false
	}

	if what != WhatSynack {
		c.logtcb(tcb, dirRecv, "event "+what.String(), len(payload), false)
	}

	// Nothing outlives the connection timeout, whatever state it's in.
	if what == WhatTimeout {
		if tcb.whenCreated+int64(c.timeoutConnection) < now.Unix() {
			c.logger.Debug().
				Str("ip", tcb.tuple.RemoteIP.String()).
				Uint16("port", tcb.tuple.RemotePort).
				Msg("CONNECTION TIMEOUT")

			c.sendPacket(tcb, tcpkt.FlagRST, nil)
			c.DestroyTCB(tcb, ReasonTimeout)

			return true
		}
	}

	if what == WhatRst {
		c.DestroyTCB(tcb, ReasonRST)
		return true
	}

	switch tcb.state {
	case StateSynSent:
		c.handleSynSent(tcb, what, now, seqnoThem, acknoThem)

	case StateEstablishedSend, StateEstablishedRecv, StateFinWait1:
		c.handleEstablished(tcb, what, payload, now, seqnoThem, acknoThem)

	case StateFinWait2, StateTimeWait:
		if c.handleFinWait2(tcb, what, now, seqnoThem) {
			return true
		}

	case StateCloseWait, StateLastAck, StateClosing:
		// Placeholder states: nothing is implemented for them, events
		// are only observed. The connection timeout reaps them.
		c.logger.Debug().
			Str("ip", tcb.tuple.RemoteIP.String()).
			Uint16("port", tcb.tuple.RemotePort).
			Str("state", tcb.state.String()).
			Str("event", what.String()).
			Msg("event in placeholder state")

	default:
		c.logger.Warn().
			Str("state", tcb.state.String()).
			Msg("TCP-state: unknown state")
	}

	return true
}

func (c *Table) handleSynSent(tcb *TCB, what Event, now time.Time, seqnoThem, acknoThem uint32) {
	switch what {
	case WhatTimeout:
		// No SYN-ACK yet: send another SYN, backing the timer off
		// linearly with the retry count.
		tcb.synsSent++

		c.sendPacket(tcb, tcpkt.FlagSYN, nil)

		c.timers.arm(c, tcb, ticks(now.Add(time.Duration(tcb.synsSent)*time.Second)))

	case WhatSynack:
		tcb.seqnoThem = seqnoThem
		tcb.seqnoThemFirst = seqnoThem - 1
		tcb.seqnoMe = acknoThem
		tcb.seqnoMeFirst = acknoThem - 1

		c.logtcb(tcb, dirRecv, "connection established", 0, false)

		c.sendPacket(tcb, tcpkt.FlagACK, nil)
		c.applicationNotify(tcb, appConnected, nil, now)

	case WhatAck, WhatRst, WhatFin, WhatData:
	}
}

func (c *Table) handleEstablished(tcb *TCB, what Event, payload []byte, now time.Time, seqnoThem, acknoThem uint32) {
	switch what {
	case WhatSynack:
		// They didn't see our ACK and retransmitted the SYN-ACK.
		c.sendPacket(tcb, tcpkt.FlagACK, nil)

	case WhatFin:
		if tcb.state == StateEstablishedRecv {
			c.changeState(tcb, StateCloseWait)
		}
		// In the send phase, ignore it: the peer resends the FIN after
		// it has seen our remaining ACKs.

	case WhatAck:
		c.segAcknowledge(tcb, acknoThem)

		switch tcb.state {
		case StateEstablishedSend:
			if len(tcb.segments) == 0 || len(tcb.segments[0].buf) == 0 {
				c.changeState(tcb, StateEstablishedRecv)

				// Everything we queued is on the wire and
				// acknowledged; the application can send more or turn
				// to listening.
				c.applicationNotify(tcb, appSendSent, nil, now)

				c.timers.arm(c, tcb, ticks(now.Add(10*time.Second)))
			}

		case StateEstablishedRecv:
			c.timers.arm(c, tcb, ticks(now.Add(time.Second)))

		case StateFinWait1:
			if len(tcb.segments) == 0 || len(tcb.segments[0].buf) == 0 {
				c.changeState(tcb, StateFinWait2)
				c.timers.arm(c, tcb, ticks(now.Add(5*time.Second)))
			} else {
				c.timers.arm(c, tcb, ticks(now.Add(time.Second)))
			}

		default:
		}

		// Once the head of the queue is our FIN, we're closing.
		if len(tcb.segments) > 0 && tcb.segments[0].isFin {
			c.changeState(tcb, StateFinWait1)
		}

	case WhatTimeout:
		switch tcb.state {
		case StateEstablishedRecv:
			// No data in the expected timeframe. Often normal: we're
			// waiting for whatever the server cares to send.
			c.applicationNotify(tcb, appRecvTimeout, nil, now)

		case StateEstablishedSend, StateFinWait1:
			c.segResend(tcb, now)
			c.timers.arm(c, tcb, ticks(now.Add(time.Second)))

		default:
		}

	case WhatData:
		c.segmentRecv(tcb, payload, seqnoThem, false, now)

	case WhatRst:
	}
}

// handleFinWait2 covers FIN_WAIT2 and TIME_WAIT. Returns true when the
// TCB was destroyed.
func (c *Table) handleFinWait2(tcb *TCB, what Event, now time.Time, seqnoThem uint32) bool {
	switch what {
	case WhatTimeout:
		if tcb.state == StateTimeWait {
			c.DestroyTCB(tcb, ReasonTimeout)
			return true
		}

	case WhatFin:
		// Their FIN is an empty payload occupying one sequence number.
		c.segmentRecv(tcb, nil, seqnoThem, true, now)

		c.changeState(tcb, StateTimeWait)
		c.timers.arm(c, tcb, ticks(now.Add(5*time.Second)))

	case WhatAck, WhatSynack, WhatRst, WhatData:
	}

	return false
}
