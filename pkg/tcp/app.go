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

	"github.com/carverauto/tcpgrab/pkg/banners"
	"github.com/carverauto/tcpgrab/pkg/cookie"
	"github.com/carverauto/tcpgrab/pkg/models"
)

// appAction is an input to the application dispatch sub-machine.
type appAction uint8

const (
	appConnected appAction = iota
	appRecvTimeout
	appRecvPayload
	appSendSent
)

// netHandle routes parser writes back into the segment queue. It's
// valid only for the duration of one dispatch.
type netHandle struct {
	c   *Table
	tcb *TCB
	now time.Time
}

var _ banners.NetAPI = netHandle{}

func (h netHandle) Send(buf []byte, own models.Ownership, fin bool) {
	h.c.segSend(h.tcb, buf, own, fin, h.now)
}

func (h netHandle) IsClosing() bool {
	switch h.tcb.state {
	case StateFinWait1, StateFinWait2, StateClosing, StateTimeWait, StateCloseWait, StateLastAck:
		return true
	default:
		return false
	}
}

// applicationNotify drives the 4-state app sub-machine layered over
// the TCP states: wait for a server hello, transmit a client hello on
// timeout, and feed everything else to the protocol parser.
func (c *Table) applicationNotify(tcb *TCB, action appAction, payload []byte, now time.Time) {
	switch tcb.app {
	case AppConnect:
		// Wait for a "server hello" (like SSH); if that's not found,
		// the timer fires and we transmit a "client hello" instead.
		c.timers.arm(c, tcb, ticks(now.Add(time.Duration(c.timeoutHello)*time.Second)))
		c.changeState(tcb, StateEstablishedRecv)
		tcb.app = AppReceiveHello

		// If the stream chains an alternate protocol variant, probe it
		// too, over a fresh connection from the next local 4-tuple.
		if tcb.stream != nil && tcb.stream.Next != nil {
			c.doReconnect(tcb, tcb.stream.Next, now)
		}

	case AppReceiveHello:
		if action == appRecvTimeout {
			stream := tcb.stream
			if stream != nil {
				if stream.App == models.ProtoSSL {
					tcb.bstate.IsSentSSLHello = true
				}

				if c.registry.IsHeartbleed {
					tcb.isSmallWindow = true
				}

				switch {
				case stream.TransmitHello != nil:
					// The stream crafts its own hello, e.g. an HTTP
					// request with a proper Host: field.
					stream.TransmitHello(c.registry, &tcb.bstate, &tcb.banout, netHandle{c: c, tcb: tcb, now: now})
				case len(stream.Hello) > 0:
					// Canned bytes, copied blindly onto the wire to
					// provoke a response.
					c.segSend(tcb, stream.Hello, models.OwnStatic, true, now)
				}
			}

			return
		}

		if action == appRecvPayload {
			tcb.app = AppReceiveNext
			c.parseBanner(tcb, payload, now)
		}

	case AppReceiveNext:
		if action == appRecvPayload {
			c.parseBanner(tcb, payload, now)
		}

	case AppSendNext:
		if action == appSendSent {
			c.changeState(tcb, StateEstablishedRecv)
			tcb.app = AppReceiveNext
		}

	default:
		c.logger.Panic().
			Uint8("app_state", uint8(tcb.app)).
			Msg("TCP app state error")
	}
}

// parseBanner hands server payload to the protocol parser. The parser
// may append banner fragments and may write further application data
// through the handle.
func (c *Table) parseBanner(tcb *TCB, payload []byte, now time.Time) {
	c.registry.Parse(tcb.stream, &tcb.bstate, payload, &tcb.banout, netHandle{c: c, tcb: tcb, now: now})
}

// nextLocalTuple rotates the local endpoint for a follow-up
// connection: next source port within the range, advancing the source
// IP when the ports wrap.
func (c *Table) nextLocalTuple(t models.FourTuple) models.FourTuple {
	src := c.stack.Source()

	t.LocalPort++
	if t.LocalPort >= src.LastPort || t.LocalPort < src.FirstPort {
		t.LocalPort = src.FirstPort

		// Ports wrapped: move to the next source IP. The range end is
		// exclusive for IPv4, inclusive for IPv6 (128-bit compare).
		next := t.LocalIP.Next()

		wrap := !next.IsValid()
		if !wrap {
			if next.Is4() {
				wrap = !next.Less(src.LastIP)
			} else {
				wrap = src.LastIP.Less(next)
			}
		}

		if wrap {
			next = src.FirstIP
		}

		t.LocalIP = next
	}

	return t
}

// doReconnect opens a second connection to the same target with an
// alternate protocol stream. The new connection starts from SYN_SENT
// with a fresh cookie; the ingress SYN retransmit timer drives it.
func (c *Table) doReconnect(oldTCB *TCB, stream *banners.Stream, now time.Time) {
	// Copy everything we need first: creating a TCB may recycle slab
	// storage.
	tuple := c.nextLocalTuple(oldTCB.tuple)

	c.logger.Debug().
		Str("ip_me", tuple.LocalIP.String()).
		Uint16("port_me", tuple.LocalPort).
		Str("stream", stream.Name).
		Msg("create follow-up connection")

	seqno := cookie.SYN(tuple, c.entropy)

	newTCB := c.CreateTCB(tuple, seqno+1, 0, 255, stream, now)
	newTCB.app = AppConnect

	c.timers.arm(c, newTCB, ticks(now.Add(time.Second)))
}
