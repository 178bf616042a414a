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

// Package tcp is the userspace TCP connection engine: a bounded table
// of connections driven by half-duplex segment events from an external
// capture layer. It keeps just enough TCP to probe a service, collect
// its banner, and tear the session down.
package tcp

import (
	"github.com/carverauto/tcpgrab/pkg/banners"
	"github.com/carverauto/tcpgrab/pkg/models"
)

// State is the compressed TCP state of one connection. ESTABLISHED is
// split into send/receive halves: the scanner is strictly half-duplex
// within one phase.
type State uint8

const (
	StateSynSent State = iota
	StateEstablishedSend
	StateEstablishedRecv
	StateCloseWait
	StateLastAck
	StateFinWait1
	StateFinWait2
	StateClosing
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateSynSent:
		return "SYN_SENT"
	case StateEstablishedSend:
		return "ESTABLISHED_SEND"
	case StateEstablishedRecv:
		return "ESTABLISHED_RECV"
	case StateCloseWait:
		return "CLOSE-WAIT"
	case StateLastAck:
		return "LAST-ACK"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME-WAIT"
	default:
		return "UNKNOWN"
	}
}

// AppState is the application-dispatch sub-state layered over the TCP
// state.
type AppState uint8

const (
	AppConnect AppState = iota
	AppReceiveHello
	AppReceiveNext
	AppSendNext
)

func (a AppState) String() string {
	switch a {
	case AppConnect:
		return "connect"
	case AppReceiveHello:
		return "receive-hello"
	case AppReceiveNext:
		return "receive-next"
	case AppSendNext:
		return "send-next"
	default:
		return "unknown"
	}
}

// Event is one input to the state machine, derived from a captured
// packet or the timer wheel.
type Event uint8

const (
	WhatTimeout Event = iota
	WhatSynack
	WhatRst
	WhatFin
	WhatAck
	WhatData
)

func (e Event) String() string {
	switch e {
	case WhatTimeout:
		return "TIMEOUT"
	case WhatSynack:
		return "SYNACK"
	case WhatRst:
		return "RST"
	case WhatFin:
		return "FIN"
	case WhatAck:
		return "ACK"
	case WhatData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// DestroyReason records why a connection was torn down.
type DestroyReason uint8

const (
	ReasonTimeout DestroyReason = iota + 1
	ReasonFIN
	ReasonRST
	ReasonShutdown
	ReasonStateDone
)

func (r DestroyReason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonFIN:
		return "fin"
	case ReasonRST:
		return "rst"
	case ReasonShutdown:
		return "shutdown"
	case ReasonStateDone:
		return "done"
	default:
		return "unknown"
	}
}

const (
	// noIndex marks an unlinked slab/bucket/heap slot.
	noIndex = int32(-1)

	defaultMSS = 1400
)

// TCB is the Transmission Control Block: everything the engine tracks
// for one connection. TCBs live in the table's slab and are recycled
// through its free list; linkage is by slab index, never by pointer.
type TCB struct {
	tuple  models.FourTuple
	isIPv6 bool

	seqnoMe   uint32 // next byte we will transmit
	seqnoThem uint32 // next byte we expect to receive
	acknoMe   uint32
	acknoThem uint32 // highest byte they acknowledged

	// Baselines for human-readable logging offsets only.
	seqnoMeFirst   uint32
	seqnoThemFirst uint32

	idx  int32 // own slab index
	next int32 // bucket chain / free list link

	timerIdx      int32 // position in the timer heap, noIndex when absent
	timerDeadline int64

	ttl      uint8
	synsSent uint8
	mss      uint16

	state State
	app   AppState

	isActive      bool
	isSmallWindow bool

	// Declared but never set or read; the original reserves this slot
	// for heap-allocated payloads and nothing ever uses it.
	isPayloadDynamic bool

	segments []*segment

	whenCreated int64 // unix seconds

	stream *banners.Stream
	banout banners.Output
	bstate banners.StreamState
}

// State returns the connection's TCP state.
func (t *TCB) State() State { return t.state }

// Tuple returns the connection's 4-tuple.
func (t *TCB) Tuple() models.FourTuple { return t.tuple }

// IsActive reports whether the TCB is tracked by the table.
func (t *TCB) IsActive() bool { return t.isActive }

// reset wipes a recycled TCB back to zero values, keeping its slab
// index.
func (t *TCB) reset() {
	idx := t.idx
	*t = TCB{idx: idx, next: noIndex, timerIdx: noIndex}
}
