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

// Package cookie derives SYN cookies and connection-table hashes from
// 4-tuples. Cookies let the transmit side stay stateless: the initial
// sequence number of every probe is recomputable from the packet that
// answers it.
package cookie

import (
	"encoding/binary"
	"net/netip"

	"github.com/dchest/siphash"

	"github.com/carverauto/tcpgrab/pkg/models"
)

// SYN computes the keyed initial sequence number for a connection.
// A SYN-ACK is genuine iff its acknowledgment number equals SYN()+1
// for the tuple it arrived on.
func SYN(t models.FourTuple, entropy uint64) uint32 {
	var buf [36]byte

	n := appendAddr(buf[:0], t.RemoteIP)
	n = append(n, byte(t.RemotePort>>8), byte(t.RemotePort))
	n = appendAddr(n, t.LocalIP)
	n = append(n, byte(t.LocalPort>>8), byte(t.LocalPort))

	return uint32(siphash.Hash(entropy, entropy<<1|1, n))
}

// Table computes the bucket hash for the connection table. The local
// and remote endpoints are XOR-folded together before hashing, so a
// packet in either direction maps to the same bucket.
func Table(t models.FourTuple, entropy uint64) uint32 {
	ports := t.LocalPort ^ t.RemotePort

	var buf [18]byte

	if t.IsIPv6() {
		me := t.LocalIP.As16()
		them := t.RemoteIP.As16()

		for i := range me {
			buf[i] = me[i] ^ them[i]
		}

		binary.BigEndian.PutUint16(buf[16:], ports)

		return uint32(siphash.Hash(entropy, entropy<<1|1, buf[:18]))
	}

	me := t.LocalIP.As4()
	them := t.RemoteIP.As4()

	for i := range me {
		buf[i] = me[i] ^ them[i]
	}

	binary.BigEndian.PutUint16(buf[4:], ports)

	return uint32(siphash.Hash(entropy, entropy<<1|1, buf[:6]))
}

func appendAddr(dst []byte, a netip.Addr) []byte {
	if a.Is4() || a.Is4In6() {
		b := a.As4()
		return append(dst, b[:]...)
	}

	b := a.As16()

	return append(dst, b[:]...)
}
