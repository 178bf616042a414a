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

// Package tcpkt formats outgoing TCP/IP packets from a 4-tuple plus
// sequence numbers, flags, and payload. Packets start at the IP layer;
// link-layer framing is the capture layer's business.
package tcpkt

import (
	"encoding/binary"

	"github.com/carverauto/tcpgrab/internal/fastsum"
	"github.com/carverauto/tcpgrab/pkg/models"
)

// TCP flag bits.
const (
	FlagFIN = 0x01
	FlagSYN = 0x02
	FlagRST = 0x04
	FlagPSH = 0x08
	FlagACK = 0x10
)

const (
	ipv4HeaderLen = 20
	ipv6HeaderLen = 40
	tcpHeaderLen  = 20

	// Advertised on every SYN as a TCP option.
	defaultMSS = 1460

	// Advertised receive window on every segment.
	defaultWindow = 65535

	// Window used when a probe wants the peer to dribble data slowly.
	SmallWindow = 600
)

// Template holds the per-scan constants baked into every packet.
type Template struct {
	TTL    uint8
	Window uint16
	MSS    uint16
}

// NewTemplate returns a template with the scanner's wire defaults.
func NewTemplate() *Template {
	return &Template{
		TTL:    255,
		Window: defaultWindow,
		MSS:    defaultMSS,
	}
}

// Format writes one TCP/IP packet into dst and returns its length.
// The tuple is ours: LocalIP/LocalPort is the source of the packet.
// dst must be large enough (IPv6 header + TCP header + options + payload).
func (t *Template) Format(dst []byte, tuple models.FourTuple, seqno, ackno uint32, flags uint8, payload []byte) int {
	if tuple.IsIPv6() {
		return t.formatV6(dst, tuple, seqno, ackno, flags, payload)
	}

	return t.formatV4(dst, tuple, seqno, ackno, flags, payload)
}

func (t *Template) tcpHeader(dst []byte, tuple models.FourTuple, seqno, ackno uint32, flags uint8) int {
	hdrLen := tcpHeaderLen
	if flags&FlagSYN != 0 {
		hdrLen += 4 // MSS option
	}

	binary.BigEndian.PutUint16(dst[0:], tuple.LocalPort)
	binary.BigEndian.PutUint16(dst[2:], tuple.RemotePort)
	binary.BigEndian.PutUint32(dst[4:], seqno)
	binary.BigEndian.PutUint32(dst[8:], ackno)
	dst[12] = byte(hdrLen/4) << 4
	dst[13] = flags
	binary.BigEndian.PutUint16(dst[14:], t.Window)
	binary.BigEndian.PutUint16(dst[16:], 0) // checksum, filled by caller
	binary.BigEndian.PutUint16(dst[18:], 0) // urgent

	if flags&FlagSYN != 0 {
		dst[20] = 2 // kind: MSS
		dst[21] = 4
		binary.BigEndian.PutUint16(dst[22:], t.MSS)
	}

	return hdrLen
}

func (t *Template) formatV4(dst []byte, tuple models.FourTuple, seqno, ackno uint32, flags uint8, payload []byte) int {
	tcpLen := t.tcpHeader(dst[ipv4HeaderLen:], tuple, seqno, ackno, flags)
	total := ipv4HeaderLen + tcpLen + len(payload)

	ip := dst[:ipv4HeaderLen]
	ip[0] = 0x45
	ip[1] = 0
	binary.BigEndian.PutUint16(ip[2:], uint16(total)) // #nosec G115 - payload is MSS-bounded
	binary.BigEndian.PutUint16(ip[4:], uint16(seqno)) // ident, arbitrary but stable for resends
	binary.BigEndian.PutUint16(ip[6:], 0x4000)        // don't fragment
	ip[8] = t.TTL
	ip[9] = 6 // TCP

	src := tuple.LocalIP.As4()
	dstIP := tuple.RemoteIP.As4()
	copy(ip[12:16], src[:])
	copy(ip[16:20], dstIP[:])

	binary.BigEndian.PutUint16(ip[10:], 0)
	binary.BigEndian.PutUint16(ip[10:], fastsum.Checksum(ip))

	copy(dst[ipv4HeaderLen+tcpLen:], payload)

	tcpHdr := dst[ipv4HeaderLen : ipv4HeaderLen+tcpLen]
	binary.BigEndian.PutUint16(tcpHdr[16:], fastsum.TCPv4(src, dstIP, tcpHdr, payload))

	return total
}

func (t *Template) formatV6(dst []byte, tuple models.FourTuple, seqno, ackno uint32, flags uint8, payload []byte) int {
	tcpLen := t.tcpHeader(dst[ipv6HeaderLen:], tuple, seqno, ackno, flags)
	total := ipv6HeaderLen + tcpLen + len(payload)

	ip := dst[:ipv6HeaderLen]
	ip[0] = 0x60
	ip[1], ip[2], ip[3] = 0, 0, 0
	binary.BigEndian.PutUint16(ip[4:], uint16(tcpLen+len(payload))) // #nosec G115 - payload is MSS-bounded
	ip[6] = 6 // next header: TCP
	ip[7] = t.TTL

	src := tuple.LocalIP.As16()
	dstIP := tuple.RemoteIP.As16()
	copy(ip[8:24], src[:])
	copy(ip[24:40], dstIP[:])

	copy(dst[ipv6HeaderLen+tcpLen:], payload)

	tcpHdr := dst[ipv6HeaderLen : ipv6HeaderLen+tcpLen]
	binary.BigEndian.PutUint16(tcpHdr[16:], fastsum.TCPv6(src, dstIP, tcpHdr, payload))

	return total
}

// SetWindow patches the advertised window of an already-formatted
// packet and fixes up the TCP checksum. Used for the small-window mode,
// which is decided per connection after the template ran.
func SetWindow(pkt []byte, window uint16) {
	if len(pkt) < 1 {
		return
	}

	var ipLen int

	switch pkt[0] >> 4 {
	case 4:
		ipLen = int(pkt[0]&0x0F) * 4
	case 6:
		ipLen = ipv6HeaderLen
	default:
		return
	}

	if len(pkt) < ipLen+tcpHeaderLen {
		return
	}

	tcp := pkt[ipLen:]
	binary.BigEndian.PutUint16(tcp[14:], window)
	binary.BigEndian.PutUint16(tcp[16:], 0)

	hdrLen := int(tcp[12]>>4) * 4
	if hdrLen < tcpHeaderLen || ipLen+hdrLen > len(pkt) {
		return
	}

	payload := pkt[ipLen+hdrLen:]

	if pkt[0]>>4 == 4 {
		var src, dst [4]byte

		copy(src[:], pkt[12:16])
		copy(dst[:], pkt[16:20])
		binary.BigEndian.PutUint16(tcp[16:], fastsum.TCPv4(src, dst, tcp[:hdrLen], payload))

		return
	}

	var src, dst [16]byte

	copy(src[:], pkt[8:24])
	copy(dst[:], pkt[24:40])
	binary.BigEndian.PutUint16(tcp[16:], fastsum.TCPv6(src, dst, tcp[:hdrLen], payload))
}
