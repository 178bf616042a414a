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

package banners

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/carverauto/tcpgrab/pkg/models"
)

const (
	sslRecordHandshake = 22
	sslRecordAlert     = 21

	handshakeServerHello = 2
	handshakeCertificate = 11

	// Reassembly scratch cap; a certificate chain fits comfortably.
	sslScratchMax = 65536
)

// SSL is the process-wide TLS stream. Configuration can swap its Hello
// for the heartbleed/ticketbleed/sslv3 variants.
var SSL = &Stream{
	Name:    "ssl",
	App:     models.ProtoSSL,
	Hello:   ClientHello(HelloStandard),
	Parse:   parseSSL,
	Cleanup: cleanupSSL,
}

// HelloTemplate selects one of the canned ClientHello shapes.
type HelloTemplate int

const (
	HelloStandard HelloTemplate = iota
	HelloHeartbeat
	HelloTicketbleed
	HelloSSLv3
)

var standardCiphers = []uint16{
	0xc02f, 0xc030, 0xc02b, 0xc02c, // ECDHE AES-GCM
	0xc013, 0xc014, 0xc009, 0xc00a, // ECDHE AES-CBC
	0x009c, 0x009d, 0x002f, 0x0035, // RSA
	0x000a, // 3DES
}

// ClientHello builds a canned ClientHello for the given template. The
// bytes are a complete TLS record ready to copy onto the wire.
func ClientHello(tmpl HelloTemplate) []byte {
	version := uint16(0x0303) // TLS 1.2
	if tmpl == HelloSSLv3 {
		version = 0x0300
	}

	var exts []byte

	// supported point formats + elliptic curves keep ECDHE honest
	exts = appendExtension(exts, 0x000b, []byte{0x01, 0x00})
	exts = appendExtension(exts, 0x000a, []byte{0x00, 0x04, 0x00, 0x17, 0x00, 0x18})

	switch tmpl {
	case HelloHeartbeat:
		// heartbeat mode: peer_allowed_to_send
		exts = appendExtension(exts, 0x000f, []byte{0x01})
	case HelloTicketbleed:
		// non-empty session ticket with a short bogus ticket; a
		// vulnerable terminator echoes session-id bytes back
		exts = appendExtension(exts, 0x0023, []byte{0xde, 0xad, 0xbe, 0xef})
	case HelloStandard, HelloSSLv3:
	}

	ciphers := standardCiphers

	return buildClientHello(version, ciphers, exts)
}

// AddCipherSpec prepends one cipher suite to an existing ClientHello,
// used to add the TLS_FALLBACK_SCSV (0x5600) marker for SSLv3 probing.
func AddCipherSpec(hello []byte, cipher uint16) []byte {
	// record(5) + handshake(4) + version(2) + random(32) + sid(1)
	p := 5 + 4 + 2 + 32
	if len(hello) <= p {
		return hello
	}

	sidLen := int(hello[p])
	cs := p + 1 + sidLen // cipher-suites length field

	if len(hello) < cs+2 {
		return hello
	}

	out := append([]byte(nil), hello[:cs]...)
	csLen := binary.BigEndian.Uint16(hello[cs:])

	var lenb [2]byte

	binary.BigEndian.PutUint16(lenb[:], csLen+2)
	out = append(out, lenb[:]...)
	binary.BigEndian.PutUint16(lenb[:], cipher)
	out = append(out, lenb[:]...)
	out = append(out, hello[cs+2:]...)

	// fix up the three outer lengths
	fixHelloLengths(out)

	return out
}

func appendExtension(dst []byte, kind uint16, body []byte) []byte {
	var hdr [4]byte

	binary.BigEndian.PutUint16(hdr[0:], kind)
	binary.BigEndian.PutUint16(hdr[2:], uint16(len(body))) // #nosec G115 - extension bodies are tiny

	return append(append(dst, hdr[:]...), body...)
}

func buildClientHello(version uint16, ciphers []uint16, exts []byte) []byte {
	body := make([]byte, 0, 128)

	var u16 [2]byte

	binary.BigEndian.PutUint16(u16[:], version)
	body = append(body, u16[:]...)

	// client random: fixed bytes, this is a probe not a key exchange
	random := make([]byte, 32)
	for i := range random {
		random[i] = byte(i*7 + 1)
	}

	body = append(body, random...)
	body = append(body, 0) // empty session id

	binary.BigEndian.PutUint16(u16[:], uint16(len(ciphers)*2)) // #nosec G115 - small list
	body = append(body, u16[:]...)

	for _, c := range ciphers {
		binary.BigEndian.PutUint16(u16[:], c)
		body = append(body, u16[:]...)
	}

	body = append(body, 1, 0) // compression: null only

	binary.BigEndian.PutUint16(u16[:], uint16(len(exts))) // #nosec G115 - small list
	body = append(body, u16[:]...)
	body = append(body, exts...)

	hs := make([]byte, 0, len(body)+4)
	hs = append(hs, 1, byte(len(body)>>16), byte(len(body)>>8), byte(len(body)))
	hs = append(hs, body...)

	record := make([]byte, 0, len(hs)+5)
	record = append(record, sslRecordHandshake, byte(version>>8), byte(version))
	binary.BigEndian.PutUint16(u16[:], uint16(len(hs))) // #nosec G115 - hello is small
	record = append(record, u16[:]...)
	record = append(record, hs...)

	return record
}

func fixHelloLengths(hello []byte) {
	if len(hello) < 9 {
		return
	}

	hsLen := len(hello) - 5
	binary.BigEndian.PutUint16(hello[3:], uint16(hsLen)) // #nosec G115 - hello is small

	bodyLen := hsLen - 4
	hello[6] = byte(bodyLen >> 16)
	hello[7] = byte(bodyLen >> 8)
	hello[8] = byte(bodyLen)
}

// parseSSL walks the TLS record layer across payload fragments and
// captures ServerHello and Certificate evidence. Alerts are summarized
// as ALERT(level,description); other record types are skipped.
func parseSSL(r *Registry, st *StreamState, payload []byte, out *Output, _ NetAPI) {
	st.App = models.ProtoSSL

	if len(st.Scratch)+len(payload) > sslScratchMax {
		return
	}

	st.Scratch = append(st.Scratch, payload...)

	for len(st.Scratch) >= 5 {
		recLen := int(binary.BigEndian.Uint16(st.Scratch[3:]))
		if len(st.Scratch) < 5+recLen {
			return // wait for the rest of the record
		}

		recType := st.Scratch[0]
		rec := st.Scratch[5 : 5+recLen]

		switch recType {
		case sslRecordHandshake:
			parseSSLHandshake(r, rec, out)
		case sslRecordAlert:
			if len(rec) >= 2 {
				out.AppendString(models.ProtoSSL, fmt.Sprintf("ALERT(%d,%d) ", rec[0], rec[1]))
			}
		}

		st.Scratch = st.Scratch[5+recLen:]
	}
}

func parseSSLHandshake(r *Registry, rec []byte, out *Output) {
	for len(rec) >= 4 {
		msgLen := int(rec[1])<<16 | int(rec[2])<<8 | int(rec[3])
		if len(rec) < 4+msgLen {
			return
		}

		msg := rec[4 : 4+msgLen]

		switch rec[0] {
		case handshakeServerHello:
			if len(msg) >= 2 {
				out.AppendString(models.ProtoSSL,
					fmt.Sprintf("TLS:%d.%d ", msg[0], msg[1]))
			}
		case handshakeCertificate:
			if r.IsCaptureCert {
				captureCertificates(msg, out)
			}
		}

		rec = rec[4+msgLen:]
	}
}

func captureCertificates(msg []byte, out *Output) {
	if len(msg) < 3 {
		return
	}

	chain := msg[3:] // skip chain length

	for len(chain) >= 3 {
		certLen := int(chain[0])<<16 | int(chain[1])<<8 | int(chain[2])
		if len(chain) < 3+certLen {
			return
		}

		der := chain[3 : 3+certLen]
		out.AppendString(models.ProtoSSL, "cert:"+base64.StdEncoding.EncodeToString(der)+" ")

		chain = chain[3+certLen:]
	}
}

func cleanupSSL(st *StreamState) {
	st.Scratch = nil
}
