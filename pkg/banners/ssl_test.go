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
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/tcpgrab/pkg/models"
)

func TestClientHelloWellFormed(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    HelloTemplate
		version uint16
	}{
		{name: "standard", tmpl: HelloStandard, version: 0x0303},
		{name: "heartbeat", tmpl: HelloHeartbeat, version: 0x0303},
		{name: "ticketbleed", tmpl: HelloTicketbleed, version: 0x0303},
		{name: "sslv3", tmpl: HelloSSLv3, version: 0x0300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hello := ClientHello(tt.tmpl)
			require.Greater(t, len(hello), 9)

			assert.EqualValues(t, 22, hello[0], "handshake record")
			assert.Equal(t, tt.version, binary.BigEndian.Uint16(hello[1:]))

			recLen := int(binary.BigEndian.Uint16(hello[3:]))
			require.Equal(t, len(hello), 5+recLen, "record length must cover the handshake")

			assert.EqualValues(t, 1, hello[5], "ClientHello handshake type")

			bodyLen := int(hello[6])<<16 | int(hello[7])<<8 | int(hello[8])
			assert.Equal(t, recLen, bodyLen+4)
		})
	}
}

func TestAddCipherSpecPrepends(t *testing.T) {
	hello := ClientHello(HelloSSLv3)

	out := AddCipherSpec(hello, 0x5600)
	require.Equal(t, len(hello)+2, len(out))

	// cipher suite list starts after version+random+session id
	p := 5 + 4 + 2 + 32
	sidLen := int(out[p])
	cs := p + 1 + sidLen

	oldLen := binary.BigEndian.Uint16(hello[cs:])
	newLen := binary.BigEndian.Uint16(out[cs:])
	assert.Equal(t, oldLen+2, newLen)
	assert.Equal(t, uint16(0x5600), binary.BigEndian.Uint16(out[cs+2:]))

	// outer lengths were fixed up
	assert.Equal(t, len(out)-5, int(binary.BigEndian.Uint16(out[3:])))
}

func TestParseSSLServerHelloAcrossFragments(t *testing.T) {
	// handshake record carrying a minimal ServerHello (version only
	// matters to the parser)
	body := []byte{0x03, 0x03}
	hs := append([]byte{handshakeServerHello, 0, 0, byte(len(body))}, body...)
	record := append([]byte{sslRecordHandshake, 0x03, 0x03, 0, byte(len(hs))}, hs...)

	var (
		out Output
		st  StreamState
	)

	r := NewRegistry()

	// deliver the record split in two
	parseSSL(r, &st, record[:3], &out, nil)
	require.Nil(t, out.Banner(models.ProtoSSL))

	parseSSL(r, &st, record[3:], &out, nil)
	assert.Contains(t, string(out.Banner(models.ProtoSSL)), "TLS:3.3")
}

func TestParseSSLCapturesCertificates(t *testing.T) {
	der := []byte{0x30, 0x82, 0x01, 0x02, 0xAA, 0xBB}

	cert := make([]byte, 0)
	cert = append(cert, 0, 0, byte(len(der)+3)) // chain length
	cert = append(cert, 0, 0, byte(len(der)))
	cert = append(cert, der...)

	hs := append([]byte{handshakeCertificate, 0, 0, byte(len(cert))}, cert...)
	record := append([]byte{sslRecordHandshake, 0x03, 0x03, 0, byte(len(hs))}, hs...)

	var (
		out Output
		st  StreamState
	)

	r := NewRegistry()
	r.IsCaptureCert = true

	parseSSL(r, &st, record, &out, nil)
	assert.Contains(t, string(out.Banner(models.ProtoSSL)), "cert:")
}

func TestCleanupSSLReleasesScratch(t *testing.T) {
	st := StreamState{Scratch: []byte{1, 2, 3}}
	cleanupSSL(&st)
	assert.Nil(t, st.Scratch)
}
