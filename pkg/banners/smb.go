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
	"fmt"

	"github.com/carverauto/tcpgrab/pkg/models"
)

// SMB is the process-wide SMB stream. The default hello negotiates
// the SMBv1 "NT LM 0.12" dialect and the SMBv2 upgrade dialects;
// SetSMBHelloV1 downgrades it to v1 only.
var SMB = &Stream{
	Name:    "smb",
	App:     models.ProtoSMB,
	Hello:   smbNegotiate("NT LM 0.12", "SMB 2.002", "SMB 2.???"),
	Parse:   parseSMB,
	Cleanup: cleanupSMB,
}

// SetSMBHelloV1 restricts the negotiate request to the classic dialect,
// the behavior of the hello=smbv1 parameter.
func SetSMBHelloV1(s *Stream) {
	s.Hello = smbNegotiate("NT LM 0.12")
}

// smbNegotiate builds a NetBIOS-framed SMBv1 NEGOTIATE request
// advertising the given dialects.
func smbNegotiate(dialects ...string) []byte {
	var words []byte

	for _, d := range dialects {
		words = append(words, 0x02) // BufferFormat: dialect
		words = append(words, d...)
		words = append(words, 0x00)
	}

	smb := make([]byte, 0, 37+len(words))
	smb = append(smb, 0xFF, 'S', 'M', 'B') // protocol id
	smb = append(smb, 0x72)                // SMB_COM_NEGOTIATE
	smb = append(smb, 0, 0, 0, 0)          // status
	smb = append(smb, 0x18)                // flags: canonical paths, case insensitive
	smb = append(smb, 0x01, 0x28)          // flags2: long names, extended security
	smb = append(smb, make([]byte, 12)...) // pid-high, signature, reserved
	smb = append(smb, 0, 0)                // TID
	smb = append(smb, 0x2F, 0x4B)          // PID
	smb = append(smb, 0, 0)                // UID
	smb = append(smb, 0xC5, 0x5E)          // MID
	smb = append(smb, 0)                   // word count

	var bc [2]byte

	binary.LittleEndian.PutUint16(bc[:], uint16(len(words))) // #nosec G115 - dialect list is tiny
	smb = append(smb, bc[:]...)
	smb = append(smb, words...)

	out := make([]byte, 0, 4+len(smb))
	out = append(out, 0x00) // NetBIOS session message
	out = append(out, byte(len(smb)>>16), byte(len(smb)>>8), byte(len(smb)))

	return append(out, smb...)
}

// parseSMB peels the NetBIOS frame and records which SMB generation
// answered plus the negotiate response body for later inspection.
func parseSMB(_ *Registry, st *StreamState, payload []byte, out *Output, _ NetAPI) {
	st.App = models.ProtoSMB
	st.Scratch = append(st.Scratch, payload...)

	for len(st.Scratch) >= 4 {
		msgLen := int(st.Scratch[1])<<16 | int(st.Scratch[2])<<8 | int(st.Scratch[3])
		if len(st.Scratch) < 4+msgLen {
			return
		}

		msg := st.Scratch[4 : 4+msgLen]

		if len(msg) >= 4 {
			switch {
			case msg[0] == 0xFF && msg[1] == 'S' && msg[2] == 'M' && msg[3] == 'B':
				out.AppendString(models.ProtoSMB, "SMBv1 ")
			case msg[0] == 0xFE && msg[1] == 'S' && msg[2] == 'M' && msg[3] == 'B':
				out.AppendString(models.ProtoSMB, smbv2Summary(msg))
			default:
				out.AppendString(models.ProtoSMB, "SMB? ")
			}
		}

		st.Scratch = st.Scratch[4+msgLen:]
	}
}

func smbv2Summary(msg []byte) string {
	// dialect revision sits at offset 0x48 of the negotiate response
	if len(msg) >= 0x4A {
		return fmt.Sprintf("SMBv2 dialect:0x%04x ", binary.LittleEndian.Uint16(msg[0x48:]))
	}

	return "SMBv2 "
}

func cleanupSMB(st *StreamState) {
	st.Scratch = nil
	st.Need = 0
}
