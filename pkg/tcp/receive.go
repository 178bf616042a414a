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

// segmentRecv processes arriving payload bytes (or a FIN modeled as a
// zero-length payload). Bytes before seqnoThem are trimmed; bytes
// beyond it are dropped whole — there is no reassembly buffer, a
// single-request probe never needs one.
func (c *Table) segmentRecv(tcb *TCB, payload []byte, seqnoThem uint32, isFin bool, now time.Time) {
	// Fully old bytes: repeat the ACK and stop. The subtraction wraps,
	// which is what makes "future" segments land here too.
	if tcb.seqnoThem-seqnoThem > uint32(len(payload)) { // #nosec G115 - MSS-bounded
		c.sendPacket(tcb, tcpkt.FlagACK, nil)
		return
	}

	// Trim the already-seen prefix.
	for seqnoThem != tcb.seqnoThem && len(payload) > 0 {
		seqnoThem++
		payload = payload[1:]
	}

	if len(payload) == 0 && !isFin {
		c.sendPacket(tcb, tcpkt.FlagACK, nil)
		return
	}

	if len(payload) > 0 {
		c.applicationNotify(tcb, appRecvPayload, payload, now)
	}

	advance := uint32(len(payload)) // #nosec G115 - MSS-bounded
	if isFin {
		advance++
	}

	tcb.seqnoThem += advance
	tcb.acknoMe += advance

	c.logtcb(tcb, dirRecv, "received bytes", len(payload), isFin)

	c.sendPacket(tcb, tcpkt.FlagACK, nil)
}
