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

package ingress

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/tcpgrab/pkg/banners"
	"github.com/carverauto/tcpgrab/pkg/cookie"
	"github.com/carverauto/tcpgrab/pkg/logger"
	"github.com/carverauto/tcpgrab/pkg/models"
	"github.com/carverauto/tcpgrab/pkg/sink"
	"github.com/carverauto/tcpgrab/pkg/stack"
	"github.com/carverauto/tcpgrab/pkg/tcp"
	"github.com/carverauto/tcpgrab/pkg/tcpkt"
)

const testEntropy = 777

func newEngine(t *testing.T) (*tcp.Table, *stack.Stack, *Handler) {
	t.Helper()

	st := stack.New(stack.Source{
		FirstIP:   netip.MustParseAddr("10.0.0.1"),
		LastIP:    netip.MustParseAddr("10.0.0.1"),
		FirstPort: 40000,
		LastPort:  41000,
	}, &stack.Options{PoolSize: 64, RateLimit: 1000000}, logger.NewTestLogger())

	table := tcp.New(100, st, tcpkt.NewTemplate(), banners.NewRegistry(),
		sink.Discard{}, 30*time.Second, testEntropy, logger.NewTestLogger())

	return table, st, New(table, testEntropy, logger.NewTestLogger())
}

// ourTuple is the connection from the scanner's perspective.
func ourTuple() models.FourTuple {
	return models.FourTuple{
		LocalIP:    netip.MustParseAddr("10.0.0.1"),
		RemoteIP:   netip.MustParseAddr("198.51.100.20"),
		LocalPort:  40000,
		RemotePort: 80,
	}
}

// serverPacket formats a packet as the remote server would send it:
// source is their side, destination ours.
func serverPacket(t *testing.T, flags uint8, seq, ack uint32, payload []byte) []byte {
	t.Helper()

	us := ourTuple()
	theirs := models.FourTuple{
		LocalIP:    us.RemoteIP,
		RemoteIP:   us.LocalIP,
		LocalPort:  us.RemotePort,
		RemotePort: us.LocalPort,
	}

	buf := make([]byte, 2048)
	n := tcpkt.NewTemplate().Format(buf, theirs, seq, ack, flags, payload)

	return buf[:n]
}

func drainFlags(t *testing.T, st *stack.Stack) []uint8 {
	t.Helper()

	var out []uint8

	for {
		b := st.DequeueTx()
		if b == nil {
			return out
		}

		pkt := b.Bytes()
		require.GreaterOrEqual(t, len(pkt), 40)

		ihl := int(pkt[0]&0x0F) * 4
		out = append(out, pkt[ihl+13])
		st.ReleasePacketBuffer(b)
	}
}

func TestValidSynAckCreatesConnection(t *testing.T) {
	table, st, h := newEngine(t)

	seqnoMe := cookie.SYN(ourTuple(), testEntropy) + 1
	pkt := serverPacket(t, tcpkt.FlagSYN|tcpkt.FlagACK, 1000, seqnoMe, nil)

	h.HandleIP(pkt, time.Unix(1700000000, 0))

	assert.EqualValues(t, 1, table.ActiveCount())

	tcb := table.Lookup(ourTuple())
	require.NotNil(t, tcb)
	assert.Equal(t, tcp.StateEstablishedRecv, tcb.State())

	flags := drainFlags(t, st)
	require.Len(t, flags, 1)
	assert.EqualValues(t, tcpkt.FlagACK, flags[0], "handshake completes with our ACK")
}

func TestSynAckWithBadCookieIgnored(t *testing.T) {
	table, st, h := newEngine(t)

	pkt := serverPacket(t, tcpkt.FlagSYN|tcpkt.FlagACK, 1000, 0xDEADBEEF, nil)
	h.HandleIP(pkt, time.Now())

	assert.EqualValues(t, 0, table.ActiveCount(), "spoofed SYN-ACK must not allocate state")
	assert.Empty(t, drainFlags(t, st))
}

func TestStrayPacketGetsRST(t *testing.T) {
	table, st, h := newEngine(t)

	pkt := serverPacket(t, tcpkt.FlagACK, 5, 6, nil)
	h.HandleIP(pkt, time.Now())

	assert.EqualValues(t, 0, table.ActiveCount())

	flags := drainFlags(t, st)
	require.Len(t, flags, 1)
	assert.EqualValues(t, tcpkt.FlagRST, flags[0])
}

func TestStrayPacketSuppressedRST(t *testing.T) {
	_, st, h := newEngine(t)
	h.SuppressRST = true

	h.HandleIP(serverPacket(t, tcpkt.FlagACK, 5, 6, nil), time.Now())
	assert.Empty(t, drainFlags(t, st))
}

func TestDataThenFinFlow(t *testing.T) {
	table, st, h := newEngine(t)
	now := time.Unix(1700000000, 0)

	seqnoMe := cookie.SYN(ourTuple(), testEntropy) + 1
	h.HandleIP(serverPacket(t, tcpkt.FlagSYN|tcpkt.FlagACK, 1000, seqnoMe, nil), now)

	tcb := table.Lookup(ourTuple())
	require.NotNil(t, tcb)
	drainFlags(t, st)

	// Push + FIN in one packet: data is delivered first, then the FIN
	// event arrives with the advanced sequence number.
	payload := []byte("220 banner\r\n")
	h.HandleIP(serverPacket(t, tcpkt.FlagPSH|tcpkt.FlagACK|tcpkt.FlagFIN, 1001, seqnoMe, payload), now)

	assert.Equal(t, tcp.StateCloseWait, tcb.State())

	flags := drainFlags(t, st)
	require.NotEmpty(t, flags)
	assert.EqualValues(t, tcpkt.FlagACK, flags[0], "payload is acknowledged")
}

func TestEthernetDecodePath(t *testing.T) {
	table, _, h := newEngine(t)

	seqnoMe := cookie.SYN(ourTuple(), testEntropy) + 1
	ip := serverPacket(t, tcpkt.FlagSYN|tcpkt.FlagACK, 1000, seqnoMe, nil)

	eth := make([]byte, 14)
	binary.BigEndian.PutUint16(eth[12:], 0x0800)

	h.HandleEthernet(append(eth, ip...), time.Now())
	assert.EqualValues(t, 1, table.ActiveCount())
}

func TestRSTTearsDownConnection(t *testing.T) {
	table, _, h := newEngine(t)
	now := time.Unix(1700000000, 0)

	seqnoMe := cookie.SYN(ourTuple(), testEntropy) + 1
	h.HandleIP(serverPacket(t, tcpkt.FlagSYN|tcpkt.FlagACK, 1000, seqnoMe, nil), now)
	require.EqualValues(t, 1, table.ActiveCount())

	h.HandleIP(serverPacket(t, tcpkt.FlagRST, 1001, seqnoMe, nil), now)
	assert.EqualValues(t, 0, table.ActiveCount())
}
