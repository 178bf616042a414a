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
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/tcpgrab/pkg/models"
)

// reachable walks every bucket chain and counts live TCBs, verifying
// each one claims to be active.
func reachable(t *testing.T, c *Table) int {
	t.Helper()

	count := 0

	for i := range c.buckets {
		for idx := c.buckets[i]; idx != noIndex; idx = c.slab[idx].next {
			require.True(t, c.slab[idx].isActive, "reachable TCB must be active")
			count++
		}
	}

	return count
}

func TestCreateLookupDestroyIntegrity(t *testing.T) {
	h := newHarness(t)

	var tuples []models.FourTuple

	for i := 0; i < 50; i++ {
		tuple := models.FourTuple{
			LocalIP:    netip.MustParseAddr("10.0.0.1"),
			RemoteIP:   netip.MustParseAddr(fmt.Sprintf("192.0.2.%d", i+1)),
			LocalPort:  uint16(40000 + i),
			RemotePort: 443,
		}
		tuples = append(tuples, tuple)

		tcb := h.table.CreateTCB(tuple, uint32(1000+i), 0, 64, nil, h.t0)
		require.NotNil(t, tcb)
	}

	assert.EqualValues(t, 50, h.table.ActiveCount())
	assert.Equal(t, 50, reachable(t, h.table))

	for _, tuple := range tuples {
		tcb := h.table.Lookup(tuple)
		require.NotNil(t, tcb, "lookup must find %s", tuple)
		assert.True(t, tuple.Equal(tcb.Tuple()))
	}

	// Destroy half; count and reachability must stay in sync.
	for i := 0; i < 25; i++ {
		h.table.DestroyTCB(h.table.Lookup(tuples[i]), ReasonStateDone)
	}

	assert.EqualValues(t, 25, h.table.ActiveCount())
	assert.Equal(t, 25, reachable(t, h.table))

	for i := 0; i < 25; i++ {
		assert.Nil(t, h.table.Lookup(tuples[i]))
	}
}

func TestCreateTCBIdempotent(t *testing.T) {
	h := newHarness(t)

	first := h.table.CreateTCB(testTuple(), 7777, 1000, 64, nil, h.t0)
	second := h.table.CreateTCB(testTuple(), 9999, 2000, 64, nil, h.t0)

	assert.Same(t, first, second, "same tuple must return the existing TCB")
	assert.EqualValues(t, 1, h.table.ActiveCount())
	assert.Equal(t, uint32(7777), first.seqnoMe, "existing TCB must be unchanged")
}

func TestCreateTCBDefaults(t *testing.T) {
	h := newHarness(t)

	tcb := h.table.CreateTCB(testTuple(), 7777, 1000, 57, nil, h.t0)

	assert.Equal(t, StateSynSent, tcb.State())
	assert.Equal(t, AppConnect, tcb.app)
	assert.EqualValues(t, defaultMSS, tcb.mss)
	assert.EqualValues(t, 57, tcb.ttl)
	assert.Equal(t, uint32(7777), tcb.seqnoMeFirst)
	assert.Equal(t, uint32(1000), tcb.seqnoThemFirst)
	assert.NotNil(t, tcb.stream, "port 80 must resolve to the HTTP stream")
}

func TestDestroyTCBDoubleFree(t *testing.T) {
	h := newHarness(t)

	tcb := h.table.CreateTCB(testTuple(), 7777, 1000, 64, nil, h.t0)
	h.table.DestroyTCB(tcb, ReasonStateDone)

	// Must log and return, not crash or corrupt the count.
	h.table.DestroyTCB(tcb, ReasonStateDone)
	assert.EqualValues(t, 0, h.table.ActiveCount())
}

func TestFreeListReuse(t *testing.T) {
	h := newHarness(t)

	tcb := h.table.CreateTCB(testTuple(), 7777, 1000, 64, nil, h.t0)
	idx := tcb.idx

	h.table.DestroyTCB(tcb, ReasonStateDone)

	other := models.FourTuple{
		LocalIP:    netip.MustParseAddr("10.0.0.2"),
		RemoteIP:   netip.MustParseAddr("203.0.113.9"),
		LocalPort:  40001,
		RemotePort: 22,
	}

	recycled := h.table.CreateTCB(other, 1, 2, 64, nil, h.t0)
	assert.Equal(t, idx, recycled.idx, "destroyed slot must be recycled")
	assert.Equal(t, StateSynSent, recycled.State())
	assert.Empty(t, recycled.segments)
}

func TestTableSizeClamping(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, minTableSize, len(h.table.buckets), "small capacity clamps to the minimum")
	assert.Equal(t, uint32(minTableSize-1), h.table.mask)
}

func TestCloseFlushesBanners(t *testing.T) {
	h := newHarness(t)

	tcb := h.connectHTTP(t, 7777, 1001)
	tcb.banout.AppendString(models.ProtoHTTP, "HTTP/1.1 200 OK")

	h.table.Close()

	got := h.reporter.banners(models.ProtoHTTP)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("HTTP/1.1 200 OK"), got[0])
	assert.EqualValues(t, 0, h.table.ActiveCount())
}

func TestConnectionTimeoutDefaults(t *testing.T) {
	h := newHarness(t)
	assert.EqualValues(t, 30, h.table.timeoutConnection)
	assert.EqualValues(t, 2, h.table.timeoutHello)

	zero := New(10, h.stack, nil, h.registry, h.reporter, 0, 1, h.table.logger)
	assert.EqualValues(t, 30, zero.timeoutConnection, "zero timeout means the default")
}

func TestSetParameterTimeouts(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.table.SetParameter("connection-timeout", "60"))
	assert.EqualValues(t, 60, h.table.timeoutConnection)

	require.NoError(t, h.table.SetParameter("hello_timeout", "5"))
	assert.EqualValues(t, 5, h.table.timeoutHello, "loose name matching must accept underscores")

	assert.Error(t, h.table.SetParameter("timeout", "not-a-number"))
}

func TestDestroyReleasesTimer(t *testing.T) {
	h := newHarness(t)

	tcb := h.connectHTTP(t, 7777, 1001)
	require.NotEqual(t, noIndex, tcb.timerIdx, "connected TCB must be armed")

	h.table.DestroyTCB(tcb, ReasonStateDone)
	assert.Equal(t, noIndex, tcb.timerIdx)
	assert.Equal(t, 0, h.table.timers.len())

	// A due timer for a destroyed TCB must never fire.
	h.table.ProcessTimeouts(h.t0.Add(time.Hour))
	assert.EqualValues(t, 0, h.table.ActiveCount())
}
