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
	"github.com/carverauto/tcpgrab/pkg/logger"
	"github.com/carverauto/tcpgrab/pkg/models"
	"github.com/carverauto/tcpgrab/pkg/sink"
	"github.com/carverauto/tcpgrab/pkg/stack"
	"github.com/carverauto/tcpgrab/pkg/tcpkt"
)

const (
	minTableSize = 1 << 10
	maxTableSize = 1 << 24

	defaultConnectionTimeout = 30 // seconds
	defaultHelloTimeout      = 2  // seconds
)

// Table is the TCP connection table: a bucketed set of TCBs living in
// an arena slab, linked by stable indices. One goroutine owns it; the
// only thing that leaves it are self-contained packet buffers queued
// for the transmit thread.
type Table struct {
	logger logger.Logger

	buckets []int32 // bucket head indices into slab
	slab    []*TCB
	free    []int32 // recycled slab indices
	mask    uint32

	activeCount uint64
	entropy     uint64

	timeoutConnection uint32 // seconds
	timeoutHello      uint32 // seconds

	timers timerWheel

	tmpl     *tcpkt.Template
	stack    *stack.Stack
	registry *banners.Registry
	reporter sink.Reporter
}

// New creates a connection table for roughly the given number of
// concurrent connections. The bucket count is rounded up to a power of
// two and clamped to [2^10, 2^24]. A zero connectionTimeout means 30s.
func New(
	capacity int,
	st *stack.Stack,
	tmpl *tcpkt.Template,
	registry *banners.Registry,
	reporter sink.Reporter,
	connectionTimeout time.Duration,
	entropy uint64,
	log logger.Logger,
) *Table {
	size := minTableSize
	for size < capacity && size < maxTableSize {
		size <<= 1
	}

	if size > maxTableSize {
		size = maxTableSize
	}

	c := &Table{
		logger:            log,
		buckets:           make([]int32, size),
		mask:              uint32(size - 1), // #nosec G115 - size is clamped
		entropy:           entropy,
		timeoutConnection: uint32(connectionTimeout / time.Second), // #nosec G115 - config value
		timeoutHello:      defaultHelloTimeout,
		tmpl:              tmpl,
		stack:             st,
		registry:          registry,
		reporter:          reporter,
	}

	if c.timeoutConnection == 0 {
		c.timeoutConnection = defaultConnectionTimeout
	}

	for i := range c.buckets {
		c.buckets[i] = noIndex
	}

	return c
}

// ActiveCount returns the number of tracked connections.
func (c *Table) ActiveCount() uint64 {
	return c.activeCount
}

// Registry exposes the protocol stream registry for configuration.
func (c *Table) Registry() *banners.Registry {
	return c.registry
}

func (c *Table) bucketFor(t models.FourTuple) *int32 {
	return &c.buckets[cookie.Table(t, c.entropy)&c.mask]
}

// Lookup finds the TCB for a 4-tuple, or nil. The bucket hash is
// direction-invariant, so the caller normalizes the tuple to our
// perspective and the full compare does the rest.
func (c *Table) Lookup(t models.FourTuple) *TCB {
	idx := *c.bucketFor(t)
	for idx != noIndex {
		tcb := c.slab[idx]
		if tcb.tuple.Equal(t) {
			return tcb
		}

		idx = tcb.next
	}

	return nil
}

// CreateTCB tracks a new connection. If the 4-tuple is already
// tracked, the existing TCB is returned unchanged. stream selects the
// protocol handler; nil means the registry's port default.
func (c *Table) CreateTCB(
	t models.FourTuple,
	seqnoMe, seqnoThem uint32,
	ttl uint8,
	stream *banners.Stream,
	now time.Time,
) *TCB {
	head := c.bucketFor(t)

	for idx := *head; idx != noIndex; idx = c.slab[idx].next {
		if c.slab[idx].tuple.Equal(t) {
			return c.slab[idx]
		}
	}

	var tcb *TCB

	if n := len(c.free); n > 0 {
		tcb = c.slab[c.free[n-1]]
		c.free = c.free[:n-1]
		tcb.reset()
	} else {
		tcb = &TCB{idx: int32(len(c.slab)), next: noIndex, timerIdx: noIndex} // #nosec G115 - slab is table-bounded
		c.slab = append(c.slab, tcb)
	}

	tcb.next = *head
	*head = tcb.idx

	tcb.tuple = t
	tcb.isIPv6 = t.IsIPv6()
	tcb.seqnoMe = seqnoMe
	tcb.seqnoThem = seqnoThem
	tcb.seqnoMeFirst = seqnoMe
	tcb.seqnoThemFirst = seqnoThem
	tcb.acknoMe = seqnoThem
	tcb.acknoThem = seqnoMe
	tcb.whenCreated = now.Unix()
	tcb.ttl = ttl
	tcb.mss = defaultMSS
	tcb.state = StateSynSent
	tcb.app = AppConnect

	tcb.bstate.Port = t.RemotePort

	if stream == nil {
		stream = c.registry.StreamForPort(t.RemotePort)
	}

	tcb.stream = stream
	tcb.isActive = true

	c.activeCount++

	return tcb
}

// DestroyTCB unlinks a connection, flushes its banners, releases its
// segments and timer, and recycles the TCB.
func (c *Table) DestroyTCB(tcb *TCB, reason DestroyReason) {
	c.logger.Debug().
		Str("ip", tcb.tuple.RemoteIP.String()).
		Uint16("port", tcb.tuple.RemotePort).
		Uint16("port_me", tcb.tuple.LocalPort).
		Str("reason", reason.String()).
		Msg("closing connection")

	if !tcb.isActive {
		// Endpoints are poisoned on destroy, so a second destroy can't
		// even hash its way back to the bucket.
		c.logger.Warn().Msg("tcb: double free")
		return
	}

	// The TCB doesn't know its bucket position; walk the chain.
	prev := c.bucketFor(tcb.tuple)
	for *prev != noIndex && *prev != tcb.idx {
		prev = &c.slab[*prev].next
	}

	if *prev == noIndex {
		c.logger.Warn().Msg("tcb: double free")
		return
	}

	c.flushBanners(tcb)

	// Any queued segments die with the connection.
	for _, seg := range tcb.segments {
		seg.release()
	}

	tcb.segments = nil

	c.registry.CleanupState(tcb.stream, &tcb.bstate)

	c.timers.unlink(c, tcb)

	// Poison the endpoints so a stale lookup can't match.
	tcb.tuple = models.FourTuple{}
	tcb.isActive = false

	*prev = tcb.next
	tcb.next = noIndex
	c.free = append(c.free, tcb.idx)
	c.activeCount--
}

// flushBanners reports everything the connection collected. Called on
// every destroy path, before resources go away.
func (c *Table) flushBanners(tcb *TCB) {
	now := time.Now()

	tcb.banout.Each(func(proto models.AppProto, data []byte) {
		c.reporter.ReportBanner(models.BannerRecord{
			Timestamp: now,
			RemoteIP:  tcb.tuple.RemoteIP,
			Proto:     "tcp",
			Port:      tcb.tuple.RemotePort,
			App:       proto,
			TTL:       tcb.ttl,
			Banner:    data,
		})
	})

	tcb.banout.Release()
}

// Close tears down every remaining connection, draining their banners
// to the reporter.
func (c *Table) Close() {
	for i := range c.buckets {
		for c.buckets[i] != noIndex {
			c.DestroyTCB(c.slab[c.buckets[i]], ReasonShutdown)
		}
	}

	c.slab = nil
	c.free = nil
}
