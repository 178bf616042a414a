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

// Package stack owns the boundary between the receive thread and the
// transmit thread: a pool of reusable packet buffers and a
// multi-producer transmit queue drained by a single sender.
package stack

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/carverauto/tcpgrab/pkg/logger"
)

// MaxPacketSize bounds one formatted packet (IPv6 header + TCP + MSS payload).
const MaxPacketSize = 2048

const (
	defaultPoolSize  = 4096
	defaultRateLimit = 100000

	// How long to yield when the pool is unexpectedly empty before the
	// single retry. The pool being empty means transmit is badly behind.
	emptyPoolYield = 100 * time.Microsecond
)

// PacketBuffer is one outgoing packet. Px is the full backing array;
// Length is how much of it the formatter used.
type PacketBuffer struct {
	Px     [MaxPacketSize]byte
	Length int
}

// Bytes returns the formatted packet.
func (b *PacketBuffer) Bytes() []byte {
	return b.Px[:b.Length]
}

// Source describes the address and port ranges this scanner transmits
// from. Follow-up connections rotate through it (port first, then IP).
type Source struct {
	FirstIP   netip.Addr
	LastIP    netip.Addr
	FirstPort uint16
	LastPort  uint16
}

// Options tunes pool sizing and the transmit rate limiter.
type Options struct {
	// PoolSize is the number of packet buffers in circulation.
	PoolSize int
	// RateLimit is the packets per second limit for the drain loop.
	RateLimit int
	// RateLimitBurst is the burst size for rate limiting.
	RateLimitBurst int
}

// Stack is the transmit-side plumbing shared by every connection.
type Stack struct {
	src     Source
	free    chan *PacketBuffer
	txq     chan *PacketBuffer
	limiter *rate.Limiter
	logger  logger.Logger

	warnOnce sync.Once
}

// New builds a Stack. Buffers are allocated up front; the free list is
// a buffered channel, so Get/Release are lock-free in the fast path.
func New(src Source, opts *Options, log logger.Logger) *Stack {
	poolSize := defaultPoolSize
	rateLimit := defaultRateLimit
	burst := 0

	if opts != nil {
		if opts.PoolSize > 0 {
			poolSize = opts.PoolSize
		}

		if opts.RateLimit > 0 {
			rateLimit = opts.RateLimit
		}

		burst = opts.RateLimitBurst
	}

	if burst <= 0 {
		burst = rateLimit / 10
		if burst < 1 {
			burst = 1
		}
	}

	s := &Stack{
		src:     src,
		free:    make(chan *PacketBuffer, poolSize),
		txq:     make(chan *PacketBuffer, poolSize),
		limiter: rate.NewLimiter(rate.Limit(rateLimit), burst),
		logger:  log,
	}

	for i := 0; i < poolSize; i++ {
		s.free <- &PacketBuffer{}
	}

	return s
}

// Source returns the configured source ranges.
func (s *Stack) Source() Source {
	return s.src
}

// GetPacketBuffer hands out a free buffer. An empty pool means the
// transmit side is not keeping up; yield briefly and retry once, then
// give up and let the caller drop the packet.
func (s *Stack) GetPacketBuffer() *PacketBuffer {
	select {
	case b := <-s.free:
		return b
	default:
	}

	s.warnOnce.Do(func() {
		s.logger.Error().Msg("packet buffers empty (should be impossible)")
	})

	time.Sleep(emptyPoolYield)

	select {
	case b := <-s.free:
		return b
	default:
		return nil
	}
}

// TransmitPacketBuffer queues a formatted packet for the transmit
// thread. The buffer is owned by the queue from this point on.
func (s *Stack) TransmitPacketBuffer(b *PacketBuffer) {
	select {
	case s.txq <- b:
	default:
		// Queue full: drop rather than block the receive thread.
		s.logger.Warn().Msg("transmit queue full, dropping packet")
		s.ReleasePacketBuffer(b)
	}
}

// ReleasePacketBuffer returns a buffer to the pool.
func (s *Stack) ReleasePacketBuffer(b *PacketBuffer) {
	b.Length = 0

	select {
	case s.free <- b:
	default:
		// Pool full means this buffer was double-released; drop it.
	}
}

// DequeueTx pops one queued packet without blocking. Returns nil when
// the queue is empty. Used by tests and by Drain.
func (s *Stack) DequeueTx() *PacketBuffer {
	select {
	case b := <-s.txq:
		return b
	default:
		return nil
	}
}

// Drain runs the transmit loop: waits on the queue, rate-limits, and
// hands each packet to send. Buffers return to the pool afterwards,
// including on send errors (which are logged, not fatal).
func (s *Stack) Drain(ctx context.Context, send func(pkt []byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-s.txq:
			if err := s.limiter.Wait(ctx); err != nil {
				s.ReleasePacketBuffer(b)
				return err
			}

			if err := send(b.Bytes()); err != nil {
				s.logger.Error().Err(err).Msg("failed to transmit packet")
			}

			s.ReleasePacketBuffer(b)
		}
	}
}
