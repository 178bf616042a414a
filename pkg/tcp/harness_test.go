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
	"encoding/binary"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/carverauto/tcpgrab/pkg/banners"
	"github.com/carverauto/tcpgrab/pkg/logger"
	"github.com/carverauto/tcpgrab/pkg/models"
	"github.com/carverauto/tcpgrab/pkg/stack"
	"github.com/carverauto/tcpgrab/pkg/tcpkt"
)

// txPacket is one captured transmit, decoded just enough to assert on.
type txPacket struct {
	flags   uint8
	seqno   uint32
	ackno   uint32
	window  uint16
	payload []byte
}

// captureReporter records flushed banners for assertions.
type captureReporter struct {
	mu   sync.Mutex
	recs []models.BannerRecord
}

func (r *captureReporter) ReportBanner(rec models.BannerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	banner := append([]byte(nil), rec.Banner...)
	rec.Banner = banner
	r.recs = append(r.recs, rec)
}

func (r *captureReporter) Close() error { return nil }

func (r *captureReporter) banners(app models.AppProto) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out [][]byte

	for _, rec := range r.recs {
		if rec.App == app {
			out = append(out, rec.Banner)
		}
	}

	return out
}

type harness struct {
	table    *Table
	stack    *stack.Stack
	reporter *captureReporter
	registry *banners.Registry
	t0       time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st := stack.New(stack.Source{
		FirstIP:   netip.MustParseAddr("10.0.0.1"),
		LastIP:    netip.MustParseAddr("10.0.0.8"),
		FirstPort: 40000,
		LastPort:  41000,
	}, &stack.Options{PoolSize: 128, RateLimit: 1000000}, logger.NewTestLogger())

	reporter := &captureReporter{}
	registry := banners.NewRegistry()

	table := New(
		1000,
		st,
		tcpkt.NewTemplate(),
		registry,
		reporter,
		30*time.Second,
		42,
		logger.NewTestLogger(),
	)

	return &harness{
		table:    table,
		stack:    st,
		reporter: reporter,
		registry: registry,
		t0:       time.Unix(1700000000, 0),
	}
}

// drainTx collects and decodes everything queued for transmit.
func (h *harness) drainTx(t *testing.T) []txPacket {
	t.Helper()

	var out []txPacket

	for {
		b := h.stack.DequeueTx()
		if b == nil {
			return out
		}

		out = append(out, decodePacket(t, b.Bytes()))
		h.stack.ReleasePacketBuffer(b)
	}
}

func decodePacket(t *testing.T, pkt []byte) txPacket {
	t.Helper()

	if len(pkt) < 20 || pkt[0]>>4 != 4 {
		t.Fatalf("expected IPv4 packet, got %d bytes", len(pkt))
	}

	ihl := int(pkt[0]&0x0F) * 4
	tcp := pkt[ihl:]
	dataOff := int(tcp[12]>>4) * 4

	return txPacket{
		flags:   tcp[13],
		seqno:   binary.BigEndian.Uint32(tcp[4:]),
		ackno:   binary.BigEndian.Uint32(tcp[8:]),
		window:  binary.BigEndian.Uint16(tcp[14:]),
		payload: append([]byte(nil), tcp[dataOff:]...),
	}
}

func testTuple() models.FourTuple {
	return models.FourTuple{
		LocalIP:    netip.MustParseAddr("10.0.0.1"),
		RemoteIP:   netip.MustParseAddr("1.2.3.4"),
		LocalPort:  12345,
		RemotePort: 80,
	}
}

// connectHTTP walks a TCB to ESTABLISHED_RECV with the HTTP stream
// armed: create, SYN-ACK, drained handshake ACK.
func (h *harness) connectHTTP(t *testing.T, seqnoMe, seqnoThem uint32) *TCB {
	t.Helper()

	tcb := h.table.CreateTCB(testTuple(), seqnoMe, 0, 64, nil, h.t0)
	h.table.Incoming(tcb, WhatSynack, nil, h.t0, seqnoThem, seqnoMe)

	pkts := h.drainTx(t)
	if len(pkts) != 1 || pkts[0].flags != tcpkt.FlagACK {
		t.Fatalf("expected one handshake ACK, got %+v", pkts)
	}

	return tcb
}
