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

// Package ingress turns captured frames into connection-engine events.
// It decodes Ethernet/IPv4/IPv6/TCP, validates SYN-ACK cookies, and
// dispatches to the connection table. Must run on the goroutine that
// owns the table.
package ingress

import (
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/carverauto/tcpgrab/pkg/cookie"
	"github.com/carverauto/tcpgrab/pkg/logger"
	"github.com/carverauto/tcpgrab/pkg/models"
	"github.com/carverauto/tcpgrab/pkg/tcp"
)

// Handler decodes frames and feeds the engine.
type Handler struct {
	table   *tcp.Table
	entropy uint64
	logger  logger.Logger

	// SuppressRST stops answering strays with RSTs, for setups where
	// the host firewall already does (or where we must stay quiet).
	SuppressRST bool

	ethParser *gopacket.DecodingLayerParser
	ipParser  *gopacket.DecodingLayerParser

	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcpl    layers.TCP
	payload gopacket.Payload
	decoded []gopacket.LayerType
}

// New builds a handler bound to one connection table. entropy must be
// the same seed the transmit path used for its SYN cookies.
func New(table *tcp.Table, entropy uint64, log logger.Logger) *Handler {
	h := &Handler{
		table:   table,
		entropy: entropy,
		logger:  log,
	}

	h.ethParser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&h.eth, &h.dot1q, &h.ip4, &h.ip6, &h.tcpl, &h.payload)
	h.ethParser.IgnoreUnsupported = true

	h.ipParser = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4,
		&h.ip4, &h.ip6, &h.tcpl, &h.payload)
	h.ipParser.IgnoreUnsupported = true

	return h
}

// HandleEthernet processes one link-layer frame.
func (h *Handler) HandleEthernet(frame []byte, now time.Time) {
	if err := h.ethParser.DecodeLayers(frame, &h.decoded); err != nil {
		h.logger.Debug().Err(err).Msg("failed to decode frame")
		return
	}

	h.dispatch(now)
}

// HandleIP processes one packet starting at the IP header, the shape a
// raw ip4:tcp socket delivers.
func (h *Handler) HandleIP(packet []byte, now time.Time) {
	if err := h.ipParser.DecodeLayers(packet, &h.decoded); err != nil {
		h.logger.Debug().Err(err).Msg("failed to decode packet")
		return
	}

	h.dispatch(now)
}

func (h *Handler) dispatch(now time.Time) {
	var (
		srcIP, dstIP netip.Addr
		ttl          uint8
		sawIP        bool
		sawTCP       bool
		payload      []byte
	)

	// h.payload is reused between decodes; only trust it when this
	// packet actually decoded one.
	for _, lt := range h.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			srcIP, _ = netip.AddrFromSlice(h.ip4.SrcIP.To4())
			dstIP, _ = netip.AddrFromSlice(h.ip4.DstIP.To4())
			ttl = h.ip4.TTL
			sawIP = true
		case layers.LayerTypeIPv6:
			srcIP, _ = netip.AddrFromSlice(h.ip6.SrcIP)
			dstIP, _ = netip.AddrFromSlice(h.ip6.DstIP)
			ttl = h.ip6.HopLimit
			sawIP = true
		case layers.LayerTypeTCP:
			sawTCP = true
		case gopacket.LayerTypePayload:
			payload = h.payload
		}
	}

	if !sawIP || !sawTCP {
		return
	}

	h.handleTCP(srcIP, dstIP, ttl, payload, now)
}

func (h *Handler) handleTCP(srcIP, dstIP netip.Addr, ttl uint8, payload []byte, now time.Time) {
	// Normalize to our perspective: the packet arrived, so its
	// destination is our side.
	tuple := models.FourTuple{
		LocalIP:    dstIP,
		RemoteIP:   srcIP,
		LocalPort:  uint16(h.tcpl.DstPort),
		RemotePort: uint16(h.tcpl.SrcPort),
	}

	seqnoThem := h.tcpl.Seq
	acknoThem := h.tcpl.Ack

	tcb := h.table.Lookup(tuple)

	switch {
	case h.tcpl.SYN && h.tcpl.ACK:
		// Stateless acceptance: the ACK must return our cookie + 1.
		if acknoThem-1 != cookie.SYN(tuple, h.entropy) {
			h.logger.Debug().
				Str("ip", srcIP.String()).
				Uint16("port", tuple.RemotePort).
				Msg("SYN-ACK with bad cookie")

			return
		}

		if tcb == nil {
			tcb = h.table.CreateTCB(tuple, acknoThem, seqnoThem+1, ttl, nil, now)
		}

		h.table.Incoming(tcb, tcp.WhatSynack, nil, now, seqnoThem+1, acknoThem)

	case h.tcpl.RST:
		h.table.Incoming(tcb, tcp.WhatRst, nil, now, seqnoThem, acknoThem)

	case tcb == nil:
		// Not a connection we're tracking; shut the peer up.
		if !h.SuppressRST {
			h.table.SendRST(tuple, seqnoThem, acknoThem)
		}

	default:
		if len(payload) > 0 {
			h.table.Incoming(tcb, tcp.WhatData, payload, now, seqnoThem, acknoThem)
		} else if h.tcpl.ACK && !h.tcpl.FIN {
			h.table.Incoming(tcb, tcp.WhatAck, nil, now, seqnoThem, acknoThem)
		}

		if h.tcpl.FIN {
			h.table.Incoming(tcb, tcp.WhatFin, nil, now,
				seqnoThem+uint32(len(payload)), acknoThem) // #nosec G115 - MSS-bounded
		}
	}
}
