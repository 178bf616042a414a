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

// Package banners holds the application-protocol layer of the scanner:
// per-port protocol streams with their client hellos, the parsers that
// turn server responses into banner evidence, and the accumulator the
// evidence lands in. Streams are process-wide and mutated only during
// configuration, before the receive loop starts.
package banners

import (
	"encoding/base64"
	"fmt"

	"github.com/carverauto/tcpgrab/pkg/models"
)

// NetAPI is the handle a parser or hello callback uses to write
// application data back into the connection. The engine supplies the
// implementation; parsers never see TCBs.
type NetAPI interface {
	// Send enqueues application bytes on the connection. fin marks the
	// last bytes we intend to send.
	Send(buf []byte, own models.Ownership, fin bool)
	// IsClosing reports whether the connection is already tearing down.
	IsClosing() bool
}

// StreamState is the per-connection scratch a parser keeps between
// payload deliveries.
type StreamState struct {
	Port           uint16
	App            models.AppProto
	State          uint32
	IsSentSSLHello bool

	// Record-layer reassembly scratch (SSL) and negotiate scratch (SMB).
	Scratch []byte
	Need    int
}

// Stream describes one application protocol: how to say hello and how
// to read the reply.
type Stream struct {
	Name  string
	App   models.AppProto
	Hello []byte

	// TransmitHello, when set, crafts the hello instead of Hello being
	// copied verbatim onto the wire.
	TransmitHello func(r *Registry, st *StreamState, out *Output, h NetAPI)

	// Parse consumes server payload and appends banner evidence.
	Parse func(r *Registry, st *StreamState, payload []byte, out *Output, h NetAPI)

	// Cleanup releases per-connection scratch on teardown.
	Cleanup func(st *StreamState)

	// Next chains an alternate variant of the protocol; the engine
	// opens a follow-up connection with it on the next local 4-tuple.
	Next *Stream
}

// Registry maps destination ports to protocol streams and carries the
// scan-wide probe flags.
type Registry struct {
	tcp [65536]*Stream

	IsHeartbleed  bool
	IsTicketbleed bool
	IsPoodleSSLv3 bool

	IsCaptureCert        bool
	IsCaptureServername  bool
	IsCaptureHTML        bool
	IsCaptureHeartbleed  bool
	IsCaptureTicketbleed bool
}

// NewRegistry builds the default port assignment.
func NewRegistry() *Registry {
	r := &Registry{}

	for _, port := range []uint16{80, 8080, 8000} {
		r.tcp[port] = HTTP
	}

	for _, port := range []uint16{443, 465, 993, 995, 8443} {
		r.tcp[port] = SSL
	}

	r.tcp[22] = SSH
	r.tcp[139] = SMB
	r.tcp[445] = SMB

	return r
}

// StreamForPort returns the stream configured for a destination port,
// or nil when the port has no hello (we still capture whatever the
// server volunteers).
func (r *Registry) StreamForPort(port uint16) *Stream {
	return r.tcp[port]
}

// SetStream overrides the stream for one port.
func (r *Registry) SetStream(port uint16, s *Stream) {
	r.tcp[port] = s
}

// SetHelloAll forces one stream onto every TCP port, the behavior of
// the hello=ssl / hello=http parameters.
func (r *Registry) SetHelloAll(s *Stream) {
	for i := range r.tcp {
		r.tcp[i] = s
	}
}

// SetHelloString installs a base64-encoded raw hello on one port,
// replacing whatever stream was there.
func (r *Registry) SetHelloString(port uint16, encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("hello-string[%d]: %w", port, err)
	}

	r.tcp[port] = &Stream{
		Name:  "(allocated)",
		App:   models.ProtoGeneric,
		Hello: raw,
		Parse: parseGeneric,
	}

	return nil
}

// Parse dispatches payload to the connection's stream parser, falling
// back to raw capture for ports we have no parser for.
func (r *Registry) Parse(s *Stream, st *StreamState, payload []byte, out *Output, h NetAPI) {
	if s != nil && s.Parse != nil {
		s.Parse(r, st, payload, out, h)
		return
	}

	parseGeneric(r, st, payload, out, h)
}

// CleanupState tears down protocol-specific scratch. Safe on states
// that never attached any.
func (r *Registry) CleanupState(s *Stream, st *StreamState) {
	if s != nil && s.Cleanup != nil {
		s.Cleanup(st)
	}
}

// parseGeneric captures whatever the server sent, verbatim.
func parseGeneric(_ *Registry, st *StreamState, payload []byte, out *Output, _ NetAPI) {
	if st.App == models.ProtoNone {
		st.App = models.ProtoGeneric
	}

	out.Append(models.ProtoGeneric, payload)
}

// Generic is the catch-all stream: no hello, raw capture.
var Generic = &Stream{
	Name:  "generic",
	App:   models.ProtoGeneric,
	Parse: parseGeneric,
}
