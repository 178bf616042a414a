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

// Package models provides shared data models for the TCP engine.
package models

import (
	"fmt"
	"net/netip"
)

// FourTuple identifies one TCP connection from the scanner's point of
// view. Local is always our side, regardless of packet direction.
type FourTuple struct {
	LocalIP    netip.Addr `json:"local_ip"`
	RemoteIP   netip.Addr `json:"remote_ip"`
	LocalPort  uint16     `json:"local_port"`
	RemotePort uint16     `json:"remote_port"`
}

// IsIPv6 reports whether the tuple uses IPv6 addresses.
func (t FourTuple) IsIPv6() bool {
	return t.LocalIP.Is6() && !t.LocalIP.Is4In6()
}

// Equal compares full 4-tuples. Addresses are compared byte-wise, which
// covers both the IPv4 and IPv6 representations.
func (t FourTuple) Equal(o FourTuple) bool {
	if t.LocalPort != o.LocalPort || t.RemotePort != o.RemotePort {
		return false
	}

	return t.LocalIP == o.LocalIP && t.RemoteIP == o.RemoteIP
}

func (t FourTuple) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", t.LocalIP, t.LocalPort, t.RemoteIP, t.RemotePort)
}
