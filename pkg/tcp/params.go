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
	"strconv"
	"strings"

	"github.com/carverauto/tcpgrab/pkg/banners"
)

// SetHTTPHeader edits one header of the process-wide HTTP hello.
// Configuration-time only.
func (c *Table) SetHTTPHeader(name string, value []byte, action banners.FieldAction) {
	banners.HTTP.Hello = banners.ChangeHTTPField(banners.HTTP.Hello, name, value, action)
}

// SetBannerFlags configures which evidence the parsers capture.
func (c *Table) SetBannerFlags(captureCert, captureServername, captureHTML, captureHeartbleed, captureTicketbleed bool) {
	c.registry.IsCaptureCert = captureCert
	c.registry.IsCaptureServername = captureServername
	c.registry.IsCaptureHTML = captureHTML
	c.registry.IsCaptureHeartbleed = captureHeartbleed
	c.registry.IsCaptureTicketbleed = captureTicketbleed
}

// SetParameter applies one named TCP-layer configuration parameter.
// Names compare loosely: dashes, dots, and underscores are skipped, so
// "hello-timeout", "hello_timeout", and "hellotimeout" all match.
// Unknown names are logged and ignored. Configuration-time only.
func (c *Table) SetParameter(name, value string) error {
	switch {
	case nameEquals(name, "http-payload"):
		banners.HTTP.Hello = banners.ChangeHTTPRequestLine(banners.HTTP.Hello, banners.ReqPayload, []byte(value))
		banners.HTTP.Hello = banners.ChangeHTTPField(banners.HTTP.Hello,
			"Content-Length:", []byte(strconv.Itoa(len(value))), banners.FieldReplace)

	case nameEquals(name, "http-user-agent"):
		banners.HTTP.Hello = banners.ChangeHTTPField(banners.HTTP.Hello, "User-Agent:", []byte(value), banners.FieldReplace)

	case nameEquals(name, "http-host"):
		banners.HTTP.Hello = banners.ChangeHTTPField(banners.HTTP.Hello, "Host:", []byte(value), banners.FieldReplace)

	case nameEquals(name, "http-method"):
		banners.HTTP.Hello = banners.ChangeHTTPRequestLine(banners.HTTP.Hello, banners.ReqMethod, []byte(value))

	case nameEquals(name, "http-url"):
		banners.HTTP.Hello = banners.ChangeHTTPRequestLine(banners.HTTP.Hello, banners.ReqURL, []byte(value))

	case nameEquals(name, "http-version"):
		banners.HTTP.Hello = banners.ChangeHTTPRequestLine(banners.HTTP.Hello, banners.ReqVersion, []byte(value))

	case nameEquals(name, "timeout") || nameEquals(name, "connection-timeout"):
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}

		c.timeoutConnection = uint32(n)
		c.logger.Info().Uint32("seconds", c.timeoutConnection).Msg("TCP connection-timeout")

	case nameEquals(name, "hello-timeout"):
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}

		c.timeoutHello = uint32(n)
		c.logger.Info().Uint32("seconds", c.timeoutHello).Msg("TCP hello-timeout")

	case nameEquals(name, "hello") && nameEquals(value, "ssl"):
		c.logger.Debug().Msg("HELLO: setting SSL hello message")
		c.registry.SetHelloAll(banners.SSL)

	case nameEquals(name, "hello") && nameEquals(value, "http"):
		c.logger.Debug().Msg("HELLO: setting HTTP hello message")
		c.registry.SetHelloAll(banners.HTTP)

	case nameEquals(name, "hello") && nameEquals(value, "smbv1"):
		banners.SetSMBHelloV1(banners.SMB)

	case nameEquals(name, "heartbleed"):
		// Probe for the 2014 OpenSSL heartbeat overread: negotiate the
		// heartbeat extension and keep the peer's window small so the
		// leak dribbles out in captured pieces.
		banners.SSL.Hello = banners.ClientHello(banners.HelloHeartbeat)
		c.registry.IsHeartbleed = true
		c.registry.SetHelloAll(banners.SSL)

	case nameEquals(name, "ticketbleed"):
		banners.SSL.Hello = banners.ClientHello(banners.HelloTicketbleed)
		c.registry.IsTicketbleed = true
		c.registry.SetHelloAll(banners.SSL)

	case nameEquals(name, "poodle") || nameEquals(name, "sslv3"):
		hello := banners.ClientHello(banners.HelloSSLv3)
		banners.SSL.Hello = banners.AddCipherSpec(hello, 0x5600)
		c.registry.IsPoodleSSLv3 = true
		c.registry.SetHelloAll(banners.SSL)

	case nameEquals(name, "hello-string"):
		port, err := portArrayIndex(name)
		if err != nil {
			return err
		}

		if err := c.registry.SetHelloString(port, value); err != nil {
			return err
		}

	default:
		c.logger.Debug().Str("name", name).Msg("unknown TCP parameter")
	}

	return nil
}

// nameEquals compares parameter names loosely, skipping '-', '.', '_'
// and stopping at an array suffix ("hello-string[80]" matches
// "hello-string").
func nameEquals(lhs, rhs string) bool {
	i, j := 0, 0

	for {
		for i < len(lhs) && (lhs[i] == '-' || lhs[i] == '.' || lhs[i] == '_') {
			i++
		}

		for j < len(rhs) && (rhs[j] == '-' || rhs[j] == '.' || rhs[j] == '_') {
			j++
		}

		switch {
		case i == len(lhs) && j == len(rhs):
			return true
		case i == len(lhs):
			return rhs[j] == '['
		case j == len(rhs):
			return lhs[i] == '['
		}

		if lower(lhs[i]) != lower(rhs[j]) {
			return false
		}

		if lhs[i] == '[' {
			return true
		}

		i++
		j++
	}
}

func lower(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}

	return b
}

// portArrayIndex extracts N from a "name[N]" parameter.
func portArrayIndex(name string) (uint16, error) {
	open := strings.IndexByte(name, '[')
	if open < 0 {
		return 0, fmt.Errorf("parameter %q: expected array syntax name[port]", name)
	}

	end := strings.IndexByte(name[open:], ']')
	if end < 0 {
		end = len(name) - open
	}

	port, err := strconv.ParseUint(name[open+1:open+end], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: bad port: %w", name, err)
	}

	return uint16(port), nil
}
