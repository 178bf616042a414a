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
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/tcpgrab/pkg/banners"
)

// The HTTP hello is process-wide; restore it around tests that edit it.
func saveHTTPHello(t *testing.T) {
	t.Helper()

	saved := banners.HTTP.Hello
	t.Cleanup(func() { banners.HTTP.Hello = saved })
}

func saveSSLHello(t *testing.T) {
	t.Helper()

	saved := banners.SSL.Hello
	t.Cleanup(func() { banners.SSL.Hello = saved })
}

func TestSetParameterHTTPFields(t *testing.T) {
	saveHTTPHello(t)

	h := newHarness(t)

	require.NoError(t, h.table.SetParameter("http-user-agent", "scanner/2.0"))
	assert.Contains(t, string(banners.HTTP.Hello), "User-Agent: scanner/2.0\r\n")

	require.NoError(t, h.table.SetParameter("http-host", "internal.example"))
	assert.Contains(t, string(banners.HTTP.Hello), "Host: internal.example\r\n")

	require.NoError(t, h.table.SetParameter("http-method", "HEAD"))
	require.NoError(t, h.table.SetParameter("http-url", "/status"))
	require.NoError(t, h.table.SetParameter("http-version", "HTTP/1.1"))
	assert.Contains(t, string(banners.HTTP.Hello), "HEAD /status HTTP/1.1\r\n")
}

func TestSetParameterHTTPPayloadSetsContentLength(t *testing.T) {
	saveHTTPHello(t)

	h := newHarness(t)

	require.NoError(t, h.table.SetParameter("http-payload", "a=1&b=22"))
	assert.Contains(t, string(banners.HTTP.Hello), "Content-Length: 8\r\n")
	assert.Contains(t, string(banners.HTTP.Hello), "\r\n\r\na=1&b=22")
}

func TestSetParameterHelloOverrides(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.table.SetParameter("hello", "ssl"))
	assert.Same(t, banners.SSL, h.registry.StreamForPort(80), "hello=ssl forces SSL on every port")

	require.NoError(t, h.table.SetParameter("hello", "http"))
	assert.Same(t, banners.HTTP, h.registry.StreamForPort(22))
}

func TestSetParameterHeartbleed(t *testing.T) {
	saveSSLHello(t)

	h := newHarness(t)

	require.NoError(t, h.table.SetParameter("heartbleed", "true"))
	assert.True(t, h.registry.IsHeartbleed)
	assert.Same(t, banners.SSL, h.registry.StreamForPort(80))
	assert.Equal(t, banners.ClientHello(banners.HelloHeartbeat), banners.SSL.Hello)
}

func TestSetParameterPoodleAddsSCSV(t *testing.T) {
	saveSSLHello(t)

	h := newHarness(t)

	require.NoError(t, h.table.SetParameter("poodle", "true"))
	assert.True(t, h.registry.IsPoodleSSLv3)

	base := banners.ClientHello(banners.HelloSSLv3)
	assert.Equal(t, len(base)+2, len(banners.SSL.Hello), "SCSV cipher spec must be added")
}

func TestSetParameterHelloString(t *testing.T) {
	h := newHarness(t)

	encoded := base64.StdEncoding.EncodeToString([]byte("EHLO probe\r\n"))
	require.NoError(t, h.table.SetParameter("hello-string[25]", encoded))

	s := h.registry.StreamForPort(25)
	require.NotNil(t, s)
	assert.Equal(t, []byte("EHLO probe\r\n"), s.Hello)

	assert.Error(t, h.table.SetParameter("hello-string", "ZZZ"), "missing port array must error")
	assert.Error(t, h.table.SetParameter("hello-string[25]", "!!!"), "bad base64 must error")
}

func TestSetParameterUnknownIgnored(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.table.SetParameter("no-such-parameter", "1"))
}

func TestNameEquals(t *testing.T) {
	tests := []struct {
		lhs, rhs string
		want     bool
	}{
		{"hello-timeout", "hello-timeout", true},
		{"hello_timeout", "hello-timeout", true},
		{"HELLO.TIMEOUT", "hello-timeout", true},
		{"hellotimeout", "hello-timeout", true},
		{"hello-string[80]", "hello-string", true},
		{"hello-string", "hello-string[80]", true},
		{"hello", "hello-timeout", false},
		{"timeout", "hello-timeout", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, nameEquals(tt.lhs, tt.rhs), "%q vs %q", tt.lhs, tt.rhs)
	}
}

func TestSetBannerFlags(t *testing.T) {
	h := newHarness(t)

	h.table.SetBannerFlags(true, true, true, false, false)
	assert.True(t, h.registry.IsCaptureCert)
	assert.True(t, h.registry.IsCaptureServername)
	assert.True(t, h.registry.IsCaptureHTML)
	assert.False(t, h.registry.IsCaptureHeartbleed)
}

func TestSetHTTPHeader(t *testing.T) {
	saveHTTPHello(t)

	h := newHarness(t)

	h.table.SetHTTPHeader("X-Probe:", []byte("1"), banners.FieldAdd)
	assert.Contains(t, string(banners.HTTP.Hello), "X-Probe: 1\r\n")

	h.table.SetHTTPHeader("X-Probe:", nil, banners.FieldRemove)
	assert.NotContains(t, string(banners.HTTP.Hello), "X-Probe")
}