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

package banners

import (
	"bytes"
	"fmt"

	"github.com/carverauto/tcpgrab/pkg/models"
)

// FieldAction selects what an HTTP header edit does.
type FieldAction int

const (
	FieldReplace FieldAction = iota
	FieldAdd
	FieldRemove
)

// RequestLineItem selects which part of the request line an edit targets.
type RequestLineItem int

const (
	ReqMethod RequestLineItem = iota
	ReqURL
	ReqVersion
	ReqPayload
)

const defaultHTTPHello = "GET / HTTP/1.0\r\n" +
	"User-Agent: tcpgrab/1.0 (https://github.com/carverauto/tcpgrab)\r\n" +
	"Accept: */*\r\n" +
	"\r\n"

// HTTP is the process-wide HTTP stream. Its hello is mutable during
// configuration (http-user-agent, http-url, ... parameters).
var HTTP = &Stream{
	Name:  "http",
	App:   models.ProtoHTTP,
	Hello: []byte(defaultHTTPHello),
	Parse: parseHTTP,
}

const (
	httpStateHeaders = iota
	httpStateBody
)

// parseHTTP collects the response head under the http label and the
// body under html. No header interpretation beyond finding the blank
// line; the point is evidence capture, not an HTTP client.
func parseHTTP(r *Registry, st *StreamState, payload []byte, out *Output, _ NetAPI) {
	st.App = models.ProtoHTTP

	if st.State == httpStateHeaders {
		// The blank line can straddle payload boundaries; keep the last
		// three bytes from the previous delivery in scratch.
		joined := payload
		if len(st.Scratch) > 0 {
			joined = append(st.Scratch, payload...) //nolint:gocritic // scratch is owned here
		}

		if i := bytes.Index(joined, []byte("\r\n\r\n")); i >= 0 {
			head := joined[:i+4]

			// Bytes carried over in scratch were already appended.
			newStart := len(st.Scratch)
			if newStart > len(head) {
				newStart = len(head)
			}

			out.Append(models.ProtoHTTP, head[newStart:])

			st.State = httpStateBody
			st.Scratch = nil

			body := joined[i+4:]
			if len(body) > 0 {
				appendHTTPBody(r, out, body)
			}

			return
		}

		out.Append(models.ProtoHTTP, payload)

		keep := len(joined)
		if keep > 3 {
			keep = 3
		}

		st.Scratch = append([]byte(nil), joined[len(joined)-keep:]...)

		return
	}

	appendHTTPBody(r, out, payload)
}

func appendHTTPBody(_ *Registry, out *Output, body []byte) {
	out.Append(models.ProtoHTML, body)
}

// ChangeHTTPField rewrites one header of an HTTP hello, returning the
// new hello. name includes the trailing colon ("User-Agent:"). Replace
// on a missing header inserts it before the blank line; Remove deletes
// it; Add appends unconditionally.
func ChangeHTTPField(hello []byte, name string, value []byte, action FieldAction) []byte {
	end := bytes.Index(hello, []byte("\r\n\r\n"))
	if end < 0 {
		end = len(hello)
	} else {
		end += 2 // the last header line keeps its own CRLF
	}

	// Locate the header, case-insensitively, at a line start.
	var lineStart, lineEnd = -1, -1

	for i := 0; i < end; {
		nl := bytes.Index(hello[i:end], []byte("\r\n"))
		if nl < 0 {
			break
		}

		line := hello[i : i+nl]
		if len(line) >= len(name) && bytes.EqualFold(line[:len(name)], []byte(name)) {
			lineStart = i
			lineEnd = i + nl + 2

			break
		}

		i += nl + 2
	}

	switch action {
	case FieldRemove:
		if lineStart < 0 {
			return hello
		}

		return append(append([]byte(nil), hello[:lineStart]...), hello[lineEnd:]...)

	case FieldAdd:
		insert := fmt.Sprintf("%s %s\r\n", name, value)
		out := append([]byte(nil), hello[:end]...)
		out = append(out, insert...)

		return append(out, hello[end:]...)

	default: // FieldReplace
		line := fmt.Sprintf("%s %s\r\n", name, value)

		if lineStart < 0 {
			out := append([]byte(nil), hello[:end]...)
			out = append(out, line...)

			return append(out, hello[end:]...)
		}

		out := append([]byte(nil), hello[:lineStart]...)
		out = append(out, line...)

		return append(out, hello[lineEnd:]...)
	}
}

// ChangeHTTPRequestLine rewrites the method, URL, or version of the
// request line, or replaces the body (ReqPayload) after the blank line.
func ChangeHTTPRequestLine(hello []byte, item RequestLineItem, value []byte) []byte {
	if item == ReqPayload {
		end := bytes.Index(hello, []byte("\r\n\r\n"))
		if end < 0 {
			end = len(hello)

			out := append([]byte(nil), hello...)
			out = append(out, "\r\n\r\n"...)

			return append(out, value...)
		}

		out := append([]byte(nil), hello[:end+4]...)

		return append(out, value...)
	}

	nl := bytes.Index(hello, []byte("\r\n"))
	if nl < 0 {
		nl = len(hello)
	}

	parts := bytes.SplitN(hello[:nl], []byte(" "), 3)
	for len(parts) < 3 {
		parts = append(parts, nil)
	}

	switch item {
	case ReqMethod:
		parts[0] = value
	case ReqURL:
		parts[1] = value
	case ReqVersion:
		parts[2] = value
	case ReqPayload:
		// handled above
	}

	out := append([]byte(nil), bytes.Join(parts, []byte(" "))...)

	return append(out, hello[nl:]...)
}
