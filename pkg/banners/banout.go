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

import "github.com/carverauto/tcpgrab/pkg/models"

// maxBannerLength caps one protocol's accumulated banner. Servers that
// keep talking past this are truncated, not failed.
const maxBannerLength = 8192

// Output accumulates banner evidence for one connection. A connection
// can produce banners under more than one protocol label (an HTTP
// response carries both header and HTML evidence, an SSL session both
// the hello summary and certificates).
type Output struct {
	fragments []fragment
}

type fragment struct {
	proto models.AppProto
	data  []byte
}

// Append adds bytes under the given protocol label, concatenating with
// whatever that protocol already collected.
func (o *Output) Append(proto models.AppProto, data []byte) {
	if len(data) == 0 || proto == models.ProtoNone {
		return
	}

	for i := range o.fragments {
		if o.fragments[i].proto != proto {
			continue
		}

		room := maxBannerLength - len(o.fragments[i].data)
		if room <= 0 {
			return
		}

		if len(data) > room {
			data = data[:room]
		}

		o.fragments[i].data = append(o.fragments[i].data, data...)

		return
	}

	if len(data) > maxBannerLength {
		data = data[:maxBannerLength]
	}

	o.fragments = append(o.fragments, fragment{proto: proto, data: append([]byte(nil), data...)})
}

// AppendString is Append for literals.
func (o *Output) AppendString(proto models.AppProto, s string) {
	o.Append(proto, []byte(s))
}

// Banner returns the accumulated bytes for one protocol, or nil.
func (o *Output) Banner(proto models.AppProto) []byte {
	for i := range o.fragments {
		if o.fragments[i].proto == proto {
			return o.fragments[i].data
		}
	}

	return nil
}

// Each calls fn for every non-empty protocol banner, in insertion order.
func (o *Output) Each(fn func(proto models.AppProto, data []byte)) {
	for i := range o.fragments {
		if len(o.fragments[i].data) > 0 {
			fn(o.fragments[i].proto, o.fragments[i].data)
		}
	}
}

// Len reports how many protocol banners were collected.
func (o *Output) Len() int {
	return len(o.fragments)
}

// Release drops all accumulated fragments.
func (o *Output) Release() {
	o.fragments = nil
}
