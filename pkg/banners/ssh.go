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

	"github.com/carverauto/tcpgrab/pkg/models"
)

// SSH servers speak first, so the stream has no hello: the engine just
// waits out the hello timer and then keeps listening.
var SSH = &Stream{
	Name:  "ssh",
	App:   models.ProtoSSH,
	Parse: parseSSH,
}

const sshStateDone = 1

// parseSSH captures the identification line ("SSH-2.0-...") and stops.
// Everything after the first newline is binary key exchange we have no
// use for.
func parseSSH(_ *Registry, st *StreamState, payload []byte, out *Output, _ NetAPI) {
	st.App = models.ProtoSSH

	if st.State == sshStateDone {
		return
	}

	if i := bytes.IndexByte(payload, '\n'); i >= 0 {
		line := bytes.TrimRight(payload[:i], "\r")
		out.Append(models.ProtoSSH, line)
		st.State = sshStateDone

		return
	}

	out.Append(models.ProtoSSH, payload)
}
