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

package models

import (
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// AppProto labels the application protocol a banner was captured from.
type AppProto string

const (
	ProtoNone    AppProto = ""
	ProtoGeneric AppProto = "banner"
	ProtoHTTP    AppProto = "http"
	ProtoHTML    AppProto = "html"
	ProtoSSL     AppProto = "ssl"
	ProtoSSH     AppProto = "ssh"
	ProtoSMB     AppProto = "smb"
	ProtoVNC     AppProto = "vnc"
)

// BannerRecord is one captured banner, flushed to a sink when its
// connection is torn down.
type BannerRecord struct {
	ScanID    uuid.UUID  `json:"scan_id"`
	Timestamp time.Time  `json:"timestamp"`
	RemoteIP  netip.Addr `json:"remote_ip"`
	Proto     string     `json:"proto"` // always "tcp"
	Port      uint16     `json:"port"`
	App       AppProto   `json:"app"`
	TTL       uint8      `json:"ttl"`
	Banner    []byte     `json:"banner"`
}
