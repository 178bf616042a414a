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

// Package config loads the engine configuration from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/carverauto/tcpgrab/pkg/logger"
)

// Duration unmarshals from Go duration strings ("30s", "2m").
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string

	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	if s == "" {
		*d = Duration(0)
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(dur)

	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// SourceConfig is the local address and port ranges probes transmit
// from. LastIP/LastPort default to FirstIP/FirstPort+1024.
type SourceConfig struct {
	FirstIP   string `json:"first_ip"`
	LastIP    string `json:"last_ip,omitempty"`
	FirstPort uint16 `json:"first_port"`
	LastPort  uint16 `json:"last_port,omitempty"`
}

// OutputConfig selects banner sinks. Both may be active at once.
type OutputConfig struct {
	// File is a path for JSON-lines output; "-" means stdout.
	File string `json:"file,omitempty"`

	NATSURL     string `json:"nats_url,omitempty"`
	NATSSubject string `json:"nats_subject,omitempty"`
}

// Config is the full engine configuration.
type Config struct {
	// Capacity is the expected number of concurrent connections.
	Capacity int `json:"capacity"`

	ConnectionTimeout Duration `json:"connection_timeout,omitempty"`
	HelloTimeout      Duration `json:"hello_timeout,omitempty"`

	// Entropy seeds the SYN cookies and table hash. Zero means pick a
	// random seed at startup.
	Entropy uint64 `json:"entropy,omitempty"`

	Source SourceConfig `json:"source"`
	Output OutputConfig `json:"output"`

	// Transmit pacing.
	RateLimit      int `json:"rate_limit,omitempty"`
	RateLimitBurst int `json:"rate_limit_burst,omitempty"`
	PoolSize       int `json:"pool_size,omitempty"`

	// Parameters are free-form engine parameters, applied one by one
	// via SetParameter ("hello": "ssl", "http-user-agent": ...).
	Parameters map[string]string `json:"parameters,omitempty"`

	Logging *logger.Config `json:"logging,omitempty"`
}

// Load reads and unmarshals a JSON config file into dst.
func Load(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	return nil
}
