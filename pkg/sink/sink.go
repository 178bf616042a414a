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

// Package sink delivers captured banners to their destination. The
// engine flushes records on connection teardown; sinks are expected to
// be safe for use from that single goroutine plus Close from another.
package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/carverauto/tcpgrab/pkg/models"
)

// Reporter receives one record per (connection, protocol) banner.
type Reporter interface {
	ReportBanner(rec models.BannerRecord)
	Close() error
}

// JSONL writes records as JSON lines. The scan ID is stamped on every
// record so downstream consumers can group one run's output.
type JSONL struct {
	mu     sync.Mutex
	w      io.Writer
	scanID uuid.UUID
}

// NewJSONL builds a JSON-lines reporter writing to w.
func NewJSONL(w io.Writer, scanID uuid.UUID) *JSONL {
	return &JSONL{w: w, scanID: scanID}
}

func (j *JSONL) ReportBanner(rec models.BannerRecord) {
	rec.ScanID = j.scanID

	data, err := json.Marshal(&rec)
	if err != nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, _ = j.w.Write(append(data, '\n'))
}

func (j *JSONL) Close() error {
	if c, ok := j.w.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

// Multi fans one record out to several reporters.
type Multi []Reporter

func (m Multi) ReportBanner(rec models.BannerRecord) {
	for _, r := range m {
		r.ReportBanner(rec)
	}
}

func (m Multi) Close() error {
	var firstErr error

	for _, r := range m {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing reporter: %w", err)
		}
	}

	return firstErr
}

// Discard drops every record. Useful in tests and benchmarks.
type Discard struct{}

func (Discard) ReportBanner(models.BannerRecord) {}
func (Discard) Close() error                     { return nil }
