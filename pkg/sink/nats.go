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

package sink

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/carverauto/tcpgrab/pkg/logger"
	"github.com/carverauto/tcpgrab/pkg/models"
)

const defaultSubject = "tcpgrab.banners"

// NATS publishes banner records to a subject as JSON.
type NATS struct {
	conn    *nats.Conn
	subject string
	scanID  uuid.UUID
	logger  logger.Logger
}

// NewNATS connects to the given server and returns a publishing
// reporter. An empty subject uses the default.
func NewNATS(url, subject string, scanID uuid.UUID, log logger.Logger) (*NATS, error) {
	if subject == "" {
		subject = defaultSubject
	}

	conn, err := nats.Connect(url,
		nats.Name("tcpgrab"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	return &NATS{conn: conn, subject: subject, scanID: scanID, logger: log}, nil
}

func (n *NATS) ReportBanner(rec models.BannerRecord) {
	rec.ScanID = n.scanID

	data, err := json.Marshal(&rec)
	if err != nil {
		n.logger.Error().Err(err).Msg("failed to marshal banner record")
		return
	}

	if err := n.conn.Publish(n.subject, data); err != nil {
		n.logger.Error().Err(err).
			Str("subject", n.subject).
			Msg("failed to publish banner record")
	}
}

func (n *NATS) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}

	return nil
}
