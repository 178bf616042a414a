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

package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"

	"github.com/carverauto/tcpgrab/pkg/banners"
	"github.com/carverauto/tcpgrab/pkg/config"
	"github.com/carverauto/tcpgrab/pkg/ingress"
	"github.com/carverauto/tcpgrab/pkg/logger"
	"github.com/carverauto/tcpgrab/pkg/sink"
	"github.com/carverauto/tcpgrab/pkg/stack"
	"github.com/carverauto/tcpgrab/pkg/tcp"
	"github.com/carverauto/tcpgrab/pkg/tcpkt"
)

const timeoutTick = 100 * time.Millisecond

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/tcpgrab/tcpgrab.json", "Path to config file")
	flag.Parse()

	var cfg config.Config
	if err := config.Load(*configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	if err := logger.Init(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	mainLogger := logger.Default()

	entropy := cfg.Entropy
	if entropy == 0 {
		var seed [8]byte
		if _, err := rand.Read(seed[:]); err != nil {
			return fmt.Errorf("failed to seed entropy: %w", err)
		}

		entropy = binary.LittleEndian.Uint64(seed[:])
	}

	src, err := buildSource(&cfg)
	if err != nil {
		return err
	}

	scanID := uuid.New()

	reporter, err := buildReporter(&cfg, scanID, mainLogger)
	if err != nil {
		return err
	}

	defer func() {
		if err := reporter.Close(); err != nil {
			mainLogger.Error().Err(err).Msg("failed to close reporter")
		}
	}()

	st := stack.New(src, &stack.Options{
		PoolSize:       cfg.PoolSize,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
	}, mainLogger)

	table := tcp.New(
		cfg.Capacity,
		st,
		tcpkt.NewTemplate(),
		banners.NewRegistry(),
		reporter,
		time.Duration(cfg.ConnectionTimeout),
		entropy,
		mainLogger,
	)
	defer table.Close()

	if cfg.HelloTimeout != 0 {
		secs := int(time.Duration(cfg.HelloTimeout) / time.Second)
		if err := table.SetParameter("hello-timeout", strconv.Itoa(secs)); err != nil {
			return err
		}
	}

	for name, value := range cfg.Parameters {
		if err := table.SetParameter(name, value); err != nil {
			return fmt.Errorf("applying parameter %q: %w", name, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Raw socket: receives every inbound TCP/IPv4 packet, transmits
	// with the IP header we format ourselves.
	conn, err := net.ListenPacket("ip4:tcp", "0.0.0.0")
	if err != nil {
		return fmt.Errorf("creating raw socket (requires root): %w", err)
	}
	defer conn.Close()

	rawConn, err := ipv4.NewRawConn(conn)
	if err != nil {
		return fmt.Errorf("failed to create raw connection: %w", err)
	}

	// Transmit thread: drains the MPSC queue at the configured rate.
	go func() {
		err := st.Drain(ctx, func(pkt []byte) error {
			return sendIPv4(rawConn, pkt)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			mainLogger.Error().Err(err).Msg("transmit loop exited")
		}
	}()

	mainLogger.Info().
		Str("scan_id", scanID.String()).
		Uint64("entropy", entropy).
		Msg("tcpgrab engine running")

	return receiveLoop(ctx, rawConn, table, entropy, mainLogger)
}

// receiveLoop owns the connection table: every packet event and every
// timeout is processed here, in arrival order.
func receiveLoop(ctx context.Context, rawConn *ipv4.RawConn, table *tcp.Table, entropy uint64, mainLogger logger.Logger) error {
	handler := ingress.New(table, entropy, mainLogger)
	buf := make([]byte, 65536)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := rawConn.SetReadDeadline(time.Now().Add(timeoutTick)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		hdr, payload, _, err := rawConn.ReadFrom(buf)

		now := time.Now()

		switch {
		case err == nil && hdr != nil:
			// Reassemble the shape HandleIP expects: IP header first.
			pkt := append(buf[:0:0], buf[:hdr.Len]...)
			pkt = append(pkt, payload...)
			handler.HandleIP(pkt, now)

		case isTimeout(err):
			// fall through to timeout processing

		default:
			mainLogger.Error().Err(err).Msg("read error on raw socket")
		}

		table.ProcessTimeouts(now)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func sendIPv4(rawConn *ipv4.RawConn, pkt []byte) error {
	hdr, err := ipv4.ParseHeader(pkt)
	if err != nil {
		return fmt.Errorf("parsing formatted header: %w", err)
	}

	if len(pkt) < hdr.Len {
		return fmt.Errorf("truncated packet: %d < %d", len(pkt), hdr.Len)
	}

	return rawConn.WriteTo(hdr, pkt[hdr.Len:], nil)
}

func buildSource(cfg *config.Config) (stack.Source, error) {
	first, err := netip.ParseAddr(cfg.Source.FirstIP)
	if err != nil {
		return stack.Source{}, fmt.Errorf("source.first_ip: %w", err)
	}

	last := first
	if cfg.Source.LastIP != "" {
		last, err = netip.ParseAddr(cfg.Source.LastIP)
		if err != nil {
			return stack.Source{}, fmt.Errorf("source.last_ip: %w", err)
		}
	}

	firstPort := cfg.Source.FirstPort
	if firstPort == 0 {
		firstPort = 40000
	}

	lastPort := cfg.Source.LastPort
	if lastPort <= firstPort {
		lastPort = firstPort + 1024
	}

	return stack.Source{
		FirstIP:   first,
		LastIP:    last,
		FirstPort: firstPort,
		LastPort:  lastPort,
	}, nil
}

func buildReporter(cfg *config.Config, scanID uuid.UUID, mainLogger logger.Logger) (sink.Reporter, error) {
	var reporters sink.Multi

	switch cfg.Output.File {
	case "", "-":
		reporters = append(reporters, sink.NewJSONL(os.Stdout, scanID))
	default:
		f, err := os.OpenFile(cfg.Output.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("opening output file: %w", err)
		}

		reporters = append(reporters, sink.NewJSONL(f, scanID))
	}

	if cfg.Output.NATSURL != "" {
		n, err := sink.NewNATS(cfg.Output.NATSURL, cfg.Output.NATSSubject, scanID, mainLogger)
		if err != nil {
			return nil, err
		}

		reporters = append(reporters, n)
	}

	return reporters, nil
}
