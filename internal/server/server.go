// Package server runs the service loops: the UDP command listener,
// the download supervisor tick, the 20 ms frame pacer feeding the
// voice relay, and the cron-scheduled maintenance sweep.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/clipcast/clipcast/internal/codec"
	"github.com/clipcast/clipcast/internal/download"
	"github.com/clipcast/clipcast/internal/handler"
	"github.com/clipcast/clipcast/internal/playback"
	"github.com/clipcast/clipcast/internal/protocol"
	"github.com/clipcast/clipcast/internal/ratelimit"
	"github.com/clipcast/clipcast/internal/schedule"
	"github.com/clipcast/clipcast/internal/sharecache"
)

// frameDuration is the real-time length of one audio frame. The pacer
// emits exactly one frame per period so playback runs at wall-clock
// speed.
const frameDuration = time.Second * codec.FrameSamples / codec.TargetRate

// downloadTick is how often outstanding fetch workers are polled.
const downloadTick = time.Second

// maxPacket comfortably covers the largest command the protocol allows.
const maxPacket = 2048

type Server struct {
	handler   *handler.Handler
	engine    *playback.Engine
	downloads *download.Supervisor
	plays     *ratelimit.PlayLimiter
	fetches   *ratelimit.DownloadLimiter
	shares    *sharecache.Cache

	listenAddr      string
	relayAddr       string
	maintenanceCron string
}

func New(
	h *handler.Handler,
	engine *playback.Engine,
	downloads *download.Supervisor,
	plays *ratelimit.PlayLimiter,
	fetches *ratelimit.DownloadLimiter,
	shares *sharecache.Cache,
	listenAddr, relayAddr, maintenanceCron string,
) (*Server, error) {
	if err := schedule.ValidateCron(maintenanceCron); err != nil {
		return nil, err
	}
	return &Server{
		handler:         h,
		engine:          engine,
		downloads:       downloads,
		plays:           plays,
		fetches:         fetches,
		shares:          shares,
		listenAddr:      listenAddr,
		relayAddr:       relayAddr,
		maintenanceCron: maintenanceCron,
	}, nil
}

// Run blocks until ctx is canceled. Command packets are processed in
// arrival order on a single goroutine; the pacer, download tick, and
// maintenance sweep run beside it and share state only through the
// components' own locks.
func (s *Server) Run(ctx context.Context) error {
	laddr, err := net.ResolveUDPAddr("udp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer conn.Close()

	raddr, err := net.ResolveUDPAddr("udp", s.relayAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve relay address: %w", err)
	}
	relay, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}
	defer relay.Close()

	slog.Info("clipcast listening", "addr", s.listenAddr, "relay", s.relayAddr)
	if upcoming, err := schedule.NextRunTimesAfter(s.maintenanceCron, time.Now(), 3); err == nil {
		slog.Info("maintenance scheduled", "cron", s.maintenanceCron, "upcoming", upcoming)
	}

	go s.paceFrames(ctx, relay)
	go s.tickDownloads(ctx, relay)
	go s.runMaintenance(ctx)

	buf := make([]byte, maxPacket)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("read failed", "error", err)
			continue
		}

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		if reply := s.handler.Handle(ctx, pkt); reply != nil {
			if _, err := conn.WriteToUDP(reply, peer); err != nil {
				slog.Warn("reply failed", "peer", peer.String(), "error", err)
			}
		}
	}
}

// paceFrames pulls one encoded frame per 20 ms while a session is
// active. The engine is a pull interface; this loop is the only thing
// that advances it.
func (s *Server) paceFrames(ctx context.Context, relay *net.UDPConn) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, seq, ok := s.engine.NextFrame()
			if !ok {
				continue
			}
			if _, err := relay.Write(protocol.AudioFrame(seq, frame)); err != nil {
				slog.Warn("relay send failed", "error", err)
			}
		}
	}
}

// tickDownloads reaps fetch workers and notifies requesters. Worker
// completion is observed by polling, never by blocking waits.
// Completions go to the relay, which routes them to the right player
// by the client ID inside the packet.
func (s *Server) tickDownloads(ctx context.Context, relay *net.UDPConn) {
	ticker := time.NewTicker(downloadTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, res := range s.downloads.Tick(now) {
				reply := s.handler.CompleteDownload(ctx, res)
				if _, err := relay.Write(reply); err != nil {
					slog.Warn("notify failed", "client", res.Requester, "error", err)
				}
			}
		}
	}
}

func (s *Server) runMaintenance(ctx context.Context) {
	for {
		next, err := schedule.NextRunAfter(s.maintenanceCron, time.Now())
		if err != nil {
			slog.Error("maintenance schedule broken", "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case now := <-timer.C:
			s.shares.Sweep(now)
			s.plays.Sweep(now)
			s.fetches.Sweep(now)
			s.downloads.SweepTemp(now)
			slog.Debug("maintenance sweep complete")
		}
	}
}
