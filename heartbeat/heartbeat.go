// Package heartbeat implements the liveness ping defined in spec.md §4.5:
// orthogonal to data transfer, functionally redundant with the
// transport's own keepalive, retained because it gives the surrounding
// shell an application-visible signal independent of transport
// configuration. Grounded on the FLAG_HEARTBEAT stream arm in
// original_source/src/server/main.rs and the sender's heartbeat spawn in
// original_source/src/client/main.rs / apps/client/src-tauri/src/client.rs.
package heartbeat

import (
	"context"
	"io"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/qft-go/qft/logger"
	"github.com/qft-go/qft/proto"
)

// Interval between heartbeat pings.
const Interval = 5 * time.Second

// Run opens one bidirectional heartbeat stream on conn and pings it
// every Interval until ctx is cancelled or the stream fails. A failure is
// logged and Run returns; it never tears down the caller's transfer, per
// spec.md's "failure of the heartbeat stream is logged but does not tear
// down the transfer".
func Run(ctx context.Context, conn quic.Connection, log logger.Logger) {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		log.Errorf("heartbeat: open stream: %v", err)
		return
	}
	defer stream.Close()

	if err := proto.WriteFlag(stream, proto.FlagHeartbeat); err != nil {
		log.Errorf("heartbeat: initial ping: %v", err)
		return
	}
	if _, err := proto.ReadFlag(stream); err != nil {
		log.Errorf("heartbeat: initial pong: %v", err)
		return
	}

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := proto.WriteFlag(stream, proto.FlagHeartbeat); err != nil {
				log.Errorf("heartbeat: ping: %v", err)
				return
			}
			if _, err := proto.ReadFlag(stream); err != nil {
				log.Errorf("heartbeat: pong: %v", err)
				return
			}
		}
	}
}

// Respond answers a control stream that has already had its leading
// FLAG_HEARTBEAT byte consumed: it replies once immediately, then echoes
// one byte at a time until the stream errors or closes.
func Respond(stream quic.Stream) error {
	if err := proto.WriteFlag(stream, proto.FlagHeartbeat); err != nil {
		return err
	}
	buf := make([]byte, 1)
	for {
		if _, err := io.ReadFull(stream, buf); err != nil {
			return err
		}
		if _, err := stream.Write(buf); err != nil {
			return err
		}
	}
}
