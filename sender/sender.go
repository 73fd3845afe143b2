// Package sender implements the sender-side transfer engine from
// spec.md §4.3: Setup, Transmit, Completion query, Terminate. Grounded on
// original_source/src/client/main.rs and
// apps/client/src-tauri/src/commands.rs::send_file.
package sender

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quic-go/quic-go"
	"golang.org/x/time/rate"

	"github.com/qft-go/qft/fec"
	"github.com/qft-go/qft/logger"
	"github.com/qft-go/qft/progress"
	"github.com/qft-go/qft/proto"
	"github.com/qft-go/qft/qfterr"
	"github.com/qft-go/qft/workerpool"
)

// Config bundles the per-call parameters a Transfer needs.
type Config struct {
	Conn     quic.Connection
	FilePath string
	PPS      uint64 // packets per second; 0 = unthrottled
	Sink     progress.Sink
	Log      logger.Logger
	Pool     *workerpool.Pool // shared CPU-bound worker pool; nil creates one
}

// Transfer runs one complete file transfer: Setup, Transmit,
// Completion query, looping Transmit/Completion query until the receiver
// confirms success. It returns only once the transfer has succeeded or a
// fatal transport error has occurred, per spec.md §4.3's state machine.
func Transfer(ctx context.Context, cfg Config) error {
	sink := cfg.Sink
	if sink == nil {
		sink = progress.NullSink{}
	}
	pool := cfg.Pool
	if pool == nil {
		pool = workerpool.New(0)
		defer pool.Close()
	}

	file, err := os.Open(cfg.FilePath)
	if err != nil {
		return qfterr.New(qfterr.IOFailure, fmt.Errorf("open %s: %w", cfg.FilePath, err))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return qfterr.New(qfterr.IOFailure, err)
	}
	fileSize := uint64(info.Size())
	filename := filepath.Base(cfg.FilePath)
	blockCount := fec.BlockCount(fileSize)

	id, err := setup(cfg.Conn, fileSize, filename)
	if err != nil {
		return err
	}

	limiter := buildLimiter(cfg.PPS)

	missing := initialMissingSet(blockCount)
	for {
		sink.Report(progress.Event{
			TransferID:      id.String(),
			Filename:        filename,
			FileSize:        fileSize,
			PPS:             cfg.PPS,
			BlockCount:      blockCount,
			RemainingOrDone: uint32(len(missing)),
			Status:          progress.StatusSending,
		})

		if err := transmitRound(ctx, cfg.Conn, pool, file, id, missing, limiter, cfg.Log); err != nil {
			return err
		}

		ok, nextMissing, err := completionQuery(cfg.Conn, id)
		if err != nil {
			return err
		}
		if ok {
			sink.Report(progress.Event{
				TransferID:      id.String(),
				Filename:        filename,
				FileSize:        fileSize,
				PPS:             cfg.PPS,
				BlockCount:      blockCount,
				RemainingOrDone: 0,
				Status:          progress.StatusDone,
			})
			return nil
		}
		missing = nextMissing
	}
}

func initialMissingSet(blockCount uint32) []uint32 {
	missing := make([]uint32, blockCount)
	for i := range missing {
		missing[i] = uint32(i)
	}
	return missing
}

// setup opens a control stream, sends REQUEST_ID, and reads the minted
// transfer identifier. Any error here is fatal, per spec.md §4.3.
func setup(conn quic.Connection, fileSize uint64, filename string) (proto.TransferID, error) {
	var id proto.TransferID
	stream, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		return id, qfterr.New(qfterr.TransportFailure, err)
	}
	defer stream.Close()

	if err := proto.WriteFlag(stream, proto.FlagRequestID); err != nil {
		return id, qfterr.New(qfterr.TransportFailure, err)
	}
	if err := proto.WriteUint64(stream, fileSize); err != nil {
		return id, qfterr.New(qfterr.TransportFailure, err)
	}
	if _, err := stream.Write([]byte(filename)); err != nil {
		return id, qfterr.New(qfterr.TransportFailure, err)
	}
	if err := stream.Close(); err != nil {
		return id, qfterr.New(qfterr.TransportFailure, err)
	}

	id, err = proto.ReadTransferID(stream)
	if err != nil {
		return id, qfterr.New(qfterr.TransportFailure, err)
	}
	return id, nil
}

// buildLimiter returns a rate.Limiter pacing one datagram per tick at
// pps, or an unbounded limiter when pps is 0. Ticks align to a fixed
// schedule (rate.Limiter's token-bucket refill is time-based, not
// last-send-based) so a transient stall — an encode taking longer than
// one tick — does not accumulate delay: subsequent Wait calls fire
// back-to-back until the bucket drains, exactly the fixed-tempo
// behaviour spec.md's design notes require. The bucket starts with one
// token and holds up to pps tokens, so at most one second of missed
// ticks is caught up.
func buildLimiter(pps uint64) *rate.Limiter {
	if pps == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	limiter := rate.NewLimiter(rate.Limit(pps), 1)
	limiter.SetBurst(int(pps))
	return limiter
}

// transmitRound encodes and transmits every block in missing. A failure
// to send one datagram is logged and the loop continues: a lost
// datagram is exactly what the next retry round handles, per spec.md
// §4.3's failure semantics.
func transmitRound(ctx context.Context, conn quic.Connection, pool *workerpool.Pool, file *os.File, id proto.TransferID, missing []uint32, limiter *rate.Limiter, log logger.Logger) error {
	for _, blockID := range missing {
		symbols, err := workerpool.Submit(ctx, pool, func() ([][]byte, error) {
			return fec.Encode(ctx, file, blockID)
		})
		if err != nil {
			return qfterr.New(qfterr.IOFailure, fmt.Errorf("encode block %d: %w", blockID, err))
		}

		for _, symbol := range symbols {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return qfterr.New(qfterr.TransportFailure, err)
				}
			}
			datagram := proto.EncodeUploadPacket(id, blockID, symbol)
			if err := conn.SendDatagram(datagram); err != nil {
				// Datagram send errors are reported, not fatal: the
				// retry round resends everything for a still-missing
				// block anyway.
				if log != nil {
					log.Debugf("send datagram for block %d: %v", blockID, err)
				}
			}
		}
	}
	return nil
}

// completionQuery opens a fresh control stream, sends UPLOAD_COMPLETE,
// and interprets the reply. ok=true means DECODE_OK; ok=false returns
// the receiver's missing-block list to retry.
func completionQuery(conn quic.Connection, id proto.TransferID) (ok bool, missing []uint32, err error) {
	stream, err := conn.OpenStreamSync(context.Background())
	if err != nil {
		return false, nil, qfterr.New(qfterr.TransportFailure, err)
	}
	defer stream.Close()

	if err := proto.WriteFlag(stream, proto.FlagUploadComplete); err != nil {
		return false, nil, qfterr.New(qfterr.TransportFailure, err)
	}
	if err := proto.WriteTransferID(stream, id); err != nil {
		return false, nil, qfterr.New(qfterr.TransportFailure, err)
	}

	reply, err := proto.ReadFlag(stream)
	if err != nil {
		return false, nil, qfterr.New(qfterr.TransportFailure, err)
	}

	switch reply {
	case proto.FlagDecodeOK:
		return true, nil, nil
	case proto.FlagDecodeError:
		count, err := proto.ReadUint32(stream)
		if err != nil {
			return false, nil, qfterr.New(qfterr.TransportFailure, err)
		}
		missing := make([]uint32, count)
		for i := range missing {
			missing[i], err = proto.ReadUint32(stream)
			if err != nil {
				return false, nil, qfterr.New(qfterr.TransportFailure, err)
			}
		}
		return false, missing, nil
	default:
		return false, nil, qfterr.Newf(qfterr.ProtocolViolation, "unexpected completion reply %s", reply)
	}
}
