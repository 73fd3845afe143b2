package receiver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/qft-go/qft/fec"
	"github.com/qft-go/qft/heartbeat"
	"github.com/qft-go/qft/logger"
	"github.com/qft-go/qft/progress"
	"github.com/qft-go/qft/proto"
	"github.com/qft-go/qft/qfterr"
	"github.com/qft-go/qft/transport"
	"github.com/qft-go/qft/workerpool"
)

// Engine runs the receiver side of the protocol: one Engine accepts
// connections from a *quic.Listener and fans each into its own
// connection handler, per spec.md §4.4.
type Engine struct {
	Table     *Table
	Pool      *workerpool.Pool
	Sink      progress.Sink
	Log       logger.Logger
	TmpDir    string // <app_data>/tmp
	OutputDir string // <app_data>/recv
}

// NewEngine builds a receiver engine. A nil sink is replaced by a
// progress.NullSink, a nil pool gets a default-sized workerpool.Pool.
func NewEngine(tmpDir, outputDir string, sink progress.Sink, log logger.Logger, pool *workerpool.Pool) *Engine {
	if sink == nil {
		sink = progress.NullSink{}
	}
	if pool == nil {
		pool = workerpool.New(0)
	}
	return &Engine{
		Table:     NewTable(),
		Pool:      pool,
		Sink:      sink,
		Log:       log,
		TmpDir:    tmpDir,
		OutputDir: outputDir,
	}
}

// Serve accepts connections from ln until ctx is cancelled, handling each
// on its own goroutine. One connection's failure never affects another,
// per spec.md §4.4's failure semantics.
func (e *Engine) Serve(ctx context.Context, ln *quic.Listener) error {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return qfterr.New(qfterr.TransportFailure, err)
		}
		go e.handleConnection(ctx, conn)
	}
}

func (e *Engine) handleConnection(ctx context.Context, conn quic.Connection) {
	remote := transport.RemoteAddrString(conn)
	e.Log.Infof("connection (%s) open", remote)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go e.readDatagrams(connCtx, conn, remote)

	for {
		stream, err := conn.AcceptStream(connCtx)
		if err != nil {
			if connCtx.Err() == nil {
				e.Log.Errorf("connection (%s) stream accept failed: %v", remote, err)
			}
			return
		}
		go e.handleStream(connCtx, stream, remote)
	}
}

func (e *Engine) readDatagrams(ctx context.Context, conn quic.Connection, remote string) {
	for {
		datagram, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() == nil {
				e.Log.Errorf("receive datagram (%s) failed: %v", remote, err)
			}
			return
		}
		go e.handleDatagram(ctx, datagram, remote)
	}
}

func (e *Engine) handleDatagram(ctx context.Context, datagram []byte, remote string) {
	id, blockID, symbol, err := proto.DecodeUploadPacket(datagram)
	if err != nil {
		e.Log.Debugf("dropping malformed datagram from %s: %v", remote, err)
		return
	}

	task, ok := e.Table.Get(id)
	if !ok {
		return // unknown transfer: drop silently, per spec.md §4.4
	}

	inserted, setSize := task.InsertSymbol(blockID, symbol)
	if !inserted || setSize < fec.DataSymbolsPerBlock {
		return
	}

	e.attemptDecode(ctx, id, task, blockID)
}

// attemptDecode runs fec.Decode on the pool and, on success, marks the
// block rebuilt and reports progress. The task lock is released around
// the blocking decode call (SymbolsForDecode copies the set), matching
// the relaxation spec.md §4.4 permits: "cloning the symbol set and
// releasing the lock before decoding is permitted provided the outcome
// is applied atomically at the end".
func (e *Engine) attemptDecode(ctx context.Context, id proto.TransferID, task *Task, blockID uint32) {
	symbols := task.SymbolsForDecode(blockID)
	transferDir := filepath.Join(e.TmpDir, id.String())

	_, err := workerpool.Submit(ctx, e.Pool, func() (struct{}, error) {
		return struct{}{}, fec.Decode(ctx, blockID, task.FileSize, symbols, transferDir)
	})
	if err != nil {
		e.Log.Debugf("decode attempt failed for block %d (%s): %v", blockID, id, err)
		return
	}

	task.MarkRebuilt(blockID)
	e.Sink.Report(progress.Event{
		TransferID:      id.String(),
		Filename:        task.Filename,
		FileSize:        task.FileSize,
		BlockCount:      fec.BlockCount(task.FileSize),
		RemainingOrDone: uint32(task.RebuiltCount()),
		Status:          progress.StatusReceiving,
	})
}

func (e *Engine) handleStream(ctx context.Context, stream quic.Stream, remote string) {
	flag, err := proto.ReadFlag(stream)
	if err != nil {
		e.Log.Errorf("stream (%s) read flag failed: %v", remote, err)
		return
	}

	kind := routeFlag(flag)
	if kind == routeUnknown {
		e.Log.Errorf("stream (%s) unknown flag %s", remote, flag)
		rejectUnknownFlag(stream)
		return
	}

	var handleErr error
	switch kind {
	case routeRequestID:
		handleErr = e.handleRequestID(stream)
	case routeUploadComplete:
		handleErr = e.handleUploadComplete(stream)
	case routeHeartbeat:
		handleErr = heartbeat.Respond(stream)
	}
	if handleErr != nil {
		e.Log.Errorf("stream (%s) %s failed: %v", remote, flag, handleErr)
	}
}

// streamRoute names which control-stream handler a flag dispatches to.
// routeFlag is pure (no I/O) so tests can assert an unrecognized flag
// reaches neither handler, matching spec.md §8 scenario 6's "no task is
// created" guarantee, without needing a live stream.
type streamRoute int

const (
	routeUnknown streamRoute = iota
	routeRequestID
	routeUploadComplete
	routeHeartbeat
)

func routeFlag(flag proto.Flag) streamRoute {
	switch flag {
	case proto.FlagRequestID:
		return routeRequestID
	case proto.FlagUploadComplete:
		return routeUploadComplete
	case proto.FlagHeartbeat:
		return routeHeartbeat
	default:
		return routeUnknown
	}
}

// cancelableStream is the minimal surface needed to reject a control
// stream carrying an unrecognized flag, narrowed from quic.Stream so
// tests can exercise rejectUnknownFlag with a small fake instead of a
// full quic.Stream implementation.
type cancelableStream interface {
	CancelWrite(code quic.StreamErrorCode)
	CancelRead(code quic.StreamErrorCode)
}

func rejectUnknownFlag(stream cancelableStream) {
	stream.CancelWrite(0)
	stream.CancelRead(0)
}

func (e *Engine) handleRequestID(stream quic.Stream) error {
	fileSize, err := proto.ReadUint64(stream)
	if err != nil {
		return qfterr.New(qfterr.ProtocolViolation, err)
	}
	filenameBytes, err := proto.ReadToEnd(stream, proto.MaxFilenameBytes)
	if err != nil {
		return qfterr.New(qfterr.ProtocolViolation, err)
	}
	filename := string(filenameBytes)

	minted := uuid.New()
	var id proto.TransferID
	copy(id[:], minted[:])

	e.Table.Insert(id, filename, fileSize)
	e.Sink.Report(progress.Event{
		TransferID: id.String(),
		Filename:   filename,
		FileSize:   fileSize,
		BlockCount: fec.BlockCount(fileSize),
		Status:     progress.StatusReceiving,
	})

	return proto.WriteTransferID(stream, id)
}

func (e *Engine) handleUploadComplete(stream quic.Stream) error {
	id, err := proto.ReadTransferID(stream)
	if err != nil {
		return qfterr.New(qfterr.ProtocolViolation, err)
	}
	task, ok := e.Table.Get(id)
	if !ok {
		return qfterr.Newf(qfterr.ProtocolViolation, "unknown transfer id %s", id)
	}

	totalBlocks := fec.BlockCount(task.FileSize)
	if uint32(task.RebuiltCount()) == totalBlocks {
		return e.completeTransfer(stream, id, task, totalBlocks)
	}

	if err := proto.WriteFlag(stream, proto.FlagDecodeError); err != nil {
		return err
	}
	missing := task.MissingBlocks(totalBlocks)
	if err := proto.WriteUint32(stream, uint32(len(missing))); err != nil {
		return err
	}
	for _, b := range missing {
		if err := proto.WriteUint32(stream, b); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) completeTransfer(stream quic.Stream, id proto.TransferID, task *Task, totalBlocks uint32) error {
	if err := proto.WriteFlag(stream, proto.FlagDecodeOK); err != nil {
		return err
	}

	e.Sink.Report(progress.Event{
		TransferID: id.String(),
		Filename:   task.Filename,
		FileSize:   task.FileSize,
		BlockCount: totalBlocks,
		Status:     progress.StatusMerging,
	})

	transferDir := filepath.Join(e.TmpDir, id.String())
	if err := e.mergeBlocks(task, id, transferDir, totalBlocks); err != nil {
		return qfterr.New(qfterr.IOFailure, err)
	}

	e.Sink.Report(progress.Event{
		TransferID:      id.String(),
		Filename:        task.Filename,
		FileSize:        task.FileSize,
		BlockCount:      totalBlocks,
		RemainingOrDone: totalBlocks,
		Status:          progress.StatusDone,
	})

	os.RemoveAll(transferDir)
	e.Table.Remove(id)
	return nil
}

func (e *Engine) mergeBlocks(task *Task, id proto.TransferID, transferDir string, totalBlocks uint32) error {
	if err := os.MkdirAll(e.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", e.OutputDir, err)
	}
	outPath := filepath.Join(e.OutputDir, task.Filename)
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file %s: %w", outPath, err)
	}
	defer out.Close()

	for b := uint32(0); b < totalBlocks; b++ {
		in, err := os.Open(fec.BlockFilePath(transferDir, b))
		if err != nil {
			return fmt.Errorf("open block file %d: %w", b, err)
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			return fmt.Errorf("copy block file %d: %w", b, err)
		}
	}
	return nil
}
