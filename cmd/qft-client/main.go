// Command qft-client is the sender-side binary: it connects to a qft
// receiver and pushes one file, per spec.md §6's sender CLI surface.
// Grounded on the teacher's main.go (argument handling, exit codes) and
// original_source/src/client/main.rs (positional file_path/pps/server_addr
// argument order).
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/qft-go/qft/heartbeat"
	"github.com/qft-go/qft/logger"
	"github.com/qft-go/qft/progress"
	"github.com/qft-go/qft/sender"
	"github.com/qft-go/qft/transport"
)

const (
	exitSuccess     = 0
	exitConnectFail = 1
	defaultServer   = "127.0.0.1:23333"
)

type options struct {
	filePath   string
	pps        uint64
	serverAddr string
	certPath   string
	logLevel   string
	showVer    bool
}

func parseFlags() *options {
	opts := &options{}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <file_path> [pps] [server_addr]\n", os.Args[0])
		pflag.PrintDefaults()
	}

	pflag.StringVar(&opts.certPath, "cert", "", "Path to the server's DER certificate (required)")
	pflag.StringVar(&opts.logLevel, "log-level", "info", "Log level: silent, error, info, debug")
	pflag.BoolVarP(&opts.showVer, "version", "v", false, "Print the version number and exit")
	pflag.Parse()

	if opts.showVer {
		return opts
	}

	switch pflag.NArg() {
	case 1:
		opts.filePath = pflag.Arg(0)
		opts.serverAddr = defaultServer
	case 2:
		opts.filePath = pflag.Arg(0)
		pps, err := parseUint64(pflag.Arg(1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid pps %q: %v\n", pflag.Arg(1), err)
			os.Exit(exitConnectFail)
		}
		opts.pps = pps
		opts.serverAddr = defaultServer
	case 3:
		opts.filePath = pflag.Arg(0)
		pps, err := parseUint64(pflag.Arg(1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid pps %q: %v\n", pflag.Arg(1), err)
			os.Exit(exitConnectFail)
		}
		opts.pps = pps
		opts.serverAddr = pflag.Arg(2)
	default:
		fmt.Fprintf(os.Stderr, "Must pass file_path and optionally pps, server_addr, but got %d args\n", pflag.NArg())
		os.Exit(exitConnectFail)
	}
	return opts
}

func parseUint64(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

func logLevelFromString(s string) int {
	switch s {
	case "debug":
		return logger.LevelDebug
	case "info":
		return logger.LevelInfo
	case "error":
		return logger.LevelError
	case "silent":
		return logger.LevelSilent
	}
	return logger.LevelInfo
}

func main() {
	opts := parseFlags()
	if opts.showVer {
		fmt.Println("qft-client v1")
		os.Exit(exitSuccess)
	}

	log := logger.New(logLevelFromString(opts.logLevel), "")

	certDER, err := loadCertDER(opts.certPath)
	if err != nil {
		log.Errorf("load server certificate: %v", err)
		os.Exit(exitConnectFail)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := transport.DialClient(ctx, opts.serverAddr, certDER)
	if err != nil {
		log.Errorf("connect to %s: %v", opts.serverAddr, err)
		os.Exit(exitConnectFail)
	}
	defer conn.CloseWithError(0, "")

	go heartbeat.Run(ctx, conn, log)

	sink := progress.NewChannelSink(16)
	go printProgress(sink)

	err = sender.Transfer(ctx, sender.Config{
		Conn:     conn,
		FilePath: opts.filePath,
		PPS:      opts.pps,
		Sink:     sink,
		Log:      log,
	})
	if err != nil {
		log.Errorf("transfer failed: %v", err)
		os.Exit(exitConnectFail)
	}
	os.Exit(exitSuccess)
}

func loadCertDER(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("no --cert given: a qft client must be told which server certificate to trust")
	}
	return os.ReadFile(filepath.Clean(path))
}

func printProgress(sink *progress.ChannelSink) {
	for ev := range sink.C {
		fmt.Fprintf(os.Stderr, "%s: %s %d/%d blocks\n", ev.Status, ev.Filename, ev.RemainingOrDone, ev.BlockCount)
	}
}
