// Command qft-server is the receiver-side binary: it listens for QUIC
// connections and accepts file transfers, per spec.md §6's receiver CLI
// surface. Grounded on the teacher's main.go (argument handling, signal
// wait, logger wiring) and original_source/src/server/main.rs (listen
// address default, cert directory layout).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/qft-go/qft/certs"
	"github.com/qft-go/qft/logger"
	"github.com/qft-go/qft/progress"
	"github.com/qft-go/qft/receiver"
	"github.com/qft-go/qft/transport"
	"github.com/qft-go/qft/workerpool"
)

const (
	exitSuccess      = 0
	exitSetupFailed  = 1
	defaultListen    = "127.0.0.1:23333"
)

type options struct {
	listenAddr string
	dataDir    string
	logLevel   string
	showVer    bool
}

func parseFlags() *options {
	opts := &options{}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [listen-addr]\n", os.Args[0])
		pflag.PrintDefaults()
	}

	pflag.StringVar(&opts.dataDir, "data-dir", defaultDataDir(), "Directory for certificates, tmp blocks, and received files")
	pflag.StringVar(&opts.logLevel, "log-level", "info", "Log level: silent, error, info, debug")
	pflag.BoolVarP(&opts.showVer, "version", "v", false, "Print the version number and exit")
	pflag.Parse()

	opts.listenAddr = defaultListen
	if pflag.NArg() == 1 {
		opts.listenAddr = pflag.Arg(0)
	} else if pflag.NArg() > 1 {
		fmt.Fprintf(os.Stderr, "Must pass at most one listen address, but got %d\n", pflag.NArg())
		os.Exit(exitSetupFailed)
	}
	return opts
}

// defaultDataDir is <app_data>, per spec.md §6: os.UserConfigDir()/qft.
func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "qft")
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
		fmt.Println("qft-server v1")
		os.Exit(exitSuccess)
	}

	log := logger.New(logLevelFromString(opts.logLevel), "")

	cert, err := certs.LoadOrGenerate(filepath.Join(opts.dataDir, "cert"))
	if err != nil {
		log.Errorf("load certificate: %v", err)
		os.Exit(exitSetupFailed)
	}

	ln, err := transport.ListenServer(opts.listenAddr, cert)
	if err != nil {
		log.Errorf("listen on %s: %v", opts.listenAddr, err)
		os.Exit(exitSetupFailed)
	}
	log.Infof("listening on %s", opts.listenAddr)

	engine := receiver.NewEngine(
		filepath.Join(opts.dataDir, "tmp"),
		filepath.Join(opts.dataDir, "recv"),
		progress.NullSink{},
		log,
		workerpool.New(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	serveErrs := make(chan error, 1)
	go func() {
		serveErrs <- engine.Serve(ctx, ln)
	}()

	term := make(chan os.Signal, 1)
	signal.Notify(term, syscall.SIGTERM, os.Interrupt)

	select {
	case <-term:
		log.Infof("shutting down")
		cancel()
		ln.Close()
		os.Exit(exitSuccess)
	case err := <-serveErrs:
		cancel()
		if err != nil {
			log.Errorf("serve: %v", err)
			os.Exit(exitSetupFailed)
		}
		os.Exit(exitSuccess)
	}
}
