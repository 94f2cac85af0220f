// Command wiredbgtap is a developer tool: it sits between a TCP client and
// the device's byte channel, logging every raw byte in each direction. It
// is useful for diagnosing the wire protocol state machines in internal/wire
// without instrumenting the production binary.
package main

import (
	"encoding/hex"
	"io"
	"net"
	"os"

	"github.com/hashicorp/go-hclog"
	flag "github.com/spf13/pflag"
)

func main() {
	listenAddr := flag.StringP("listen", "l", "0.0.0.0:2100", "address to accept tap client connections on")
	targetAddr := flag.StringP("target", "t", "127.0.0.1:2000", "address of the real device byte channel to relay to")
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{Name: "wiredbgtap", Level: hclog.Trace})

	if err := run(*listenAddr, *targetAddr, logger); err != nil {
		logger.Error("tap exited", "err", err)
		os.Exit(1)
	}
}

func run(listenAddr, targetAddr string, logger hclog.Logger) error {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	defer listener.Close()

	logger.Info("tap listening", "addr", listenAddr, "target", targetAddr)

	for {
		clientConn, err := listener.Accept()
		if err != nil {
			logger.Error("accept failed", "err", err)
			continue
		}
		go serve(clientConn, targetAddr, logger)
	}
}

func serve(clientConn net.Conn, targetAddr string, logger hclog.Logger) {
	defer clientConn.Close()
	log := logger.With("client", clientConn.RemoteAddr().String())

	log.Info("client connected")

	targetConn, err := net.Dial("tcp", targetAddr)
	if err != nil {
		log.Error("failed to dial target", "err", err)
		return
	}
	defer targetConn.Close()

	done := make(chan struct{}, 2)
	go relay(clientConn, targetConn, "client->target", log, done)
	go relay(targetConn, clientConn, "target->client", log, done)

	<-done
	<-done
	log.Info("client disconnected")
}

// relay copies bytes from src to dst one read at a time, hex-dumping each
// chunk at trace level so the wire protocol's flow/content/terminator bytes
// can be read off directly.
func relay(src, dst net.Conn, direction string, log hclog.Logger, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			log.Trace(direction, "bytes", hex.EncodeToString(buf[:n]))
			if _, werr := dst.Write(buf[:n]); werr != nil {
				log.Debug("write error", "direction", direction, "err", werr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Debug("read error", "direction", direction, "err", err)
			}
			return
		}
	}
}
