package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	opmux "github.com/ehrlich-b/go-opmux"
	"github.com/ehrlich-b/go-opmux/backend/echo"
	"github.com/ehrlich-b/go-opmux/internal/logging"
	"github.com/ehrlich-b/go-opmux/internal/transport"
)

func main() {
	var (
		verbose = flag.Bool("v", false, "Verbose output")
		count   = flag.Int("n", 1, "Number of requests to send")
		payload = flag.String("payload", "hello, opmux", "Request payload to echo")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	clientDev, serverDev, err := transport.NewLoopbackPair()
	if err != nil {
		logger.Error("failed to create loopback transport", "error", err)
		os.Exit(1)
	}
	defer clientDev.Close()
	defer serverDev.Close()

	proto := echo.New()

	serverParams := opmux.DefaultConnectionParams(2, serverDev)
	serverParams.Protocol = proto
	server, err := opmux.NewConnection(serverParams, &opmux.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to create server connection", "error", err)
		os.Exit(1)
	}
	defer server.Close()

	clientParams := opmux.DefaultConnectionParams(1, clientDev)
	client, err := opmux.NewConnection(clientParams, &opmux.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to create client connection", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	clientDev.SetRecv(client.Recv)
	serverDev.SetRecv(server.Recv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	req := []byte(*payload)
	for i := 0; i < *count; i++ {
		op, err := opmux.NewOperation(client, echo.OpType, len(req), len(req))
		if err != nil {
			logger.Error("failed to create operation", "error", err)
			os.Exit(1)
		}
		copy(op.RequestPayload(), req)

		start := time.Now()
		if err := op.Submit(ctx, nil); err != nil {
			logger.Error("submit failed", "error", err)
			op.Release()
			os.Exit(1)
		}

		if op.Err() != nil {
			fmt.Printf("request %d: error: %v\n", i, op.Err())
		} else {
			fmt.Printf("request %d: result=%d latency=%s echo=%q\n",
				i, op.Result(), time.Since(start), string(op.ResponsePayload()))
		}
		op.Release()
	}

	fmt.Printf("handled %d requests\n", proto.Handled())
}
