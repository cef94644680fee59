// cmd/memoryanchor-server is the process entry point for the memory
// kernel. It owns the kernel's lifecycle only: no RPC/HTTP surface is
// wired up here (out of scope — see the kernel package for the
// synchronous API other façades would call).
//
// Startup sequence:
//  1. Load configuration from MA_-prefixed environment variables.
//  2. Lazily construct the process-wide Kernel singleton: opens the
//     Metadata Store, connects the Vector Store, rebuilds the Identity
//     Schema snapshot, and runs the crash-recovery scan.
//  3. Block until SIGINT/SIGTERM, then shut down.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/scrypster/memoryanchor/internal/kernel"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("memoryanchor-server: ")
	log.SetFlags(log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("received shutdown signal")
		cancel()
	}()

	k, err := kernel.GetKernel(ctx)
	if err != nil {
		log.Fatalf("failed to start kernel: %v", err)
	}
	log.Println("kernel ready")

	<-ctx.Done()
	log.Println("shutting down")
	if err := k.Close(); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
