// Command mirrorkv runs a dual-write mirroring table against two
// wide-column backends, serving diagnostics until terminated, in the
// same single-binary shape as bb_replicator's main.go.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mirrorkv/mirrorkv/pkg/backends/memory"
	"github.com/mirrorkv/mirrorkv/pkg/configuration"
	"github.com/mirrorkv/mirrorkv/pkg/diagnostics"
	"github.com/mirrorkv/mirrorkv/pkg/mirroring"
	"github.com/mirrorkv/mirrorkv/pkg/mirrorutil"
	"github.com/mirrorkv/mirrorkv/pkg/program"
	"github.com/mirrorkv/mirrorkv/pkg/table"
	"github.com/mirrorkv/mirrorkv/pkg/tracing"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatal("Usage: mirrorkv mirrorkv.yaml")
	}

	cfg, err := configuration.LoadFromFile(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to read configuration from %s: %s", os.Args[1], err)
	}

	primary, err := newBackend(cfg.Primary)
	if err != nil {
		log.Fatal("Failed to create primary backend: ", err)
	}
	secondary, err := newBackend(cfg.Secondary)
	if err != nil {
		log.Fatal("Failed to create secondary backend: ", err)
	}

	mt := mirroring.NewMirroringTable(mirroring.Options{
		Primary:              primary,
		Secondary:            secondary,
		FlowController:       mirroring.NewSemaphoreFlowController(cfg.FlowController.MaxOutstandingRequests),
		ReadSampler:          mirroring.NewProbabilisticReadSampler(cfg.ReadSamplingRate),
		WriteErrorSink:       mirroring.NewLoggingWriteErrorSink(mirrorutil.DefaultErrorLogger),
		MismatchDetector:     mirroring.NewLoggingMismatchDetector(mirrorutil.DefaultErrorLogger),
		Tracer:               tracing.NewOTelTracer("mirrorkv"),
		SecondaryWorkers:     cfg.SecondaryWorkers,
		AllowConcurrentBatch: cfg.AllowConcurrentBatch,
	})

	diagnosticsServer := &diagnostics.Server{ListenAddress: cfg.Diagnostics.HTTPListenAddress}

	group := program.NewGroup(context.Background())
	group.Go(diagnosticsServer.Serve)
	group.Go(func(ctx context.Context) error {
		<-ctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return mt.Close(closeCtx)
	})

	diagnosticsServer.SetServing()
	log.Print("mirrorkv is ready")

	if err := group.Wait(); err != nil {
		log.Fatal(err)
	}
}

// newBackend resolves a mirroring.{primary,secondary}.connection.impl
// value to a table.Table. Only "default" or an empty value (the
// in-memory backend) is accepted; any other value is rejected.
func newBackend(cfg configuration.Backend) (table.Table, error) {
	switch cfg.Connection.Impl {
	case "default", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported connection implementation %q", cfg.Connection.Impl)
	}
}
