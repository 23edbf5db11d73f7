// DWN write-core node: opens the message store, wires the write
// pipeline, and processes one signed CollectionsWrite envelope from disk.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nainya/dwnnode/internal/logger"
	"github.com/nainya/dwnnode/internal/metrics"
	"github.com/nainya/dwnnode/internal/server"
	"github.com/nainya/dwnnode/pkg/dwnmessage"
	"github.com/nainya/dwnnode/pkg/dwnstore"
	"github.com/nainya/dwnnode/pkg/jws"
	"github.com/nainya/dwnnode/pkg/protocol"
)

var (
	dbPath      = flag.String("db", "dwnnode.db", "Message store KV file path")
	tenant      = flag.String("tenant", "", "DWN owner (target) to process/query on behalf of")
	envelopeArg = flag.String("envelope", "", "Path to a JSON CollectionsWrite envelope file to process")
	metricsPort = flag.Int("metrics-port", 9090, "Observability HTTP port (metrics/health/ready/pprof)")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	logger.InitGlobalLogger(logger.Config{Level: *logLevel, Pretty: true})
	log := logger.GetGlobalLogger()
	m := metrics.NewMetrics()

	if *tenant == "" || *envelopeArg == "" {
		log.Fatal("usage").Str("usage", "dwnnode -tenant <did> -envelope <path> [-db path]").Send()
	}

	store := dwnstore.NewMessageStore(*dbPath)
	if err := store.Open(); err != nil {
		log.Fatal("open store").Err(err).Send()
	}
	defer store.Close()

	envelope, err := os.ReadFile(*envelopeArg)
	if err != nil {
		log.Fatal("read envelope").Err(err).Send()
	}

	schema, err := dwnmessage.CompileEnvelopeSchema()
	if err != nil {
		log.Fatal("compile schema").Err(err).Send()
	}

	resolver := jws.NewStaticResolver()
	defs := protocol.NewDefinitions()

	node := server.NewNode(server.Config{
		Store:    store,
		Resolver: resolver,
		Defs:     defs,
		Schema:   schema,
		Log:      log,
		Metrics:  m,
	})

	obs := server.NewObservabilityServer(*metricsPort, log)
	go func() {
		if err := obs.Start(); err != nil {
			log.Error("observability server").Err(err).Send()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		_ = obs.Shutdown(context.Background())
	}()

	reply := node.Process(context.Background(), *tenant, envelope)

	out, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		log.Fatal("marshal reply").Err(err).Send()
	}
	fmt.Println(string(out))

	if reply.Status.Code >= 400 {
		os.Exit(1)
	}
}
