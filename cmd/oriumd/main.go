package main

import (
	"OriumLedger/internal/config"
	"OriumLedger/internal/core"
	"OriumLedger/internal/ingestion"
	"OriumLedger/internal/observability"
	"OriumLedger/internal/persistence"
	"OriumLedger/internal/projection"
	"OriumLedger/internal/query"
	"OriumLedger/internal/server"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		logger := observability.NewLogger("main")
		logger.Fatal().Err(err).Msg("OriumLedger exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.NewLoggerWithLevel("main", observability.ParseLogLevel(cfg.LogLevel))
	logger.Info().Msg("OriumLedger starting")

	genesis, err := config.LoadGenesis(cfg.GenesisPath)
	if err != nil {
		return err
	}

	// --- Context with graceful shutdown ---
	// Three stages so the pipeline drains front to back: servers stop
	// accepting, ingestion and the core stop, then the workers flush.
	serveCtx, stopServing := context.WithCancel(context.Background())
	defer stopServing()
	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(workerCtx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	healthChecker.SetDependency("postgres", true)
	logger.Info().Msg("Postgres connected")

	if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(workerCtx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Channels ---
	// Persist channel blocks (backpressure), projection channel drops
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
	inboundChan := make(chan ingestion.Inbound, cfg.InboundChanSize)
	rawChan := make(chan ingestion.RawOp, cfg.InboundChanSize)

	// --- Deterministic Core ---
	deterministicCore, err := core.NewDeterministicCore(
		core.CoreConfig{
			IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
			Params:              genesis.Params,
		},
		persistCoreChan,
		projectionCoreChan,
		persistence.NewPostgresIdempotencyChecker(db),
		metrics,
		observability.NewLogger("core"),
	)
	if err != nil {
		return fmt.Errorf("create core: %w", err)
	}

	// --- Recovery: snapshot + replay ---
	replayed, err := recoverCore(workerCtx, deterministicCore, snapMgr, genesis, metrics, logger)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	logger.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", deterministicCore.GetSequence()).
		Hex("state_hash", hashBytes(deterministicCore.GetStateHash())).
		Msg("recovery complete")

	// Projections are rebuilt from the recovered state; anything dropped
	// before the restart is repaired here.
	if err := projection.Rebuild(workerCtx, db, fullProjection(deterministicCore)); err != nil {
		return fmt.Errorf("rebuild projections: %w", err)
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("ingestion"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	healthChecker.SetDependency("nats", true)

	if err := ingestion.EnsureStreams(workerCtx, js); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}
	if err := ingestion.EnsureOutboundStream(workerCtx, js); err != nil {
		return fmt.Errorf("ensure outbound stream: %w", err)
	}
	if err := ingestion.EnsureDeadLetterStream(workerCtx, js); err != nil {
		return fmt.Errorf("ensure dead-letter stream: %w", err)
	}

	// Everything replayed above is already in the log
	acks := ingestion.NewAckTracker(deterministicCore.GetSequence() - 1)

	subjects := ingestion.DefaultSubjects()
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawChan)
	if err := natsSubscriber.Subscribe(ingestCtx, subjects); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	// --- Services ---
	liquidations := projection.NewLiquidationHistory(cfg.LiquidationHistorySize)
	srv, err := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.Deps{
		QueryService:  query.NewQueryService(db, genesis.Params, liquidations),
		IngestService: ingestion.NewAdminIngestService(inboundChan, metrics),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Gatherer:      registry,
		AdminToken:    cfg.AdminToken,
	})
	if cfg.AdminToken == "" {
		logger.Info().Msg("ORIUM_ADMIN_TOKEN not set, POST /v1/ops disabled")
	}
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// --- Start goroutines ---
	errChan := make(chan error, 16)
	report := func(name string, err error) {
		if err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("%s: %w", name, err)
		}
	}

	// 1. Persistence worker
	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	persistWorker.OnFlushed(func(last int64) { acks.Release(last) })
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		report("persistence", persistWorker.Run(workerCtx))
	}()

	// 2. Projection worker
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, liquidations, metrics)
	go func() {
		report("projection", projWorker.Run(workerCtx))
	}()

	// 3. Outbound publisher
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)
	go func() {
		report("publisher", outboundPublisher.Run(workerCtx))
	}()

	// 4. Core output bridge
	go bridgeCoreOutputs(persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan, metrics)

	// 5. Snapshot writer
	snaps := newSnapshotter(snapMgr, metrics, observability.NewLogger("snapshot"))
	go snaps.run(workerCtx)

	// 6. NATS -> inbound
	router := ingestion.NewRouter(subjects, inboundChan, ingestion.NewDeadLetterPublisher(js), metrics)
	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		report("router", router.Run(ingestCtx, rawChan))
	}()

	// 7. Core loop: the only goroutine that touches core state
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		runCore(ingestCtx, inboundChan, deterministicCore, acks, snaps, cfg.SnapshotInterval, cfg.SnapshotCheckEvery, metrics, observability.NewLogger("core"))
	}()

	// 8. gRPC + HTTP gateway
	go func() {
		report("grpc", srv.StartGRPC(serveCtx))
	}()
	go func() {
		report("http", srv.StartHTTPGateway(serveCtx))
	}()

	// 9. Dedicated metrics listener
	if cfg.MetricsAddr != "" {
		go func() {
			report("metrics", serveMetrics(serveCtx, cfg.MetricsAddr, registry, logger))
		}()
	}

	// 10. Channel gauges
	go sampleChannels(workerCtx, metrics, map[string]func() (int, int){
		"raw":        func() (int, int) { return len(rawChan), cap(rawChan) },
		"inbound":    func() (int, int) { return len(inboundChan), cap(inboundChan) },
		"persist":    func() (int, int) { return len(persistCoreChan), cap(persistCoreChan) },
		"projection": func() (int, int) { return len(projectionCoreChan), cap(projectionCoreChan) },
		"publish":    func() (int, int) { return len(publishChan), cap(publishChan) },
	})

	healthChecker.SetReady(true)
	srv.SetServing(true)
	logger.Info().
		Int64("sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Msg("OriumLedger ready")

	// --- Wait for shutdown signal ---
	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	healthChecker.SetReady(false)
	srv.SetServing(false)
	stopServing()

	natsSubscriber.Stop()
	stopIngest()
	<-coreDone
	<-routerDone
	// The router may have queued one more op after the core left
	if n := nakQueued(inboundChan); n > 0 {
		logger.Info().Int("ops", n).Msg("returned queued ops to the broker")
	}

	// The core goroutine has exited, so its state can be read here
	finalSnap, snapErr := encodeSnapshot(deterministicCore)

	// Closing the core channels lets the bridge drain and close the
	// worker channels behind it
	close(persistCoreChan)
	close(projectionCoreChan)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	select {
	case <-persistDone:
	case <-shutdownCtx.Done():
		logger.Error().Msg("persistence did not drain before timeout")
	}

	// Ops the log never received go back to the broker, and a snapshot
	// ahead of the log would hide them from replay
	if n := acks.NakPending(); n > 0 {
		logger.Warn().Int("ops", n).Int64("durable", acks.Durable()).Msg("event log behind core, ops returned to the broker")
	}
	if snapErr == nil && acks.Durable() < finalSnap.Sequence {
		snapErr = fmt.Errorf("event log ends at %d, core at %d", acks.Durable(), finalSnap.Sequence)
	}

	if snapErr != nil {
		logger.Error().Err(snapErr).Msg("final snapshot failed")
	} else if err := snaps.save(shutdownCtx, finalSnap); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	stopWorkers()
	logger.Info().Msg("OriumLedger shutdown complete")
	return runErr
}

// runCore feeds inbound ops to the core and takes snapshots every
// interval ops. Snapshot state is captured here because the core is
// single-threaded; the snapshotter only writes it.
//
// Broker acks follow the outcome: sequenced ops and duplicates are acked
// once the log holds the current tip, ops ahead of a missing sequence are
// NAKed for redelivery, and stale ones are acked and dropped. On exit every
// op still queued is NAKed.
func runCore(
	ctx context.Context,
	inbound <-chan ingestion.Inbound,
	c *core.DeterministicCore,
	acks *ingestion.AckTracker,
	snaps *snapshotter,
	interval int64,
	checkEvery time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	lastSnapshot := c.GetSequence() - 1
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := nakQueued(inbound); n > 0 {
				logger.Info().Int("ops", n).Msg("returned queued ops to the broker")
			}
			return

		case in, ok := <-inbound:
			if !ok {
				return
			}
			opType := in.Op.OpType().String()
			err := c.ProcessOp(in.Op)
			switch {
			case err == nil:
				acks.Track(c.GetSequence()-1, in)
			case errors.Is(err, core.ErrSequenceGap):
				in.Nak()
				observability.WithOp(logger.Warn(), opType, in.Op).
					Err(err).
					Str("source", in.Source).
					Msg("op ahead of sequence, redelivering")
				continue
			default:
				in.Ack()
				observability.WithOp(logger.Warn(), opType, in.Op).
					Err(err).
					Str("source", in.Source).
					Msg("stale op dropped")
				continue
			}
			if metrics != nil {
				metrics.IngestToApply.WithLabelValues(opType).Observe(time.Since(in.Received).Seconds())
			}

		case <-ticker.C:
			current := c.GetSequence() - 1
			if interval <= 0 || current-lastSnapshot < interval {
				continue
			}
			rec, err := encodeSnapshot(c)
			if err != nil {
				logger.Warn().Err(err).Msg("capture snapshot failed")
				continue
			}
			if snaps.offer(rec) {
				lastSnapshot = current
			}
		}
	}
}

// nakQueued empties inbound without blocking and NAKs each op.
func nakQueued(inbound <-chan ingestion.Inbound) int {
	n := 0
	for {
		select {
		case in, ok := <-inbound:
			if !ok {
				return n
			}
			in.Nak()
			n++
		default:
			return n
		}
	}
}

func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func sampleChannels(ctx context.Context, metrics *observability.Metrics, chans map[string]func() (int, int)) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, size := range chans {
				n, c := size()
				metrics.SetChannelMetrics(name, n, c)
			}
		}
	}
}

func hashBytes(h [32]byte) []byte { return h[:] }
