package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"PoolCore/internal/assets"
	"PoolCore/internal/commission"
	"PoolCore/internal/core"
	"PoolCore/internal/event"
	"PoolCore/internal/gov"
	"PoolCore/internal/ingestion"
	fpmath "PoolCore/internal/math"
	"PoolCore/internal/observability"
	"PoolCore/internal/persistence"
	"PoolCore/internal/pool"
	"PoolCore/internal/projection"
	"PoolCore/internal/query"
	"PoolCore/internal/server"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config is loaded from environment variables.
type Config struct {
	PostgresURL   string
	NATSURL       string
	GRPCAddr      string
	HTTPAddr      string
	MetricsAddr   string
	MigrationsDir string

	PersistChanSize     int
	ProjectionChanSize  int
	PublishChanSize     int
	CommandChanSize     int
	PersistBatchSize    int
	PersistFlushTimeout time.Duration
	SnapshotInterval    int64

	// Asset wiring: registered tokens, oracle rates, and genesis funding
	// for the in-process custody ledger.
	RewardToken    string
	Tokens         string
	Rates          string
	OracleReserves string
	GenesisFunds   string

	LeverageCheckSelfInvest bool
}

func loadConfig() Config {
	return Config{
		PostgresURL:   getEnv("POOL_POSTGRES_URL", "postgres://localhost:5432/poolcore?sslmode=disable"),
		NATSURL:       getEnv("POOL_NATS_URL", "nats://localhost:4222"),
		GRPCAddr:      getEnv("POOL_GRPC_ADDR", ":9090"),
		HTTPAddr:      getEnv("POOL_HTTP_ADDR", ":8080"),
		MetricsAddr:   getEnv("POOL_METRICS_ADDR", ":9091"),
		MigrationsDir: getEnv("POOL_MIGRATIONS_DIR", "migrations"),

		PersistChanSize:     getEnvInt("POOL_PERSIST_CHAN_SIZE", 1024),
		ProjectionChanSize:  getEnvInt("POOL_PROJECTION_CHAN_SIZE", 2048),
		PublishChanSize:     getEnvInt("POOL_PUBLISH_CHAN_SIZE", 2048),
		CommandChanSize:     getEnvInt("POOL_COMMAND_CHAN_SIZE", 1024),
		PersistBatchSize:    getEnvInt("POOL_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout: getEnvDuration("POOL_PERSIST_FLUSH_TIMEOUT", 10*time.Millisecond),
		SnapshotInterval:    int64(getEnvInt("POOL_SNAPSHOT_INTERVAL", 100_000)),

		RewardToken:    getEnv("POOL_REWARD_TOKEN", "DEXE"),
		Tokens:         getEnv("POOL_TOKENS", "USDT:6,WETH:18,DEXE:18"),
		Rates:          getEnv("POOL_RATES", ""),
		OracleReserves: getEnv("POOL_ORACLE_RESERVES", ""),
		GenesisFunds:   getEnv("POOL_GENESIS_FUNDS", ""),

		LeverageCheckSelfInvest: getEnv("POOL_LEVERAGE_CHECK_SELF_INVEST", "false") == "true",
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("WARN: invalid %s=%q, using %d", key, v, fallback)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("WARN: invalid %s=%q, using %s", key, v, fallback)
	}
	return fallback
}

// Platform accounts are derived, not random, so they survive restarts
// and match across deployments sharing a namespace.
func platformAccount(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("poolcore/"+name))
}

func main() {
	cfg := loadConfig()
	log.Printf("INFO: starting poolcore (http=%s grpc=%s metrics=%s)", cfg.HTTPAddr, cfg.GRPCAddr, cfg.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("FATAL: open postgres: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("FATAL: ping postgres: %v", err)
	}
	pingCancel()

	if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(ctx); err != nil {
		log.Fatalf("FATAL: migrations: %v", err)
	}

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Asset wiring ---
	bank := assets.NewBank()
	nfts := assets.NewNftRegistry()
	if err := registerTokens(bank, cfg.Tokens); err != nil {
		log.Fatalf("FATAL: token config: %v", err)
	}
	nfts.RegisterCollection(getEnv("POOL_GOV_NFT_COLLECTION", "gov-nft"), true)

	oracle := assets.NewRateOracle(bank, platformAccount("oracle-reserve"))
	if err := configureRates(oracle, cfg.Rates); err != nil {
		log.Fatalf("FATAL: rate config: %v", err)
	}
	if err := seedFunds(bank, cfg.OracleReserves, oracle.ReserveAccount()); err != nil {
		log.Fatalf("FATAL: oracle reserves: %v", err)
	}
	if err := seedGenesisFunds(bank, cfg.GenesisFunds); err != nil {
		log.Fatalf("FATAL: genesis funds: %v", err)
	}

	sinks := assets.NewPlatformSinks(
		platformAccount("insurance"),
		platformAccount("treasury"),
		platformAccount("dividends"),
	)

	poolWiring := pool.Config{
		Assets:                  bank,
		Oracle:                  oracle,
		OracleAccount:           oracle.ReserveAccount(),
		LeverageCheckSelfInvest: cfg.LeverageCheckSelfInvest,
	}

	keeper := gov.NewKeeper(gov.Config{
		LedgerAccount:  platformAccount("gov-ledger"),
		TreasurySource: platformAccount("gov-treasury-source"),
		Tokens:         bank,
		Nfts:           nfts,
	})

	feeEngine, err := commission.NewEngine(commission.Config{
		RewardToken:         cfg.RewardToken,
		PlatformPercentage:  percent(30),
		InsurancePercentage: percent(25),
		TreasuryPercentage:  percent(50),
		DividendsPercentage: percent(25),
	}, sinks)
	if err != nil {
		log.Fatalf("FATAL: commission config: %v", err)
	}

	// --- Snapshot load ---
	snapMgr := persistence.NewSnapshotManager(db)
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Fatalf("FATAL: load snapshot: %v", err)
	}

	startSequence := int64(0)
	if snap != nil {
		startSequence = snap.Sequence + 1
		log.Printf("INFO: loaded snapshot at seq=%d", snap.Sequence)
	}

	// --- Channels ---
	corePersistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	coreProjectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, cfg.PublishChanSize)
	rawChan := make(chan ingestion.RawCommand, cfg.CommandChanSize)
	typedChan := make(chan typedCommand, cfg.CommandChanSize)
	adminChan := make(chan event.Command, 256)
	snapshotReq := make(chan struct{}, 1)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	engine := core.NewEngine(startSequence, poolWiring, keeper, feeEngine,
		corePersistChan, coreProjectionChan, dbChecker, metrics)

	if snap != nil {
		if err := engine.RestoreFromSnapshot(snap); err != nil {
			log.Fatalf("FATAL: restore snapshot: %v", err)
		}
		engine.WarmLRU(snap.IdempotencyKeys)
	}

	// Outbound publishing resumes past what the log already holds, so a
	// replay never re-announces applied commands.
	latestSeq, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		log.Fatalf("FATAL: read log head: %v", err)
	}
	publishFrom := latestSeq + 1

	// --- Downstream workers (started before replay: the command log
	// writes are idempotent and projections are watermark-guarded) ---
	var workers sync.WaitGroup

	persistWorker := persistence.NewPersistenceWorker(db, persistChan,
		cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	projWorker := projection.NewProjectionWorker(db, projectionChan)

	// Workers get a background context: their shutdown signal is channel
	// close, which guarantees everything the core emitted is drained and
	// flushed before they exit.
	workers.Add(2)
	go func() {
		defer workers.Done()
		if err := persistWorker.Run(context.Background()); err != nil {
			log.Printf("WARN: persistence worker: %v", err)
		}
	}()
	go func() {
		defer workers.Done()
		if err := projWorker.Run(context.Background()); err != nil {
			log.Printf("WARN: projection worker: %v", err)
		}
	}()

	var bridges sync.WaitGroup
	bridges.Add(2)
	go func() {
		defer bridges.Done()
		bridgePersist(corePersistChan, persistChan, publishChan, publishFrom, metrics)
	}()
	go func() {
		defer bridges.Done()
		bridgeProjection(coreProjectionChan, projectionChan, metrics)
	}()

	// --- Replay ---
	if err := replayFromLog(ctx, engine, snapMgr, startSequence, metrics); err != nil {
		log.Fatalf("FATAL: replay: %v", err)
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("FATAL: connect NATS: %v", err)
	}
	defer nc.Close()

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure streams: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure outbound stream: %v", err)
	}

	subscriber := ingestion.NewNATSSubscriber(js, rawChan)
	subjects := ingestion.DefaultSubjects()
	if err := subscriber.Subscribe(ctx, subjects); err != nil {
		log.Fatalf("FATAL: subscribe: %v", err)
	}

	publisher := ingestion.NewOutboundPublisher(js, publishChan)
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := publisher.Run(context.Background()); err != nil {
			log.Printf("WARN: publisher: %v", err)
		}
	}()

	// Parse loop: raw NATS bytes to typed commands. Malformed payloads
	// are acked; redelivery cannot fix them.
	go parseLoop(ctx, rawChan, typedChan, subjects)

	// Core loop: the single goroutine that touches engine state.
	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		coreLoop(ctx, engine, snapMgr, typedChan, adminChan, snapshotReq, metrics)
	}()

	// Snapshot pacing: ask the core loop to snapshot once enough
	// sequences have passed. The request is handled between commands.
	go snapshotTicker(ctx, engine, snapMgr, cfg.SnapshotInterval, snapshotReq)

	// --- Servers ---
	ingestService := ingestion.NewAdminIngestService(adminChan)
	queryService := query.NewQueryService(db)

	grpcServer := server.NewGRPCServer(cfg.GRPCAddr)
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, &server.HTTPDeps{
		DB:            db,
		QueryService:  queryService,
		IngestService: ingestService,
		SnapshotMgr:   snapMgr,
		HealthChecker: healthChecker,
		Metrics:       metrics,
	})

	errChan := make(chan error, 3)
	go func() { errChan <- grpcServer.Start(ctx) }()
	go func() { errChan <- httpServer.Start(ctx) }()
	go func() { errChan <- runMetricsServer(ctx, cfg.MetricsAddr, healthChecker) }()

	go channelGauges(ctx, metrics, corePersistChan, coreProjectionChan, rawChan, publishChan)

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	log.Printf("INFO: poolcore ready at seq=%d", engine.GetSequence())

	// --- Shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("INFO: received %s, shutting down", sig)
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			log.Printf("WARN: server exited: %v", err)
		}
	}

	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	subscriber.Stop()
	cancel()

	<-coreDone

	// The core loop has stopped; drain the pipeline so the final flush
	// covers everything it emitted.
	close(corePersistChan)
	close(coreProjectionChan)
	bridges.Wait()
	close(persistChan)
	close(projectionChan)
	close(publishChan)
	workers.Wait()

	if err := takeSnapshot(context.Background(), engine, snapMgr, metrics); err != nil {
		log.Printf("WARN: final snapshot: %v", err)
	}
	log.Printf("INFO: poolcore stopped at seq=%d", engine.GetSequence())
}

// typedCommand pairs a parsed command with its NATS acknowledgement.
type typedCommand struct {
	cmd event.Command
	ack func()
	nak func()
}

// parseLoop turns raw subjects and bytes into typed commands.
func parseLoop(ctx context.Context, rawChan <-chan ingestion.RawCommand, typedChan chan<- typedCommand, subjects []ingestion.SubjectConfig) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			commandType, ok := resolveCommandType(raw.Subject, subjects)
			if !ok {
				log.Printf("WARN: no command type for subject %s, acking", raw.Subject)
				raw.AckFunc()
				continue
			}

			cmd, err := ingestion.ParseRawCommand(raw, commandType)
			if err != nil {
				log.Printf("WARN: parse %s: %v, acking", commandType, err)
				raw.AckFunc()
				continue
			}

			select {
			case typedChan <- typedCommand{cmd: cmd, ack: raw.AckFunc, nak: raw.NakFunc}:
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}

// resolveCommandType does longest-prefix matching of a concrete subject
// against the configured wildcards.
func resolveCommandType(subject string, subjects []ingestion.SubjectConfig) (string, bool) {
	best := ""
	bestLen := -1
	for _, cfg := range subjects {
		prefix := strings.TrimSuffix(cfg.Subject, ">")
		if strings.HasPrefix(subject, prefix) && len(prefix) > bestLen {
			best = cfg.CommandType
			bestLen = len(prefix)
		}
	}
	return best, bestLen >= 0
}

// coreLoop is the only goroutine that calls into the engine.
func coreLoop(
	ctx context.Context,
	engine *core.Engine,
	snapMgr *persistence.SnapshotManager,
	typedChan <-chan typedCommand,
	adminChan <-chan event.Command,
	snapshotReq <-chan struct{},
	metrics *observability.Metrics,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case tc, ok := <-typedChan:
			if !ok {
				return
			}
			err := engine.ProcessCommand(tc.cmd)
			if err == nil {
				tc.ack()
				continue
			}
			// Out-of-order commands are redelivered; an earlier message
			// on the partition may still be in flight. Everything else
			// is a deterministic rejection.
			if strings.Contains(err.Error(), "sequence validation failed") {
				log.Printf("WARN: %v, nacking for redelivery", err)
				tc.nak()
			} else {
				log.Printf("WARN: %v", err)
				tc.ack()
			}

		case cmd, ok := <-adminChan:
			if !ok {
				return
			}
			if err := engine.ProcessCommand(cmd); err != nil {
				log.Printf("WARN: admin command rejected: %v", err)
			}

		case <-snapshotReq:
			if err := takeSnapshot(ctx, engine, snapMgr, metrics); err != nil {
				log.Printf("WARN: snapshot: %v", err)
			}
		}
	}
}

// snapshotTicker requests a snapshot whenever the sequence has advanced
// past the configured interval since the last one.
func snapshotTicker(ctx context.Context, engine *core.Engine, snapMgr *persistence.SnapshotManager, interval int64, snapshotReq chan<- struct{}) {
	if interval <= 0 {
		return
	}

	lastSnapSeq := int64(0)
	if seq, err := snapMgr.GetLatestSequence(ctx); err == nil {
		lastSnapSeq = seq
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq := engine.GetSequence()
			if seq-lastSnapSeq < interval {
				continue
			}
			select {
			case snapshotReq <- struct{}{}:
				lastSnapSeq = seq
			default:
			}
		}
	}
}

func takeSnapshot(ctx context.Context, engine *core.Engine, snapMgr *persistence.SnapshotManager, metrics *observability.Metrics) error {
	start := time.Now()
	snap := engine.CreateSnapshotState()

	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	// The snapshot was produced by the live engine; its state is by
	// definition the replay target.
	if err := snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	log.Printf("INFO: snapshot saved at seq=%d (%s)", snap.Sequence, time.Since(start))
	return nil
}

// replayFromLog re-applies commands past the snapshot point and verifies
// the rebuilt state hash against the log head.
func replayFromLog(ctx context.Context, engine *core.Engine, snapMgr *persistence.SnapshotManager, fromSequence int64, metrics *observability.Metrics) error {
	start := time.Now()
	replayed := 0
	var lastRow *persistence.CommandRow

	for {
		rows, err := snapMgr.LoadCommandsFrom(ctx, fromSequence, 1000)
		if err != nil {
			return fmt.Errorf("load commands from %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			break
		}

		for i := range rows {
			row := rows[i]
			commandType, err := event.CommandTypeFromString(row.CommandType)
			if err != nil {
				return fmt.Errorf("seq=%d: %w", row.Sequence, err)
			}
			cmd, err := event.UnmarshalCommand(commandType, row.Payload)
			if err != nil {
				return fmt.Errorf("seq=%d: decode payload: %w", row.Sequence, err)
			}
			if err := engine.ProcessCommand(cmd); err != nil {
				// Logged commands were applied once already; a rejection
				// here means the log and the snapshot disagree.
				return fmt.Errorf("seq=%d: %w", row.Sequence, err)
			}
			replayed++
			lastRow = &rows[i]
		}

		fromSequence = rows[len(rows)-1].Sequence + 1
	}

	if lastRow != nil {
		got := engine.GetStateHash()
		if string(got[:]) != string(lastRow.StateHash) {
			return fmt.Errorf("state hash mismatch after replay at seq=%d: check asset and rate configuration", lastRow.Sequence)
		}
	}

	if metrics != nil {
		metrics.ReplayCommands.Add(float64(replayed))
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	log.Printf("INFO: replayed %d commands in %s", replayed, time.Since(start))
	return nil
}

// bridgePersist converts core outputs to log rows and forwards them with
// a blocking send. Applied events past publishFrom fan out to the
// outbound publisher, best effort.
func bridgePersist(
	in <-chan core.CoreOutput,
	out chan<- persistence.CoreOutput,
	publish chan<- ingestion.PublishableEvent,
	publishFrom int64,
	metrics *observability.Metrics,
) {
	for output := range in {
		out <- persistence.CoreOutput{
			CommandRow:    persistence.CommandRowFromEnvelope(output.Envelope),
			OperationRows: persistence.OperationRowsFromBatch(output.Batch),
		}

		if output.Envelope.Sequence < publishFrom {
			continue
		}
		evt := publishableFromEnvelope(output.Envelope)
		select {
		case publish <- evt:
		default:
			if metrics != nil {
				metrics.ProjectionDrops.WithLabelValues("publish").Inc()
			}
		}
	}
}

func publishableFromEnvelope(env *event.Envelope) ingestion.PublishableEvent {
	var poolID *string
	if env.PoolID != nil {
		s := env.PoolID.String()
		poolID = &s
	}
	return ingestion.PublishableEvent{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		PoolID:         poolID,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      env.StateHash[:],
		Timestamp:      env.Timestamp,
	}
}

// bridgeProjection converts core outputs for the projection worker.
func bridgeProjection(in <-chan core.CoreOutput, out chan<- projection.ProjectionOutput, metrics *observability.Metrics) {
	for output := range in {
		select {
		case out <- projectionFromCore(output):
		default:
			if metrics != nil {
				metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
			}
		}
	}
}

func projectionFromCore(output core.CoreOutput) projection.ProjectionOutput {
	env := output.Envelope
	var poolID *string
	if env.PoolID != nil {
		s := env.PoolID.String()
		poolID = &s
	}

	ops := make([]projection.OperationEntry, 0, len(output.Batch.Ops))
	for _, op := range output.Batch.Ops {
		entry := projection.OperationEntry{
			OpID:      op.OpID.String(),
			Kind:      string(op.Kind),
			Token:     op.Token,
			Amount:    "0",
			Proposal:  op.Proposal,
			Timestamp: op.Timestamp,
		}
		if op.Amount != nil {
			entry.Amount = op.Amount.String()
		}
		if op.Pool != nil {
			s := op.Pool.String()
			entry.PoolID = &s
		}
		if op.Account != nil {
			s := op.Account.String()
			entry.Account = &s
		}
		if op.Counterparty != nil {
			s := op.Counterparty.String()
			entry.Counterparty = &s
		}
		ops = append(ops, entry)
	}

	return projection.ProjectionOutput{
		Sequence:    env.Sequence,
		CommandType: env.CommandType.String(),
		PoolID:      poolID,
		Payload:     env.Payload,
		Ops:         ops,
		Timestamp:   env.Timestamp.UnixMicro(),
	}
}

func runMetricsServer(ctx context.Context, addr string, health *observability.HealthChecker) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: metrics server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func channelGauges(
	ctx context.Context,
	metrics *observability.Metrics,
	corePersist, coreProjection chan core.CoreOutput,
	raw chan ingestion.RawCommand,
	publish chan ingestion.PublishableEvent,
) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("core_persist", len(corePersist), cap(corePersist))
			metrics.SetChannelMetrics("core_projection", len(coreProjection), cap(coreProjection))
			metrics.SetChannelMetrics("ingest_raw", len(raw), cap(raw))
			metrics.SetChannelMetrics("publish", len(publish), cap(publish))
		}
	}
}

// percent converts a whole percentage to the fixed-point percentage base.
func percent(n int64) *big.Int {
	return new(big.Int).Div(new(big.Int).Mul(fpmath.PercentageBase, big.NewInt(n)), big.NewInt(100))
}

// registerTokens parses "SYMBOL:decimals,..." into the bank registry.
func registerTokens(bank *assets.Bank, spec string) error {
	for _, entry := range splitList(spec) {
		parts := strings.Split(entry, ":")
		if len(parts) != 2 {
			return fmt.Errorf("bad token entry %q (want SYMBOL:decimals)", entry)
		}
		dec, err := strconv.ParseUint(parts[1], 10, 8)
		if err != nil {
			return fmt.Errorf("bad decimals in %q: %w", entry, err)
		}
		if err := bank.RegisterToken(parts[0], uint8(dec)); err != nil {
			return err
		}
	}
	return nil
}

// configureRates parses "FROM:TO:rate,..." where rate is an 18-decimal
// fixed-point integer string.
func configureRates(oracle *assets.RateOracle, spec string) error {
	for _, entry := range splitList(spec) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return fmt.Errorf("bad rate entry %q (want FROM:TO:rate)", entry)
		}
		rate, err := fpmath.ParseAmount(parts[2])
		if err != nil {
			return fmt.Errorf("bad rate in %q: %w", entry, err)
		}
		if err := oracle.SetRate(parts[0], parts[1], rate); err != nil {
			return err
		}
	}
	return nil
}

// seedFunds parses "TOKEN:amount,..." and mints native units to account.
func seedFunds(bank *assets.Bank, spec string, account uuid.UUID) error {
	for _, entry := range splitList(spec) {
		parts := strings.Split(entry, ":")
		if len(parts) != 2 {
			return fmt.Errorf("bad reserve entry %q (want TOKEN:amount)", entry)
		}
		amount, err := fpmath.ParseAmount(parts[1])
		if err != nil {
			return fmt.Errorf("bad amount in %q: %w", entry, err)
		}
		if err := bank.Mint(account, parts[0], amount); err != nil {
			return err
		}
	}
	return nil
}

// seedGenesisFunds parses "account:TOKEN:amount,..." in native units.
func seedGenesisFunds(bank *assets.Bank, spec string) error {
	for _, entry := range splitList(spec) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return fmt.Errorf("bad genesis entry %q (want account:TOKEN:amount)", entry)
		}
		account, err := uuid.Parse(parts[0])
		if err != nil {
			return fmt.Errorf("bad account in %q: %w", entry, err)
		}
		amount, err := fpmath.ParseAmount(parts[2])
		if err != nil {
			return fmt.Errorf("bad amount in %q: %w", entry, err)
		}
		if err := bank.Mint(account, parts[1], amount); err != nil {
			return err
		}
	}
	return nil
}

func splitList(spec string) []string {
	var out []string
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
