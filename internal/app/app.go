package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"folio/internal/config"
	"folio/internal/services"
	"folio/internal/services/executors"
	"folio/internal/store"
	"folio/internal/store/blob"
	"folio/internal/store/mongoledger"
	"folio/internal/store/redisjob"
	"folio/internal/worker"
)

// App holds every initialized component. The API tier uses Producer and
// StatusService; the worker tier uses Runner and Capabilities; both share
// the stores.
type App struct {
	Config *config.Config

	Status    store.StatusStore
	Ledger    store.Ledger
	Points    store.PointsLedger
	Blobs     store.BlobStore
	JobClient store.JobClient

	Producer      *services.Producer
	StatusService *services.StatusService

	Runner       *worker.Runner
	Capabilities []worker.Capability

	rdb   *redis.Client
	mongo *mongoledger.Store
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx := context.Background()
	app := &App{Config: cfg}

	if err := app.initRedis(ctx); err != nil {
		return nil, err
	}
	if err := app.initLedger(ctx); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	if err := app.initBlobStore(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	app.initJobClient()
	if err := app.initCapabilities(); err != nil {
		app.cleanupPartialInit()
		return nil, err
	}
	app.initCoreServices()

	log.Println("Application initialization complete.")
	return app, nil
}

// RedisOpt returns the asynq Redis options for the worker server; the
// queue transport and the status store share one Redis.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	}
}

// GrantPoints is the operator/billing top-up path behind 'folio points
// grant'. It lives on App rather than PointsLedger so the job core keeps
// its reserve-only boundary.
func (a *App) GrantPoints(ctx context.Context, userID string, amount int64) error {
	return a.mongo.Grant(ctx, userID, amount)
}

// PingStores checks both stores, for the doctor command.
func (a *App) PingStores(ctx context.Context) error {
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	if err := a.mongo.Ping(ctx); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}
	return nil
}

func (a *App) Close() {
	if a.JobClient != nil {
		if err := a.JobClient.Close(); err != nil {
			log.Errorf("close job client: %v", err)
		}
	}
	if a.mongo != nil {
		if err := a.mongo.Close(context.Background()); err != nil {
			log.Errorf("close mongo: %v", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			log.Errorf("close redis: %v", err)
		}
	}
}

// --- Private Helper Methods ---

func (a *App) initRedis(ctx context.Context) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Address,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	a.rdb = rdb
	a.Status = redisjob.NewStatusStore(rdb, a.Config.JobStore.TTL)
	return nil
}

func (a *App) initLedger(ctx context.Context) error {
	ms, err := mongoledger.New(ctx, a.Config.Mongo.URI, a.Config.Mongo.Database)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	if err := ms.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}
	a.mongo = ms
	a.Ledger = ms
	a.Points = ms
	return nil
}

func (a *App) initBlobStore() error {
	bs, err := blob.NewLocalStore(a.Config.Blob.Dir)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}
	a.Blobs = bs
	return nil
}

func (a *App) initJobClient() {
	a.JobClient = store.NewAsynqJobClient(a.RedisOpt(), a.Config.Worker.TransportRetry)
}

func (a *App) initCapabilities() error {
	p := a.Config.Providers

	translation, err := executors.NewTranslationExecutor(p.GoogleApiKey, p.GeminiModel, a.Blobs)
	if err != nil {
		return fmt.Errorf("init translation executor: %w", err)
	}
	a.Capabilities = []worker.Capability{
		translation,
		executors.NewSlideFormatExecutor(p.OpenaiApiKey, p.OpenaiModel, a.Blobs),
		executors.NewSlideGenerateExecutor(p.OpenaiApiKey, p.OpenaiModel),
		executors.NewNarrationExecutor(p.OpenaiApiKey, p.TTSModel, p.TTSVoice, a.Blobs),
		executors.NewAIEditorExecutor(p.OpenaiApiKey, p.OpenaiModel, a.Blobs),
	}
	return nil
}

func (a *App) initCoreServices() {
	a.Producer = services.NewProducer(a.Status, a.Ledger, a.Points, a.JobClient, a.Config.Pricing)
	a.StatusService = services.NewStatusService(a.Status, a.Ledger)
	a.Runner = worker.NewRunner(a.Status, a.Ledger, worker.RetryPolicy{
		MaxAttempts: a.Config.Worker.MaxAttempts,
		Backoff:     a.Config.Worker.Backoff,
	}, a.Config.Worker.StaleAfter)
}

func (a *App) cleanupPartialInit() {
	a.Close()
}
