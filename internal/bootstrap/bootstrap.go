// Package bootstrap provides dependency initialization for the STT worker.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/smap/stt-worker/internal/audio"
	"github.com/smap/stt-worker/internal/config"
	"github.com/smap/stt-worker/internal/job"
	"github.com/smap/stt-worker/internal/queue"
	"github.com/smap/stt-worker/internal/storage"
	"github.com/smap/stt-worker/internal/transcribe"
	"github.com/smap/stt-worker/internal/worker"
)

// Dependencies holds the initialized dependency graph.
type Dependencies struct {
	Worker    *worker.Worker
	Submitter *job.Submitter
	Store     job.Store
	Blobs     storage.BlobStore
	Queue     queue.Queue

	// Close releases connections for short-lived callers. The worker
	// binary closes through Worker.Shutdown instead.
	Close func() error
}

// NewWorker wires the full worker dependency graph: job store, blob
// store, queue, model download, transcriber, chunker, orchestrator,
// consumer. The whisper model is fetched and validated here so a worker
// never starts consuming before it can transcribe.
func NewWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, mongoClose, err := initJobStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	blobs, err := initBlobStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	q, err := initQueue(cfg, logger)
	if err != nil {
		return nil, err
	}

	downloader := transcribe.NewDownloader(blobs, cfg.WhisperModelsDir, logger)
	modelPath, err := downloader.Ensure(ctx, cfg.DefaultModel)
	if err != nil {
		return nil, fmt.Errorf("ensure model %s: %w", cfg.DefaultModel, err)
	}

	transcriber, err := transcribe.NewWhisper(transcribe.WhisperConfig{
		Executable:   cfg.WhisperExecutable,
		ModelPath:    modelPath,
		ChunkTimeout: time.Duration(cfg.ChunkTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create transcriber: %w", err)
	}

	chunker := audio.NewFFmpegChunker("")
	orchestrator := worker.NewOrchestrator(store, blobs, chunker, transcriber, worker.OrchestratorConfig{
		MaxParallelWorkers: cfg.MaxParallelWorkers,
		MaxRetries:         cfg.MaxRetries,
		TempDir:            cfg.TempDir,
		ChunkPolicy:        chunkPolicy(cfg),
	}, logger)

	w := &worker.Worker{
		Queue:        q,
		Blobs:        blobs,
		Consumer:     worker.NewConsumer(orchestrator, store, logger),
		Transcriber:  transcriber,
		Prefetch:     cfg.MaxConcurrentJobs,
		DrainTimeout: time.Duration(cfg.DrainTimeoutSec) * time.Second,
		Closers:      []func() error{mongoClose},
		Logger:       logger,
	}

	return &Dependencies{
		Worker:    w,
		Submitter: newSubmitter(store, blobs, q, cfg, logger),
		Store:     store,
		Blobs:     blobs,
		Queue:     q,
	}, nil
}

// NewSubmitter wires only what the submit CLI needs: job store, blob
// store, queue. No model download, no transcriber.
func NewSubmitter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, mongoClose, err := initJobStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	blobs, err := initBlobStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	q, err := initQueue(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Dependencies{
		Submitter: newSubmitter(store, blobs, q, cfg, logger),
		Store:     store,
		Blobs:     blobs,
		Queue:     q,
		Close: func() error {
			qErr := q.Close()
			if err := mongoClose(); err != nil {
				return err
			}
			return qErr
		},
	}, nil
}

func newSubmitter(store job.Store, blobs storage.BlobStore, q queue.Queue, cfg *config.Config, logger *slog.Logger) *job.Submitter {
	return job.NewSubmitter(store, blobs, q, job.SubmitterConfig{
		RoutingKey:      cfg.RabbitRoutingKey,
		MaxUploadMB:     float64(cfg.MaxUploadMB),
		DefaultLanguage: cfg.DefaultLanguage,
		DefaultModel:    cfg.DefaultModel,
	}, logger)
}

func initJobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Store, func() error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURL))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}

	store, err := job.NewMongoStore(ctx, client.Database(cfg.MongoDatabase))
	if err != nil {
		return nil, nil, err
	}
	logger.Info("job store configured", slog.String("database", cfg.MongoDatabase))

	closeFn := func() error {
		return client.Disconnect(context.Background())
	}
	return store, closeFn, nil
}

func initBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.BlobStore, error) {
	blobs, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:          cfg.BlobBucket,
		Region:          cfg.BlobRegion,
		Endpoint:        cfg.BlobEndpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob store: %w", err)
	}
	logger.Info("blob store configured",
		slog.String("bucket", cfg.BlobBucket),
		slog.String("endpoint", cfg.BlobEndpoint),
	)
	return blobs, nil
}

func initQueue(cfg *config.Config, logger *slog.Logger) (queue.Queue, error) {
	q, err := queue.NewRabbitQueue(queue.RabbitConfig{
		URL:        cfg.RabbitURL,
		Exchange:   cfg.RabbitExchange,
		Queue:      cfg.RabbitQueue,
		RoutingKey: cfg.RabbitRoutingKey,
		DeadLetter: cfg.RabbitDLQ,
		MessageTTL: time.Duration(cfg.JobTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}
	logger.Info("queue configured",
		slog.String("exchange", cfg.RabbitExchange),
		slog.String("queue", cfg.RabbitQueue),
	)
	return q, nil
}

func chunkPolicy(cfg *config.Config) audio.Policy {
	return audio.Policy{
		Strategy:         audio.StrategySilence,
		ChunkDurationSec: float64(cfg.ChunkDurationSec),
		MinSilenceSec:    cfg.MinSilenceSec,
		SilenceThreshDB:  cfg.SilenceThreshDB,
		MinChunkSec:      cfg.MinChunkSec,
		MaxChunkSec:      cfg.MaxChunkSec,
		FilterIntroOutro: cfg.FilterIntroOutro,
	}
}
