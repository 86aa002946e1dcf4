package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/parcelworks/fieldsync/internal/client/api"
	"github.com/parcelworks/fieldsync/internal/client/cli"
	"github.com/parcelworks/fieldsync/internal/client/conflict"
	"github.com/parcelworks/fieldsync/internal/client/iocli"
	"github.com/parcelworks/fieldsync/internal/client/notify"
	"github.com/parcelworks/fieldsync/internal/client/queue"
	"github.com/parcelworks/fieldsync/internal/client/storage"
	"github.com/parcelworks/fieldsync/internal/client/storage/boltdb"
	clientsync "github.com/parcelworks/fieldsync/internal/client/sync"
	"github.com/parcelworks/fieldsync/internal/docstore"
	"github.com/parcelworks/fieldsync/internal/models"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// replicaPersister адаптирует хранилище реплик под хук персистентности
// реестра документов; клиенту отметка времени снимка не нужна.
type replicaPersister struct {
	storage storage.ReplicaStorage
}

func (p *replicaPersister) SaveSnapshot(ctx context.Context, parcelID string, state []byte, _ time.Time) error {
	return p.storage.SaveReplica(ctx, parcelID, state)
}

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "http://localhost:8080", "Sync server URL")
	dbPath := flag.String("db", "fieldsync-client.db", "Path to local database")
	strategy := flag.String("default-strategy", "", "Default conflict resolution strategy (local-wins, remote-wins, merge-fields)")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	io := iocli.NewStdio()
	args := flag.Args()
	command := ""
	var commandArgs []string
	if len(args) > 0 {
		command = args[0]
		commandArgs = args[1:]
	}

	ctx := context.Background()

	// Логи клиента уходят в stderr, stdout остается для вывода команд
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	boltStorage, err := boltdb.New(ctx, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := boltStorage.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	// Стабильный идентификатор реплики: генерируется один раз,
	// дальше все правки этого клиента несут его в таймштампах
	nodeID, err := boltStorage.EnsureNodeID(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize replica id: %v\n", err)
		os.Exit(1)
	}

	registry := docstore.NewRegistry(logger,
		docstore.WithNodeID(nodeID),
		docstore.WithPersister(&replicaPersister{storage: boltStorage}),
	)

	replicas, err := boltStorage.ListReplicas(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load local replicas: %v\n", err)
		os.Exit(1)
	}
	registry.Restore(replicas)

	apiClient := api.NewClient(*serverURL)
	notifier := notify.NewLogNotifier(logger)

	conflictOpts := []conflict.Option{}
	if *strategy != "" {
		conflictOpts = append(conflictOpts, conflict.WithDefaultStrategy(models.ResolutionStrategy(*strategy)))
	}
	conflictService := conflict.NewService(boltStorage, notifier, logger, conflictOpts...)

	dispatcher := clientsync.NewDispatcher(apiClient, apiClient, registry, conflictService, boltStorage, logger)
	queueService := queue.NewService(boltStorage, dispatcher, notifier, logger, queue.DefaultConfig())

	c := cli.New(apiClient, registry, queueService, conflictService, boltStorage, io)
	c.Run(ctx, command, commandArgs)
}

func printVersion() {
	fmt.Printf("FieldSync Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
