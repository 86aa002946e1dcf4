// Package cli реализует командный интерфейс полевого клиента.
// Команды работают с локальной репликой и durable-очередью; сеть
// нужна только команде sync, все остальное доступно офлайн.
package cli

import (
	clientapi "github.com/parcelworks/fieldsync/internal/client/api"
	"github.com/parcelworks/fieldsync/internal/client/conflict"
	"github.com/parcelworks/fieldsync/internal/client/iocli"
	"github.com/parcelworks/fieldsync/internal/client/queue"
	"github.com/parcelworks/fieldsync/internal/client/storage"
	"github.com/parcelworks/fieldsync/internal/docstore"
)

type Cli struct {
	apiClient       clientapi.ClientAPI
	registry        *docstore.Registry
	queueService    queue.Service
	conflictService conflict.Service
	metadataStorage storage.MetadataStorage
	io              iocli.IO
}

func New(
	apiClient clientapi.ClientAPI,
	registry *docstore.Registry,
	queueService queue.Service,
	conflictService conflict.Service,
	metadataStorage storage.MetadataStorage,
	io iocli.IO,
) *Cli {
	return &Cli{
		apiClient:       apiClient,
		registry:        registry,
		queueService:    queueService,
		conflictService: conflictService,
		metadataStorage: metadataStorage,
		io:              io,
	}
}
