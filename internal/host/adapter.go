package host

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/seaward-systems/streamsift/internal/blobstore"
	"github.com/seaward-systems/streamsift/internal/capipe"
	"github.com/seaward-systems/streamsift/internal/casink"
	"github.com/seaward-systems/streamsift/internal/checkpoint"
	"github.com/seaward-systems/streamsift/internal/esbulk"
	"github.com/seaward-systems/streamsift/internal/espipe"
	"github.com/seaward-systems/streamsift/internal/logging"
)

// ESFactoryConfig carries the per-partition settings of the ES pipeline.
type ESFactoryConfig struct {
	StatsEnabled           bool
	MaxFailedDocRetries    int
	MaxAbandonedDocRetries int
	CheckpointInterval     time.Duration
}

// ESFactory builds one ES partition processor per owned partition. The
// search client is shared by all of them.
type ESFactory struct {
	client *opensearch.Client
	cfg    ESFactoryConfig
	log    *logging.Logger
}

// NewESFactory creates the factory over a shared search client.
func NewESFactory(client *opensearch.Client, cfg ESFactoryConfig, log *logging.Logger) *ESFactory {
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = time.Minute
	}
	return &ESFactory{client: client, cfg: cfg, log: log}
}

// Create builds the processor for one partition.
func (f *ESFactory) Create(partitionID string, cp Checkpointer) (PartitionProcessor, error) {
	coord := checkpoint.NewCoordinator(checkpoint.Func(cp), f.cfg.CheckpointInterval)
	submitter := esbulk.NewSubmitter(f.client, f.log)
	return espipe.NewProcessor(espipe.Config{
		PartitionID:            partitionID,
		StatsEnabled:           f.cfg.StatsEnabled,
		MaxFailedDocRetries:    f.cfg.MaxFailedDocRetries,
		MaxAbandonedDocRetries: f.cfg.MaxAbandonedDocRetries,
		CheckpointInterval:     f.cfg.CheckpointInterval,
	}, submitter, coord, f.log), nil
}

// CAFactoryConfig carries the per-partition settings of the CA pipeline.
type CAFactoryConfig struct {
	StatsEnabled         bool
	CheckpointInterval   time.Duration
	BufferCapacity       int
	Compress             bool
	BaseContainer        string
	NotificationEndpoint string
	InstrumentationKey   string
	LogSchemaID          uuid.UUID
	InteractionsSchemaID uuid.UUID
}

// CAFactory builds one CA partition processor per owned partition. The
// account pool and the notification HTTP client are shared; the schema
// sinks are partition-local.
type CAFactory struct {
	uploader *blobstore.Uploader
	notifier *casink.Notifier
	cfg      CAFactoryConfig
	log      *logging.Logger
}

// NewCAFactory creates the factory over the shared uploader and a shared
// notification client.
func NewCAFactory(uploader *blobstore.Uploader, cfg CAFactoryConfig, httpClient *http.Client, log *logging.Logger) *CAFactory {
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 3 * time.Minute
	}
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = 1 << 20
	}
	return &CAFactory{
		uploader: uploader,
		notifier: casink.NewNotifier(cfg.NotificationEndpoint, cfg.InstrumentationKey, httpClient, log),
		cfg:      cfg,
		log:      log,
	}
}

// Create builds the processor and its two schema sinks for one partition.
func (f *CAFactory) Create(partitionID string, cp Checkpointer) (PartitionProcessor, error) {
	coord := checkpoint.NewCoordinator(checkpoint.Func(cp), f.cfg.CheckpointInterval)

	logSink := casink.New(casink.Config{
		SchemaName:    capipe.SchemaLog,
		SchemaID:      f.cfg.LogSchemaID,
		Capacity:      f.cfg.BufferCapacity,
		Compress:      f.cfg.Compress,
		BaseContainer: f.cfg.BaseContainer,
	}, f.uploader, f.notifier, f.log)

	interactionSink := casink.New(casink.Config{
		SchemaName:    capipe.SchemaInteractions,
		SchemaID:      f.cfg.InteractionsSchemaID,
		Capacity:      f.cfg.BufferCapacity,
		Compress:      f.cfg.Compress,
		BaseContainer: f.cfg.BaseContainer,
	}, f.uploader, f.notifier, f.log)

	return capipe.NewProcessor(capipe.Config{
		PartitionID:        partitionID,
		StatsEnabled:       f.cfg.StatsEnabled,
		CheckpointInterval: f.cfg.CheckpointInterval,
	}, logSink, interactionSink, coord, f.log), nil
}
