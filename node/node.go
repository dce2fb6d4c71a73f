// Package node wires the node's storage, chain gateway, engine and workers
// together and manages their lifecycle.
package node

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kindomxu/ambrosus-node/blockchain"
	"github.com/kindomxu/ambrosus-node/cache"
	"github.com/kindomxu/ambrosus-node/config/params"
	"github.com/kindomxu/ambrosus-node/engine"
	"github.com/kindomxu/ambrosus-node/entities"
	"github.com/kindomxu/ambrosus-node/entity"
	"github.com/kindomxu/ambrosus-node/entity/schema"
	"github.com/kindomxu/ambrosus-node/runtime"
	"github.com/kindomxu/ambrosus-node/storage"
	"github.com/kindomxu/ambrosus-node/storage/memorydb"
	"github.com/kindomxu/ambrosus-node/storage/mongodb"
	"github.com/kindomxu/ambrosus-node/workers"
)

var log = logrus.WithField("prefix", "node")

// devStoreURI selects the in-process store instead of mongodb.
const devStoreURI = "memory"

// Node is a running ambrosus node: the role-appropriate worker on top of
// the shared storage, engine and chain gateway.
type Node struct {
	cfg      *params.Config
	store    storage.Store
	gateway  *blockchain.ContractGateway
	engine   *engine.DataModelEngine
	services *runtime.ServiceRegistry

	lock   sync.Mutex
	stop   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// New assembles a node from the configuration. The chain gateway is dialed
// here; workers do not start until Start.
func New(ctx context.Context, cfg *params.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)

	store, err := openStore(ctx, cfg)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		cancel()
		return nil, err
	}

	gateway, err := blockchain.NewContractGateway(ctx, cfg.RPCEndpoint, cfg.ContractAddress, cfg.NodeSecret)
	if err != nil {
		cancel()
		return nil, err
	}

	registry, err := schema.NewRegistry()
	if err != nil {
		cancel()
		return nil, err
	}
	repo := entities.NewRepository(store)
	workerLogs := entities.NewWorkerLogRepository(store)

	eng := engine.New(engine.Config{
		Repository: repo,
		Validator:  entity.NewValidator(cfg.TimestampLimit, registry),
		Builder:    entity.NewBuilder(),
		Uploads:    blockchain.NewUploadsRepository(gateway),
		Fetcher:    blockchain.NewBundleFetcher(gateway),
		Expiration: gateway,
		NodeSecret: cfg.NodeSecret,
	})

	n := &Node{
		cfg:      cfg,
		store:    store,
		gateway:  gateway,
		engine:   eng,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	if err := n.registerWorker(workerLogs); err != nil {
		cancel()
		return nil, err
	}
	return n, nil
}

// Engine exposes the data model engine, the entry point for ingress and
// query surfaces layered on top of the node.
func (n *Node) Engine() *engine.DataModelEngine {
	return n.engine
}

func openStore(ctx context.Context, cfg *params.Config) (storage.Store, error) {
	if cfg.MongoURI == devStoreURI {
		log.Warn("Using the in-process store, data will not survive a restart")
		return memorydb.New(), nil
	}
	return mongodb.Connect(ctx, cfg.MongoURI, cfg.DatabaseName)
}

func (n *Node) registerWorker(workerLogs *entities.WorkerLogRepository) error {
	switch n.cfg.Role {
	case params.RoleHermes:
		strategy := workers.NewRegularUploadStrategy(n.cfg.UploadWorkerInterval.Std())
		strategy.Periods = n.cfg.StoragePeriods
		logger := workerLogger(workerLogs, "upload")
		return n.services.RegisterService(workers.NewUploadWorker(
			n.engine, blockchain.NewUploadsRepository(n.gateway), strategy, n.cfg.UploadRetryPeriod, logger))
	case params.RoleAtlas:
		strategy := workers.NewRegularChallengeStrategy(
			n.cfg.ChallengeWorkerInterval.Std(), n.cfg.ChallengeRetryTimeout.Std())
		logger := workerLogger(workerLogs, "challenge")
		return n.services.RegisterService(workers.NewChallengeWorker(
			n.engine, blockchain.NewChallengesRepository(n.gateway), strategy,
			cache.NewFailedChallengesCache(), logger))
	default:
		return errors.Errorf("unknown role %q", n.cfg.Role)
	}
}

// workerLogger builds a logger that mirrors every entry into the durable
// worker log.
func workerLogger(workerLogs *entities.WorkerLogRepository, worker string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(logrus.StandardLogger().Formatter)
	logger.SetLevel(logrus.StandardLogger().GetLevel())
	logger.AddHook(workerLogs.Hook(worker))
	return logger
}

// Start waits for the chain to sync, starts every registered service and
// blocks until the node shuts down.
func (n *Node) Start() error {
	n.lock.Lock()
	log.WithField("role", n.cfg.Role).Info("Starting node")

	err := blockchain.WaitForChainSync(n.ctx, n.gateway.SyncChecker(), n.cfg.ChainSyncPollInterval.Std(), func(s blockchain.SyncStatus) {
		log.WithFields(logrus.Fields{
			"currentBlock": s.CurrentBlock,
			"highestBlock": s.HighestBlock,
		}).Info("Chain is syncing")
	})
	if err != nil {
		n.lock.Unlock()
		return errors.Wrap(err, "chain did not sync")
	}

	if err := n.engine.ReleaseOrphanedClaims(n.ctx); err != nil {
		n.lock.Unlock()
		return err
	}

	n.services.StartAll()
	stop := n.stop
	n.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the node")
	}()

	<-stop
	return nil
}

// Close stops every service and releases the node's resources.
func (n *Node) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping node")
	n.services.StopAll()
	if err := n.store.Close(n.ctx); err != nil {
		log.WithError(err).Error("Failed to close the store")
	}
	n.gateway.Close()
	n.cancel()
	close(n.stop)
}
