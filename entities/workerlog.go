package entities

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kindomxu/ambrosus-node/storage"
)

// WorkerLogEntry is one persisted worker log line. The collection is an
// append-only audit log; retention is handled outside the node.
type WorkerLogEntry struct {
	Timestamp time.Time              `bson:"timestamp"`
	Worker    string                 `bson:"worker"`
	Level     string                 `bson:"level"`
	Message   string                 `bson:"message"`
	Fields    map[string]interface{} `bson:"fields,omitempty"`
}

// WorkerLogRepository persists worker log entries.
type WorkerLogRepository struct {
	logs storage.Collection
}

// NewWorkerLogRepository builds the repository over the given store.
func NewWorkerLogRepository(store storage.Store) *WorkerLogRepository {
	return &WorkerLogRepository{logs: store.Collection(workerLogsCollection)}
}

// StoreLog appends one entry.
func (r *WorkerLogRepository) StoreLog(ctx context.Context, e *WorkerLogEntry) error {
	return errors.Wrap(r.logs.InsertOne(ctx, e), "could not store worker log")
}

// Latest returns the newest limit entries, newest first.
func (r *WorkerLogRepository) Latest(ctx context.Context, limit int64) ([]*WorkerLogEntry, error) {
	var found []*WorkerLogEntry
	err := r.logs.Find(ctx, storage.Filter{}, storage.FindOptions{
		SortBy:        "timestamp",
		SortDirection: storage.Descending,
		Limit:         limit,
	}, &found)
	return found, errors.Wrap(err, "could not load worker logs")
}

// Hook returns a logrus hook that mirrors every entry of a worker's logger
// into the durable log.
func (r *WorkerLogRepository) Hook(worker string) logrus.Hook {
	return &workerLogHook{repo: r, worker: worker}
}

type workerLogHook struct {
	repo   *WorkerLogRepository
	worker string
}

func (h *workerLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *workerLogHook) Fire(entry *logrus.Entry) error {
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		switch v.(type) {
		case string, bool, int, int32, int64, uint, uint32, uint64, float32, float64:
			fields[k] = v
		case error:
			fields[k] = v.(error).Error()
		default:
			fields[k] = fmt.Sprintf("%v", v)
		}
	}
	return h.repo.StoreLog(context.Background(), &WorkerLogEntry{
		Timestamp: entry.Time,
		Worker:    h.worker,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	})
}
