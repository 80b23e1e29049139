// Package activity appends board activity entries to a storage queue for the
// downstream feed. Appends are fire-and-forget: a sink failure is logged and
// never propagated to the mutation that produced the entry.
package activity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

// Entry is one activity-log record.
type Entry struct {
	Action     string `json:"action"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	UserID     string `json:"userId"`
	BoardID    string `json:"boardId"`
	Timestamp  int64  `json:"timestamp"`
}

// Sink accepts activity entries. Append must never block the caller for long
// and must never surface an error.
type Sink interface {
	Append(e Entry)
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Logger ships entries to an Azure Storage queue through a small worker pool.
type Logger struct {
	queue   queueClient
	logger  *log.Logger
	jobs    chan Entry
	timeout time.Duration
	wg      sync.WaitGroup
	once    sync.Once
}

// New creates a queue-backed activity logger from a storage connection string.
func New(connStr, queueName string, logger *log.Logger) (*Logger, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return NewWithClient(qc, logger), nil
}

// NewWithClient wires a logger around an existing queue client.
func NewWithClient(qc queueClient, logger *log.Logger) *Logger {
	if logger == nil {
		logger = log.StandardLogger()
	}
	l := &Logger{
		queue:   qc,
		logger:  logger,
		jobs:    make(chan Entry, 1024),
		timeout: 30 * time.Second,
	}
	for i := 0; i < 4; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

// Append hands the entry to a worker. When the buffer is saturated the entry
// is dropped with a warning; losing an activity row must not fail a mutation.
func (l *Logger) Append(e Entry) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	select {
	case l.jobs <- e:
	default:
		l.logger.WithFields(log.Fields{
			"action": e.Action,
			"board":  e.BoardID,
		}).Warn("activity buffer saturated, entry dropped")
	}
}

func (l *Logger) worker() {
	defer l.wg.Done()
	for e := range l.jobs {
		data, err := json.Marshal(e)
		if err != nil {
			l.logger.WithError(err).Error("marshal activity entry")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		_, err = l.queue.EnqueueMessage(ctx, string(data), nil)
		cancel()
		if err != nil {
			l.logger.WithError(err).WithFields(log.Fields{
				"action": e.Action,
				"board":  e.BoardID,
			}).Error("activity append failed")
		}
	}
}

// Close drains buffered entries and stops the workers.
func (l *Logger) Close() {
	l.once.Do(func() {
		close(l.jobs)
	})
	l.wg.Wait()
}

// Noop discards every entry. Used when no activity queue is configured.
type Noop struct{}

func (Noop) Append(Entry) {}
