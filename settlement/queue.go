package settlement

import (
	"context"

	"ilpconnector/store"

	"github.com/sirupsen/logrus"
)

// DefaultQueueDepth bounds how many settlement requests may be pending.
// When the queue is full, EnqueueSettlement refunds the amount at once
// instead of blocking the balance-service goroutine that calls it.
const DefaultQueueDepth = 256

type settleJob struct {
	account store.Account
	amount  uint64
}

// Enqueuer implements service.SettlementEnqueuer: it hands settlement
// requests off to a small worker pool so the balance service's
// post-Fulfill goroutine (spec.md §4.5 phase 3) never blocks on an
// external HTTP call. Grounded on the teacher's channel-based worker
// pool pattern (core/consensus.go's validator-queue goroutines).
type Enqueuer struct {
	Client *Client
	Store  store.Store
	Logger *logrus.Logger

	jobs chan settleJob
}

// NewEnqueuer constructs an Enqueuer with a bounded job channel.
func NewEnqueuer(client *Client, s store.Store, logger *logrus.Logger) *Enqueuer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Enqueuer{
		Client: client,
		Store:  s,
		Logger: logger,
		jobs:   make(chan settleJob, DefaultQueueDepth),
	}
}

// Start launches workerCount worker goroutines that drain the job queue
// until ctx is cancelled.
func (e *Enqueuer) Start(ctx context.Context, workerCount int) {
	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		go e.worker(ctx)
	}
}

func (e *Enqueuer) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.jobs:
			e.settle(ctx, job)
		}
	}
}

func (e *Enqueuer) settle(ctx context.Context, job settleJob) {
	account := job.account
	if account.SettlementEngineURL == "" {
		e.Logger.WithField("account", account.Username).Warn("settlement: no settlement_engine_url configured, refunding")
		e.refund(ctx, job)
		return
	}
	err := e.Client.Settle(ctx, account.SettlementEngineURL, account.ID.String(), job.amount, account.AssetScale)
	if err != nil {
		e.Logger.WithError(err).WithField("account", account.Username).Error("settlement: settle call failed, refunding balance")
		e.refund(ctx, job)
	}
}

func (e *Enqueuer) refund(ctx context.Context, job settleJob) {
	if err := e.Store.RefundSettlement(ctx, job.account.ID, job.amount); err != nil {
		e.Logger.WithError(err).WithField("account", job.account.Username).Error("settlement: refund after failed settle also failed")
	}
}

// EnqueueSettlement implements service.SettlementEnqueuer.
func (e *Enqueuer) EnqueueSettlement(account store.Account, amount uint64) {
	select {
	case e.jobs <- settleJob{account: account, amount: amount}:
	default:
		e.Logger.WithField("account", account.Username).Error("settlement: queue full, refunding immediately")
		e.Store.RefundSettlement(context.Background(), account.ID, amount)
	}
}
