package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/leviate/backend/internal/audit"
	"github.com/leviate/backend/internal/config"
	"github.com/leviate/backend/internal/models"
	"github.com/shopspring/decimal"
)

// PayoutMessage asks the wallet to credit a user for approved work or a
// referral. ID is the idempotency key: a message delivered twice credits once.
type PayoutMessage struct {
	ID          string          `json:"id" validate:"required,max=64"`
	UserID      string          `json:"userId" validate:"required"`
	Kind        models.Category `json:"kind" validate:"required,oneof=TASK_PAYOUT REFERRAL_BONUS"`
	GrossAmount decimal.Decimal `json:"grossAmount"`
	Description string          `json:"description" validate:"max=255"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

var ErrQueueClosed = errors.New("payout queue closed")

type PayoutQueue interface {
	Enqueue(ctx context.Context, msg PayoutMessage) error
	// Dequeue blocks until a message is available or ctx is done.
	Dequeue(ctx context.Context) (*PayoutMessage, error)
	DeadLetter(ctx context.Context, msg PayoutMessage, cause error) error
}

type RedisPayoutQueue struct {
	client        *redis.Client
	key           string
	deadLetterKey string
	pollTimeout   time.Duration
}

func NewRedisPayoutQueue(client *redis.Client, key, deadLetterKey string) *RedisPayoutQueue {
	return &RedisPayoutQueue{client: client, key: key, deadLetterKey: deadLetterKey, pollTimeout: 5 * time.Second}
}

func (q *RedisPayoutQueue) Enqueue(ctx context.Context, msg PayoutMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode payout: %w", err)
	}
	return q.client.RPush(ctx, q.key, data).Err()
}

func (q *RedisPayoutQueue) Dequeue(ctx context.Context) (*PayoutMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := q.client.BLPop(ctx, q.pollTimeout, q.key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		// BLPOP replies with [key, value].
		var msg PayoutMessage
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			log.Printf("[PAYOUT] Dropping undecodable message: %v", err)
			q.client.RPush(ctx, q.deadLetterKey, res[1])
			continue
		}
		return &msg, nil
	}
}

func (q *RedisPayoutQueue) DeadLetter(ctx context.Context, msg PayoutMessage, cause error) error {
	data, err := json.Marshal(struct {
		PayoutMessage
		Error    string    `json:"error"`
		FailedAt time.Time `json:"failedAt"`
	}{msg, cause.Error(), time.Now().UTC()})
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.deadLetterKey, data).Err()
}

// ChannelPayoutQueue keeps payouts in process memory. Queued messages are
// lost on restart.
type ChannelPayoutQueue struct {
	ch chan PayoutMessage
}

func NewChannelPayoutQueue(buffer int) *ChannelPayoutQueue {
	return &ChannelPayoutQueue{ch: make(chan PayoutMessage, buffer)}
}

func (q *ChannelPayoutQueue) Enqueue(ctx context.Context, msg PayoutMessage) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChannelPayoutQueue) Dequeue(ctx context.Context) (*PayoutMessage, error) {
	select {
	case msg, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return &msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *ChannelPayoutQueue) DeadLetter(_ context.Context, msg PayoutMessage, cause error) error {
	log.Printf("[PAYOUT] Dropping payout %s for user %s: %v", msg.ID, msg.UserID, cause)
	return nil
}

func (q *ChannelPayoutQueue) Close() {
	close(q.ch)
}

type PayoutWorker struct {
	queue  PayoutQueue
	wallet *WalletService
	audit  *audit.Logger
	config *config.WalletConfig
}

func NewPayoutWorker(queue PayoutQueue, wallet *WalletService, cfg *config.WalletConfig, auditLog *audit.Logger) *PayoutWorker {
	return &PayoutWorker{queue: queue, wallet: wallet, audit: auditLog, config: cfg}
}

// Run processes payouts until ctx is cancelled or the queue is closed.
func (w *PayoutWorker) Run(ctx context.Context) error {
	log.Printf("[PAYOUT] Worker started")
	for {
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrQueueClosed) {
				log.Printf("[PAYOUT] Worker stopped")
				return nil
			}
			log.Printf("[PAYOUT] Dequeue failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if _, err := w.Process(ctx, *msg); err != nil {
			log.Printf("[PAYOUT] Payout %s for user %s failed: %v", msg.ID, msg.UserID, err)
			if dlErr := w.queue.DeadLetter(ctx, *msg, err); dlErr != nil {
				log.Printf("[PAYOUT] Dead letter for %s failed: %v", msg.ID, dlErr)
			}
		}
	}
}

// Process credits a single payout and returns the ledger entry id.
func (w *PayoutWorker) Process(ctx context.Context, msg PayoutMessage) (string, error) {
	if msg.ID == "" || msg.UserID == "" {
		return "", invalid("payout", "id and userId are required")
	}

	gross := msg.GrossAmount
	net := gross
	fee := decimal.Zero
	description := msg.Description

	switch msg.Kind {
	case models.CategoryTaskPayout:
		fee = PlatformFee(gross, w.config.PlatformFeePercent)
		net = gross.Sub(fee)
		if description == "" {
			description = "Task payout"
		}
	case models.CategoryReferralBonus:
		if !gross.IsPositive() {
			gross = w.config.ReferralReward
			net = gross
		}
		if description == "" {
			description = "Referral bonus"
		}
	default:
		return "", invalid("kind", "unsupported payout kind %q", msg.Kind)
	}

	metadata := map[string]any{
		"payoutId":    msg.ID,
		"grossAmount": gross.StringFixed(2),
		"platformFee": fee.StringFixed(2),
	}
	for k, v := range msg.Metadata {
		metadata[k] = v
	}

	id, err := w.wallet.Credit(ctx, msg.UserID, net, msg.Kind, description,
		WithReference(msg.ID), WithMetadata(metadata))
	if err != nil {
		return "", err
	}
	w.audit.LogOperation(msg.UserID, "PAYOUT_CREDITED", fmt.Sprintf("payout=%s entry=%s net=%s fee=%s", msg.ID, id, net.StringFixed(2), fee.StringFixed(2)))
	return id, nil
}

// PlatformFee is the whole-unit fee withheld from a gross task payout.
func PlatformFee(gross, percent decimal.Decimal) decimal.Decimal {
	return gross.Mul(percent).Div(decimal.NewFromInt(100)).Floor()
}
