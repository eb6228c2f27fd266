package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/vendaflow/zapengine/internal/core"
	"github.com/vendaflow/zapengine/internal/metrics"
	"github.com/vendaflow/zapengine/internal/phone"
	"github.com/vendaflow/zapengine/internal/queue"
	"github.com/vendaflow/zapengine/internal/transport"
	"golang.org/x/time/rate"
)

// RecipientStore is the slice of the campaign store a sender needs.
type RecipientStore interface {
	GetRecipient(ctx context.Context, id string) (core.Recipient, error)
	MarkRecipientSent(ctx context.Context, id string) (bool, error)
	MarkRecipientFailed(ctx context.Context, id string) (bool, error)
	InsertMessage(ctx context.Context, m core.Message) (string, error)
	MaybeCompleteCampaign(ctx context.Context, campaignID string) error
}

// Locker guards a session against concurrent drivers across worker
// instances. A nil Locker means single-instance deployment or the
// hosted backend, where the provider serializes per session.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

// errLockBusy signals the broker to redeliver; another instance is
// driving this session right now.
var errLockBusy = errors.New("session lock busy")

type Options struct {
	Concurrency    int           // sender goroutines
	SendsPerWindow int           // global cap, default 30
	Window         time.Duration // default 60s
	SendTimeout    time.Duration // per-send bound, default 30s
}

func (o *Options) fill() {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.SendsPerWindow <= 0 {
		o.SendsPerWindow = 30
	}
	if o.Window <= 0 {
		o.Window = time.Minute
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 30 * time.Second
	}
}

// Sender executes one send job: normalize, rate-limit, lock, send,
// record. Both worker runtimes share it so their Recipient/Message
// side effects are identical.
type Sender struct {
	adapter     transport.Adapter
	store       RecipientStore
	lock        Locker
	limiter     *rate.Limiter
	sendTimeout time.Duration
}

func NewSender(adapter transport.Adapter, store RecipientStore, lock Locker, opt Options) *Sender {
	opt.fill()
	// Even spacing keeps any rolling window at or under the cap.
	interval := opt.Window / time.Duration(opt.SendsPerWindow)
	return &Sender{
		adapter:     adapter,
		store:       store,
		lock:        lock,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
		sendTimeout: opt.SendTimeout,
	}
}

// Process handles one job. A nil return acks the job; an error returns
// it to the retry-governing layer (broker redelivery or scheduler
// retry). Process never implements its own retry counter.
func (s *Sender) Process(ctx context.Context, job queue.Job) error {
	rec, err := s.store.GetRecipient(ctx, job.RecipientID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Recipient was deleted out from under the queue; nothing
			// to retry.
			log.Printf("job for unknown recipient %s dropped", job.RecipientID)
			return nil
		}
		return err
	}
	if rec.Status == core.RecipientSent {
		// Redelivery of an already-sent recipient must never resend.
		metrics.SendTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	to, ok := phone.Normalize(job.To, "")
	if !ok {
		// Unroutable phone is a terminal-failure signal: no retry can
		// fix it, so the recipient is failed and the job acked.
		metrics.SendTotal.WithLabelValues("invalid_phone").Inc()
		log.Printf("recipient %s: unroutable phone %s", rec.ID, phone.Mask(job.To))
		if _, err := s.store.MarkRecipientFailed(ctx, job.RecipientID); err != nil {
			return err
		}
		return nil
	}

	waitStart := time.Now()
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	metrics.LimiterWait.Observe(time.Since(waitStart).Seconds())

	if s.lock != nil {
		held, err := s.lock.Acquire(ctx, job.SessionID)
		if err != nil {
			return err
		}
		if !held {
			metrics.SendTotal.WithLabelValues("lock_busy").Inc()
			return errLockBusy
		}
		defer func() { _ = s.lock.Release(context.WithoutCancel(ctx), job.SessionID) }()
	}

	cctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.adapter.SendMessage(cctx, job.SessionID, to, job.Body, job.MediaURL)
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, core.ErrSessionNotReady) {
			// Not a send attempt; no audit row.
			metrics.SendTotal.WithLabelValues("not_ready").Inc()
			return err
		}
		metrics.SendTotal.WithLabelValues("transport_error").Inc()
		s.record(ctx, rec, core.RecipientFailed, err.Error())
		// Re-raise: redelivery is the broker's decision, and the
		// recipient deliberately stays PENDING.
		return err
	}

	metrics.SendTotal.WithLabelValues("sent").Inc()
	s.record(ctx, rec, core.RecipientSent, res.ProviderID)

	transitioned, err := s.store.MarkRecipientSent(ctx, job.RecipientID)
	if err != nil {
		return err
	}
	if transitioned {
		if err := s.store.MaybeCompleteCampaign(ctx, job.CampaignID); err != nil {
			log.Printf("campaign %s completion check: %v", job.CampaignID, err)
		}
	}
	return nil
}

// record appends the audit row for this attempt. Audit failures are
// logged, not raised: the send outcome already happened and a retry
// here would risk a double send.
func (s *Sender) record(ctx context.Context, rec core.Recipient, status, providerResult string) {
	var pr *string
	if providerResult != "" {
		pr = &providerResult
	}
	_, err := s.store.InsertMessage(context.WithoutCancel(ctx), core.Message{
		ContactID:      rec.ContactID,
		Body:           rec.Message,
		Status:         status,
		ProviderResult: pr,
	})
	if err != nil {
		log.Printf("recipient %s: audit write failed: %v", rec.ID, err)
	}
}

// RunEngine is the queue-and-broker runtime: a bounded pool pulling
// one job per worker slot until ctx is canceled.
func RunEngine(ctx context.Context, broker queue.Broker, sender *Sender, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 4
	}
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()
			for {
				d, err := broker.Receive(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("receive: %v", err)
					time.Sleep(time.Second)
					continue
				}

				metrics.InFlight.Inc()
				err = sender.Process(ctx, d.Job)
				metrics.InFlight.Dec()

				if err != nil {
					log.Printf("job recipient=%s: %v", d.Job.RecipientID, err)
					if nerr := broker.Nack(context.WithoutCancel(ctx), d); nerr != nil {
						log.Printf("nack: %v", nerr)
					}
					continue
				}
				if aerr := broker.Ack(context.WithoutCancel(ctx), d); aerr != nil {
					log.Printf("ack: %v", aerr)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}
