// Package queue carries send jobs between the orchestrator and the
// delivery workers. The job schema is identical to the task-queue
// request body so the two worker runtimes are drop-in substitutes.
package queue

import "context"

// Job is one recipient's send unit.
type Job struct {
	SessionID   string `json:"sessionId"`
	To          string `json:"to"`
	Body        string `json:"body"`
	MediaURL    string `json:"mediaUrl,omitempty"`
	CampaignID  string `json:"campaignId"`
	RecipientID string `json:"recipientId"`
}

// Delivery is one dequeued job plus the broker bookkeeping needed to
// ack or requeue it.
type Delivery struct {
	Job Job

	raw string
}

// Broker is the durable queue seam. Retry and backoff policy live
// behind Nack, not in the worker: the engine re-raises failures and
// the broker decides redelivery.
type Broker interface {
	Publish(ctx context.Context, job Job) error
	// Receive blocks until a job is available or ctx is done.
	Receive(ctx context.Context) (Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	// Nack returns the job for redelivery.
	Nack(ctx context.Context, d Delivery) error
}
