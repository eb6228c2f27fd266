package core

import "time"

// Session statuses.
const (
	SessionCreated   = "CREATED"
	SessionStarting  = "STARTING"
	SessionConnected = "CONNECTED"
	SessionQRPending = "QR_PENDING"
	SessionClosed    = "CLOSED"
	SessionError     = "ERROR"
	SessionReadOnly  = "READ_ONLY"
)

// Campaign statuses.
const (
	CampaignDraft     = "DRAFT"
	CampaignPending   = "PENDING"
	CampaignSending   = "SENDING"
	CampaignCompleted = "COMPLETED"
	CampaignFailed    = "FAILED"
)

// Recipient statuses. The transition is one-way: PENDING -> SENT or
// PENDING -> FAILED, enforced by guarded updates in the store.
const (
	RecipientPending = "PENDING"
	RecipientSent    = "SENT"
	RecipientFailed  = "FAILED"
)

// A/B variants.
const (
	VariantA = "A"
	VariantB = "B"
)

type Session struct {
	ID                 string    `json:"sessionId"`
	Status             string    `json:"status"`
	Phone              *string   `json:"phone,omitempty"`
	CredentialBlobPath *string   `json:"credentialBlobPath,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type Campaign struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	MessageTemplate string     `json:"messageTemplate"`
	Status          string     `json:"status"`
	TotalContacts   int        `json:"totalContacts"`
	SentCount       int        `json:"sentCount"`
	Speed           int        `json:"speed"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	ABTemplateB     *string    `json:"abTemplateB,omitempty"`
	MediaURL        *string    `json:"mediaUrl,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type Recipient struct {
	ID         string  `json:"id"`
	CampaignID string  `json:"campaignId"`
	ContactID  *string `json:"contactId,omitempty"`
	Phone      string  `json:"phone"`
	Message    string  `json:"message"`
	Status     string  `json:"status"`
	Variant    string  `json:"variant"`
}

// Message is the append-only audit row written once per send attempt
// outcome, success or failure.
type Message struct {
	ID             string    `json:"id"`
	ContactID      *string   `json:"contactId,omitempty"`
	Body           string    `json:"body"`
	Status         string    `json:"status"`
	ProviderResult *string   `json:"providerResult,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Totals is the read-time fold over a campaign's recipients.
type Totals struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}
