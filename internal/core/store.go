package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the durable record of sessions, campaigns, recipients,
// messages and contacts.
type Store struct{ DB *pgxpool.Pool }

// NewRecipient is the per-recipient input to CreateCampaign.
type NewRecipient struct {
	ContactID *string
	Phone     string
	Message   string
	Variant   string
}

// CreateSession writes a STARTING session record. The id must already
// be assigned by the caller.
func (s *Store) CreateSession(ctx context.Context, id string) (Session, error) {
	var out Session
	err := s.DB.QueryRow(ctx, `
		INSERT INTO sessions(id, status) VALUES($1, $2)
		ON CONFLICT (id) DO UPDATE SET status = $2, updated_at = now()
		RETURNING id, status, phone, credential_blob_path, created_at, updated_at
	`, id, SessionStarting).Scan(&out.ID, &out.Status, &out.Phone, &out.CredentialBlobPath, &out.CreatedAt, &out.UpdatedAt)
	return out, err
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	var out Session
	err := s.DB.QueryRow(ctx, `
		SELECT id, status, phone, credential_blob_path, created_at, updated_at
		FROM sessions WHERE id = $1
	`, id).Scan(&out.ID, &out.Status, &out.Phone, &out.CredentialBlobPath, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return out, err
}

// SetSessionStatus records a connection-state change. Closed sessions
// never reopen through this path; a CLOSED record stays CLOSED.
func (s *Store) SetSessionStatus(ctx context.Context, id, status string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE sessions SET status = $2, updated_at = now()
		WHERE id = $1 AND status <> $3
	`, id, status, SessionClosed)
	return err
}

func (s *Store) SetSessionPhone(ctx context.Context, id, phoneNumber string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE sessions SET phone = $2, updated_at = now() WHERE id = $1
	`, id, phoneNumber)
	return err
}

func (s *Store) SetSessionBlobPath(ctx context.Context, id, path string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE sessions SET credential_blob_path = $2, updated_at = now() WHERE id = $1
	`, id, path)
	return err
}

// CloseSession marks the session CLOSED and reports whether this call
// performed the transition. Concurrent closes see closed=false.
func (s *Store) CloseSession(ctx context.Context, id string) (closed bool, err error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE sessions SET status = $2, updated_at = now()
		WHERE id = $1 AND status <> $2
	`, id, SessionClosed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ImportContacts batch-inserts contacts whose phones were already
// normalized by the caller. Returns the number created.
func (s *Store) ImportContacts(ctx context.Context, contacts []Contact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created := 0
	for _, c := range contacts {
		tag, err := tx.Exec(ctx, `
			INSERT INTO contacts(name, phone) VALUES($1, $2)
			ON CONFLICT (phone) DO NOTHING
		`, c.Name, c.Phone)
		if err != nil {
			return 0, err
		}
		created += int(tag.RowsAffected())
	}
	return created, tx.Commit(ctx)
}

func (s *Store) ListContacts(ctx context.Context, limit, offset int) ([]Contact, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, phone FROM contacts ORDER BY name LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCampaign writes the campaign and all recipient sub-records in
// one transaction. Rejects an empty recipient set.
func (s *Store) CreateCampaign(ctx context.Context, c Campaign, recipients []NewRecipient) (campaignID string, recipientIDs []string, err error) {
	if len(recipients) == 0 {
		return "", nil, fmt.Errorf("recipients must be non-empty: %w", ErrValidation)
	}
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO campaigns(name, message_template, status, total_contacts, speed, start_time, end_time, ab_template_b, media_url)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, c.Name, c.MessageTemplate, CampaignPending, len(recipients), c.Speed, c.StartTime, c.EndTime, c.ABTemplateB, c.MediaURL).Scan(&campaignID)
	if err != nil {
		return "", nil, err
	}

	recipientIDs = make([]string, 0, len(recipients))
	for _, r := range recipients {
		var rid string
		err = tx.QueryRow(ctx, `
			INSERT INTO recipients(campaign_id, contact_id, phone, message, status, variant)
			VALUES($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, campaignID, r.ContactID, r.Phone, r.Message, RecipientPending, r.Variant).Scan(&rid)
		if err != nil {
			return "", nil, err
		}
		recipientIDs = append(recipientIDs, rid)
	}
	return campaignID, recipientIDs, tx.Commit(ctx)
}

func (s *Store) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	var out Campaign
	err := s.DB.QueryRow(ctx, `
		SELECT id, name, message_template, status, total_contacts, sent_count,
		       speed, start_time, end_time, ab_template_b, media_url, created_at
		FROM campaigns WHERE id = $1
	`, id).Scan(&out.ID, &out.Name, &out.MessageTemplate, &out.Status, &out.TotalContacts,
		&out.SentCount, &out.Speed, &out.StartTime, &out.EndTime, &out.ABTemplateB, &out.MediaURL, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Campaign{}, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return out, err
}

func (s *Store) ListCampaigns(ctx context.Context, limit, offset int) ([]Campaign, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, name, message_template, status, total_contacts, sent_count,
		       speed, start_time, end_time, ab_template_b, media_url, created_at
		FROM campaigns ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.MessageTemplate, &c.Status, &c.TotalContacts,
			&c.SentCount, &c.Speed, &c.StartTime, &c.EndTime, &c.ABTemplateB, &c.MediaURL, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetRecipient(ctx context.Context, id string) (Recipient, error) {
	var out Recipient
	err := s.DB.QueryRow(ctx, `
		SELECT id, campaign_id, contact_id, phone, message, status, variant
		FROM recipients WHERE id = $1
	`, id).Scan(&out.ID, &out.CampaignID, &out.ContactID, &out.Phone, &out.Message, &out.Status, &out.Variant)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recipient{}, fmt.Errorf("recipient %s: %w", id, ErrNotFound)
	}
	return out, err
}

// MarkRecipientSent performs the one-way PENDING -> SENT transition and
// bumps the campaign counter only when the transition actually
// happened, so redeliveries of an already-sent recipient are no-ops.
func (s *Store) MarkRecipientSent(ctx context.Context, id string) (transitioned bool, err error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var campaignID string
	err = tx.QueryRow(ctx, `
		UPDATE recipients SET status = $2
		WHERE id = $1 AND status = $3
		RETURNING campaign_id
	`, id, RecipientSent, RecipientPending).Scan(&campaignID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, tx.Commit(ctx)
	}
	if err != nil {
		return false, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE campaigns SET sent_count = sent_count + 1,
		       status = CASE WHEN status = $2 THEN $3 ELSE status END
		WHERE id = $1
	`, campaignID, CampaignPending, CampaignSending)
	if err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// MarkRecipientFailed is the terminal-failure signal. It is never
// invoked on an ordinary transport error; redelivery policy belongs to
// the broker or the external scheduler.
func (s *Store) MarkRecipientFailed(ctx context.Context, id string) (transitioned bool, err error) {
	tag, err := s.DB.Exec(ctx, `
		UPDATE recipients SET status = $2 WHERE id = $1 AND status = $3
	`, id, RecipientFailed, RecipientPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InsertMessage appends one audit row per send attempt outcome.
func (s *Store) InsertMessage(ctx context.Context, m Message) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
		INSERT INTO messages(contact_id, body, status, provider_result)
		VALUES($1, $2, $3, $4) RETURNING id
	`, m.ContactID, m.Body, m.Status, m.ProviderResult).Scan(&id)
	return id, err
}

func (s *Store) CountMessages(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// CampaignTotals folds over recipient rows at read time. Totals can
// never drift from recipient-level truth because nothing is cached.
func (s *Store) CampaignTotals(ctx context.Context, campaignID string) (Totals, error) {
	var t Totals
	err := s.DB.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = $2),
		       COUNT(*) FILTER (WHERE status = $3),
		       COUNT(*) FILTER (WHERE status = $4)
		FROM recipients WHERE campaign_id = $1
	`, campaignID, RecipientSent, RecipientPending, RecipientFailed).Scan(&t.Total, &t.Sent, &t.Pending, &t.Failed)
	return t, err
}

// MaybeCompleteCampaign flips a campaign to COMPLETED once no recipient
// is pending. Safe to call after every send; the guarded update makes
// concurrent callers race harmlessly.
func (s *Store) MaybeCompleteCampaign(ctx context.Context, campaignID string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE campaigns SET status = $2
		WHERE id = $1 AND status = $3
		  AND NOT EXISTS (SELECT 1 FROM recipients WHERE campaign_id = $1 AND status = $4)
	`, campaignID, CampaignCompleted, CampaignSending, RecipientPending)
	return err
}
