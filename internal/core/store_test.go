package core_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendaflow/zapengine/internal/core"
	"github.com/vendaflow/zapengine/internal/db"
)

func newStore(t *testing.T) *core.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("requires docker")
	}
	return &core.Store{DB: db.StartTestPostgres(t)}
}

func strPtr(s string) *string { return &s }

func TestSessionLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, core.SessionStarting, sess.Status)
	assert.Nil(t, sess.Phone)

	// Re-creating the same id resets it to STARTING instead of failing.
	sess, err = s.CreateSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionStarting, sess.Status)

	require.NoError(t, s.SetSessionStatus(ctx, "s1", core.SessionConnected))
	require.NoError(t, s.SetSessionPhone(ctx, "s1", "5511912345678"))
	require.NoError(t, s.SetSessionBlobPath(ctx, "s1", "sessions/s1/auth_state.enc"))

	sess, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionConnected, sess.Status)
	require.NotNil(t, sess.Phone)
	assert.Equal(t, "5511912345678", *sess.Phone)
	require.NotNil(t, sess.CredentialBlobPath)
	assert.Equal(t, "sessions/s1/auth_state.enc", *sess.CredentialBlobPath)

	_, err = s.GetSession(ctx, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)

	closed, err := s.CloseSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, closed)

	closed, err = s.CloseSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, closed, "second close must not transition again")

	// CLOSED is terminal for status writes.
	require.NoError(t, s.SetSessionStatus(ctx, "s1", core.SessionConnected))
	sess, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionClosed, sess.Status)
}

func TestCloseSession_ConcurrentExactlyOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.CreateSession(ctx, "s1")
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	transitions := make(chan bool, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			closed, err := s.CloseSession(ctx, "s1")
			assert.NoError(t, err)
			transitions <- closed
		}()
	}
	wg.Wait()
	close(transitions)

	got := 0
	for closed := range transitions {
		if closed {
			got++
		}
	}
	assert.Equal(t, 1, got, "exactly one caller performs the transition")
}

func TestImportContacts_Dedupe(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created, err := s.ImportContacts(ctx, []core.Contact{
		{Name: "Maria", Phone: "5511912345678"},
		{Name: "Joao", Phone: "5521998765432"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	// Same phone again, different name: not created.
	created, err = s.ImportContacts(ctx, []core.Contact{
		{Name: "Maria Silva", Phone: "5511912345678"},
		{Name: "Ana", Phone: "5531955554444"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	created, err = s.ImportContacts(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, created)

	contacts, err := s.ListContacts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, contacts, 3)
	for _, c := range contacts {
		assert.NotEmpty(t, c.ID)
	}
}

func seedCampaign(t *testing.T, s *core.Store, n int) (string, []string) {
	t.Helper()
	recipients := make([]core.NewRecipient, 0, n)
	for i := 0; i < n; i++ {
		recipients = append(recipients, core.NewRecipient{
			Phone:   fmt.Sprintf("55119%08d", i),
			Message: "oi",
			Variant: core.VariantA,
		})
	}
	campaignID, recipientIDs, err := s.CreateCampaign(context.Background(), core.Campaign{
		Name:            "promo",
		MessageTemplate: "oi {nome}",
		Speed:           30,
	}, recipients)
	require.NoError(t, err)
	require.Len(t, recipientIDs, n)
	return campaignID, recipientIDs
}

func TestCreateCampaign(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, _, err := s.CreateCampaign(ctx, core.Campaign{Name: "empty"}, nil)
	require.ErrorIs(t, err, core.ErrValidation)

	campaignID, recipientIDs := seedCampaign(t, s, 3)

	c, err := s.GetCampaign(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, core.CampaignPending, c.Status)
	assert.Equal(t, 3, c.TotalContacts)
	assert.Zero(t, c.SentCount)

	rec, err := s.GetRecipient(ctx, recipientIDs[0])
	require.NoError(t, err)
	assert.Equal(t, campaignID, rec.CampaignID)
	assert.Equal(t, core.RecipientPending, rec.Status)

	_, err = s.GetRecipient(ctx, "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, core.ErrNotFound)

	list, err := s.ListCampaigns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, campaignID, list[0].ID)
}

func TestCampaignTotals(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	campaignID, recipientIDs := seedCampaign(t, s, 3)

	for _, rid := range recipientIDs[:2] {
		transitioned, err := s.MarkRecipientSent(ctx, rid)
		require.NoError(t, err)
		assert.True(t, transitioned)
	}

	totals, err := s.CampaignTotals(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, core.Totals{Total: 3, Sent: 2, Pending: 1, Failed: 0}, totals)

	c, err := s.GetCampaign(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.SentCount)
	assert.Equal(t, core.CampaignSending, c.Status)
}

func TestMarkRecipientSent_ConcurrentMonotonic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	campaignID, recipientIDs := seedCampaign(t, s, 1)
	rid := recipientIDs[0]

	const callers = 8
	var wg sync.WaitGroup
	transitions := make(chan bool, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			transitioned, err := s.MarkRecipientSent(ctx, rid)
			assert.NoError(t, err)
			transitions <- transitioned
		}()
	}
	wg.Wait()
	close(transitions)

	got := 0
	for transitioned := range transitions {
		if transitioned {
			got++
		}
	}
	assert.Equal(t, 1, got)

	c, err := s.GetCampaign(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, 1, c.SentCount, "counter bumps once no matter how many redeliveries")
}

func TestMarkRecipientFailed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, recipientIDs := seedCampaign(t, s, 1)
	rid := recipientIDs[0]

	transitioned, err := s.MarkRecipientFailed(ctx, rid)
	require.NoError(t, err)
	assert.True(t, transitioned)

	// FAILED is terminal; neither failed nor sent applies again.
	transitioned, err = s.MarkRecipientFailed(ctx, rid)
	require.NoError(t, err)
	assert.False(t, transitioned)

	transitioned, err = s.MarkRecipientSent(ctx, rid)
	require.NoError(t, err)
	assert.False(t, transitioned)
}

func TestMaybeCompleteCampaign(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	campaignID, recipientIDs := seedCampaign(t, s, 2)

	_, err := s.MarkRecipientSent(ctx, recipientIDs[0])
	require.NoError(t, err)
	require.NoError(t, s.MaybeCompleteCampaign(ctx, campaignID))

	c, err := s.GetCampaign(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, core.CampaignSending, c.Status, "one recipient still pending")

	_, err = s.MarkRecipientSent(ctx, recipientIDs[1])
	require.NoError(t, err)
	require.NoError(t, s.MaybeCompleteCampaign(ctx, campaignID))

	c, err = s.GetCampaign(ctx, campaignID)
	require.NoError(t, err)
	assert.Equal(t, core.CampaignCompleted, c.Status)
}

func TestMessagesAudit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created, err := s.ImportContacts(ctx, []core.Contact{{Name: "Maria", Phone: "5511912345678"}})
	require.NoError(t, err)
	require.Equal(t, 1, created)
	contacts, err := s.ListContacts(ctx, 1, 0)
	require.NoError(t, err)

	id, err := s.InsertMessage(ctx, core.Message{
		ContactID:      &contacts[0].ID,
		Body:           "oi",
		Status:         core.RecipientSent,
		ProviderResult: strPtr("prov-1"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Failure rows land in the same audit table.
	_, err = s.InsertMessage(ctx, core.Message{Body: "oi", Status: core.RecipientFailed})
	require.NoError(t, err)

	n, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
