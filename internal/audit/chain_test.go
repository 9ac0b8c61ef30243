package audit

import (
	"context"
	"testing"
	"time"

	id "aegis/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ChainsSequentially(t *testing.T) {
	store := NewMemoryStore()
	tenant := id.NewTenantID()
	user := id.NewUserID()

	first, err := store.Append(context.Background(), Event{
		TenantID:  tenant,
		UserID:    user,
		EventType: EventLoginSuccess,
		Action:    "login",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, chainHash(genesisChainHash, first.EventHash), first.ChainHash)

	second, err := store.Append(context.Background(), Event{
		TenantID:  tenant,
		UserID:    user,
		EventType: EventSessionCreated,
		Action:    "session_created",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, chainHash(first.ChainHash, second.EventHash), second.ChainHash)

	seq, head, err := store.ChainHead(context.Background(), tenant)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
	assert.Equal(t, second.ChainHash, head)
}

func TestMemoryStore_TenantsHaveIndependentChains(t *testing.T) {
	store := NewMemoryStore()
	tenantA := id.NewTenantID()
	tenantB := id.NewTenantID()

	_, err := store.Append(context.Background(), Event{TenantID: tenantA, EventType: EventLoginSuccess, Timestamp: time.Now()})
	require.NoError(t, err)

	seqB, headB, err := store.ChainHead(context.Background(), tenantB)
	require.NoError(t, err)
	assert.Equal(t, int64(0), seqB)
	assert.Equal(t, genesisChainHash, headB)
}

func TestVerifyChain_DetectsNoTamperingOnIntactChain(t *testing.T) {
	store := NewMemoryStore()
	tenant := id.NewTenantID()

	for i := 0; i < 5; i++ {
		_, err := store.Append(context.Background(), Event{
			TenantID:  tenant,
			EventType: EventSessionCreated,
			Action:    "session_created",
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	report, err := VerifyChain(context.Background(), store, tenant)
	require.NoError(t, err)
	assert.False(t, report.Tampered())
	assert.EqualValues(t, 5, report.EventsChecked)
}

func TestVerifyChain_FlagsTamperedEvent(t *testing.T) {
	store := NewMemoryStore()
	tenant := id.NewTenantID()

	for i := 0; i < 3; i++ {
		_, err := store.Append(context.Background(), Event{
			TenantID:  tenant,
			EventType: EventSessionCreated,
			Action:    "session_created",
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	// Tamper with the middle event's action after the fact, simulating
	// an out-of-band write that bypasses Append.
	store.byTenant[tenant][1].Action = "session_created_tampered"

	report, err := VerifyChain(context.Background(), store, tenant)
	require.NoError(t, err)
	require.True(t, report.Tampered())
	assert.EqualValues(t, 2, *report.BrokenAt)
}

func TestEventType_Category(t *testing.T) {
	assert.Equal(t, CategorySecurity, EventLoginFailed.Category())
	assert.Equal(t, CategoryCompliance, EventUserSoftDeleted.Category())
	assert.Equal(t, CategoryOperations, EventType("UNKNOWN_EVENT").Category())
}

func TestRetentionFor(t *testing.T) {
	assert.Equal(t, 90*24*time.Hour, RetentionFor(EventLoginSuccess))
	assert.Equal(t, 2555*24*time.Hour, RetentionFor(EventSecurityViolation))
	assert.Equal(t, 365*24*time.Hour, RetentionFor(EventType("UNKNOWN_EVENT")))
}
