package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	id "aegis/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	fail bool
	got  []Event
}

func (s *recordingSink) Notify(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.got = append(s.got, e)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestService_Record_PersistsBeforeNotifying(t *testing.T) {
	store := NewMemoryStore()
	sink := &recordingSink{}
	svc := NewService(store, WithAlertSink(sink))

	tenant := id.NewTenantID()
	stored, err := svc.Record(context.Background(), Event{
		TenantID:  tenant,
		EventType: EventLoginFailed, // security category
		Action:    "login_failed",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Sequence)

	assert.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestService_Record_NonSecurityEventsSkipSink(t *testing.T) {
	store := NewMemoryStore()
	sink := &recordingSink{}
	svc := NewService(store, WithAlertSink(sink))

	_, err := svc.Record(context.Background(), Event{
		TenantID:  id.NewTenantID(),
		EventType: EventSessionCreated, // operations category
		Action:    "session_created",
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

func TestService_Record_AlwaysSurfacesStoreFailure(t *testing.T) {
	svc := NewService(failingStore{})
	_, err := svc.Record(context.Background(), Event{TenantID: id.NewTenantID(), EventType: EventUserSoftDeleted})
	assert.Error(t, err)
}

type failingStore struct{ Store }

func (failingStore) Append(context.Context, Event) (Event, error) {
	return Event{}, errors.New("disk full")
}
