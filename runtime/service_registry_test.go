package runtime

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockService struct {
	status  error
	stopped bool
}

func (m *mockService) Start()        {}
func (m *mockService) Stop() error   { m.stopped = true; return nil }
func (m *mockService) Status() error { return m.status }

type secondMockService struct {
	mockService
}

func TestRegisterServiceTwiceFails(t *testing.T) {
	registry := NewServiceRegistry()
	require.NoError(t, registry.RegisterService(&mockService{}))
	assert.Error(t, registry.RegisterService(&mockService{}))
}

func TestStopAllReachesEveryService(t *testing.T) {
	registry := NewServiceRegistry()
	first := &mockService{}
	second := &secondMockService{}
	require.NoError(t, registry.RegisterService(first))
	require.NoError(t, registry.RegisterService(second))

	registry.StopAll()
	assert.True(t, first.stopped)
	assert.True(t, second.stopped)
}

func TestStatuses(t *testing.T) {
	registry := NewServiceRegistry()
	healthy := &mockService{}
	failing := &secondMockService{}
	failing.status = errors.New("adapter disconnected")
	require.NoError(t, registry.RegisterService(healthy))
	require.NoError(t, registry.RegisterService(failing))

	statuses := registry.Statuses()
	require.Len(t, statuses, 2)
	errCount := 0
	for _, err := range statuses {
		if err != nil {
			errCount++
		}
	}
	assert.Equal(t, 1, errCount)
}

func TestFetchService(t *testing.T) {
	registry := NewServiceRegistry()
	registered := &mockService{}
	require.NoError(t, registry.RegisterService(registered))

	var fetched *mockService
	require.NoError(t, registry.FetchService(&fetched))
	assert.Same(t, registered, fetched)

	var unknown *secondMockService
	assert.Error(t, registry.FetchService(&unknown))

	var notPointer mockService
	assert.Error(t, registry.FetchService(notPointer))
}
