// Source: internal/audit/service.go (interfaces: AlertSink)
//
// Hand-authored in the go.uber.org/mock generated idiom so
// internal/audit's circuit-breaker/best-effort fan-out path can be
// exercised without a live Kafka broker.

package auditmock

import (
	"context"
	"reflect"

	"aegis/internal/audit"

	"go.uber.org/mock/gomock"
)

// MockAlertSink is a mock of the AlertSink interface.
type MockAlertSink struct {
	ctrl     *gomock.Controller
	recorder *MockAlertSinkMockRecorder
}

// MockAlertSinkMockRecorder is the mock recorder for MockAlertSink.
type MockAlertSinkMockRecorder struct {
	mock *MockAlertSink
}

// NewMockAlertSink creates a new mock instance.
func NewMockAlertSink(ctrl *gomock.Controller) *MockAlertSink {
	mock := &MockAlertSink{ctrl: ctrl}
	mock.recorder = &MockAlertSinkMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockAlertSink) EXPECT() *MockAlertSinkMockRecorder {
	return m.recorder
}

// Notify mocks base method.
func (m *MockAlertSink) Notify(ctx context.Context, e audit.Event) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Notify", ctx, e)
	ret0, _ := ret[0].(error)
	return ret0
}

// Notify indicates an expected call of Notify.
func (mr *MockAlertSinkMockRecorder) Notify(ctx, e any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Notify", reflect.TypeOf((*MockAlertSink)(nil).Notify), ctx, e)
}
