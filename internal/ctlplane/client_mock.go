package ctlplane

import (
	"github.com/stretchr/testify/mock"

	"grimm.is/brcompat/internal/compat"
)

// MockControlPlaneClient is a testify mock of ControlPlaneClient.
type MockControlPlaneClient struct {
	mock.Mock
}

var _ ControlPlaneClient = (*MockControlPlaneClient)(nil)

func (m *MockControlPlaneClient) Dispatch(call compat.Call) (compat.Result, error) {
	args := m.Called(call)
	return args.Get(0).(compat.Result), args.Error(1)
}

func (m *MockControlPlaneClient) AddBridge(name string) error {
	return m.Called(name).Error(0)
}

func (m *MockControlPlaneClient) DelBridge(name string) error {
	return m.Called(name).Error(0)
}

func (m *MockControlPlaneClient) AddPort(bridge string, ifindex int) error {
	return m.Called(bridge, ifindex).Error(0)
}

func (m *MockControlPlaneClient) DelPort(bridge string, ifindex int) error {
	return m.Called(bridge, ifindex).Error(0)
}

func (m *MockControlPlaneClient) Bridges(max int) ([]int32, error) {
	args := m.Called(max)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int32), args.Error(1)
}

func (m *MockControlPlaneClient) Ports(bridge string, max int) ([]int32, error) {
	args := m.Called(bridge, max)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int32), args.Error(1)
}

func (m *MockControlPlaneClient) BridgeInfo(bridge string) (compat.Result, error) {
	args := m.Called(bridge)
	return args.Get(0).(compat.Result), args.Error(1)
}

func (m *MockControlPlaneClient) FDB(bridge string, max, offset uint64) (compat.Result, error) {
	args := m.Called(bridge, max, offset)
	return args.Get(0).(compat.Result), args.Error(1)
}

func (m *MockControlPlaneClient) Names(indices []int32) (map[int32]string, error) {
	args := m.Called(indices)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int32]string), args.Error(1)
}

func (m *MockControlPlaneClient) Diagnostics() ([]compat.DiagnosticEntry, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]compat.DiagnosticEntry), args.Error(1)
}

func (m *MockControlPlaneClient) Status() (*Status, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Status), args.Error(1)
}

func (m *MockControlPlaneClient) Close() error {
	return m.Called().Error(0)
}
