package types

// Instance describes one reachable analytical engine instance.
type Instance struct {
	Name string `json:"name"`
	Port int    `json:"port"`
	PID  int    `json:"pid,omitempty"`
}

// Capability reports whether the native interop bridge is usable. It is
// produced by a single probe at process start and injected into the
// Connector's constructor, never read from ambient global state.
type Capability struct {
	Available bool
	Detail    string
}

// Connector is the external collaborator owning discovery and the live
// engine connection.
type Connector interface {
	DetectInstances() ([]Instance, error)
	Connect(index int) (Result, error)
	InstanceInfo() *Instance
}

// StateManager is the collaborator tracking connection state and owning the
// downstream manager initialization triggered after a successful connect.
type StateManager interface {
	IsConnected() bool
	SetConnectionManager(mgr Connector)
	InitializeManagers() error
}

// ReadinessPolicy guarantees an active connection before the first real call
// into the engine. EnsureConnected is idempotent once connected and runs the
// connect-and-initialize sequence at most once under concurrency.
type ReadinessPolicy interface {
	EnsureConnected() Result
	IsConnected() bool
}
