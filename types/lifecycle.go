package types

// LifecycleState is the canonical lifecycle state shared by EC2 and RDS
// resources. Derived from provider state strings on every describe call,
// never persisted.
type LifecycleState string

const (
	StateRunning    LifecycleState = "running"
	StateStopped    LifecycleState = "stopped"
	StateStarting   LifecycleState = "starting"
	StateStopping   LifecycleState = "stopping"
	StateTerminated LifecycleState = "terminated"
	StateUnknown    LifecycleState = "unknown"
	StateError      LifecycleState = "error"
)

// Transitional reports whether the state is expected to settle on its own.
func (s LifecycleState) Transitional() bool {
	return s == StateStarting || s == StateStopping
}
