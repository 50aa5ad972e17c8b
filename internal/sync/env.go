package sync

// NetworkState is the tri-state reachability signal consumed by the
// orchestrator. Only NetworkAvailable permits syncing.
type NetworkState int

const (
	NetworkAvailable NetworkState = iota
	NetworkConstrained
	NetworkUnavailable
)

func (s NetworkState) String() string {
	switch s {
	case NetworkAvailable:
		return "available"
	case NetworkConstrained:
		return "constrained"
	case NetworkUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Environment reports the device conditions that throttle or suspend
// automatic syncing. Implementations must be safe for concurrent use.
type Environment interface {
	// Network returns the current reachability state.
	Network() NetworkState
	// BatteryLow reports a critically low battery. Syncs are skipped entirely.
	BatteryLow() bool
	// BatteryOptimized reports that the device is conserving power.
	// Heartbeats stretch but syncs still run.
	BatteryOptimized() bool
	// MemoryPressure reports high memory pressure. Heartbeats stretch.
	MemoryPressure() bool
}

// StaticEnvironment is an Environment with fixed answers. The zero value
// reports an unconstrained device on an available network.
type StaticEnvironment struct {
	Net       NetworkState
	LowBatt   bool
	OptBatt   bool
	MemStrain bool
}

func (s *StaticEnvironment) Network() NetworkState  { return s.Net }
func (s *StaticEnvironment) BatteryLow() bool       { return s.LowBatt }
func (s *StaticEnvironment) BatteryOptimized() bool { return s.OptBatt }
func (s *StaticEnvironment) MemoryPressure() bool   { return s.MemStrain }
