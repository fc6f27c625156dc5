package observability

// NopRecorder drops every count. It stands in when no MonitoringManager is wired.
type NopRecorder struct{}

func (NopRecorder) IncrAppended()       {}
func (NopRecorder) IncrRingEvictions()  {}
func (NopRecorder) IncrLockTimeouts()   {}
func (NopRecorder) AddSkipped(uint64)   {}
func (NopRecorder) IncrClientsEvicted() {}
