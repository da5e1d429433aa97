package event

// CloseReason tells a closing partition processor why its lease ended.
//
// This lives here, rather than in internal/host where it is consumed,
// because the pipeline packages that implement PartitionProcessor.Close
// (internal/capipe, internal/espipe) need the type, and internal/host's
// adapter.go imports those same packages to build its factories; event is
// already a shared leaf dependency of all three.
type CloseReason int

const (
	// ReasonShutdown is a clean stop; the processor issues an unconditional
	// checkpoint before returning.
	ReasonShutdown CloseReason = iota

	// ReasonLeaseLost means another host took the partition. The processor
	// must not checkpoint.
	ReasonLeaseLost

	// ReasonFailure is an abnormal close. The processor must not checkpoint.
	ReasonFailure
)

func (r CloseReason) String() string {
	switch r {
	case ReasonShutdown:
		return "shutdown"
	case ReasonLeaseLost:
		return "lease_lost"
	default:
		return "failure"
	}
}
