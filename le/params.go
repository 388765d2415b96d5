package le

// Connection parameter limits [Vol 4, Part E, 7.8.12].
const (
	connIntervalMin       = 0x0006
	connIntervalMax       = 0x0C80
	connLatencyMax        = 0x01F3
	supervisionTimeoutMin = 0x000A
	supervisionTimeoutMax = 0x0C80
)

// Initiation scan tiers. Suspend keeps the radio nearly idle, fast covers a
// pending direct connect, slow is the background duty cycle.
const (
	scanIntervalFast    = 0x0060
	scanWindowFast      = 0x0030
	scanIntervalSlow    = 0x0800
	scanWindowSlow      = 0x0030
	scanIntervalSuspend = 0x0400
	scanWindowSuspend   = 0x0012
)

// Default connection parameters requested when initiating.
const (
	defaultConnIntervalMin    = 0x0018
	defaultConnIntervalMax    = 0x0028
	defaultConnLatency        = 0x0000
	defaultSupervisionTimeout = 0x01F4
)

// ValidConnectionParameters checks a parameter set against the allowed
// ranges. The supervision timeout must be longer than twice the effective
// connection interval including latency, otherwise the link would drop
// before a single missed exchange is noticed. Interval units are 1.25 ms,
// timeout units 10 ms; the comparison below is the same inequality scaled
// to integers.
func ValidConnectionParameters(intervalMin, intervalMax, latency, timeout uint16) bool {
	if intervalMin < connIntervalMin || intervalMin > connIntervalMax {
		return false
	}
	if intervalMax < connIntervalMin || intervalMax > connIntervalMax {
		return false
	}
	if intervalMin > intervalMax {
		return false
	}
	if latency > connLatencyMax {
		return false
	}
	if timeout < supervisionTimeoutMin || timeout > supervisionTimeoutMax {
		return false
	}
	if uint32(timeout)*4 <= (1+uint32(latency))*uint32(intervalMax) {
		return false
	}
	return true
}
