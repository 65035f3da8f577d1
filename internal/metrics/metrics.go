package metrics

import "sync"

// Relay event names.
const (
	RelayLoopsStarted       = "relay_loops_started"
	RelayLoopsStopped       = "relay_loops_stopped"
	RelayLoopsFailed        = "relay_loops_failed"
	RelayStopTimeouts       = "relay_stop_timeouts"
	RelayDatagramsReceived  = "relay_datagrams_received"
	RelayDatagramsForwarded = "relay_datagrams_forwarded"
	RelayBytesForwarded     = "relay_bytes_forwarded"
	RelayPeerUnreachable    = "relay_peer_unreachable"

	OneShotSends           = "oneshot_sends"
	OneShotSendErrors      = "oneshot_send_errors"
	OneShotReceives        = "oneshot_receives"
	OneShotReceiveTimeouts = "oneshot_receive_timeouts"
	OneShotReceiveFiltered = "oneshot_receive_filtered"

	LogStreamConnections = "log_stream_connections"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The zero value is ready to use. All methods are safe to call on a nil
// *Metrics, which discards updates and reads as zero.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
