package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// DirectionSample is the per-direction view exposed next to the event
// counters. It mirrors the relay's direction status without importing it.
type DirectionSample struct {
	Listen             string
	Target             string
	State              string
	DatagramsReceived  uint64
	DatagramsForwarded uint64
	BytesForwarded     uint64
}

// DirectionSource returns the directions to expose on each scrape.
type DirectionSource func() []DirectionSample

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format.
//
// Event counters share one metric with an `event` label. When directions is
// non-nil, every scrape also reports one series per running direction,
// labelled by its listen and target endpoints.
func PrometheusHandler(m *Metrics, directions DirectionSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		writeEvents(w, m.Snapshot())
		if directions != nil {
			writeDirections(w, directions())
		}
	})
}

func writeEvents(w io.Writer, snap map[string]uint64) {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	_, _ = fmt.Fprintln(w, "# HELP udp_relay_events_total Relay event counters.")
	_, _ = fmt.Fprintln(w, "# TYPE udp_relay_events_total counter")
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "udp_relay_events_total{event=\"%s\"} %d\n", labelEscaper.Replace(k), snap[k])
	}
}

func writeDirections(w io.Writer, dirs []DirectionSample) {
	_, _ = fmt.Fprintln(w, "# HELP udp_relay_directions Directions started since the last stop.")
	_, _ = fmt.Fprintln(w, "# TYPE udp_relay_directions gauge")
	_, _ = fmt.Fprintf(w, "udp_relay_directions %d\n", len(dirs))

	series := []struct {
		name, help string
		value      func(DirectionSample) uint64
	}{
		{"udp_relay_direction_datagrams_received_total", "Datagrams received on the listen endpoint.", func(d DirectionSample) uint64 { return d.DatagramsReceived }},
		{"udp_relay_direction_datagrams_forwarded_total", "Datagrams forwarded to the target endpoint.", func(d DirectionSample) uint64 { return d.DatagramsForwarded }},
		{"udp_relay_direction_bytes_forwarded_total", "Payload bytes forwarded to the target endpoint.", func(d DirectionSample) uint64 { return d.BytesForwarded }},
	}
	for _, s := range series {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", s.name, s.help)
		_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", s.name)
		for _, d := range dirs {
			_, _ = fmt.Fprintf(w, "%s{%s} %d\n", s.name, directionLabels(d), s.value(d))
		}
	}

	_, _ = fmt.Fprintln(w, "# HELP udp_relay_direction_state Current loop state (1 for the active state).")
	_, _ = fmt.Fprintln(w, "# TYPE udp_relay_direction_state gauge")
	for _, d := range dirs {
		_, _ = fmt.Fprintf(w, "udp_relay_direction_state{%s,state=\"%s\"} 1\n", directionLabels(d), labelEscaper.Replace(d.State))
	}
}

func directionLabels(d DirectionSample) string {
	return fmt.Sprintf("listen=\"%s\",target=\"%s\"", labelEscaper.Replace(d.Listen), labelEscaper.Replace(d.Target))
}
