package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.PulseRelayed(3)
	m.PulseDropped("not_owner")
	m.QueueMutation("insert", nil)
	m.ZeroRowBulkWrite("update_room")
	m.ChannelOpened()
	m.ChannelClosed()
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.PulseRelayed(2)
	m.PulseDropped("not_owner")
	m.QueueMutation("delete", errors.New("boom"))
	m.ZeroRowBulkWrite("update_room")
	m.ChannelOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"tunr_pulses_relayed_total 1",
		`tunr_pulses_dropped_total{reason="not_owner"} 1`,
		`tunr_queue_mutations_total{op="delete",outcome="error"} 1`,
		`tunr_zero_row_bulk_writes_total{op="update_room"} 1`,
		"tunr_sync_channels_open 1",
		"tunr_pulse_fanout_count 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
