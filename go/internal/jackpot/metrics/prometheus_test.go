package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/jackpot/go/internal/jackpot/metrics"
)

var _ metrics.Collector = (*metrics.Prometheus)(nil)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheusExposesRecordedValues(t *testing.T) {
	m := metrics.NewPrometheus()

	m.RecordPoll(metrics.PollApplied, 20*time.Millisecond)
	m.RecordPoll(metrics.PollApplied, 30*time.Millisecond)
	m.RecordPoll(metrics.PollFailed, time.Second)
	m.RecordRefresh("ledger", true, 10*time.Millisecond)
	m.RecordRefresh("payouts", false, 10*time.Millisecond)
	m.RecordNotification("Deposit")
	m.RecordDecodeSkip("WinnersPaid")
	m.RecordExtension()
	m.RecordExtension()
	m.RecordAction("deposit", "confirmed")
	m.RecordViewClients(3)

	body := scrape(t, m.Handler())

	for _, line := range []string{
		`jackpot_polls_total{result="applied"} 2`,
		`jackpot_polls_total{result="failed"} 1`,
		`jackpot_refreshes_total{kind="ledger",status="success"} 1`,
		`jackpot_refreshes_total{kind="payouts",status="failure"} 1`,
		`jackpot_refresh_duration_seconds_count{kind="ledger"} 1`,
		`jackpot_notifications_total{event="Deposit"} 1`,
		`jackpot_event_decode_skips_total{event="WinnersPaid"} 1`,
		`jackpot_round_extensions_total 2`,
		`jackpot_actions_total{action="deposit",result="confirmed"} 1`,
		`jackpot_view_clients 3`,
	} {
		assert.Contains(t, body, line)
	}
	// failed polls are counted but their latency is not observed
	assert.Contains(t, body, "jackpot_poll_duration_seconds_count 2")
}

func TestPrometheusGaugeTracksLatestCount(t *testing.T) {
	m := metrics.NewPrometheus()
	m.RecordViewClients(5)
	m.RecordViewClients(1)

	body := scrape(t, m.Handler())
	assert.Contains(t, body, "jackpot_view_clients 1")
	assert.NotContains(t, body, "jackpot_view_clients 5")
}

func TestPrometheusRegistriesAreIndependent(t *testing.T) {
	a, b := metrics.NewPrometheus(), metrics.NewPrometheus()
	a.RecordExtension()

	assert.Contains(t, scrape(t, a.Handler()), "jackpot_round_extensions_total 1")
	assert.Contains(t, scrape(t, b.Handler()), "jackpot_round_extensions_total 0")
}

func TestOrNoOp(t *testing.T) {
	assert.Equal(t, metrics.NoOp{}, metrics.OrNoOp(nil))
	m := metrics.NewPrometheus()
	assert.Same(t, m, metrics.OrNoOp(m))
}
