package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		101: "1xx",
		200: "2xx",
		302: "3xx",
		404: "4xx",
		502: "5xx",
		0:   "unknown",
	}
	for status, want := range tests {
		assert.Equal(t, want, statusClass(status))
	}
}

func TestSessionGauge(t *testing.T) {
	before := testutil.ToFloat64(sessionsActive.WithLabelValues(KindExec))
	SessionOpened(KindExec)
	SessionOpened(KindExec)
	SessionClosed(KindExec)
	assert.Equal(t, before+1, testutil.ToFloat64(sessionsActive.WithLabelValues(KindExec)))
}

func TestHelperRunOutcome(t *testing.T) {
	ok := testutil.ToFloat64(helperRunsTotal.WithLabelValues("ls", "ok"))
	failed := testutil.ToFloat64(helperRunsTotal.WithLabelValues("ls", "error"))

	HelperRun("ls", nil)
	HelperRun("ls", errors.New("exit 2"))

	assert.Equal(t, ok+1, testutil.ToFloat64(helperRunsTotal.WithLabelValues("ls", "ok")))
	assert.Equal(t, failed+1, testutil.ToFloat64(helperRunsTotal.WithLabelValues("ls", "error")))
}
