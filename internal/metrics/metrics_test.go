// ABOUTME: Tests for the metrics recording helpers
// ABOUTME: Reads counter values back with prometheus testutil

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordNotification_Outcomes(t *testing.T) {
	okBefore := testutil.ToFloat64(Notifications.WithLabelValues("test", "ok"))
	errBefore := testutil.ToFloat64(Notifications.WithLabelValues("test", "error"))

	RecordNotification("test", nil)
	RecordNotification("test", errors.New("boom"))
	RecordNotification("test", nil)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(Notifications.WithLabelValues("test", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(Notifications.WithLabelValues("test", "error")))
}

func TestRecordTransition_IgnoresSameState(t *testing.T) {
	before := testutil.ToFloat64(StateTransitions.WithLabelValues("OPEN", "OPEN"))
	RecordTransition("OPEN", "OPEN")
	assert.Equal(t, before, testutil.ToFloat64(StateTransitions.WithLabelValues("OPEN", "OPEN")))

	before = testutil.ToFloat64(StateTransitions.WithLabelValues("OPEN", "CLOSED"))
	RecordTransition("OPEN", "CLOSED")
	assert.Equal(t, before+1, testutil.ToFloat64(StateTransitions.WithLabelValues("OPEN", "CLOSED")))
}
