package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetTaskCountsResets(t *testing.T) {
	SetTaskCounts(map[string]int{"queued": 3, "processing": 1})
	assert.Equal(t, 3.0, testutil.ToFloat64(tasksByStatus.WithLabelValues("queued")))

	SetTaskCounts(map[string]int{"completed": 4})
	assert.Equal(t, 1, testutil.CollectAndCount(tasksByStatus))
	assert.Equal(t, 4.0, testutil.ToFloat64(tasksByStatus.WithLabelValues("completed")))
}

func TestRecordEngineLoad(t *testing.T) {
	before := testutil.ToFloat64(engineLoads.WithLabelValues("ffmpeg", "failure"))
	RecordEngineLoad("ffmpeg", false)
	assert.Equal(t, before+1, testutil.ToFloat64(engineLoads.WithLabelValues("ffmpeg", "failure")))

	SetEngineReady(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(engineReady))
	SetEngineReady(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(engineReady))
}
