// Engine packages assert with testify; see handlers/helpers_test.go for the
// split with the plain-testing HTTP packages.
package registry

import (
	"github.com/crucial707/chaos-scheduler/internal/metrics"
	"github.com/crucial707/chaos-scheduler/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testutilCounter(status models.TargetStatus) float64 {
	return testutil.ToFloat64(metrics.TargetStatusChanges.WithLabelValues(string(status)))
}
