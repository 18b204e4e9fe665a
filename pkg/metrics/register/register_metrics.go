package register

import (
	// Pull in the selection-cycle metrics collector.
	_ "github.com/clusterctl/nodeselect/pkg/metrics/selection"
)
