// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry wraps each selection call in an opencensus trace
// span, exported via Jaeger, so a slow accumulate-and-probe loop is
// diagnosable in traces. Replaces the teacher's pkg/instrumentation
// with a smaller, internally consistent package covering the same
// concern for this module's single entry point.
package telemetry

import (
	"context"

	"contrib.go.opencensus.io/exporter/jaeger"
	"go.opencensus.io/trace"

	"github.com/clusterctl/nodeselect/pkg/log"
)

var logger = log.NewLogger("telemetry")

// Config configures the Jaeger exporter.
type Config struct {
	ServiceName   string
	AgentEndpoint string
	Enabled       bool
}

var activeExporter *jaeger.Exporter

// Start registers the Jaeger exporter and sets the default sampler to
// always-sample, matching the teacher's tracing-everything-by-default
// posture for a control-plane service with low call volume. Call
// Stop to flush and unregister.
func Start(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	exporter, err := jaeger.NewExporter(jaeger.Options{
		AgentEndpoint: cfg.AgentEndpoint,
		ServiceName:   cfg.ServiceName,
	})
	if err != nil {
		return err
	}
	trace.RegisterExporter(exporter)
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	activeExporter = exporter
	logger.Info("tracing enabled, exporting to %s", cfg.AgentEndpoint)
	return nil
}

// Stop flushes and unregisters the exporter, if one was started.
func Stop() {
	if activeExporter == nil {
		return
	}
	trace.UnregisterExporter(activeExporter)
	activeExporter.Flush()
	activeExporter = nil
}

// StartSpan starts a span named name, the wrapper every SelectNodes
// call uses around C1-C8.
func StartSpan(ctx context.Context, name string) (context.Context, *trace.Span) {
	return trace.StartSpan(ctx, name)
}
