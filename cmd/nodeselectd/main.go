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

// Command nodeselectd runs the node-selection core as a standalone
// daemon: it exposes a prometheus metrics endpoint and a minimal JSON
// /select endpoint that runs one SelectNodes call against an
// in-memory cluster state. The state is empty unless -topology-file
// names a YAML snapshot (pkg/topology); the core itself writes no
// persistent state of its own (spec.md §6), so every restart starts
// from whatever snapshot the caller provides, or from nothing.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clusterctl/nodeselect/pkg/agentsubmit"
	"github.com/clusterctl/nodeselect/pkg/alloc"
	"github.com/clusterctl/nodeselect/pkg/cluster"
	"github.com/clusterctl/nodeselect/pkg/clusterstate"
	"github.com/clusterctl/nodeselect/pkg/config"
	"github.com/clusterctl/nodeselect/pkg/job"
	"github.com/clusterctl/nodeselect/pkg/licensing"
	"github.com/clusterctl/nodeselect/pkg/log"
	"github.com/clusterctl/nodeselect/pkg/metrics"
	_ "github.com/clusterctl/nodeselect/pkg/metrics/register"
	"github.com/clusterctl/nodeselect/pkg/oracle"
	_ "github.com/clusterctl/nodeselect/pkg/oracle/builtin"
	_ "github.com/clusterctl/nodeselect/pkg/oracle/topology"
	"github.com/clusterctl/nodeselect/pkg/partition"
	"github.com/clusterctl/nodeselect/pkg/reservation"
	"github.com/clusterctl/nodeselect/pkg/selectnodes"
	"github.com/clusterctl/nodeselect/pkg/telemetry"
	"github.com/clusterctl/nodeselect/pkg/topology"
	"github.com/clusterctl/nodeselect/pkg/version"
)

var logger = log.NewLogger("nodeselectd")

var (
	metricsAddr   = flag.String("metrics-listen", ":9102", "address to serve Prometheus metrics on")
	oracleName    = flag.String("oracle", "linear", "placement oracle backend to use")
	jaegerAddr    = flag.String("jaeger-agent", "", "Jaeger agent endpoint; empty disables tracing")
	fastSchedule  = flag.Bool("fast-schedule", true, "use configured rather than actual per-node counts")
	preemptEnable = flag.Bool("preempt", false, "enable preemption-aware placement")
	topologyFile  = flag.String("topology-file", "", "YAML topology snapshot to load at startup; empty starts with no nodes")
)

// loggingSubmitter is the daemon's stand-in agentsubmit.Submitter: the
// agent RPC wire protocol is out of scope (see pkg/agentsubmit's
// doc comment), so it just logs what would have been sent.
type loggingSubmitter struct{}

func (loggingSubmitter) Submit(msgType agentsubmit.MessageType, hosts []cluster.NodeIndex, payload interface{}) error {
	logger.Info("agent submit: type=%d hosts=%v payload=%v", msgType, hosts, payload)
	return nil
}

func main() {
	cfg := config.NewConfig("nodeselectd", "cluster batch workload node-selection core")
	flag.Parse()
	if err := cfg.ParseCmdline(); err != nil {
		logger.Fatal("failed to parse configuration: %v", err)
	}
	version.PrintVersionInfo()

	if *jaegerAddr != "" {
		if err := telemetry.Start(telemetry.Config{
			ServiceName:   "nodeselectd",
			AgentEndpoint: *jaegerAddr,
			Enabled:       true,
		}); err != nil {
			logger.Error("failed to start tracing: %v", err)
		}
		defer telemetry.Stop()
	}

	orc, err := oracle.New(*oracleName, oracle.Options{})
	if err != nil {
		logger.Fatal("failed to create oracle backend %q: %v", *oracleName, err)
	}

	state := clusterstate.New()
	partitions := map[string]*partition.Partition{}
	if *topologyFile != "" {
		raw, err := os.ReadFile(*topologyFile)
		if err != nil {
			logger.Fatal("failed to read topology file %q: %v", *topologyFile, err)
		}
		state, partitions, err = topology.Load(raw)
		if err != nil {
			logger.Fatal("failed to load topology file %q: %v", *topologyFile, err)
		}
		logger.Info("loaded topology: %d node(s), %d partition(s)", len(state.Nodes), len(partitions))
	} else {
		logger.Warn("no -topology-file given, starting with an empty cluster")
	}

	controller := &selectnodes.Controller{
		State:          state,
		Partitions:     partitions,
		Jobs:           map[job.ID]*job.Job{},
		Prober:         reservation.AlwaysUsable{All: state.All},
		Oracle:         orc,
		FastSchedule:   *fastSchedule,
		PreemptEnabled: *preemptEnable,
		Alloc: &alloc.Driver{
			State:     state,
			Oracle:    orc,
			Licenses:  licensing.NoOp{},
			Submitter: loggingSubmitter{},
		},
	}

	gatherer, err := metrics.NewMetricGatherer()
	if err != nil {
		logger.Fatal("failed to set up metrics: %v", err)
	}
	http.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	http.Handle("/select", selectHandler(controller))
	logger.Info("serving metrics on %s, node selection on %s/select", *metricsAddr, *metricsAddr)
	if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
		logger.Fatal("metrics server failed: %v", err)
	}
}

// selectRequest is the /select endpoint's request body. It covers only
// the job fields a caller needs to drive a placement decision; richer
// fields (feature expressions, required/excluded nodes) are reachable
// through the Controller API directly by embedders that link this
// package in-process rather than over HTTP.
type selectRequest struct {
	JobID          int    `json:"jobId"`
	Partition      string `json:"partition"`
	MinNodes       int    `json:"minNodes"`
	MaxNodes       int    `json:"maxNodes"`
	ReqNodes       int    `json:"reqNodes"`
	MinCPUsPerNode int    `json:"minCpusPerNode"`
	TestOnly       bool   `json:"testOnly"`
}

type selectResponse struct {
	Selected []int  `json:"selected,omitempty"`
	Error    string `json:"error,omitempty"`
}

// selectHandler adapts one HTTP POST to one controller.SelectNodes
// call; the daemon's only production call site for it.
func selectHandler(controller *selectnodes.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		var req selectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		part := req.Partition
		if part == "" {
			part = "default"
		}
		j := &job.Job{
			ID:             job.ID(req.JobID),
			Partition:      part,
			MinNodes:       req.MinNodes,
			MaxNodes:       req.MaxNodes,
			ReqNodes:       req.ReqNodes,
			MinCPUsPerNode: req.MinCPUsPerNode,
		}

		res, err := controller.SelectNodes(r.Context(), j, req.TestOnly)

		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(selectResponse{Error: err.Error()})
			return
		}
		json.NewEncoder(w).Encode(selectResponse{Selected: res.Selected.List()})
	}
}
