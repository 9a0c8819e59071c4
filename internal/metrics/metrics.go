// Package metrics implements the ambient observability surface:
// Prometheus collectors for per-source signal/worker state plus host
// CPU/memory gauges, registered once at startup. Only the host gauges
// are updated, by RunHostSampler; no package in this module sets the
// per-source collectors.
//
// Built around promauto-registered GaugeVecs keyed by band/source and
// process-wide counters, plus gopsutil for host CPU/memory stats.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Registry holds every collector the ground-station server exposes.
// One instance is built at startup and shared by every package that
// reports metrics.
type Registry struct {
	ActiveSources     prometheus.Gauge
	ActiveSessions    prometheus.Gauge
	ActiveVFOs        *prometheus.GaugeVec // by source
	RFPowerDBFS       *prometheus.GaugeVec // by source, vfo
	SquelchOpen       *prometheus.GaugeVec // by source, vfo (1/0)
	BlocksProcessed   *prometheus.CounterVec // by source
	BlocksDropped     *prometheus.CounterVec // by source, stage
	PacketsDecoded    *prometheus.CounterVec // by source, decoder
	WSConnections     *prometheus.GaugeVec   // by kind (audio/spectrum)
	HostCPUPercent    prometheus.Gauge
	HostMemPercent    prometheus.Gauge
}

// NewRegistry constructs and registers every collector against the
// default Prometheus registry.
func NewRegistry() *Registry {
	return &Registry{
		ActiveSources: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "groundstation_active_sources_total",
			Help: "Number of source runtimes currently running.",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "groundstation_active_sessions_total",
			Help: "Number of attached client sessions.",
		}),
		ActiveVFOs: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "groundstation_active_vfos",
			Help: "Number of active VFOs per source.",
		}, []string{"source"}),
		RFPowerDBFS: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "groundstation_rf_power_dbfs",
			Help: "Most recent calibrated RF power estimate, in dBFS, per VFO.",
		}, []string{"source", "vfo"}),
		SquelchOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "groundstation_squelch_open",
			Help: "1 if the VFO's squelch gate is currently open, else 0.",
		}, []string{"source", "vfo"}),
		BlocksProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "groundstation_blocks_processed_total",
			Help: "IQ blocks published by a source worker.",
		}, []string{"source"}),
		BlocksDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "groundstation_blocks_dropped_total",
			Help: "IQ blocks dropped due to a full consumer queue.",
		}, []string{"source", "stage"}),
		PacketsDecoded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "groundstation_packets_decoded_total",
			Help: "Packets successfully decoded, by source and decoder family.",
		}, []string{"source", "decoder"}),
		WSConnections: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "groundstation_websocket_connections",
			Help: "Active WebSocket connections by kind.",
		}, []string{"kind"}),
		HostCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "groundstation_host_cpu_percent",
			Help: "Host CPU utilization percent, averaged across cores.",
		}),
		HostMemPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "groundstation_host_mem_percent",
			Help: "Host memory utilization percent.",
		}),
	}
}

// RunHostSampler polls gopsutil for host CPU/memory usage at the given
// interval until ctx is canceled, updating HostCPUPercent/
// HostMemPercent.
func (r *Registry) RunHostSampler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sampleHost()
		}
	}
}

func (r *Registry) sampleHost() {
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		r.HostCPUPercent.Set(pcts[0])
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		r.HostMemPercent.Set(vm.UsedPercent)
	}
}
