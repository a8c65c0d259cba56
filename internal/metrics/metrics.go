package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FramesInTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "instantchat_frames_in_total",
		Help: "Total number of inbound protocol frames decoded",
	})
	FramesOutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "instantchat_frames_out_total",
		Help: "Total number of outbound protocol frames enqueued",
	})
	FrameDecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "instantchat_frame_decode_errors_total",
		Help: "Total number of inbound frames dropped as undecodable",
	})
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "instantchat_commands_total",
		Help: "Total number of inbound commands dispatched, by command",
	}, []string{"command"})
	StaleDropsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "instantchat_stale_drops_total",
		Help: "Total number of inbound commands discarded as stale, by command",
	}, []string{"command"})
	PendingCommands = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "instantchat_pending_commands",
		Help: "Commands buffered while waiting for their target message",
	})
	ReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "instantchat_reconnects_total",
		Help: "Total number of reconnect attempts",
	})
	SearchRebuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "instantchat_search_rebuilds_total",
		Help: "Total number of search index rebuilds",
	})
)

func init() {
	prometheus.MustRegister(
		FramesInTotal, FramesOutTotal, FrameDecodeErrors,
		CommandsTotal, StaleDropsTotal, PendingCommands,
		ReconnectsTotal, SearchRebuildsTotal,
	)
}
