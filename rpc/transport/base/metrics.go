package base

import (
	"fmt"
	"github.com/ValentinKolb/dCMD/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

// Channel metrics, exported in Prometheus format by metrics.WritePrometheus
var (
	framesSent     = metrics.NewCounter(`dcmd_frames_sent_total{direction="master"}`)
	frameBytesSent = metrics.NewCounter(`dcmd_frame_bytes_sent_total{direction="master"}`)
	errorsSent     = metrics.NewCounter(`dcmd_frames_sent_total{direction="worker"}`)
	framesReceived = metrics.NewCounter(`dcmd_frames_received_total{direction="worker"}`)
	errorsReceived = metrics.NewCounter(`dcmd_frames_received_total{direction="master"}`)
	workersJoined  = metrics.NewCounter(`dcmd_workers_joined_total`)
)

func errorReportCounter(kind common.ReportKind) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dcmd_error_reports_total{kind=%q}`, kind.String()))
}

func sendRefusedCounter(reason string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`dcmd_send_refused_total{reason=%q}`, reason))
}
