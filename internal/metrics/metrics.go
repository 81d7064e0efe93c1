package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "udpfs"

// drop reasons
const (
	DropMalformed  = "malformed"
	DropNotRequest = "not_request"
	DropNotFound   = "not_found"
	DropNotServed  = "not_file_or_directory"
	DropIO         = "io"
	DropSend       = "send"
)

// Responder holds the collectors of the server request loop.
type Responder struct {
	Received  prometheus.Counter
	Sent      prometheus.Counter
	SentBytes prometheus.Counter
	Dropped   *prometheus.CounterVec
	Resources prometheus.Gauge
}

// NewResponder creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewResponder(reg prometheus.Registerer) *Responder {
	f := promauto.With(reg)

	return &Responder{
		Received: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "received_datagrams_total",
			Help:      "Datagrams read from the socket.",
		}),
		Sent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "sent_responses_total",
			Help:      "Responses written to the socket.",
		}),
		SentBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "sent_body_bytes_total",
			Help:      "Slice bytes carried by sent responses.",
		}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "dropped_requests_total",
			Help:      "Datagrams that got no response, by reason.",
		}, []string{"reason"}),
		Resources: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "resources",
			Help:      "Entries in the served tree snapshot.",
		}),
	}
}

func (r *Responder) Drop(reason string) {
	r.Dropped.WithLabelValues(reason).Inc()
}
