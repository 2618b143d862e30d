package consultation

import "github.com/prometheus/client_golang/prometheus"

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gendoc_analyses_total",
			Help: "Image analyses by outcome",
		},
		[]string{"status"},
	)
	chatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gendoc_chat_turns_total",
			Help: "Follow-up chat turns by outcome",
		},
		[]string{"status"},
	)
	specialistLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gendoc_specialist_lookups_total",
			Help: "Nearby specialist lookups by result",
		},
		[]string{"result"},
	)
	modelCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gendoc_model_call_duration_seconds",
			Help:    "Latency of generative model calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 90},
		},
		[]string{"call"},
	)
)

func init() {
	prometheus.MustRegister(analysesTotal)
	prometheus.MustRegister(chatTurnsTotal)
	prometheus.MustRegister(specialistLookups)
	prometheus.MustRegister(modelCallDuration)
}
