package solution

import "github.com/prometheus/client_golang/prometheus"

var (
	trainingInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solutiond",
		Subsystem: "jobs",
		Name:      "training_inflight",
		Help:      "Training jobs currently running",
	})

	trainingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solutiond",
		Subsystem: "jobs",
		Name:      "trainings_total",
		Help:      "Completed training jobs by result",
	}, []string{"result"})

	predictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solutiond",
		Subsystem: "jobs",
		Name:      "predictions_total",
		Help:      "Completed prediction jobs by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(trainingInflight, trainingsTotal, predictionsTotal)
}
