package game

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	gamesSaved *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gamesSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcade",
			Name:      "games_saved_total",
			Help:      "Completed games recorded, by game type and outcome for the reporting player.",
		}, []string{"game_type", "outcome"}),
	}
	reg.MustRegister(m.gamesSaved)
	return m
}

// observe is a no-op on a nil receiver so services can run without metrics.
func (m *Metrics) observe(gameType string, outcome Outcome) {
	if m == nil {
		return
	}
	// game_type is client supplied; unknown tags share one series.
	label := "other"
	if isKnownGameType(gameType) {
		label = gameType
	}
	m.gamesSaved.WithLabelValues(label, string(outcome)).Inc()
}
