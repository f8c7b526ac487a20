package metrics

import "time"

// TrainingRecorder is what the training pipeline reports to.
type TrainingRecorder interface {
	ObserveTraining(r TrainingResult)
}

// TrainingResult is the summary of one training run.
type TrainingResult struct {
	TrainAccuracy float64
	TestAccuracy  float64
	RowsRead      int
	RowsKept      int
	TrainRows     int
	TestRows      int
	Duration      time.Duration
	Importances   map[string]float64
}

// ObserveTraining implements TrainingRecorder.
func (m *Metrics) ObserveTraining(r TrainingResult) {
	m.TrainingAccuracy.WithLabelValues("train").Set(r.TrainAccuracy)
	m.TrainingAccuracy.WithLabelValues("test").Set(r.TestAccuracy)
	m.TrainingRows.WithLabelValues("read").Set(float64(r.RowsRead))
	m.TrainingRows.WithLabelValues("kept").Set(float64(r.RowsKept))
	m.TrainingRows.WithLabelValues("train").Set(float64(r.TrainRows))
	m.TrainingRows.WithLabelValues("test").Set(float64(r.TestRows))
	m.TrainingDuration.Set(r.Duration.Seconds())
	for name, v := range r.Importances {
		m.FeatureImportance.WithLabelValues(name).Set(v)
	}
}

// Nop discards everything. It is used when metrics are disabled.
type Nop struct{}

func (Nop) ObserveTraining(TrainingResult) {}
