package ml

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// ClassMetrics holds per-class precision, recall and F1.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report summarizes classifier quality on a labelled set.
type Report struct {
	Accuracy    float64        `json:"accuracy"`
	Classes     []ClassMetrics `json:"classes"`
	MacroAvg    ClassMetrics   `json:"macro_avg"`
	WeightedAvg ClassMetrics   `json:"weighted_avg"`
	Confusion   [][]int        `json:"confusion"`
	Total       int            `json:"total"`
}

// Accuracy is the fraction of predictions equal to the truth.
func Accuracy(truth, pred []int) (float64, error) {
	if err := checkPairs(truth, pred); err != nil {
		return 0, err
	}
	correct := 0
	for i := range truth {
		if truth[i] == pred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(truth)), nil
}

// ConfusionMatrix returns m where m[t][p] counts rows of true class t
// predicted as p.
func ConfusionMatrix(truth, pred []int, nClasses int) ([][]int, error) {
	if err := checkPairs(truth, pred); err != nil {
		return nil, err
	}
	m := make([][]int, nClasses)
	for i := range m {
		m[i] = make([]int, nClasses)
	}
	for i := range truth {
		t, p := truth[i], pred[i]
		if t < 0 || t >= nClasses || p < 0 || p >= nClasses {
			return nil, fmt.Errorf("row %d: class out of range (truth %d, pred %d)", i, t, p)
		}
		m[t][p]++
	}
	return m, nil
}

// ClassificationReport computes accuracy, the confusion matrix and per-class
// metrics. labels names the classes in index order. Undefined ratios are 0.
func ClassificationReport(truth, pred []int, labels []string) (*Report, error) {
	nClasses := len(labels)
	cm, err := ConfusionMatrix(truth, pred, nClasses)
	if err != nil {
		return nil, err
	}
	acc, err := Accuracy(truth, pred)
	if err != nil {
		return nil, err
	}

	r := &Report{Accuracy: acc, Confusion: cm, Total: len(truth)}
	precision := make([]float64, nClasses)
	recall := make([]float64, nClasses)
	f1 := make([]float64, nClasses)
	support := make([]float64, nClasses)
	for c := 0; c < nClasses; c++ {
		var tp, predicted, actual int
		for k := 0; k < nClasses; k++ {
			predicted += cm[k][c]
			actual += cm[c][k]
		}
		tp = cm[c][c]
		precision[c] = ratio(tp, predicted)
		recall[c] = ratio(tp, actual)
		if precision[c]+recall[c] > 0 {
			f1[c] = 2 * precision[c] * recall[c] / (precision[c] + recall[c])
		}
		support[c] = float64(actual)
		r.Classes = append(r.Classes, ClassMetrics{
			Label:     labels[c],
			Precision: precision[c],
			Recall:    recall[c],
			F1:        f1[c],
			Support:   actual,
		})
	}

	r.MacroAvg = ClassMetrics{
		Label:     "macro avg",
		Precision: stat.Mean(precision, nil),
		Recall:    stat.Mean(recall, nil),
		F1:        stat.Mean(f1, nil),
		Support:   len(truth),
	}
	r.WeightedAvg = ClassMetrics{
		Label:     "weighted avg",
		Precision: stat.Mean(precision, support),
		Recall:    stat.Mean(recall, support),
		F1:        stat.Mean(f1, support),
		Support:   len(truth),
	}
	return r, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func checkPairs(truth, pred []int) error {
	if len(truth) == 0 {
		return fmt.Errorf("%w: no rows to evaluate", ErrDimension)
	}
	if len(truth) != len(pred) {
		return fmt.Errorf("%w: %d labels, %d predictions", ErrDimension, len(truth), len(pred))
	}
	return nil
}
