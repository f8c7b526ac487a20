package training

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"titanic-predictor/internal/features"
	"titanic-predictor/internal/ml"
)

// WriteReport renders r as plain-text tables.
func WriteReport(w io.Writer, r *Report) {
	fmt.Fprintln(w, "Dataset")
	summary := tablewriter.NewWriter(w)
	summary.SetHeader([]string{"Metric", "Value"})
	summary.AppendBulk([][]string{
		{"Rows read", strconv.Itoa(r.Prepare.RowsRead)},
		{"Rows dropped (no label)", strconv.Itoa(r.Prepare.RowsDropped)},
		{"Age imputed", fmt.Sprintf("%d (median %.2f)", r.Prepare.AgeImputed, r.Prepare.AgeMedian)},
		{"Fare imputed", fmt.Sprintf("%d (median %.4f)", r.Prepare.FareImputed, r.Prepare.FareMedian)},
		{"Train rows", fmt.Sprintf("%d %s", r.TrainRows, classMix(r.TrainClassCounts))},
		{"Test rows", fmt.Sprintf("%d %s", r.TestRows, classMix(r.TestClassCounts))},
		{"Train accuracy", fmt.Sprintf("%.4f", r.TrainAccuracy)},
		{"Test accuracy", fmt.Sprintf("%.4f", r.Test.Accuracy)},
	})
	summary.Render()

	fmt.Fprintln(w, "\nClassification report (test)")
	cls := tablewriter.NewWriter(w)
	cls.SetHeader([]string{"Class", "Precision", "Recall", "F1", "Support"})
	rows := append([]ml.ClassMetrics{}, r.Test.Classes...)
	rows = append(rows, r.Test.MacroAvg, r.Test.WeightedAvg)
	for _, c := range rows {
		cls.Append([]string{c.Label, f2(c.Precision), f2(c.Recall), f2(c.F1), strconv.Itoa(c.Support)})
	}
	cls.Render()

	fmt.Fprintln(w, "\nConfusion matrix (rows: actual, columns: predicted)")
	cm := tablewriter.NewWriter(w)
	labels := features.Labels()
	cm.SetHeader(append([]string{""}, labels...))
	for i, row := range r.Test.Confusion {
		cells := []string{labels[i]}
		for _, v := range row {
			cells = append(cells, strconv.Itoa(v))
		}
		cm.Append(cells)
	}
	cm.Render()

	fmt.Fprintln(w, "\nFeature importance")
	perm := importanceMap(r.Permutation)
	imp := tablewriter.NewWriter(w)
	imp.SetHeader([]string{"Feature", "Impurity", "Permutation (test)"})
	for _, i := range r.Importances {
		imp.Append([]string{i.Feature, fmt.Sprintf("%.4f", i.Value), fmt.Sprintf("%+.4f", perm[i.Feature])})
	}
	imp.Render()

	if r.Verified {
		fmt.Fprintf(w, "\nArtifacts saved to %s and verified by reload\n", r.ArtifactPath)
	}
}

func classMix(counts map[int]int) string {
	return fmt.Sprintf("(%s %d / %s %d)",
		features.LabelDidNotSurvive, counts[features.ClassDidNotSurvive],
		features.LabelSurvived, counts[features.ClassSurvived])
}

func f2(v float64) string { return fmt.Sprintf("%.2f", v) }
