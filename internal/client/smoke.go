package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"titanic-predictor/internal/features"
)

// Sample is a named passenger used to exercise a server.
type Sample struct {
	Name   string
	Record features.Record
}

// Samples are three passengers with well-known outcomes on the public
// dataset.
var Samples = []Sample{
	{"3rd class male, young", features.Record{Pclass: 3, Sex: "male", Age: 25, SibSp: 1, Fare: 7.25}},
	{"1st class female, adult", features.Record{Pclass: 1, Sex: "female", Age: 35, SibSp: 0, Fare: 72.00}},
	{"2nd class male, child", features.Record{Pclass: 2, Sex: "male", Age: 10, SibSp: 2, Fare: 15.00}},
}

// ErrSmokeFailed is returned by Smoke when any check did not pass.
var ErrSmokeFailed = errors.New("smoke test failed")

// Smoke checks health, scores every sample and confirms that a payload
// without Age is rejected. Results are written to w as a table.
func Smoke(ctx context.Context, c *Client, w io.Writer) error {
	failed := 0

	health, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSmokeFailed, err)
	}
	fmt.Fprintf(w, "Server status %s, model %s\n", health.Status, health.ModelStatus)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Case", "Prediction", "Confidence", features.LabelSurvived, features.LabelDidNotSurvive})
	for _, s := range Samples {
		p, err := c.Predict(ctx, s.Record)
		if err != nil {
			failed++
			table.Append([]string{s.Name, "error: " + err.Error(), "", "", ""})
			continue
		}
		table.Append([]string{
			s.Name,
			p.Prediction,
			pct(p.Confidence),
			pct(p.Probabilities[features.LabelSurvived]),
			pct(p.Probabilities[features.LabelDidNotSurvive]),
		})
	}
	table.Render()

	_, err = c.PredictRaw(ctx, map[string]interface{}{
		features.Pclass: 1,
		features.Sex:    "female",
		features.SibSp:  0,
		features.Fare:   72.00,
	})
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status < 500:
		fmt.Fprintf(w, "Missing Age correctly rejected: %s\n", apiErr.Message)
	case err != nil:
		failed++
		fmt.Fprintf(w, "Missing Age check failed: %v\n", err)
	default:
		failed++
		fmt.Fprintln(w, "Missing Age was accepted")
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d checks", ErrSmokeFailed, failed, len(Samples)+1)
	}
	return nil
}

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v) }
