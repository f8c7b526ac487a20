package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"titanic-predictor/internal/client"
	"titanic-predictor/internal/features"
)

func (a *app) predictCmd() *cobra.Command {
	var (
		url     string
		rec     features.Record
		samples bool
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Ask a running server for a prediction",
		Example: "  titanic predict --pclass 3 --sex male --age 25 --sibsp 1 --fare 7.25\n" +
			"  titanic predict --samples",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.settings
			if cmd.Flags().Changed("url") {
				s.ServerURL = url
			}
			c := client.New(s.ServerURL, s.ClientTimeout)
			ctx := context.Background()

			if samples {
				return client.Smoke(ctx, c, os.Stdout)
			}

			var missing []string
			for _, name := range []string{"pclass", "sex", "age", "sibsp", "fare"} {
				if !cmd.Flags().Changed(name) {
					missing = append(missing, "--"+name)
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
			}

			p, err := c.Predict(ctx, rec)
			if err != nil {
				return err
			}
			fmt.Printf("Prediction: %s\n", p.Prediction)
			fmt.Printf("Confidence: %.2f%%\n", p.Confidence)
			for _, label := range features.Labels() {
				fmt.Printf("  %s: %.2f%%\n", label, p.Probabilities[label])
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&url, "url", "", "server base URL")
	f.IntVar(&rec.Pclass, "pclass", 0, "ticket class (1, 2 or 3)")
	f.StringVar(&rec.Sex, "sex", "", "male or female")
	f.Float64Var(&rec.Age, "age", 0, "age in years")
	f.IntVar(&rec.SibSp, "sibsp", 0, "siblings and spouses aboard")
	f.Float64Var(&rec.Fare, "fare", 0, "ticket fare")
	f.BoolVar(&samples, "samples", false, "run the built-in sample passengers and a rejection check")
	return cmd
}
