package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/anyappinc/cr2"
)

// Report is the outcome of the estimate command.
type Report struct {
	Response     string        `json:"response"`
	Observations int           `json:"observations"`
	Clusters     int           `json:"clusters"`
	Policy       string        `json:"policy"`
	Layout       string        `json:"layout"`
	Params       []ReportParam `json:"params"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// ReportParam is one row of the report. Undefined values are null in JSON.
type ReportParam struct {
	Label       string   `json:"label"`
	Coefficient *float64 `json:"coefficient"`
	ClassicalSE *float64 `json:"classical_se"`
	CR2SE       *float64 `json:"cr2_se"`
}

func optional(v float64, valid bool) *float64 {
	if !valid || math.IsNaN(v) {
		return nil
	}
	return &v
}

// NewReport merges the fitted model and the CR2 result.
func NewReport(model *cr2.Model, res *cr2.Result, cfg EstimatorConfig) *Report {
	r := &Report{
		Response:     model.ObjectiveVarLabel,
		Observations: model.NumOfObservations,
		Clusters:     len(res.Clusters),
		Policy:       cfg.Policy,
		Layout:       cfg.Layout,
		Params:       make([]ReportParam, len(model.Params)),
	}
	for i, p := range model.Params {
		se := res.StandardErrors[i]
		r.Params[i] = ReportParam{
			Label:       p.Label,
			Coefficient: optional(p.Coeff, p.Valid),
			ClassicalSE: optional(p.StandardError, p.Valid),
			CR2SE:       optional(se.Value, se.Valid),
		}
	}
	for _, w := range res.Warnings {
		r.Warnings = append(r.Warnings, w.Error())
	}
	return r
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// WriteTable writes the report as an aligned text table.
func (r *Report) WriteTable(w io.Writer) error {
	fmt.Fprintf(w, "Response: %s  Observations: %d  Clusters: %d  Policy: %s  Layout: %s\n\n",
		r.Response, r.Observations, r.Clusters, r.Policy, r.Layout)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tCoefficient\tClassical SE\tCR2 SE\t")
	for _, p := range r.Params {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", p.Label, formatOptional(p.Coefficient), formatOptional(p.ClassicalSE), formatOptional(p.CR2SE))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "\nWarning: %s\n", warning)
	}
	return nil
}

func formatOptional(v *float64) string {
	if v == nil {
		return "NA"
	}
	return fmt.Sprintf("%.6f", *v)
}
