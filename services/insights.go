package services

import (
	"database/sql"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"campaign-spend/models"
	"campaign-spend/utils"
)

// Reducer names, also used as view slugs.
const (
	ViewTotalSpendByState          = "total-spend-by-state"
	ViewAverageTurnoutByState      = "average-turnout-by-state"
	ViewTopPartiesBySpend          = "top-parties-by-spend"
	ViewSpendTurnoutByConstituency = "spend-turnout-by-constituency"
	ViewSpendDistribution          = "spend-distribution"
	ViewSpendTurnoutByPhase        = "spend-turnout-by-phase"
)

const (
	// TopPartyCount is how many advertisers the party ranking keeps.
	TopPartyCount = 5
	// HistogramBins is the fixed bucket count of the spend distribution.
	HistogramBins = 30
)

// InsightService computes the dashboard's summary tables from AppData.
// Every method is a pure function of its input.
type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

// TotalSpendByState sums spend per normalised state.
func (s *InsightService) TotalSpendByState(d *AppData) (models.StateSpendTable, error) {
	if !d.Merged.HasSpend() {
		return nil, missingSpend(ViewTotalSpendByState)
	}

	g := newGrouping()
	for _, r := range d.Merged.Rows {
		if acc := g.at(r.State); acc != nil {
			acc.addSpend(r.Spend)
		}
	}

	out := make(models.StateSpendTable, 0, len(g.keys))
	for _, k := range g.sortedKeys() {
		out = append(out, models.StateSpend{State: k, Spend: g.groups[k].spend})
	}
	return out, nil
}

// AverageTurnoutByState averages Polled (%) per normalised state.
func (s *InsightService) AverageTurnoutByState(d *AppData) (models.StateTurnoutTable, error) {
	if !d.Merged.HasPolled {
		return nil, missing(ViewAverageTurnoutByState, models.DatasetResults, models.ColPolled)
	}

	g := newGrouping()
	for _, r := range d.Merged.Rows {
		if acc := g.at(r.State); acc != nil {
			acc.addPolled(r.Polled)
		}
	}

	out := make(models.StateTurnoutTable, 0, len(g.keys))
	for _, k := range g.sortedKeys() {
		acc := g.groups[k]
		out = append(out, models.StateTurnout{State: k, Turnout: acc.meanPolled(), Samples: acc.polledN})
	}
	return out, nil
}

// TopPartiesBySpend ranks advertiser pages by summed spend over the rows
// whose spend parsed as a number, and keeps the first five. Equal totals
// keep ascending page-name order.
func (s *InsightService) TopPartiesBySpend(d *AppData) (models.PartySpendTable, error) {
	if !d.Advertisers.HasPageName {
		return nil, missing(ViewTopPartiesBySpend, models.DatasetAdvertisers, models.ColPageName)
	}
	if !d.Advertisers.HasSpend {
		return nil, missing(ViewTopPartiesBySpend, models.DatasetAdvertisers, models.ColSpend)
	}

	g := newGrouping()
	for _, a := range d.CoercedAdvertisers {
		if acc := g.at(a.PageName); acc != nil {
			acc.spend = acc.spend.Add(a.Spend)
		}
	}

	ranked := make(models.PartySpendTable, 0, len(g.keys))
	for _, k := range g.sortedKeys() {
		ranked = append(ranked, models.PartySpend{PageName: k, Spend: g.groups[k].spend})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Spend.GreaterThan(ranked[j].Spend)
	})

	if len(ranked) > TopPartyCount {
		ranked = ranked[:TopPartyCount]
	}
	return ranked, nil
}

// SpendTurnoutByConstituency lists every merged row as a (spend, turnout,
// state) point, in join order, together with the spend/turnout correlation.
func (s *InsightService) SpendTurnoutByConstituency(d *AppData) (*models.ConstituencyTable, error) {
	if !d.Merged.HasSpend() {
		return nil, missingSpend(ViewSpendTurnoutByConstituency)
	}
	if !d.Merged.HasPolled {
		return nil, missing(ViewSpendTurnoutByConstituency, models.DatasetResults, models.ColPolled)
	}

	out := &models.ConstituencyTable{Points: make([]models.ConstituencyPoint, 0, len(d.Merged.Rows))}
	for _, r := range d.Merged.Rows {
		out.Points = append(out.Points, models.ConstituencyPoint{State: r.State, Spend: r.Spend, Polled: r.Polled})
	}
	out.Correlation = SpendTurnoutCorrelation(d.Merged)
	return out, nil
}

// SpendDistribution exposes the merged spend column and buckets it into
// HistogramBins equal-width bins.
func (s *InsightService) SpendDistribution(d *AppData) (*models.SpendDistribution, error) {
	if !d.Merged.HasSpend() {
		return nil, missingSpend(ViewSpendDistribution)
	}

	out := &models.SpendDistribution{Values: make([]float64, 0, len(d.Merged.Rows))}
	for _, r := range d.Merged.Rows {
		if !r.Spend.Valid {
			out.Missing++
			continue
		}
		out.Values = append(out.Values, r.Spend.Decimal.InexactFloat64())
	}
	out.Bins = histogram(out.Values, HistogramBins)
	out.Box = boxStats(out.Values)
	return out, nil
}

// SpendTurnoutByPhase sums spend and averages turnout per election phase.
func (s *InsightService) SpendTurnoutByPhase(d *AppData) (models.PhaseTable, error) {
	if !d.Merged.HasPhase {
		return nil, missing(ViewSpendTurnoutByPhase, models.DatasetResults, models.ColPhase)
	}
	if !d.Merged.HasSpend() {
		return nil, missingSpend(ViewSpendTurnoutByPhase)
	}
	if !d.Merged.HasPolled {
		return nil, missing(ViewSpendTurnoutByPhase, models.DatasetResults, models.ColPolled)
	}

	g := newGrouping()
	for _, r := range d.Merged.Rows {
		if acc := g.at(r.Phase); acc != nil {
			acc.addSpend(r.Spend)
			acc.addPolled(r.Polled)
		}
	}

	out := make(models.PhaseTable, 0, len(g.keys))
	for _, k := range g.sortedKeys() {
		acc := g.groups[k]
		out = append(out, models.PhaseSummary{Phase: k, Spend: acc.spend, Turnout: acc.meanPolled()})
	}
	return out, nil
}

// SpendTurnoutCorrelation is the Pearson coefficient between spend and
// turnout over merged rows carrying both. It is null with fewer than two
// such rows or when either column is constant.
func SpendTurnoutCorrelation(m *models.MergedTable) sql.NullFloat64 {
	var xs, ys []float64
	for _, r := range m.Rows {
		if r.Spend.Valid && r.Polled.Valid {
			xs = append(xs, r.Spend.Decimal.InexactFloat64())
			ys = append(ys, r.Polled.Float64)
		}
	}
	if len(xs) < 2 || constant(xs) || constant(ys) {
		return sql.NullFloat64{}
	}

	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: r, Valid: true}
}

func constant(xs []float64) bool {
	return floats.Min(xs) == floats.Max(xs)
}

// histogram buckets values into n equal-width bins spanning [min, max]. A
// constant sequence is centred in a unit-wide range.
func histogram(values []float64, n int) []models.HistogramBin {
	if len(values) == 0 || n <= 0 {
		return nil
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		lo -= 0.5
		hi += 0.5
	}

	dividers := floats.Span(make([]float64, n+1), lo, hi)
	bins := make([]models.HistogramBin, n)
	for i := range bins {
		bins[i].Lower = dividers[i]
		bins[i].Upper = dividers[i+1]
	}

	// stat.Histogram bins are half-open; nudging the top divider closes the
	// last one so the maximum is counted.
	dividers[n] = math.Nextafter(hi, math.Inf(1))
	for i, c := range stat.Histogram(nil, dividers, sorted, nil) {
		bins[i].Count = int(c)
	}
	return bins
}

// boxStats computes min, quartiles and max. Quartiles interpolate linearly
// between the order statistics around (n-1)p.
func boxStats(values []float64) models.BoxStats {
	if len(values) == 0 {
		return models.BoxStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	return models.BoxStats{
		Min:    sorted[0],
		Q1:     quantile(sorted, 0.25),
		Median: quantile(sorted, 0.5),
		Q3:     quantile(sorted, 0.75),
		Max:    sorted[len(sorted)-1],
	}
}

// quantile shifts p so that stat.LinInterp, which interpolates at rank np,
// lands on rank (n-1)p+1.
func quantile(sorted []float64, p float64) float64 {
	n := float64(len(sorted))
	return stat.Quantile(((n-1)*p+1)/n, stat.LinInterp, sorted, nil)
}

// missingSpend reports that neither results nor locations carry spend.
func missingSpend(view string) error {
	return missing(view, models.DatasetResults+" or "+models.DatasetLocations, models.ColSpend)
}

func missing(view, dataset, column string) error {
	return &models.AggregationError{
		View: view,
		Err:  &models.SchemaError{Dataset: dataset, Column: column},
	}
}

// Print renders a summary table to w. limit caps the printed rows; zero
// prints everything.
func (s *InsightService) Print(w io.Writer, title string, t models.Table, limit int) {
	heading := color.New(color.FgMagenta, color.Bold)
	heading.Fprintf(w, "\n  %s\n", title)

	if t.Len() == 0 {
		fmt.Fprintf(w, "  No data\n")
		return
	}

	records := t.Records()
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(t.Header())
	table.SetAutoFormatHeaders(false)
	table.AppendBulk(records)
	table.Render()

	if shown := len(records); shown < t.Len() {
		color.New(color.Faint).Fprintf(w, "  … %d more rows\n", t.Len()-shown)
	}
}
