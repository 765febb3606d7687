package models

import (
	"database/sql"
	"strconv"

	"github.com/shopspring/decimal"
)

// Table is implemented by every view's summary so it can be exported or
// printed without knowing its shape.
type Table interface {
	Header() []string
	Records() [][]string
	Len() int
}

// StateSpend is one group of the total-spend-by-state view.
type StateSpend struct {
	State string
	Spend decimal.Decimal
}

// StateSpendTable is ordered by ascending state.
type StateSpendTable []StateSpend

func (t StateSpendTable) Header() []string { return []string{ColState, ColSpend} }
func (t StateSpendTable) Len() int         { return len(t) }

func (t StateSpendTable) Records() [][]string {
	out := make([][]string, 0, len(t))
	for _, r := range t {
		out = append(out, []string{r.State, r.Spend.String()})
	}
	return out
}

// StateTurnout is one group of the average-turnout-by-state view. Turnout is
// null when the group has no turnout samples.
type StateTurnout struct {
	State   string
	Turnout sql.NullFloat64
	Samples int
}

// StateTurnoutTable is ordered by ascending state.
type StateTurnoutTable []StateTurnout

func (t StateTurnoutTable) Header() []string { return []string{ColState, ColPolled} }
func (t StateTurnoutTable) Len() int         { return len(t) }

func (t StateTurnoutTable) Records() [][]string {
	out := make([][]string, 0, len(t))
	for _, r := range t {
		out = append(out, []string{r.State, formatNullFloat(r.Turnout)})
	}
	return out
}

// PartySpend is one advertiser page and its summed spend.
type PartySpend struct {
	PageName string
	Spend    decimal.Decimal
}

// PartySpendTable is ordered by descending spend.
type PartySpendTable []PartySpend

func (t PartySpendTable) Header() []string { return []string{ColPageName, ColSpend} }
func (t PartySpendTable) Len() int         { return len(t) }

func (t PartySpendTable) Records() [][]string {
	out := make([][]string, 0, len(t))
	for _, r := range t {
		out = append(out, []string{r.PageName, r.Spend.String()})
	}
	return out
}

// ConstituencyPoint is one merged row projected to spend, turnout and state.
type ConstituencyPoint struct {
	State  sql.NullString
	Spend  decimal.NullDecimal
	Polled sql.NullFloat64
}

// ConstituencyTable lists every merged row in join order. Correlation is
// the Pearson coefficient between spend and turnout over rows carrying both.
type ConstituencyTable struct {
	Points      []ConstituencyPoint
	Correlation sql.NullFloat64
}

func (t *ConstituencyTable) Header() []string { return []string{ColSpend, ColPolled, ColState} }
func (t *ConstituencyTable) Len() int         { return len(t.Points) }

func (t *ConstituencyTable) Records() [][]string {
	out := make([][]string, 0, len(t.Points))
	for _, p := range t.Points {
		out = append(out, []string{formatNullDecimal(p.Spend), formatNullFloat(p.Polled), p.State.String})
	}
	return out
}

// HistogramBin is a half-open [Lower, Upper) spend interval; the last bin
// is closed.
type HistogramBin struct {
	Lower float64
	Upper float64
	Count int
}

// BoxStats summarises a distribution the way a box plot does.
type BoxStats struct {
	Min    float64
	Q1     float64
	Median float64
	Q3     float64
	Max    float64
}

// SpendDistribution is the raw spend sequence with its fixed bucketing.
// Missing counts merged rows without a spend value.
type SpendDistribution struct {
	Values  []float64
	Missing int
	Bins    []HistogramBin
	Box     BoxStats
}

func (d *SpendDistribution) Header() []string { return []string{"Lower", "Upper", "Count"} }
func (d *SpendDistribution) Len() int         { return len(d.Bins) }

func (d *SpendDistribution) Records() [][]string {
	out := make([][]string, 0, len(d.Bins))
	for _, b := range d.Bins {
		out = append(out, []string{formatFloat(b.Lower), formatFloat(b.Upper), strconv.Itoa(b.Count)})
	}
	return out
}

// PhaseSummary aligns summed spend and mean turnout for one election phase.
type PhaseSummary struct {
	Phase   string
	Spend   decimal.Decimal
	Turnout sql.NullFloat64
}

// PhaseTable is ordered by ascending phase.
type PhaseTable []PhaseSummary

func (t PhaseTable) Header() []string { return []string{ColPhase, ColSpend, ColPolled} }
func (t PhaseTable) Len() int         { return len(t) }

func (t PhaseTable) Records() [][]string {
	out := make([][]string, 0, len(t))
	for _, r := range t {
		out = append(out, []string{r.Phase, r.Spend.String(), formatNullFloat(r.Turnout)})
	}
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatNullFloat(f sql.NullFloat64) string {
	if !f.Valid {
		return ""
	}
	return formatFloat(f.Float64)
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
