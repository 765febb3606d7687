package views

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"campaign-spend/models"
	"campaign-spend/services"
	"campaign-spend/storage"
)

// Result is one computed view. Err is set when its reducer failed; the
// other views are unaffected.
type Result struct {
	ID    ID
	Table models.Table
	Err   error
}

// ComputeAll runs every reducer in parallel. Reducers are pure, so sharing d
// is safe. Only cancellation of ctx is returned as an error.
func ComputeAll(ctx context.Context, svc *services.InsightService, d *services.AppData) ([]Result, error) {
	ids := All()
	results := make([]Result, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := Compute(svc, d, id)
			results[i] = Result{ID: id, Table: t, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Summaries turns successful results into export summaries titled from r.
func Summaries(r *Registry, results []Result) []storage.Summary {
	out := make([]storage.Summary, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		out = append(out, storage.Summary{View: res.ID.Slug(), Title: r.Title(res.ID), Table: res.Table})
	}
	return out
}

// DisplayOrder returns t the way its chart lists categories. State bar
// charts sort descending by value; everything else keeps reducer order.
func DisplayOrder(cfg ChartConfig, t models.Table) models.Table {
	if !cfg.SortDescending {
		return t
	}

	switch v := t.(type) {
	case models.StateSpendTable:
		out := append(models.StateSpendTable(nil), v...)
		sort.SliceStable(out, func(i, j int) bool { return out[i].Spend.GreaterThan(out[j].Spend) })
		return out
	case models.StateTurnoutTable:
		out := append(models.StateTurnoutTable(nil), v...)
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i].Turnout, out[j].Turnout
			if a.Valid != b.Valid {
				return a.Valid
			}
			return a.Float64 > b.Float64
		})
		return out
	}
	return t
}
