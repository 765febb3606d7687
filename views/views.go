// Package views is the closed set of dashboard pages. Each view pairs one
// reducer with the static configuration of its chart.
package views

import (
	"fmt"

	"campaign-spend/models"
	"campaign-spend/services"
)

// AppTitle is the page title of the dashboard.
const AppTitle = "Political Campaign Spend Analysis"

// ID identifies one of the six views. The zero value is the first page.
type ID int

const (
	TotalSpendByState ID = iota
	AverageTurnoutByState
	TopPartiesBySpend
	SpendTurnoutByConstituency
	SpendDistribution
	SpendTurnoutByPhase
)

// All lists the views in navigation order.
func All() []ID {
	return []ID{
		TotalSpendByState,
		AverageTurnoutByState,
		TopPartiesBySpend,
		SpendTurnoutByConstituency,
		SpendDistribution,
		SpendTurnoutByPhase,
	}
}

var slugs = map[ID]string{
	TotalSpendByState:          services.ViewTotalSpendByState,
	AverageTurnoutByState:      services.ViewAverageTurnoutByState,
	TopPartiesBySpend:          services.ViewTopPartiesBySpend,
	SpendTurnoutByConstituency: services.ViewSpendTurnoutByConstituency,
	SpendDistribution:          services.ViewSpendDistribution,
	SpendTurnoutByPhase:        services.ViewSpendTurnoutByPhase,
}

// Slug is the URL and file-name form of the view.
func (id ID) Slug() string {
	if s, ok := slugs[id]; ok {
		return s
	}
	return fmt.Sprintf("view-%d", int(id))
}

func (id ID) String() string { return id.Slug() }

// Parse maps a slug back to its view.
func Parse(slug string) (ID, error) {
	for id, s := range slugs {
		if s == slug {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown view %q", slug)
}

// Compute runs the view's reducer against d.
func Compute(svc *services.InsightService, d *services.AppData, id ID) (models.Table, error) {
	switch id {
	case TotalSpendByState:
		return table(svc.TotalSpendByState(d))
	case AverageTurnoutByState:
		return table(svc.AverageTurnoutByState(d))
	case TopPartiesBySpend:
		return table(svc.TopPartiesBySpend(d))
	case SpendTurnoutByConstituency:
		return table(svc.SpendTurnoutByConstituency(d))
	case SpendDistribution:
		return table(svc.SpendDistribution(d))
	case SpendTurnoutByPhase:
		return table(svc.SpendTurnoutByPhase(d))
	}
	return nil, &models.AggregationError{View: id.Slug(), Err: fmt.Errorf("no reducer")}
}

// table drops the concrete result on error so callers never see a typed nil.
func table[T models.Table](t T, err error) (models.Table, error) {
	if err != nil {
		return nil, err
	}
	return t, nil
}
