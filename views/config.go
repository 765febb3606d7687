package views

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChartKind selects the renderer for a view.
type ChartKind int

const (
	KindBar ChartKind = iota
	KindPie
	KindScatter
	KindHistogram
	KindCombo
)

// ChartConfig is the static presentation of one view. Colours are hex
// strings ("#rrggbb").
type ChartConfig struct {
	Kind    ChartKind
	Title   string
	XLabel  string
	YLabel  string
	Y2Label string

	// Width and Height are in pixels.
	Width  int
	Height int

	Palette   []string
	BarColor  string
	LineColor string
	Outline   string

	// TickAngle rotates category labels, in degrees.
	TickAngle      float64
	SortDescending bool
	ShowPercent    bool
	LegendLeft     bool
	MarginLeft     int
	Bins           int
}

const (
	labelState    = "State"
	labelSpend    = "Ad Spend (INR)"
	labelVoteTurn = "Vote Turnout (%)"
	labelTurnout  = "Voter Turnout (%)"
	labelParty    = "Political Party"
	labelPhase    = "Election Phase"

	defaultWidth  = 800
	defaultHeight = 600
)

// Registry holds the chart configuration of every view.
type Registry struct {
	configs map[ID]ChartConfig
}

// NewRegistry returns the built-in configuration.
func NewRegistry() *Registry {
	return &Registry{configs: map[ID]ChartConfig{
		TotalSpendByState: {
			Kind: KindBar, Title: "Total Ad Spend by State",
			XLabel: labelState, YLabel: labelSpend,
			Width: defaultWidth, Height: defaultHeight,
			BarColor: "#636efa", TickAngle: -90, SortDescending: true,
		},
		AverageTurnoutByState: {
			Kind: KindBar, Title: "Average Voter Turnout by State",
			XLabel: labelState, YLabel: labelVoteTurn,
			Width: defaultWidth, Height: defaultHeight,
			BarColor: "#636efa", TickAngle: -90, SortDescending: true,
		},
		TopPartiesBySpend: {
			Kind: KindPie, Title: "Top 5 Parties by Ad Spend",
			XLabel: labelParty, YLabel: labelSpend,
			Width: defaultWidth, Height: defaultHeight,
			Palette:     []string{"#ff9999", "#66b3ff", "#99ff99", "#ffcc99", "#c2c2f0"},
			ShowPercent: true, LegendLeft: true, MarginLeft: 200,
		},
		SpendTurnoutByConstituency: {
			Kind: KindScatter, Title: "Ad Spend and Voter Turnout by Parliamentary Constituency",
			XLabel: labelSpend, YLabel: labelTurnout,
			Width: defaultWidth, Height: defaultHeight,
			Palette: []string{
				"#636efa", "#ef553b", "#00cc96", "#ab63fa", "#ffa15a",
				"#19d3f3", "#ff6692", "#b6e880", "#ff97ff", "#fecb52",
			},
		},
		SpendDistribution: {
			Kind: KindHistogram, Title: "Distribution of Ad Spend",
			XLabel: labelSpend, YLabel: "count",
			Width: defaultWidth, Height: defaultHeight,
			BarColor: "#636efa", Outline: "#000000", Bins: 30,
		},
		SpendTurnoutByPhase: {
			Kind: KindCombo, Title: "Ad Spend and Voter Turnout by Election Phase",
			XLabel: labelPhase, YLabel: labelSpend, Y2Label: labelTurnout,
			Width: defaultWidth, Height: defaultHeight,
			BarColor: "#cd5c5c", LineColor: "#ffa07a",
		},
	}}
}

// Config returns the configuration of id.
func (r *Registry) Config(id ID) ChartConfig {
	return r.configs[id]
}

// Title returns the page title of id.
func (r *Registry) Title(id ID) string {
	return r.configs[id].Title
}

// Override is the YAML shape of a per-view override. Unset fields keep the
// built-in value.
type Override struct {
	Title     *string  `yaml:"title"`
	XLabel    *string  `yaml:"x_label"`
	YLabel    *string  `yaml:"y_label"`
	Y2Label   *string  `yaml:"y2_label"`
	Width     *int     `yaml:"width"`
	Height    *int     `yaml:"height"`
	Palette   []string `yaml:"palette"`
	BarColor  *string  `yaml:"bar_color"`
	LineColor *string  `yaml:"line_color"`
}

type overridesFile struct {
	Views map[string]Override `yaml:"views"`
}

// LoadOverrides reads a YAML file of per-view overrides keyed by slug and
// applies them. An empty path is a no-op.
func (r *Registry) LoadOverrides(path string) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("views: read overrides: %w", err)
	}
	return r.ApplyOverrides(b)
}

// ApplyOverrides applies YAML overrides from b.
func (r *Registry) ApplyOverrides(b []byte) error {
	var f overridesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("views: parse overrides: %w", err)
	}

	for slug, o := range f.Views {
		id, err := Parse(slug)
		if err != nil {
			return fmt.Errorf("views: overrides: %w", err)
		}
		cfg := r.configs[id]
		setString(&cfg.Title, o.Title)
		setString(&cfg.XLabel, o.XLabel)
		setString(&cfg.YLabel, o.YLabel)
		setString(&cfg.Y2Label, o.Y2Label)
		setString(&cfg.BarColor, o.BarColor)
		setString(&cfg.LineColor, o.LineColor)
		if o.Width != nil {
			if *o.Width <= 0 {
				return fmt.Errorf("views: %s: width must be positive", slug)
			}
			cfg.Width = *o.Width
		}
		if o.Height != nil {
			if *o.Height <= 0 {
				return fmt.Errorf("views: %s: height must be positive", slug)
			}
			cfg.Height = *o.Height
		}
		if len(o.Palette) > 0 {
			cfg.Palette = append([]string(nil), o.Palette...)
		}
		r.configs[id] = cfg
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
