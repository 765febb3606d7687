package dashboard

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"gonum.org/v1/plot/vg/vgsvg"

	"campaign-spend/models"
	"campaign-spend/views"
)

// Supported chart formats.
const (
	FormatSVG = "svg"
	FormatPNG = "png"
)

// screenDPI converts configured pixel sizes to drawing lengths.
const screenDPI = 96

// comboAxisMargin is the room kept on the right for the secondary axis.
var comboAxisMargin = vg.Points(54)

// ChartRenderer draws view tables with gonum/plot.
type ChartRenderer struct {
	registry *views.Registry
}

func NewChartRenderer(registry *views.Registry) *ChartRenderer {
	return &ChartRenderer{registry: registry}
}

// Render draws t as the chart of view id and writes it to w in format.
func (r *ChartRenderer) Render(w io.Writer, id views.ID, t models.Table, format string) error {
	cfg := r.registry.Config(id)
	width, height := pixels(cfg.Width), pixels(cfg.Height)

	c, err := newCanvas(format, width, height)
	if err != nil {
		return err
	}
	dc := draw.New(c)

	switch cfg.Kind {
	case views.KindBar:
		err = drawBar(dc, cfg, views.DisplayOrder(cfg, t))
	case views.KindPie:
		err = drawPie(dc, cfg, t)
	case views.KindScatter:
		err = drawScatter(dc, cfg, t)
	case views.KindHistogram:
		err = drawHistogram(dc, cfg, t)
	case views.KindCombo:
		err = drawCombo(dc, cfg, t)
	default:
		err = fmt.Errorf("chart: unknown kind %d", cfg.Kind)
	}
	if err != nil {
		return fmt.Errorf("chart %s: %w", id.Slug(), err)
	}

	_, err = c.WriteTo(w)
	return err
}

func newCanvas(format string, w, h vg.Length) (vg.CanvasWriterTo, error) {
	switch format {
	case FormatSVG:
		return vgsvg.New(w, h), nil
	case FormatPNG:
		return vgimg.PngCanvas{Canvas: vgimg.New(w, h)}, nil
	}
	return nil, fmt.Errorf("chart: unsupported format %q", format)
}

func pixels(n int) vg.Length {
	return vg.Length(n) * vg.Inch / screenDPI
}

func newPlot(cfg views.ChartConfig) *plot.Plot {
	p := plot.New()
	p.Title.Text = cfg.Title
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.X.Label.Text = cfg.XLabel
	p.Y.Label.Text = cfg.YLabel
	p.Add(plotter.NewGrid())
	return p
}

func drawBar(dc draw.Canvas, cfg views.ChartConfig, t models.Table) error {
	var names []string
	var values plotter.Values

	switch v := t.(type) {
	case models.StateSpendTable:
		for _, r := range v {
			names = append(names, r.State)
			values = append(values, r.Spend.InexactFloat64())
		}
	case models.StateTurnoutTable:
		for _, r := range v {
			names = append(names, r.State)
			values = append(values, r.Turnout.Float64)
		}
	default:
		return fmt.Errorf("bar chart cannot draw %T", t)
	}

	p := newPlot(cfg)
	if len(values) > 0 {
		bars, err := plotter.NewBarChart(values, barWidth(dc, len(values)))
		if err != nil {
			return err
		}
		bars.Color = parseHex(cfg.BarColor)
		bars.LineStyle.Width = vg.Length(0)
		p.Add(bars)
		p.NominalX(names...)
	}
	rotateTicks(p, cfg.TickAngle)

	p.Draw(dc)
	return nil
}

// barWidth keeps bars from overlapping on crowded category axes.
func barWidth(dc draw.Canvas, n int) vg.Length {
	w := (dc.Max.X - dc.Min.X) * 0.7 / vg.Length(n+1)
	return vg.Length(math.Min(float64(w), float64(vg.Points(40))))
}

// rotateTicks turns category labels by deg, measured clockwise.
func rotateTicks(p *plot.Plot, deg float64) {
	if deg == 0 {
		return
	}
	p.X.Tick.Label.Rotation = -deg * math.Pi / 180
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter
}

func drawPie(dc draw.Canvas, cfg views.ChartConfig, t models.Table) error {
	parties, ok := t.(models.PartySpendTable)
	if !ok {
		return fmt.Errorf("pie chart cannot draw %T", t)
	}

	p := plot.New()
	p.Title.Text = cfg.Title
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.HideAxes()

	pie := &pieChart{ShowPercent: cfg.ShowPercent, MarginLeft: pixels(cfg.MarginLeft)}
	for i, party := range parties {
		c := parseHex(paletteAt(cfg.Palette, i))
		pie.Values = append(pie.Values, party.Spend.InexactFloat64())
		pie.Colors = append(pie.Colors, c)
		p.Legend.Add(party.PageName, swatch{c})
	}
	p.Add(pie)
	p.Legend.Top = true
	p.Legend.Left = cfg.LegendLeft

	p.Draw(dc)
	return nil
}

// pieChart is a plot.Plotter drawing wedges proportional to Values.
type pieChart struct {
	Values      []float64
	Colors      []color.Color
	ShowPercent bool
	MarginLeft  vg.Length
}

func (pc *pieChart) Plot(c draw.Canvas, plt *plot.Plot) {
	total := 0.0
	for _, v := range pc.Values {
		if v > 0 {
			total += v
		}
	}
	if total == 0 {
		return
	}

	left := c.Min.X + pc.MarginLeft
	w := c.Max.X - left
	h := c.Max.Y - c.Min.Y
	radius := vg.Length(math.Min(float64(w), float64(h))) * 0.45
	center := vg.Point{X: left + w/2, Y: c.Min.Y + h/2}

	sty := plt.Legend.TextStyle
	sty.XAlign = draw.XCenter
	sty.YAlign = draw.YCenter

	// Wedges start at twelve o'clock and run clockwise.
	start := math.Pi / 2
	for i, v := range pc.Values {
		if v <= 0 {
			continue
		}
		frac := v / total
		sweep := -frac * 2 * math.Pi

		var path vg.Path
		path.Move(center)
		path.Arc(center, radius, start, sweep)
		path.Close()
		c.SetColor(pc.Colors[i])
		c.Fill(path)

		if pc.ShowPercent {
			mid := start + sweep/2
			at := vg.Point{
				X: center.X + radius*0.65*vg.Length(math.Cos(mid)),
				Y: center.Y + radius*0.65*vg.Length(math.Sin(mid)),
			}
			c.FillText(sty, at, strconv.FormatFloat(frac*100, 'f', 1, 64)+"%")
		}
		start += sweep
	}
}

func (pc *pieChart) DataRange() (xmin, xmax, ymin, ymax float64) {
	return 0, 1, 0, 1
}

// swatch is a filled legend square.
type swatch struct {
	color color.Color
}

func (s swatch) Thumbnail(c *draw.Canvas) {
	pts := []vg.Point{
		{X: c.Min.X, Y: c.Min.Y},
		{X: c.Min.X, Y: c.Max.Y},
		{X: c.Max.X, Y: c.Max.Y},
		{X: c.Max.X, Y: c.Min.Y},
	}
	c.FillPolygon(s.color, pts)
}

func drawScatter(dc draw.Canvas, cfg views.ChartConfig, t models.Table) error {
	table, ok := t.(*models.ConstituencyTable)
	if !ok {
		return fmt.Errorf("scatter chart cannot draw %T", t)
	}

	groups := make(map[string]plotter.XYs)
	for _, pt := range table.Points {
		if !pt.Spend.Valid || !pt.Polled.Valid {
			continue
		}
		state := pt.State.String
		if !pt.State.Valid {
			state = "(unknown)"
		}
		groups[state] = append(groups[state], plotter.XY{X: pt.Spend.Decimal.InexactFloat64(), Y: pt.Polled.Float64})
	}

	states := make([]string, 0, len(groups))
	for s := range groups {
		states = append(states, s)
	}
	sort.Strings(states)

	p := newPlot(cfg)
	for i, state := range states {
		s, err := plotter.NewScatter(groups[state])
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = parseHex(paletteAt(cfg.Palette, i))
		s.GlyphStyle.Radius = vg.Points(3)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		p.Legend.Add(state, s)
	}
	p.Legend.Top = true

	p.Draw(dc)
	return nil
}

func drawHistogram(dc draw.Canvas, cfg views.ChartConfig, t models.Table) error {
	dist, ok := t.(*models.SpendDistribution)
	if !ok {
		return fmt.Errorf("histogram cannot draw %T", t)
	}

	p := newPlot(cfg)
	if len(dist.Bins) > 0 {
		h := &plotter.Histogram{
			Bins:      make([]plotter.HistogramBin, 0, len(dist.Bins)),
			Width:     dist.Bins[0].Upper - dist.Bins[0].Lower,
			FillColor: parseHex(cfg.BarColor),
			LineStyle: plotter.DefaultLineStyle,
		}
		h.LineStyle.Color = parseHex(cfg.Outline)
		h.LineStyle.Width = vg.Points(1)
		for _, b := range dist.Bins {
			h.Bins = append(h.Bins, plotter.HistogramBin{Min: b.Lower, Max: b.Upper, Weight: float64(b.Count)})
		}
		p.Add(h)
	}

	p.Draw(dc)
	return nil
}

// drawCombo draws spend bars against the left axis and a turnout line
// against a secondary right axis sharing the phase categories.
func drawCombo(dc draw.Canvas, cfg views.ChartConfig, t models.Table) error {
	phases, ok := t.(models.PhaseTable)
	if !ok {
		return fmt.Errorf("combo chart cannot draw %T", t)
	}

	barColor, lineColor := parseHex(cfg.BarColor), parseHex(cfg.LineColor)

	p := newPlot(cfg)
	p.Y.Label.TextStyle.Color = barColor
	p.Y.Tick.Label.Color = barColor
	p.Legend.Top = true

	if len(phases) == 0 {
		p.Draw(dc)
		return nil
	}

	names := make([]string, len(phases))
	spend := make(plotter.Values, len(phases))
	for i, ph := range phases {
		names[i] = ph.Phase
		spend[i] = ph.Spend.InexactFloat64()
	}

	area := draw.Crop(dc, 0, -comboAxisMargin, 0, 0)
	bars, err := plotter.NewBarChart(spend, barWidth(area, len(phases)))
	if err != nil {
		return err
	}
	bars.Color = barColor
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)
	p.Legend.Add(cfg.YLabel, bars)

	line, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 0}})
	if err != nil {
		return err
	}
	line.LineStyle.Color = lineColor
	line.LineStyle.Width = vg.Points(2)
	p.Legend.Add(cfg.Y2Label, line)

	p.Draw(area)

	lo, hi, ok := turnoutRange(phases)
	if !ok {
		return nil
	}
	data := p.DataCanvas(area)
	trX, _ := p.Transforms(&data)
	trY2 := func(v float64) vg.Length {
		return data.Min.Y + vg.Length((v-lo)/(hi-lo))*(data.Max.Y-data.Min.Y)
	}

	var pts []vg.Point
	glyph := draw.GlyphStyle{Color: lineColor, Radius: vg.Points(3), Shape: draw.CircleGlyph{}}
	for i, ph := range phases {
		if !ph.Turnout.Valid {
			continue
		}
		pt := vg.Point{X: trX(float64(i)), Y: trY2(ph.Turnout.Float64)}
		pts = append(pts, pt)
		data.DrawGlyph(glyph, pt)
	}
	if len(pts) > 1 {
		data.StrokeLines(line.LineStyle, pts)
	}

	drawRightAxis(dc, data, p, cfg.Y2Label, lineColor, lo, hi, trY2)
	return nil
}

func turnoutRange(phases models.PhaseTable) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, ph := range phases {
		if ph.Turnout.Valid {
			lo = math.Min(lo, ph.Turnout.Float64)
			hi = math.Max(hi, ph.Turnout.Float64)
			ok = true
		}
	}
	if !ok {
		return 0, 0, false
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	pad := (hi - lo) * 0.05
	return lo - pad, hi + pad, true
}

func drawRightAxis(dc, data draw.Canvas, p *plot.Plot, label string, clr color.Color, lo, hi float64, tr func(float64) vg.Length) {
	axis := draw.LineStyle{Color: clr, Width: vg.Points(0.5)}
	x := data.Max.X
	dc.StrokeLine2(axis, x, data.Min.Y, x, data.Max.Y)

	tickSty := p.Y.Tick.Label
	tickSty.Color = clr
	tickSty.XAlign = draw.XLeft
	tickSty.YAlign = draw.YCenter

	widest := vg.Length(0)
	for _, tick := range (plot.DefaultTicks{}).Ticks(lo, hi) {
		if tick.Label == "" || tick.Value < lo || tick.Value > hi {
			continue
		}
		y := tr(tick.Value)
		dc.StrokeLine2(axis, x, y, x+vg.Points(4), y)
		dc.FillText(tickSty, vg.Point{X: x + vg.Points(6), Y: y}, tick.Label)
		widest = vg.Length(math.Max(float64(widest), float64(tickSty.Width(tick.Label))))
	}

	titleSty := p.Y.Label.TextStyle
	titleSty.Color = clr
	titleSty.Rotation = -math.Pi / 2
	titleSty.XAlign = draw.XCenter
	titleSty.YAlign = draw.YTop
	mid := data.Min.Y + (data.Max.Y-data.Min.Y)/2
	dc.FillText(titleSty, vg.Point{X: x + vg.Points(10) + widest, Y: mid}, label)
}

func paletteAt(palette []string, i int) string {
	if len(palette) == 0 {
		return "#636efa"
	}
	return palette[i%len(palette)]
}

// parseHex reads "#rrggbb" or "#rgb". Anything else is black.
func parseHex(s string) color.Color {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return color.Black
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.Black
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}
