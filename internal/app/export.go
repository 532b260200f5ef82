package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"duel-settlement/internal/duel"
)

// pnlPoint is one settled duel on an agent's cumulative PnL curve.
type pnlPoint struct {
	SettledAt  time.Time
	Duel       *duel.Duel
	Outcome    string
	PnL        *big.Int
	Cumulative *big.Int
}

// Export renders an agent's settled-duel history as CSV and/or a PNG
// chart of the cumulative PnL curve.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Agent == "" {
		return errors.New("--agent is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	duels, err := store.ListSettledByAgent(ctx, opts.Agent, opts.MaxPoints)
	if err != nil {
		return err
	}
	if len(duels) == 0 {
		a.Logger.Info().Str("agent", opts.Agent).Msg("no settled duels to export")
		return nil
	}

	points := buildPnLCurve(duels, opts.Agent)
	downsampled := downsamplePoints(points, opts.MaxPoints)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting pnl history")

	if opts.CSVPath != "" {
		if err := writePnLCSV(opts.CSVPath, opts.Agent, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePnLPNG(opts.PNGPath, opts.Agent, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// buildPnLCurve accumulates the agent's PnL across settled duels,
// which the store returns oldest-first.
func buildPnLCurve(duels []duel.Duel, agent string) []pnlPoint {
	points := make([]pnlPoint, 0, len(duels))
	cumulative := new(big.Int)

	for i := range duels {
		d := &duels[i]
		if d.SettledAt == nil {
			continue
		}

		delta := duel.SettlementDelta(d, agent)
		outcome := "draw"
		switch {
		case delta.Wins == 1:
			outcome = "win"
		case delta.Losses == 1:
			outcome = "loss"
		}
		cumulative = new(big.Int).Add(cumulative, delta.PnL)

		points = append(points, pnlPoint{
			SettledAt:  *d.SettledAt,
			Duel:       d,
			Outcome:    outcome,
			PnL:        delta.PnL,
			Cumulative: cumulative,
		})
	}
	return points
}

func downsamplePoints(points []pnlPoint, max int) []pnlPoint {
	if max <= 0 || len(points) <= max {
		return points
	}

	result := make([]pnlPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePnLCSV(path, agent string, points []pnlPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"settled_at", "duel_id", "asset", "outcome", "stake_wei", "pnl_wei", "cumulative_pnl_wei"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		record := []string{
			p.SettledAt.UTC().Format(time.RFC3339),
			p.Duel.ID.String(),
			p.Duel.Asset,
			p.Outcome,
			p.Duel.Stake.String(),
			p.PnL.String(),
			p.Cumulative.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePnLPNG(path, agent string, points []pnlPoint) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	cumulative := make([]float64, len(points))
	perDuel := make([]float64, len(points))

	for i, p := range points {
		x[i] = p.SettledAt
		cumulative[i] = weiToFloat(p.Cumulative)
		perDuel[i] = weiToFloat(p.PnL)
	}

	pnlFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Title:  "Cumulative PnL " + shortAddr(agent),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "PnL (native token)",
			ValueFormatter: pnlFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Cumulative",
				XValues: x,
				YValues: cumulative,
			},
			chart.TimeSeries{
				Name:    "Per duel",
				XValues: x,
				YValues: perDuel,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// weiToFloat converts wei to a token amount for charting only; exact
// values live in the CSV.
func weiToFloat(wei *big.Int) float64 {
	return decimal.NewFromBigInt(wei, -18).InexactFloat64()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
