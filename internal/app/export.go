package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"keen-oracle/internal/oracle"
	"keen-oracle/internal/wallet"
)

// Export renders submission history as CSV and/or a PNG price chart, and
// optionally a bar chart of oracle reputation.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.ReputationPNG == "" {
		return errors.New("at least one of --csv, --png or --reputation-png must be provided")
	}
	if opts.PNGPath != "" && opts.Pair == "" {
		return errors.New("--pair is required with --png")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	eng, err := a.openEngine(ctx, wallet.NewContext(nil))
	if err != nil {
		return err
	}
	defer eng.Close()

	if opts.ReputationPNG != "" {
		if err := writeReputationPNG(opts.ReputationPNG, eng.svc.ListOracles()); err != nil {
			return err
		}
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return nil
	}

	to := a.clock().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * eng.svc.Params().EpochDuration)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	subs := eng.svc.History(opts.Pair, from, to)
	if len(subs) == 0 {
		a.Logger.Info().Str("pair", opts.Pair).Msg("no submissions found for export window")
		return nil
	}

	downsampled := downsampleSubmissions(subs, opts.MaxPoints)
	a.Logger.Info().Int("total", len(subs)).Int("exported", len(downsampled)).Msg("exporting submissions")

	if opts.CSVPath != "" {
		if err := writeSubmissionsCSV(opts.CSVPath, downsampled, eng.svc.Params().EpochDuration); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSubmissionsPNG(opts.PNGPath, oracle.NormalizePair(opts.Pair), downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSubmissions(subs []oracle.Submission, max int) []oracle.Submission {
	if max <= 0 || len(subs) <= max {
		return subs
	}
	if max == 1 {
		return subs[len(subs)-1:]
	}

	result := make([]oracle.Submission, 0, max)
	step := float64(len(subs)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(subs) {
			idx = len(subs) - 1
		}
		result = append(result, subs[idx])
	}
	return result
}

func writeSubmissionsCSV(path string, subs []oracle.Submission, epoch time.Duration) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"seq", "timestamp", "epoch", "pair", "oracle", "price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sub := range subs {
		record := []string{
			strconv.FormatUint(sub.Seq, 10),
			sub.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.FormatInt(oracle.EpochOf(sub.Timestamp, epoch), 10),
			sub.Pair,
			string(sub.Oracle),
			sub.Price.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSubmissionsPNG(path, pair string, subs []oracle.Submission) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(subs))
	prices := make([]float64, len(subs))
	for i, sub := range subs {
		x[i] = sub.Timestamp
		prices[i] = sub.Price.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           fmt.Sprintf("Price (%s)", pair),
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Submissions",
				XValues: x,
				YValues: prices,
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

func writeReputationPNG(path string, records []oracle.OracleRecord) error {
	if len(records) == 0 {
		return errors.New("no oracles registered; nothing to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Reputation > records[j].Reputation
	})

	bars := make([]chart.Value, 0, len(records))
	for _, rec := range records {
		bars = append(bars, chart.Value{
			Label: rec.Address.Short(),
			Value: float64(rec.Reputation),
		})
	}

	graph := chart.BarChart{
		Title:    "Oracle reputation",
		Width:    1280,
		Height:   720,
		BarWidth: 60,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
