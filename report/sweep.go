package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/weiihann/parbench/harness"
)

var csvHeader = []string{"parallelism", "ssd_delay", "tps"}

// GenerateCSV writes sweep rows with a parallelism,ssd_delay,tps header.
func GenerateCSV(w io.Writer, rows []harness.SweepRow) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.Parallelism),
			strconv.FormatInt(r.DelayUs, 10),
			strconv.FormatFloat(r.TPS, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	cw.Flush()

	return cw.Error()
}

// ReadCSV parses rows written by GenerateCSV.
func ReadCSV(r io.Reader) ([]harness.SweepRow, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 || !slices.Equal(records[0], csvHeader) {
		return nil, errors.New("read csv: missing parallelism,ssd_delay,tps header")
	}

	rows := make([]harness.SweepRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		parallelism, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: parallelism: %w", i+2, err)
		}
		delay, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: ssd_delay: %w", i+2, err)
		}
		tps, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: tps: %w", i+2, err)
		}

		rows = append(rows, harness.SweepRow{Parallelism: parallelism, DelayUs: delay, TPS: tps})
	}

	return rows, nil
}

// Chart renders an HTML page plotting TPS against parallelism, one line per
// storage delay, on a logarithmic axis.
func Chart(w io.Writer, rows []harness.SweepRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("no sweep rows to chart")
	}

	var threads []int
	var delays []int64
	tps := make(map[[2]int64]float64, len(rows))

	for _, r := range rows {
		if !slices.Contains(threads, r.Parallelism) {
			threads = append(threads, r.Parallelism)
		}
		if !slices.Contains(delays, r.DelayUs) {
			delays = append(delays, r.DelayUs)
		}
		tps[[2]int64{int64(r.Parallelism), r.DelayUs}] = r.TPS
	}

	slices.Sort(threads)
	slices.Sort(delays)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "TPS vs. Parallelism", Left: "center", Top: "2%"}),
		charts.WithLegendOpts(opts.Legend{Bottom: "5%", Left: "center"}),
		charts.WithGridOpts(opts.Grid{Bottom: "15%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Parallelism (number of threads)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Transactions per Second (TPS)", Type: "log"}),
	)
	line.SetXAxis(threads)

	for _, d := range delays {
		data := make([]opts.LineData, len(threads))
		for i, th := range threads {
			name := strconv.Itoa(th)
			if v, ok := tps[[2]int64{int64(th), d}]; ok {
				data[i] = opts.LineData{Name: name, Value: v}
			} else {
				data[i] = opts.LineData{Name: name}
			}
		}
		line.AddSeries(fmt.Sprintf("SSD delay %dμs", d), data)
	}

	page := components.NewPage()
	page.SetPageTitle("parbench sweep")
	page.AddCharts(line)

	return page.Render(w)
}
