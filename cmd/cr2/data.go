package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/anyappinc/cr2"
)

// Dataset is the input of one estimation, one entry per data row.
type Dataset struct {
	Response   []float64
	Regressors [][]float64 // 行ごとの説明変数
	Clusters   []string
	Weights    []float64 // 重みの列がない場合はnil
	Labels     DataConfig
}

// LoadDataset reads a headed CSV file.
func LoadDataset(path string, cfg DataConfig) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	ds, err := ReadDataset(f, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// ReadDataset reads a headed CSV stream. The cluster column is kept as text;
// every other selected column must parse as a float.
func ReadDataset(in io.Reader, cfg DataConfig) (*Dataset, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for j, name := range header {
		index[strings.TrimSpace(name)] = j
	}
	column := func(name string) (int, error) {
		j, ok := index[name]
		if !ok {
			return 0, fmt.Errorf("column %q not found in header", name)
		}
		return j, nil
	}

	responseCol, err := column(cfg.Response)
	if err != nil {
		return nil, err
	}
	clusterCol, err := column(cfg.Cluster)
	if err != nil {
		return nil, err
	}
	regressorCols := make([]int, len(cfg.Regressors))
	for i, name := range cfg.Regressors {
		if regressorCols[i], err = column(name); err != nil {
			return nil, err
		}
	}
	weightCol := -1
	if cfg.Weights != "" {
		if weightCol, err = column(cfg.Weights); err != nil {
			return nil, err
		}
	}

	ds := &Dataset{Labels: cfg}
	for row := 2; ; row++ { // 2: ヘッダーの次の行
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}
		if len(record) == 1 && record[0] == "" {
			continue
		}

		parse := func(j int) (float64, error) {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[j]), 64)
			if err != nil {
				return 0, fmt.Errorf("parse float at row %d col %q: %w", row, header[j], err)
			}
			return v, nil
		}

		y, err := parse(responseCol)
		if err != nil {
			return nil, err
		}
		xs := make([]float64, len(regressorCols))
		for i, j := range regressorCols {
			if xs[i], err = parse(j); err != nil {
				return nil, err
			}
		}
		if weightCol >= 0 {
			w, err := parse(weightCol)
			if err != nil {
				return nil, err
			}
			ds.Weights = append(ds.Weights, w)
		}

		ds.Response = append(ds.Response, y)
		ds.Regressors = append(ds.Regressors, xs)
		ds.Clusters = append(ds.Clusters, strings.TrimSpace(record[clusterCol]))
	}

	if len(ds.Response) == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	return ds, nil
}

// Fit runs the least-squares regression of the response on the regressors.
func (ds *Dataset) Fit() (*cr2.Model, error) {
	r := cr2.NewRegression()
	r.SetObjectiveVariableLabel(ds.Labels.Response)
	for i, label := range ds.Labels.Regressors {
		r.SetExplanatoryVariableLabel(i, label)
	}

	for i, y := range ds.Response {
		var err error
		if ds.Weights != nil {
			err = r.AddObservations(cr2.NewWeightedObservation(y, ds.Regressors[i], ds.Weights[i]))
		} else {
			err = r.AddObservations(cr2.NewObservation(y, ds.Regressors[i]))
		}
		if err != nil {
			return nil, fmt.Errorf("observation %d: %w", i+1, err)
		}
	}
	return r.Run()
}
