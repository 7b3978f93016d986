package cr2

import (
	"fmt"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"
)

// Cluster is a group of observations sharing a cluster id.
type Cluster struct {
	ID   string
	Rows []int // 行位置（昇順）
}

// Size returns the number of observations in the cluster.
func (c Cluster) Size() int { return len(c.Rows) }

// Partition groups the row positions 0..n-1 by cluster id. Clusters are
// sorted by id and rows within a cluster are ascending. The returned order is
// the block order used by every later per-cluster stage.
func Partition(ids []string, n int) ([]Cluster, error) {
	if len(ids) != n {
		return nil, &AlignmentError{What: "cluster ids", Want: n, Got: len(ids)}
	}

	index := map[string]int{}
	var clusters []Cluster
	for row, id := range ids {
		i, ok := index[id]
		if !ok {
			i = len(clusters)
			index[id] = i
			clusters = append(clusters, Cluster{ID: id})
		}
		clusters[i].Rows = append(clusters[i].Rows, row)
	}

	sort.SliceStable(clusters, func(a, b int) bool { return clusters[a].ID < clusters[b].ID })
	return clusters, nil
}

// PartitionInts is Partition for integer cluster ids. Clusters are sorted by
// numeric id.
func PartitionInts(ids []int, n int) ([]Cluster, error) {
	if len(ids) != n {
		return nil, &AlignmentError{What: "cluster ids", Want: n, Got: len(ids)}
	}

	byID := map[int][]int{}
	var keys []int
	for row, id := range ids {
		if _, ok := byID[id]; !ok {
			keys = append(keys, id)
		}
		byID[id] = append(byID[id], row)
	}
	sort.Ints(keys)

	clusters := make([]Cluster, len(keys))
	for i, id := range keys {
		clusters[i] = Cluster{ID: strconv.Itoa(id), Rows: byID[id]}
	}
	return clusters, nil
}

// SelectionMatrix builds the len(rows)×n matrix whose i-th row is the
// indicator of rows[i]. Multiplying by it extracts those rows of an n-row
// matrix; its transpose scatters them back.
func SelectionMatrix(rows []int, n int) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty row set: %w", ErrInvalidArgument)
	}
	c := mat.NewDense(len(rows), n, nil)
	for i, row := range rows {
		if row < 0 || row >= n {
			return nil, fmt.Errorf("row %d out of range [0:%d]: %w", row, n, ErrInvalidArgument)
		}
		c.Set(i, row, 1)
	}
	return c, nil
}

// clusterWeights returns W, the n×n diagonal matrix holding for every
// observation the size of its cluster.
func clusterWeights(clusters []Cluster, n int) *mat.DiagDense {
	w := make([]float64, n)
	for _, c := range clusters {
		for _, row := range c.Rows {
			w[row] = float64(c.Size())
		}
	}
	return mat.NewDiagDense(n, w)
}
