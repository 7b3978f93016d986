package cr2

import (
	"errors"
	"fmt"
	"math"

	"github.com/anyappinc/cr2/logger"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// SingularClusterPolicy decides what happens to a cluster whose residual
// covariance Phi_i = e_i·e_iᵗ is not positive definite.
//
// Phi_i has rank at most one, so it is positive definite only for a single
// observation with a non-zero residual. SingularClusterFail rejects
// single-observation clusters as well, since they carry no within-cluster
// covariance; SingularClusterRegularize factorizes them like any other
// cluster.
type SingularClusterPolicy int

const (
	// SingularClusterFail rejects the computation with a SingularClusterError.
	SingularClusterFail SingularClusterPolicy = iota
	// SingularClusterRegularize factorizes Phi_i + λ_i·I instead, with
	// λ_i = ridge·tr(Phi_i)/n_i, or ridge when the trace is zero.
	SingularClusterRegularize
)

// String returns the configuration name of the policy.
func (p SingularClusterPolicy) String() string {
	switch p {
	case SingularClusterFail:
		return "fail"
	case SingularClusterRegularize:
		return "regularize"
	}
	return fmt.Sprintf("SingularClusterPolicy(%d)", int(p))
}

// clusterAdjustment : クラスタごとの調整項
type clusterAdjustment struct {
	a        float64    // A_i = Ṙ_iᵗ (D_iᵗ D_i)⁻¹ Ṙ_i
	bInv     *mat.Dense // B_i⁻¹, B_i = D_iᵗ C_i W C_iᵗ D_i
	ridge    float64    // Phi_iに加えた λ_i
	warnings []error
}

// adjuster carries the read-only inputs shared by all clusters.
type adjuster struct {
	n      int
	x      *mat.Dense     // 係数が定義された列だけのX
	hzx    *mat.Dense     // Hz·X
	w      *mat.DiagDense // W
	beta   *mat.VecDense  // 定義された係数
	resid  *mat.VecDense  // e
	policy SingularClusterPolicy
	ridge  float64
}

// adjustAll runs adjustCluster over every cluster, at most limit at a time,
// and returns the adjustments in cluster order. When several clusters fail,
// the error of the first one in cluster order is returned.
func (ad *adjuster) adjustAll(clusters []Cluster, limit int) ([]*clusterAdjustment, error) {
	adjustments := make([]*clusterAdjustment, len(clusters))
	errs := make([]error, len(clusters))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, c := range clusters {
		i, c := i, c
		g.Go(func() error {
			adjustments[i], errs[i] = ad.adjustCluster(c)
			return errs[i]
		})
	}
	if err := g.Wait(); err != nil {
		for _, e := range errs {
			if e != nil {
				return nil, e
			}
		}
	}
	return adjustments, nil
}

func (ad *adjuster) adjustCluster(c Cluster) (*clusterAdjustment, error) {
	ni := c.Size()
	if ad.policy != SingularClusterRegularize {
		if ni == 1 {
			return nil, &SingularClusterError{ClusterID: c.ID, Size: ni, Reason: "a single observation has no within-cluster covariance"}
		}
		return nil, &SingularClusterError{ClusterID: c.ID, Size: ni, Reason: "residual covariance has rank at most one and is not positive definite"}
	}

	ci, err := SelectionMatrix(c.Rows, ad.n)
	if err != nil {
		return nil, fmt.Errorf("cluster %q: %w", c.ID, err)
	}

	// Phi_i = e_i e_iᵗ
	ei := new(mat.VecDense)
	ei.MulVec(ci, ad.resid)
	phi := new(mat.SymDense)
	phi.SymOuterK(1, ei)

	ridge := ad.ridge * mat.Trace(phi) / float64(ni)
	if ridge == 0 {
		ridge = ad.ridge
	}
	for j := 0; j < ni; j++ {
		phi.SetSym(j, j, phi.At(j, j)+ridge)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(phi); !ok {
		return nil, &SingularClusterError{ClusterID: c.ID, Size: ni, Reason: fmt.Sprintf("residual covariance is not positive definite after adding %g", ridge)}
	}
	di := new(mat.TriDense)
	chol.LTo(di)

	// S̄_i = C_i·X − C_i·Hz·X
	sBar := new(mat.Dense)
	sBar.Mul(ci, ad.x)
	ciHzX := new(mat.Dense)
	ciHzX.Mul(ci, ad.hzx)
	sBar.Sub(sBar, ciHzX)

	// Ũ_i = S̄_i·β has a single column, which is Ṙ_i
	rDot := new(mat.VecDense)
	rDot.MulVec(sBar, ad.beta)

	adj := &clusterAdjustment{ridge: ridge}

	dtd := new(mat.Dense)
	dtd.Mul(di.T(), di)
	dtdInv := new(mat.Dense)
	if warn, err := invertBlock(dtdInv, dtd, c.ID, "Di'Di"); err != nil {
		return nil, err
	} else if warn != nil {
		adj.warnings = append(adj.warnings, warn)
	}
	adj.a = mat.Inner(rDot, dtdInv, rDot)

	ciW := new(mat.Dense)
	ciW.Mul(ci, ad.w)
	ciWCit := new(mat.Dense)
	ciWCit.Mul(ciW, ci.T())
	dtCiWCit := new(mat.Dense)
	dtCiWCit.Mul(di.T(), ciWCit)
	b := new(mat.Dense)
	b.Mul(dtCiWCit, di)

	adj.bInv = new(mat.Dense)
	if warn, err := invertBlock(adj.bInv, b, c.ID, "Bi"); err != nil {
		return nil, err
	} else if warn != nil {
		adj.warnings = append(adj.warnings, warn)
	}

	logger.Debug.Printf("Cluster %q: size = %d, A = %g, ridge = %g", c.ID, ni, adj.a, ridge)

	return adj, nil
}

// invertBlock inverts a into dst. An exactly singular block is an error; a
// merely ill-conditioned one is returned as a warning.
func invertBlock(dst *mat.Dense, a mat.Matrix, clusterID, block string) (warning, err error) {
	if err := dst.Inverse(a); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) && !math.IsInf(float64(cond), 1) {
			return &SingularBlockError{ClusterID: clusterID, Block: block, err: err}, nil
		}
		return nil, &SingularBlockError{ClusterID: clusterID, Block: block, err: err}
	}
	return nil, nil
}
