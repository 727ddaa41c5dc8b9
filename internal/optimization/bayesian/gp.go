package bayesian

import (
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/optimization/kernels"
)

const (
	// maxJitterAttempts bounds the jitter escalation before the SVD fallback.
	maxJitterAttempts = 10
	initialJitter     = 1e-10
)

// GP implements a Gaussian Process model for Bayesian Optimization
type GP struct {
	// Kernel function
	kernel kernels.Kernel

	// Noise variance
	noiseVar float64

	// Training data
	X *mat.Dense    // Input points (n_samples, n_features)
	y *mat.VecDense // Target values (n_samples)

	// Precomputed values. Exactly one of chol and pinv is set after Fit.
	alpha  *mat.VecDense
	chol   *mat.Cholesky
	pinv   *mat.Dense
	logDet float64
	jitter float64

	// Logger for structured logging
	logger *zap.Logger
}

// NewGP creates a new Gaussian Process model
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		logger:   logger.Named("gaussian_process"),
	}
}

func gpError(kind error, op, format string, args ...interface{}) error {
	return optimization.Errorf(kind, format, args...).WithOperation(op).WithComponent("gaussian_process")
}

// Kernel returns the covariance function.
func (gp *GP) Kernel() kernels.Kernel { return gp.kernel }

// Fitted reports whether Fit has succeeded at least once.
func (gp *GP) Fitted() bool { return gp.alpha != nil }

// NumSamples returns the number of training points.
func (gp *GP) NumSamples() int {
	if gp.X == nil {
		return 0
	}
	n, _ := gp.X.Dims()
	return n
}

// Jitter returns the diagonal jitter the last successful Cholesky needed.
func (gp *GP) Jitter() float64 { return gp.jitter }

// Fit fits the GP model to the training data
func (gp *GP) Fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "GP.Fit"

	if X == nil || y == nil {
		return gpError(optimization.ErrShapeMismatch, op, "input matrices must not be nil")
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return gpError(optimization.ErrShapeMismatch, op, "input matrix X must not be empty")
	}
	if nSamples != y.Len() {
		return gpError(optimization.ErrShapeMismatch, op, "X has %d samples but y has length %d",
			nSamples, y.Len())
	}
	for i := 0; i < nSamples; i++ {
		if v := y.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return gpError(optimization.ErrInvalidValue, op, "target %d is %v", i, v)
		}
	}

	gp.logger.Debug("Fitting GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("noise_var", gp.noiseVar),
	)

	K := gp.kernelMatrix(X)
	for i := 0; i < nSamples; i++ {
		K.SetSym(i, i, K.At(i, i)+gp.noiseVar)
	}

	alpha := mat.NewVecDense(nSamples, nil)
	var (
		chol   *mat.Cholesky
		pinv   *mat.Dense
		jitter float64
		logDet float64
		ok     bool
	)
	if chol, jitter, ok = gp.factorize(K); ok {
		if err := chol.SolveVecTo(alpha, y); err != nil {
			return optimization.WrapErrorf(err, "gaussian_process: %s: cholesky solve", op)
		}
		logDet = chol.LogDet()
	} else {
		var err error
		if pinv, logDet, err = gp.pseudoInverse(K); err != nil {
			return err
		}
		alpha.MulVec(pinv, y)
	}

	gp.chol, gp.pinv = chol, pinv
	gp.jitter, gp.logDet = jitter, logDet
	gp.X = mat.DenseCopyOf(X)
	gp.y = mat.VecDenseCopyOf(y)
	gp.alpha = alpha

	gp.logger.Debug("Successfully fitted GP model",
		zap.Int("samples", nSamples),
		zap.Bool("svd_fallback", gp.pinv != nil),
		zap.Float64("jitter", gp.jitter),
	)
	return nil
}

func (gp *GP) kernelMatrix(X mat.Matrix) *mat.SymDense {
	n, _ := X.Dims()
	K := mat.NewSymDense(n, nil)
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			K.SetSym(i, j, gp.kernel.Eval(rows[i], rows[j]))
		}
	}
	return K
}

// factorize tries a Cholesky decomposition, escalating diagonal jitter by a
// factor of ten on each failure.
func (gp *GP) factorize(K *mat.SymDense) (*mat.Cholesky, float64, bool) {
	n := K.SymmetricDim()
	jitter := 0.0
	for attempt := 0; attempt < maxJitterAttempts; attempt++ {
		Kj := K
		if jitter > 0 {
			Kj = mat.NewSymDense(n, nil)
			Kj.CopySym(K)
			for i := 0; i < n; i++ {
				Kj.SetSym(i, i, Kj.At(i, i)+jitter)
			}
		}
		var chol mat.Cholesky
		if chol.Factorize(Kj) {
			return &chol, jitter, true
		}
		gp.logger.Debug("Cholesky factorization failed, increasing jitter",
			zap.Int("attempt", attempt+1),
			zap.Float64("jitter", jitter))
		if jitter == 0 {
			jitter = initialJitter
		} else {
			jitter *= 10
		}
	}
	return nil, 0, false
}

// pseudoInverse computes K^+ from an SVD, dropping singular values below a
// relative threshold. It also returns the log pseudo-determinant.
func (gp *GP) pseudoInverse(K *mat.SymDense) (*mat.Dense, float64, error) {
	const op = "GP.pseudoInverse"

	var svd mat.SVD
	if !svd.Factorize(K, mat.SVDFull) {
		return nil, 0, gpError(optimization.ErrInvalidValue, op, "SVD factorization failed")
	}
	s := svd.Values(nil)
	if len(s) == 0 || s[0] <= 0 {
		return nil, 0, gpError(optimization.ErrInvalidValue, op, "kernel matrix is rank zero")
	}

	var U, V mat.Dense
	svd.UTo(&U)
	svd.VTo(&V)

	n := len(s)
	threshold := float64(n) * s[0] * 1e-15
	inv := make([]float64, n)
	rank := 0
	logDet := 0.0
	for i, v := range s {
		if v > threshold {
			inv[i] = 1 / v
			logDet += math.Log(v)
			rank++
		}
	}

	// K^+ = V * S^+ * U^T
	var tmp, pinv mat.Dense
	tmp.Mul(&V, mat.NewDiagDense(n, inv))
	pinv.Mul(&tmp, U.T())

	gp.logger.Info("Using SVD solver",
		zap.Float64("condition_number", s[0]/math.Max(s[n-1], 1e-300)),
		zap.Int("effective_rank", rank),
	)
	return &pinv, logDet, nil
}

// solve returns K^-1 * B for the fitted kernel matrix.
func (gp *GP) solve(B mat.Matrix) (*mat.Dense, error) {
	var out mat.Dense
	if gp.chol != nil {
		if err := gp.chol.SolveTo(&out, B); err != nil {
			return nil, err
		}
		return &out, nil
	}
	out.Mul(gp.pinv, B)
	return &out, nil
}

// Predict returns the mean and variance of the posterior predictive distribution
// at the given test points X*. The variance is that of the latent function
// and excludes observation noise.
func (gp *GP) Predict(X mat.Matrix) (*mat.VecDense, *mat.VecDense, error) {
	const op = "GP.Predict"

	if X == nil {
		return nil, nil, gpError(optimization.ErrShapeMismatch, op, "input matrix X is nil")
	}
	if !gp.Fitted() {
		return nil, nil, gpError(optimization.ErrEmptyHistory, op, "model not trained")
	}

	nTest, nFeatures := X.Dims()
	nTrain, trainFeatures := gp.X.Dims()
	if nFeatures != trainFeatures {
		return nil, nil, gpError(optimization.ErrShapeMismatch, op, "X has %d features, model was trained on %d",
			nFeatures, trainFeatures)
	}

	if nTest == 0 {
		return nil, nil, gpError(optimization.ErrShapeMismatch, op, "no test points")
	}
	mean := mat.NewVecDense(nTest, nil)
	variance := mat.NewVecDense(nTest, nil)

	Kss := make([]float64, nTest)
	Kstar := mat.NewDense(nTest, nTrain, nil)
	for i := 0; i < nTest; i++ {
		xStar := mat.Row(nil, i, X)
		Kss[i] = gp.kernel.Eval(xStar, xStar)
		for j := 0; j < nTrain; j++ {
			Kstar.Set(i, j, gp.kernel.Eval(xStar, gp.X.RawRowView(j)))
		}
	}

	// mean = K* * alpha
	mean.MulVec(Kstar, gp.alpha)

	// variance = diag(K** - K* * K^-1 * K*^T)
	v, err := gp.solve(Kstar.T())
	if err != nil {
		return nil, nil, optimization.WrapErrorf(err, "gaussian_process: %s: solve", op)
	}
	for i := 0; i < nTest; i++ {
		sum := 0.0
		for j := 0; j < nTrain; j++ {
			sum += Kstar.At(i, j) * v.At(j, i)
		}
		variance.SetVec(i, math.Max(0, Kss[i]-sum))
	}
	return mean, variance, nil
}

// LogMarginalLikelihood returns log p(y | X) of the fitted model.
func (gp *GP) LogMarginalLikelihood() (float64, error) {
	if !gp.Fitted() {
		return 0, gpError(optimization.ErrEmptyHistory, "GP.LogMarginalLikelihood", "model not trained")
	}
	n := float64(gp.y.Len())
	return -0.5*mat.Dot(gp.y, gp.alpha) - 0.5*gp.logDet - 0.5*n*math.Log(2*math.Pi), nil
}

// Sample draws nSamples samples from the posterior marginals at the given
// test points. Each column of the result is one sample.
func (gp *GP) Sample(X mat.Matrix, nSamples int, rng *rand.Rand) (*mat.Dense, error) {
	const op = "GP.Sample"

	if nSamples <= 0 {
		return nil, gpError(optimization.ErrInvalidValue, op, "number of samples must be positive")
	}
	mean, variance, err := gp.Predict(X)
	if err != nil {
		return nil, err
	}
	nTest := mean.Len()
	samples := mat.NewDense(nTest, nSamples, nil)
	for i := 0; i < nTest; i++ {
		sd := math.Sqrt(variance.AtVec(i))
		for j := 0; j < nSamples; j++ {
			samples.Set(i, j, mean.AtVec(i)+sd*rng.NormFloat64())
		}
	}
	return samples, nil
}
