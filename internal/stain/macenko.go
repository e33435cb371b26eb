// Package stain implements Macenko stain normalization for H&E histology
// patches.
//
// The method estimates the two dominant stain vectors of a patch from the
// optical-density distribution of its tissue pixels, then re-expresses the
// patch in a fixed reference stain basis. Patches without enough stained
// tissue, or whose density distribution collapses below two dimensions,
// cannot be normalized and are reported as degenerate.
package stain

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrDegenerate reports a patch whose stain statistics cannot support
// normalization (background-only patches, uniform color, rank-deficient
// optical density).
var ErrDegenerate = errors.New("degenerate stain statistics")

// Reference stain basis and concentration maxima, the commonly used Macenko
// H&E defaults. Columns are the hematoxylin and eosin vectors in RGB
// optical-density space.
var (
	refStains = [3][2]float64{
		{0.5626, 0.2159},
		{0.7201, 0.8012},
		{0.4062, 0.5581},
	}
	refMaxConcentration = [2]float64{1.9705, 1.0308}
)

// MacenkoNormalizer maps patches into the reference H&E stain basis. The
// zero value is not usable; construct with NewMacenko.
type MacenkoNormalizer struct {
	// io is the transmitted-light intensity used in the Beer-Lambert
	// conversion between pixel values and optical density.
	io float64
	// alpha is the robust angle percentile (in percent) for the stain
	// vector extremes.
	alpha float64
	// beta is the optical-density threshold below which a pixel counts as
	// background and is excluded from stain estimation.
	beta float64
	// minTissue is the minimum number of tissue pixels required.
	minTissue int
}

// NewMacenko returns a normalizer with the standard parameters
// (Io=240, alpha=1, beta=0.15).
func NewMacenko() *MacenkoNormalizer {
	return &MacenkoNormalizer{io: 240, alpha: 1, beta: 0.15, minTissue: 32}
}

// Normalize re-colors a patch into the reference stain basis. The input is
// never modified. Failure wraps ErrDegenerate when the patch lacks usable
// stain statistics.
func (n *MacenkoNormalizer) Normalize(img image.Image) (image.Image, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	px := w * h
	if px == 0 {
		return nil, fmt.Errorf("empty image: %w", ErrDegenerate)
	}

	// Beer-Lambert: od = -log((v+1)/Io) per channel, pixels in rows.
	od := mat.NewDense(px, 3, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			row := y*w + x
			od.Set(row, 0, -math.Log((float64(r>>8)+1)/n.io))
			od.Set(row, 1, -math.Log((float64(g>>8)+1)/n.io))
			od.Set(row, 2, -math.Log((float64(b>>8)+1)/n.io))
		}
	}

	// Tissue pixels: every channel above the background threshold.
	var tissue []int
	for i := 0; i < px; i++ {
		if od.At(i, 0) >= n.beta && od.At(i, 1) >= n.beta && od.At(i, 2) >= n.beta {
			tissue = append(tissue, i)
		}
	}
	if len(tissue) < n.minTissue {
		return nil, fmt.Errorf("%d tissue pixels, need %d: %w", len(tissue), n.minTissue, ErrDegenerate)
	}

	basis, err := n.stainBasis(od, tissue)
	if err != nil {
		return nil, err
	}

	// Concentrations for every pixel: least-squares solve of basis*C = od^T.
	var conc mat.Dense
	if err := conc.Solve(basis, od.T()); err != nil {
		return nil, fmt.Errorf("concentration solve: %w", ErrDegenerate)
	}

	// Rescale each stain channel so its 99th percentile matches the
	// reference maximum.
	for s := 0; s < 2; s++ {
		row := make([]float64, px)
		copy(row, conc.RawRowView(s))
		sort.Float64s(row)
		maxC := stat.Quantile(0.99, stat.Empirical, row, nil)
		if maxC <= 0 {
			return nil, fmt.Errorf("non-positive concentration maximum: %w", ErrDegenerate)
		}
		scale := refMaxConcentration[s] / maxC
		for i := 0; i < px; i++ {
			conc.Set(s, i, conc.At(s, i)*scale)
		}
	}

	// Rebuild the image in the reference basis.
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < px; i++ {
		for c := 0; c < 3; c++ {
			odc := refStains[c][0]*conc.At(0, i) + refStains[c][1]*conc.At(1, i)
			v := n.io * math.Exp(-odc)
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			out.Pix[i*4+c] = uint8(math.Round(v))
		}
		out.Pix[i*4+3] = 255
	}
	return out, nil
}

// stainBasis estimates the patch's two stain vectors from its tissue-pixel
// optical densities: project onto the top-2 eigenplane of the OD covariance,
// take robust extreme angles, and order the resulting vectors H-first.
func (n *MacenkoNormalizer) stainBasis(od *mat.Dense, tissue []int) (*mat.Dense, error) {
	m := len(tissue)

	// Mean and centered covariance of the tissue ODs (3x3).
	var mean [3]float64
	for _, i := range tissue {
		for c := 0; c < 3; c++ {
			mean[c] += od.At(i, c)
		}
	}
	for c := 0; c < 3; c++ {
		mean[c] /= float64(m)
	}
	var cov [3][3]float64
	for _, i := range tissue {
		var d [3]float64
		for c := 0; c < 3; c++ {
			d[c] = od.At(i, c) - mean[c]
		}
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				cov[a][b] += d[a] * d[b]
			}
		}
	}
	sym := mat.NewSymDense(3, nil)
	for a := 0; a < 3; a++ {
		for b := a; b < 3; b++ {
			sym.SetSym(a, b, cov[a][b]/float64(m-1))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return nil, fmt.Errorf("eigendecomposition failed: %w", ErrDegenerate)
	}
	values := eig.Values(nil)
	// Eigenvalues come back ascending; the plane is spanned by the last two.
	if values[1] <= 1e-12 {
		return nil, fmt.Errorf("optical density has rank < 2: %w", ErrDegenerate)
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Angles of tissue pixels within the eigenplane.
	phis := make([]float64, m)
	for j, i := range tissue {
		var p0, p1 float64
		for c := 0; c < 3; c++ {
			p0 += od.At(i, c) * vecs.At(c, 1)
			p1 += od.At(i, c) * vecs.At(c, 2)
		}
		phis[j] = math.Atan2(p1, p0)
	}
	sort.Float64s(phis)
	minPhi := stat.Quantile(n.alpha/100, stat.Empirical, phis, nil)
	maxPhi := stat.Quantile(1-n.alpha/100, stat.Empirical, phis, nil)

	var vMin, vMax [3]float64
	for c := 0; c < 3; c++ {
		vMin[c] = vecs.At(c, 1)*math.Cos(minPhi) + vecs.At(c, 2)*math.Sin(minPhi)
		vMax[c] = vecs.At(c, 1)*math.Cos(maxPhi) + vecs.At(c, 2)*math.Sin(maxPhi)
	}
	// Hematoxylin first: the vector with the larger red component.
	first, second := vMin, vMax
	if vMax[0] > vMin[0] {
		first, second = vMax, vMin
	}

	basis := mat.NewDense(3, 2, nil)
	for c := 0; c < 3; c++ {
		basis.Set(c, 0, first[c])
		basis.Set(c, 1, second[c])
	}
	return basis, nil
}
