package dataset

import (
	"image"
	"image/color"
	"math/rand"

	"github.com/disintegration/imaging"
)

// Augmenter applies random perturbations to training images: rotation,
// brightness shift, gaussian pixel noise and horizontal flip. The ranges
// mirror how the gesture dataset was originally expanded. Augmentation only
// ever touches the training subset.
type Augmenter struct {
	MaxRotateDegrees float64 // rotation drawn from [-max, +max]
	BrightnessRange  float64 // brightness percent drawn from [-range, +range]
	NoiseStdDev      float64 // gaussian noise sigma in 8-bit pixel units
	FlipProbability  float64
	NoiseProbability float64

	rng *rand.Rand
}

// NewAugmenter creates an augmenter with the default perturbation ranges.
func NewAugmenter(rng *rand.Rand) *Augmenter {
	return &Augmenter{
		MaxRotateDegrees: 30,
		BrightnessRange:  30,
		NoiseStdDev:      25,
		FlipProbability:  0.5,
		NoiseProbability: 0.5,
		rng:              rng,
	}
}

// Apply returns a randomly perturbed copy of img. The input is not modified.
func (a *Augmenter) Apply(img image.Image) image.Image {
	angle := a.rng.Float64()*2*a.MaxRotateDegrees - a.MaxRotateDegrees
	out := imaging.Rotate(img, angle, color.NRGBA{0, 0, 0, 255})

	brightness := a.rng.Float64()*2*a.BrightnessRange - a.BrightnessRange
	out = imaging.AdjustBrightness(out, brightness)

	if a.rng.Float64() < a.NoiseProbability {
		out = a.addNoise(out)
	}

	if a.rng.Float64() < a.FlipProbability {
		out = imaging.FlipH(out)
	}
	return out
}

// addNoise adds clamped gaussian noise to every pixel.
func (a *Augmenter) addNoise(img *image.NRGBA) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 0; i < len(out.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(out.Pix[i+c]) + a.rng.NormFloat64()*a.NoiseStdDev
			if v < 0 {
				v = 0
			} else if v > 255 {
				v = 255
			}
			out.Pix[i+c] = uint8(v)
		}
	}
	return out
}
