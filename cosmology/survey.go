package cosmology

import (
	"math"

	"github.com/pkg/errors"
)

// Survey is one realized supernova dataset: per-object summary statistics
// (apparent magnitude, stretch, colour), their measurement covariances, plus
// redshifts and normalized host masses, both treated as known exactly.
type Survey struct {
	Redshifts []float64       `yaml:"redshifts"`
	ObsMag    []float64       `yaml:"obs_mb"`
	ObsX1     []float64       `yaml:"obs_x1"`
	ObsColour []float64       `yaml:"obs_c"`
	Mass      []float64       `yaml:"mass"`
	Covs      [][3][3]float64 `yaml:"covs"`
}

// Len returns the object count.
func (s *Survey) Len() int {
	return len(s.Redshifts)
}

// MaxZ returns the largest redshift in the survey.
func (s *Survey) MaxZ() float64 {
	mx := 0.0
	for _, z := range s.Redshifts {
		if z > mx {
			mx = z
		}
	}
	return mx
}

// MeanMass returns the average host mass estimate.
func (s *Survey) MeanMass() float64 {
	if len(s.Mass) < 1 {
		return 0
	}
	tot := 0.0
	for _, m := range s.Mass {
		tot += m
	}
	return tot / float64(len(s.Mass))
}

// MeanMagVar returns the average measurement variance of the apparent
// magnitude channel.
func (s *Survey) MeanMagVar() float64 {
	if len(s.Covs) < 1 {
		return 0
	}
	tot := 0.0
	for _, c := range s.Covs {
		tot += c[0][0]
	}
	return tot / float64(len(s.Covs))
}

// Check returns an error if any problem is found.
func (s *Survey) Check() error {
	n := s.Len()
	if n < 1 {
		return errors.Errorf("Survey has no objects")
	}
	if len(s.ObsMag) != n || len(s.ObsX1) != n || len(s.ObsColour) != n || len(s.Mass) != n || len(s.Covs) != n {
		return errors.Errorf(
			"Survey columns disagree on length: z=%d mb=%d x1=%d c=%d mass=%d covs=%d",
			n, len(s.ObsMag), len(s.ObsX1), len(s.ObsColour), len(s.Mass), len(s.Covs),
		)
	}

	for i, z := range s.Redshifts {
		if math.IsNaN(z) || math.IsInf(z, 0) || z <= 0 {
			return errors.Errorf("Survey redshift %d is %v - must be positive and finite", i, z)
		}
	}
	for i, c := range s.Covs {
		for k := 0; k < 3; k++ {
			if math.IsNaN(c[k][k]) || c[k][k] <= 0 {
				return errors.Errorf("Survey covariance %d has non-positive variance %v in channel %d", i, c[k][k], k)
			}
		}
	}

	return nil
}

// DiagCov builds a diagonal measurement covariance from per-channel sigmas.
func DiagCov(sigMag, sigX1, sigColour float64) [3][3]float64 {
	return [3][3]float64{
		{sigMag * sigMag, 0, 0},
		{0, sigX1 * sigX1, 0},
		{0, 0, sigColour * sigColour},
	}
}
