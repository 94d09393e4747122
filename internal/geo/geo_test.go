package geo

import (
	"math"
	"testing"
)

func TestDistanceZeroAtSamePoint(t *testing.T) {
	points := []Point{
		{Lat: 0, Lon: 0},
		{Lat: 19.0760, Lon: 72.8777},
		{Lat: -33.8688, Lon: 151.2093},
		{Lat: 89.9, Lon: -179.9},
	}
	for _, p := range points {
		if d := p.DistanceTo(p); d != 0 {
			t.Errorf("DistanceTo(self) at %+v = %v, want 0", p, d)
		}
	}
}

func TestDistanceSymmetry(t *testing.T) {
	pairs := []struct {
		a, b Point
	}{
		{Point{19.0, 72.8}, Point{19.0005, 72.8005}},
		{Point{0, 0}, Point{0, 1}},
		{Point{51.5074, -0.1278}, Point{48.8566, 2.3522}},
		{Point{-12.05, -77.04}, Point{35.68, 139.69}},
	}
	for _, pr := range pairs {
		ab := pr.a.DistanceTo(pr.b)
		ba := pr.b.DistanceTo(pr.a)
		if math.Abs(ab-ba) > 1e-6 {
			t.Errorf("distance not symmetric: %v vs %v for %+v / %+v", ab, ba, pr.a, pr.b)
		}
		if ab < 0 {
			t.Errorf("negative distance %v for %+v / %+v", ab, pr.a, pr.b)
		}
	}
}

func TestDistanceOneDegreeLongitudeAtEquator(t *testing.T) {
	// One degree of longitude at the equator is ~111.195 km on a
	// 6371 km sphere.
	got := Distance(0, 0, 0, 1)
	if math.Abs(got-111195) > 50 {
		t.Errorf("Distance(0,0 -> 0,1) = %v m, want 111195 +/- 50", got)
	}
}

func TestDistanceShortRange(t *testing.T) {
	// ~50m north of the reference point: 50m / 111195m per degree.
	const deltaLat = 50.0 / 111195.0
	got := Distance(19.0, 72.8, 19.0+deltaLat, 72.8)
	if math.Abs(got-50) > 0.5 {
		t.Errorf("short-range distance = %v m, want 50 +/- 0.5", got)
	}
}
