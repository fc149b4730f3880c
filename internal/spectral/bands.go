// SPDX-License-Identifier: MIT
package spectral

import (
	"math"

	"spectro/internal/frame"
)

// DisplayCeilingDB is the level mapped to a full-scale bar. A full-scale
// sine over a 2048-point window peaks near 60 dB.
const DisplayCeilingDB = 60.0

// Band defines the name and frequency range for an energy band.
type Band struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// BandLevel is the averaged power of one band in a frame.
type BandLevel struct {
	Name  string  `json:"name"`
	DB    float64 `json:"db"`
	Level float64 `json:"level"` // DB mapped onto [0,1] between FloorDB and DisplayCeilingDB.
}

// DefaultBands returns the six display bands, with treble running to the
// Nyquist frequency.
func DefaultBands(sampleRate int) []Band {
	return []Band{
		{Name: "sub", LowHz: 20, HighHz: 60},
		{Name: "bass", LowHz: 60, HighHz: 250},
		{Name: "lowMid", LowHz: 250, HighHz: 500},
		{Name: "mid", LowHz: 500, HighHz: 2000},
		{Name: "highMid", LowHz: 2000, HighHz: 4000},
		{Name: "treble", LowHz: 4000, HighHz: float64(sampleRate) / 2},
	}
}

// BandEnergies averages linear power per band and converts the result
// back to dB. Bands with no bins report FloorDB.
func BandEnergies(f frame.Frame, bands []Band) []BandLevel {
	levels := make([]BandLevel, len(bands))
	sums := make([]float64, len(bands))
	counts := make([]int, len(bands))

	for i, freq := range f.Frequencies {
		hz := float64(freq)
		for b, band := range bands {
			if hz >= band.LowHz && hz < band.HighHz {
				// dB back to linear power: 10^(dB/10).
				sums[b] += math.Pow(10, float64(f.Magnitudes[i])/10)
				counts[b]++
				break
			}
		}
	}

	for b, band := range bands {
		db := FloorDB
		if counts[b] > 0 {
			avg := sums[b] / float64(counts[b])
			if avg > 0 {
				db = math.Max(FloorDB, 10*math.Log10(avg))
			}
		}
		levels[b] = BandLevel{Name: band.Name, DB: db, Level: normalizeDB(db)}
	}
	return levels
}

func normalizeDB(db float64) float64 {
	v := (db - FloorDB) / (DisplayCeilingDB - FloorDB)
	return math.Min(1, math.Max(0, v))
}
