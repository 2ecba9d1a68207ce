// Package synth simulates a diagnostic session: pages refreshed at their own
// cadence with known field encodings, and an OCR reference that shows up
// intermittently, with noise and the occasional lost decimal point.
package synth

import (
	"encoding/binary"
	"math"
	"math/rand/v2"

	"github.com/strato3003/jimny/pkg/models"
)

// Signal is a slow sinusoid around Base
type Signal struct {
	Base   float64
	Amp    float64
	Period float64 // observations per cycle
	Phase  float64
	Step   float64 // quantization of the physical value, 0 for none
}

// At returns the physical value at observation i
func (s Signal) At(i int) float64 {
	v := s.Base
	if s.Period > 0 {
		v += s.Amp * math.Sin(2*math.Pi*float64(i)/s.Period+s.Phase)
	}
	if s.Step > 0 {
		v = math.Round(v/s.Step) * s.Step
	}
	return v
}

// Truth is the real encoding of one field
type Truth struct {
	Field   models.Field
	Slot    models.Slot
	Formula models.Formula
	Signal  Signal
}

// ChannelSpec describes one page: its length and how often it refreshes
type ChannelSpec struct {
	Channel models.Channel
	Length  int
	Every   int
}

// Config drives the simulation
type Config struct {
	Seed           uint64
	Observations   int
	Channels       []ChannelSpec
	Truths         []Truth
	ReferenceEvery int
	Dropout        float64 // probability a reference value is missing
	Noise          float64 // absolute noise on reference values
	Decimals       int     // reference rounding, negative for none
	DefectRate     float64 // probability a percentage is reported ×100
	DefectFields   []models.Field
}

// Generate runs the simulation and returns the merged dataset
func Generate(cfg Config) *models.Dataset {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	ds := &models.Dataset{}
	for _, ch := range cfg.Channels {
		ds.Channels = append(ds.Channels, ch.Channel)
	}
	for _, t := range cfg.Truths {
		ds.Fields = append(ds.Fields, t.Field)
	}

	background := make(map[models.Channel][]byte, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		buf := make([]byte, ch.Length)
		for i := range buf {
			buf[i] = byte(rng.IntN(256))
		}
		background[ch.Channel] = buf
	}

	defect := make(map[models.Field]bool, len(cfg.DefectFields))
	for _, f := range cfg.DefectFields {
		defect[f] = true
	}

	refEvery := max(cfg.ReferenceEvery, 1)
	for i := 0; i < cfg.Observations; i++ {
		obs := models.Observation{
			Frame:  i + 1,
			Raw:    make(map[models.Channel][]byte),
			Values: make(map[models.Field]float64),
		}
		for _, ch := range cfg.Channels {
			if i%max(ch.Every, 1) != 0 {
				continue
			}
			buf := append([]byte(nil), background[ch.Channel]...)
			for _, t := range cfg.Truths {
				if t.Slot.Channel == ch.Channel && t.Slot.Offset+1 < len(buf) {
					binary.BigEndian.PutUint16(buf[t.Slot.Offset:], Encode(t.Formula, t.Signal.At(i)))
				}
			}
			obs.Raw[ch.Channel] = buf
		}
		if i%refEvery == 0 {
			for _, t := range cfg.Truths {
				if cfg.Dropout > 0 && rng.Float64() < cfg.Dropout {
					continue
				}
				v := t.Formula.Apply(float64(Encode(t.Formula, t.Signal.At(i))))
				if cfg.Noise > 0 {
					v += (rng.Float64()*2 - 1) * cfg.Noise
				}
				if cfg.Decimals >= 0 {
					p := math.Pow(10, float64(cfg.Decimals))
					v = math.Round(v*p) / p
				}
				if defect[t.Field] && cfg.DefectRate > 0 && rng.Float64() < cfg.DefectRate {
					v = math.Round(v * 100)
				}
				obs.Values[t.Field] = v
			}
		}
		ds.Observations = append(ds.Observations, obs)
	}
	return ds
}

// Encode inverts a formula to the raw word that best represents value
func Encode(f models.Formula, value float64) uint16 {
	div := f.Div
	if div == 0 {
		div = 1
	}
	if f.Mult == 0 {
		return 0
	}
	raw := math.Round((value - f.Add) * div / f.Mult)
	return uint16(math.Max(0, math.Min(math.MaxUint16, raw)))
}
