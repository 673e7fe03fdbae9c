package ingest

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/models"
)

// Sink consumes telemetry samples. Satisfied by the telemetry service.
type Sink interface {
	Ingest(ctx context.Context, sample models.Sample) error
}

// Options control the synthetic source.
type Options struct {
	Interval time.Duration
	Cities   []string
	// SpikeChance is the per-tick probability of a city emitting an
	// abnormal reading, in [0,1].
	SpikeChance float64
	Seed        int64
}

// cityState is an independent random walk per city and metric.
type cityState struct {
	name string
	co2  float64
	aqi  float64
	temp float64
}

// Simulator emits plausible environmental telemetry when no real sensor
// feed is attached. Values follow a bounded random walk with occasional
// spikes so the detector and alerting paths stay exercised.
type Simulator struct {
	logger *slog.Logger
	sink   Sink
	opts   Options
	rng    *rand.Rand
	cities []*cityState
}

// NewSimulator constructs a synthetic source for the given cities.
func NewSimulator(logger *slog.Logger, sink Sink, opts Options) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if len(opts.Cities) == 0 {
		opts.Cities = []string{"delhi", "berlin", "sao-paulo"}
	}
	if opts.SpikeChance <= 0 {
		opts.SpikeChance = 0.02
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	rng := rand.New(rand.NewSource(seed))
	cities := make([]*cityState, 0, len(opts.Cities))
	for _, name := range opts.Cities {
		cities = append(cities, &cityState{
			name: name,
			co2:  400 + rng.Float64()*80,
			aqi:  60 + rng.Float64()*60,
			temp: 22 + rng.Float64()*10,
		})
	}
	return &Simulator{logger: logger, sink: sink, opts: opts, rng: rng, cities: cities}
}

// Run emits samples on the configured interval until the context is
// cancelled.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info("telemetry simulator started",
		slog.Int("cities", len(s.cities)),
		slog.Duration("interval", s.opts.Interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("telemetry simulator stopped")
			return
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

func (s *Simulator) tick(ctx context.Context, now time.Time) {
	for _, city := range s.cities {
		s.step(city)
		for _, sample := range s.samples(city, now) {
			if err := s.sink.Ingest(ctx, sample); err != nil {
				s.logger.Debug("simulated sample rejected",
					slog.String("city", city.name),
					slog.Any("error", err))
			}
		}
	}
}

// step advances one city's random walk, keeping each metric inside a
// plausible band.
func (s *Simulator) step(city *cityState) {
	city.co2 = clampRange(city.co2+s.rng.NormFloat64()*4, 350, 900)
	city.aqi = clampRange(city.aqi+s.rng.NormFloat64()*3, 15, 280)
	city.temp = clampRange(city.temp+s.rng.NormFloat64()*0.4, 10, 44)

	if s.rng.Float64() < s.opts.SpikeChance {
		switch s.rng.Intn(3) {
		case 0:
			city.co2 = clampRange(city.co2*(1.4+s.rng.Float64()*0.4), 350, 1200)
		case 1:
			city.aqi = clampRange(city.aqi*(1.5+s.rng.Float64()*0.5), 15, 400)
		default:
			city.temp = clampRange(city.temp+6+s.rng.Float64()*4, 10, 48)
		}
		s.logger.Debug("simulated spike", slog.String("city", city.name))
	}
}

func (s *Simulator) samples(city *cityState, now time.Time) []models.Sample {
	source := "sim-" + city.name
	return []models.Sample{
		{Metric: models.MetricCO2, Value: city.co2, Timestamp: now, SourceID: source},
		{Metric: models.MetricAQI, Value: city.aqi, Timestamp: now, SourceID: source},
		{Metric: models.MetricTemperature, Value: city.temp, Timestamp: now, SourceID: source},
	}
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
