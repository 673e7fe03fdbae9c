package detector

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/greenflowstack/greenflow-engine/internal/models"
)

const stdDevFloor = 1e-10

// Options tune both detection methods.
type Options struct {
	// MinWindow is the sample count below which the detector abstains
	// entirely. Guards against cold-start false positives.
	MinWindow int
	// ZThreshold is the z-score magnitude beyond which a sample is flagged.
	ZThreshold float64
	// IQRMultiplier is the Tukey fence factor k in [p25-k*IQR, p75+k*IQR].
	IQRMultiplier float64
}

// Detector flags statistically abnormal samples using two independent
// methods over the same window: z-score catches single-point spikes that
// assume a roughly Gaussian window, the IQR fence needs no distributional
// assumption. Either method flagging makes the sample anomalous.
//
// The detector is stateless; it holds no history beyond what the snapshot
// carries.
type Detector struct {
	opts Options
}

// New constructs a Detector, applying defaults for unset options.
func New(opts Options) *Detector {
	if opts.MinWindow <= 0 {
		opts.MinWindow = 10
	}
	if opts.ZThreshold <= 0 {
		opts.ZThreshold = 3.0
	}
	if opts.IQRMultiplier <= 0 {
		opts.IQRMultiplier = 1.5
	}
	return &Detector{opts: opts}
}

// Evaluate checks one sample against its window snapshot. Returns nil when
// the sample is normal or the window is too small to judge.
func (d *Detector) Evaluate(snap models.AggregateSnapshot, sample models.Sample) *models.AnomalyFlag {
	if snap.Count < d.opts.MinWindow {
		return nil
	}

	var methods []models.DetectionMethod
	zScore := 0.0

	if snap.StdDev > stdDevFloor {
		zScore = math.Abs(sample.Value-snap.Mean) / snap.StdDev
		if zScore > d.opts.ZThreshold {
			methods = append(methods, models.MethodZScore)
		}
	}

	iqr := snap.P75 - snap.P25
	lower := snap.P25 - d.opts.IQRMultiplier*iqr
	upper := snap.P75 + d.opts.IQRMultiplier*iqr
	if sample.Value < lower || sample.Value > upper {
		methods = append(methods, models.MethodIQR)
	}

	if len(methods) == 0 {
		return nil
	}

	flag := &models.AnomalyFlag{
		Metric:     sample.Metric,
		Sample:     sample,
		Methods:    methods,
		ZScore:     zScore,
		Severity:   severityFromZ(zScore),
		DetectedAt: time.Now().UTC(),
	}
	flag.Message = buildMessage(flag, snap, d.opts.ZThreshold)
	return flag
}

func severityFromZ(z float64) models.Severity {
	switch {
	case z > 5:
		return models.SeverityCritical
	case z > 4:
		return models.SeverityHigh
	case z > 3:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func buildMessage(flag *models.AnomalyFlag, snap models.AggregateSnapshot, zThreshold float64) string {
	var parts []string
	if flag.FlaggedBy(models.MethodZScore) {
		parts = append(parts, fmt.Sprintf("z-score=%.2f", flag.ZScore))
	}
	if flag.FlaggedBy(models.MethodIQR) {
		parts = append(parts, "iqr-fence")
	}
	return fmt.Sprintf("anomaly in %s from %s: observed %.2f vs mean=%.2f stddev=%.2f (%s)",
		flag.Metric, flag.Sample.SourceID, flag.Sample.Value, snap.Mean, snap.StdDev,
		strings.Join(parts, ", "))
}
