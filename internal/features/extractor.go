// Package features turns a statistical risk breakdown into the fixed-order
// numeric feature vector consumed by the model backends. Values are
// normalized to roughly [0,1]: sub-scores divided by 100, counts divided by
// a cap and clamped, flags mapped to 0/1.
package features

import (
	"context"
	"fmt"

	"riskengine/internal/scorer"
)

const (
	countCap    = 10.0
	assetAgeCap = 100.0
)

// Catalogue order is the canonical declared feature list for new models.
// Models persist their own copy; Vector enforces an exact match between a
// model's declared list and the extracted set.
var catalogue = []string{
	"overall_risk",
	"expiry_risk",
	"defect_risk",
	"asset_profile_risk",
	"coverage_gap_risk",
	"external_factor_risk",
	"expiring_certificates",
	"overdue_certificates",
	"open_defects",
	"critical_defects",
	"missing_coverage",
	"asset_age",
	"vulnerable",
	"high_risk_area",
}

// Names returns the canonical feature list in order.
func Names() []string {
	out := make([]string, len(catalogue))
	copy(out, catalogue)
	return out
}

// Extractor computes feature maps from statistical breakdowns, fetching the
// breakdown from the scorer when the caller has not already computed one.
type Extractor struct {
	scorer scorer.Scorer
}

func NewExtractor(s scorer.Scorer) *Extractor {
	return &Extractor{scorer: s}
}

// Extract returns the feature map for an entity. A pre-computed breakdown is
// reused when supplied; passing nil triggers a scorer call. The only side
// effect is that upstream read.
func (e *Extractor) Extract(ctx context.Context, entityID, orgID string, b *scorer.Breakdown) (map[string]float64, error) {
	if b == nil {
		var err error
		b, err = e.scorer.Score(ctx, entityID, orgID)
		if err != nil {
			return nil, fmt.Errorf("fetch breakdown for %s: %w", entityID, err)
		}
	}
	return FromBreakdown(b), nil
}

// FromBreakdown maps a breakdown onto the canonical feature set.
func FromBreakdown(b *scorer.Breakdown) map[string]float64 {
	return map[string]float64{
		"overall_risk":          clamp01(b.OverallScore / 100),
		"expiry_risk":           clamp01(b.ExpiryRisk / 100),
		"defect_risk":           clamp01(b.DefectRisk / 100),
		"asset_profile_risk":    clamp01(b.AssetProfileRisk / 100),
		"coverage_gap_risk":     clamp01(b.CoverageGapRisk / 100),
		"external_factor_risk":  clamp01(b.ExternalFactorRisk / 100),
		"expiring_certificates": clamp01(float64(b.Factors.ExpiringCertificates) / countCap),
		"overdue_certificates":  clamp01(float64(b.Factors.OverdueCertificates) / countCap),
		"open_defects":          clamp01(float64(b.Factors.OpenDefects) / countCap),
		"critical_defects":      clamp01(float64(b.Factors.CriticalDefects) / countCap),
		"missing_coverage":      clamp01(float64(b.Factors.MissingCoverage) / countCap),
		"asset_age":             clamp01(float64(b.Factors.AssetAgeYears) / assetAgeCap),
		"vulnerable":            boolFeature(b.Factors.Vulnerable),
		"high_risk_area":        boolFeature(b.Factors.HighRiskArea),
	}
}

// Vector orders a feature map by a model's declared feature list. Any
// mismatch between the two sets is a configuration error, never silently
// tolerated.
func Vector(featureMap map[string]float64, declared []string) ([]float64, error) {
	if len(featureMap) != len(declared) {
		return nil, fmt.Errorf("feature set mismatch: extracted %d features, model declares %d", len(featureMap), len(declared))
	}
	vec := make([]float64, len(declared))
	for i, name := range declared {
		v, ok := featureMap[name]
		if !ok {
			return nil, fmt.Errorf("feature set mismatch: model declares %q which was not extracted", name)
		}
		vec[i] = v
	}
	return vec, nil
}

// WeightedVector orders a feature map by a model's declared feature list and
// scales each value by its static prior weight, when one is configured.
// Features without an override keep their extracted value.
func WeightedVector(featureMap map[string]float64, declared []string, weights map[string]float64) ([]float64, error) {
	vec, err := Vector(featureMap, declared)
	if err != nil {
		return nil, err
	}
	if len(weights) == 0 {
		return vec, nil
	}
	for i, name := range declared {
		if w, ok := weights[name]; ok {
			vec[i] *= w
		}
	}
	return vec, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
