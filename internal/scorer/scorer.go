// Package scorer defines the boundary to the deterministic statistical
// risk-scoring engine. The engine is an external collaborator: this package
// only carries its result types, the consuming interface, and an HTTP client.
package scorer

import "context"

// FactorBreakdown carries the raw counts and flags behind a statistical score.
type FactorBreakdown struct {
	ExpiringCertificates int  `json:"expiringCertificates"`
	OverdueCertificates  int  `json:"overdueCertificates"`
	OpenDefects          int  `json:"openDefects"`
	CriticalDefects      int  `json:"criticalDefects"`
	MissingCoverage      int  `json:"missingCoverage"`
	AssetAgeYears        int  `json:"assetAgeYears"`
	Vulnerable           bool `json:"vulnerable"`
	HighRiskArea         bool `json:"highRiskArea"`
}

// Breakdown is the full output of a statistical scoring pass for one entity.
// All scores are on a 0-100 scale.
type Breakdown struct {
	OverallScore       float64         `json:"overallScore"`
	ExpiryRisk         float64         `json:"expiryRiskScore"`
	DefectRisk         float64         `json:"defectRiskScore"`
	AssetProfileRisk   float64         `json:"assetProfileRiskScore"`
	CoverageGapRisk    float64         `json:"coverageGapRiskScore"`
	ExternalFactorRisk float64         `json:"externalFactorRiskScore"`
	Factors            FactorBreakdown `json:"factorBreakdown"`
}

// Scorer computes statistical risk scores for portfolio entities.
type Scorer interface {
	// Score returns the statistical breakdown for a single entity.
	Score(ctx context.Context, entityID, orgID string) (*Breakdown, error)

	// SampleEntities returns up to limit entity ids from the organisation,
	// used to bootstrap training sets when feedback is scarce.
	SampleEntities(ctx context.Context, orgID string, limit int) ([]string, error)
}
