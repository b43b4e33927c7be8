package predict

import (
	"math"
	"time"

	"riskengine/internal/common"
)

// Source labels for the blended result.
const (
	SourceStatistical = "Statistical"
	SourceMLEnhanced  = "ML-Enhanced"
)

// Blend is the merged outcome of a statistical score and an optional model
// score.
type Blend struct {
	Score        int
	Confidence   int
	Category     string
	Source       string
	DaysToBreach *int
	BreachDate   *time.Time
}

// BlendScores merges the statistical pair with the model pair, weighting
// each score by its share of the total confidence. Each weighted
// contribution is rounded to a whole point before summing. Without a model
// result the statistical values pass through unchanged.
func BlendScores(statScore, statConf float64, mlScore, mlConf *float64, now time.Time) Blend {
	b := Blend{Source: SourceStatistical}

	if mlScore != nil && mlConf != nil && statConf+*mlConf > 0 {
		total := statConf + *mlConf
		wStat := statConf / total
		wML := *mlConf / total
		b.Score = int(math.Round(statScore*wStat)) + int(math.Round(*mlScore*wML))
		b.Confidence = int(math.Round(total / 2))
		b.Source = SourceMLEnhanced
	} else {
		b.Score = int(math.Round(statScore))
		b.Confidence = int(math.Round(statConf))
	}

	b.Category = Category(b.Score)
	if days, ok := daysToBreach(b.Score); ok {
		date := now.AddDate(0, 0, days)
		b.DaysToBreach = &days
		b.BreachDate = &date
	}
	return b
}

// Category maps a blended score onto a risk tier. Bands are inclusive on
// their lower bound.
func Category(score int) string {
	switch {
	case score >= 85:
		return common.CategoryCritical
	case score >= 70:
		return common.CategoryHigh
	case score >= 40:
		return common.CategoryMedium
	default:
		return common.CategoryLow
	}
}

// daysToBreach projects how soon a breach is expected. High scores compress
// the horizon sharply; mid-band scores sit on a gentler slope offset by a
// month; below the MEDIUM threshold no date is projected.
func daysToBreach(score int) (int, bool) {
	switch {
	case score >= 70:
		days := (100 - score) * 3
		if days < 1 {
			days = 1
		}
		return days, true
	case score >= 40:
		return 30 + (100-score)*2, true
	default:
		return 0, false
	}
}
