package predict

import (
	"math"
	"testing"
	"time"

	"riskengine/internal/common"
)

func fp(v float64) *float64 { return &v }

func TestBlendScenarioHighConfidenceStat(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b := BlendScores(80, 95, fp(60), fp(70), now)

	if b.Score != 71 {
		t.Errorf("Score = %d, want 71", b.Score)
	}
	if b.Confidence != 83 {
		t.Errorf("Confidence = %d, want 83", b.Confidence)
	}
	if b.Category != common.CategoryHigh {
		t.Errorf("Category = %s, want HIGH", b.Category)
	}
	if b.Source != SourceMLEnhanced {
		t.Errorf("Source = %s, want ML-Enhanced", b.Source)
	}
	if b.DaysToBreach == nil || *b.DaysToBreach != 87 {
		t.Errorf("DaysToBreach = %v, want 87", b.DaysToBreach)
	}
	want := now.AddDate(0, 0, 87)
	if b.BreachDate == nil || !b.BreachDate.Equal(want) {
		t.Errorf("BreachDate = %v, want %v", b.BreachDate, want)
	}
}

func TestBlendFormula(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		statScore, statConf, mlScore, mlConf float64
	}{
		{50, 50, 50, 50},
		{90, 80, 20, 40},
		{10, 95, 95, 10},
		{33.3, 66.6, 77.7, 44.4},
	}
	for _, tc := range cases {
		b := BlendScores(tc.statScore, tc.statConf, fp(tc.mlScore), fp(tc.mlConf), now)

		total := tc.statConf + tc.mlConf
		wantScore := int(math.Round(tc.statScore*tc.statConf/total)) + int(math.Round(tc.mlScore*tc.mlConf/total))
		wantConf := int(math.Round(total / 2))
		if b.Score != wantScore {
			t.Errorf("Blend(%v) score = %d, want %d", tc, b.Score, wantScore)
		}
		if b.Confidence != wantConf {
			t.Errorf("Blend(%v) confidence = %d, want %d", tc, b.Confidence, wantConf)
		}
	}
}

func TestBlendStatisticalPassthrough(t *testing.T) {
	now := time.Now().UTC()

	b := BlendScores(62, 77, nil, nil, now)
	if b.Score != 62 || b.Confidence != 77 {
		t.Errorf("passthrough = (%d, %d), want (62, 77)", b.Score, b.Confidence)
	}
	if b.Source != SourceStatistical {
		t.Errorf("Source = %s, want Statistical", b.Source)
	}

	// a zero confidence pair cannot be weighted
	b = BlendScores(62, 0, fp(40), fp(0), now)
	if b.Source != SourceStatistical || b.Score != 62 {
		t.Errorf("zero-confidence blend = %+v, want statistical passthrough", b)
	}
}

func TestBlendMonotonicity(t *testing.T) {
	now := time.Now().UTC()

	prev := -1
	for statScore := 0.0; statScore <= 100; statScore++ {
		b := BlendScores(statScore, 60, fp(50), fp(40), now)
		if b.Score < prev {
			t.Fatalf("score decreased at statScore=%f: %d < %d", statScore, b.Score, prev)
		}
		prev = b.Score
	}

	prev = -1
	for mlScore := 0.0; mlScore <= 100; mlScore++ {
		b := BlendScores(50, 60, fp(mlScore), fp(40), now)
		if b.Score < prev {
			t.Fatalf("score decreased at mlScore=%f: %d < %d", mlScore, b.Score, prev)
		}
		prev = b.Score
	}
}

func TestCategoryThresholds(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{100, common.CategoryCritical},
		{85, common.CategoryCritical},
		{84, common.CategoryHigh},
		{70, common.CategoryHigh},
		{69, common.CategoryMedium},
		{40, common.CategoryMedium},
		{39, common.CategoryLow},
		{0, common.CategoryLow},
	}
	for _, tc := range cases {
		if got := Category(tc.score); got != tc.want {
			t.Errorf("Category(%d) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestDaysToBreachBands(t *testing.T) {
	cases := []struct {
		score    int
		want     int
		expected bool
	}{
		{100, 1, true}, // floor of one day
		{99, 3, true},
		{71, 87, true},
		{70, 90, true},
		{69, 92, true}, // 30 + 31*2
		{40, 150, true},
		{39, 0, false},
		{0, 0, false},
	}
	for _, tc := range cases {
		got, ok := daysToBreach(tc.score)
		if ok != tc.expected {
			t.Errorf("daysToBreach(%d) ok = %v, want %v", tc.score, ok, tc.expected)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("daysToBreach(%d) = %d, want %d", tc.score, got, tc.want)
		}
	}
}
