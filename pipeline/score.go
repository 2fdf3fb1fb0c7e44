package pipeline

import (
	"math"

	"pagelens/api/models"
)

func clampScore(v int) int {
	return max(0, min(100, v))
}

func clampScores(s models.Scores) models.Scores {
	return models.Scores{
		Clarity: clampScore(s.Clarity),
		Value:   clampScore(s.Value),
		Proof:   clampScore(s.Proof),
		Design:  clampScore(s.Design),
		Flow:    clampScore(s.Flow),
	}
}

// AggregateScores averages each dimension over the scored pages, rounding
// half away from zero.
func AggregateScores(pages []models.Scores) models.Scores {
	if len(pages) == 0 {
		return models.Scores{}
	}
	var sum [5]int
	for _, p := range pages {
		for i, v := range p.Values() {
			sum[i] += v
		}
	}
	n := float64(len(pages))
	avg := func(i int) int { return int(math.Round(float64(sum[i]) / n)) }
	return models.Scores{Clarity: avg(0), Value: avg(1), Proof: avg(2), Design: avg(3), Flow: avg(4)}
}

// OverallScore is the rounded mean of the five dimensions.
func OverallScore(s models.Scores) int {
	total := 0
	for _, v := range s.Values() {
		total += v
	}
	return int(math.Round(float64(total) / 5))
}
