package signal

import (
	"math"
	"time"

	"marketpulse/pkg/logger"
	"marketpulse/pkg/models"
)

// Label thresholds for bucketing per-post sentiment.
const (
	positiveThreshold = 0.2
	negativeThreshold = -0.2
)

// Composite weights. Sentiment dominates; engagement amplifies; the custom
// term nudges market-focused posts upward.
const (
	sentimentWeight  = 0.5
	engagementWeight = 0.3
	customWeight     = 0.2
)

// z95 is the normal quantile for a 95% confidence interval.
const z95 = 1.96

// Engine derives trading signals from a post corpus. Analysis is a pure
// function of its input; every run recomputes from scratch.
type Engine struct {
	vocabSize int
	embedDims int
	logger    logger.Logger
}

// NewEngine creates an engine with the standard feature dimensions.
func NewEngine(log logger.Logger) *Engine {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Engine{
		vocabSize: 1000,
		embedDims: 50,
		logger:    log,
	}
}

// Analyze scores every post and aggregates the corpus. An empty corpus
// yields no records and a zero-valued aggregate; that is a reportable
// outcome, not an error.
func (e *Engine) Analyze(posts []models.RawPost) ([]models.SignalRecord, models.AggregatedSignal) {
	if len(posts) == 0 {
		return nil, models.AggregatedSignal{}
	}

	now := time.Now().UTC()

	rawEngagement := make([]float64, len(posts))
	for i, p := range posts {
		rawEngagement[i] = engagementRaw(p)
	}
	normEngagement := minMaxNormalize(rawEngagement)

	records := make([]models.SignalRecord, len(posts))
	for i, p := range posts {
		sentiment := sentimentScore(p.Text)
		custom := customTerm(p)
		composite := clamp(sentimentWeight*sentiment+
			engagementWeight*normEngagement[i]+
			customWeight*custom, -1, 1)

		records[i] = models.SignalRecord{
			ContentHash:     p.ContentHash,
			SentimentScore:  sentiment,
			SentimentLabel:  labelFor(sentiment),
			EngagementScore: normEngagement[i],
			CompositeSignal: composite,
			ProcessedAt:     now,
		}
	}

	if embedding, vocab := e.Embed(posts); embedding != nil {
		rows, cols := embedding.Dims()
		e.logger.DebugWithFields("corpus embedded", map[string]interface{}{
			"posts": rows,
			"dims":  cols,
			"vocab": len(vocab),
		})
	}

	return records, e.Aggregate(records)
}

// Aggregate folds per-post records into the published indicator.
func (e *Engine) Aggregate(records []models.SignalRecord) models.AggregatedSignal {
	if len(records) == 0 {
		return models.AggregatedSignal{}
	}

	var agg models.AggregatedSignal
	agg.TotalCount = len(records)

	var sumSignal, sumSentiment, sumEngagement float64
	for _, r := range records {
		sumSignal += r.CompositeSignal
		sumSentiment += r.SentimentScore
		sumEngagement += r.EngagementScore

		switch r.SentimentLabel {
		case "positive":
			agg.Sentiment.Positive++
		case "negative":
			agg.Sentiment.Negative++
		default:
			agg.Sentiment.Neutral++
		}
	}

	n := float64(len(records))
	agg.MeanSignal = sumSignal / n
	agg.MeanSentiment = sumSentiment / n
	agg.MeanEngagement = sumEngagement / n

	// Sample standard deviation; a single record has no spread.
	if len(records) > 1 {
		var ss float64
		for _, r := range records {
			d := r.CompositeSignal - agg.MeanSignal
			ss += d * d
		}
		agg.StdSignal = math.Sqrt(ss / (n - 1))
	}

	half := z95 * agg.StdSignal / math.Sqrt(n)
	agg.CILower = agg.MeanSignal - half
	agg.CIUpper = agg.MeanSignal + half

	return agg
}

func labelFor(score float64) string {
	switch {
	case score > positiveThreshold:
		return "positive"
	case score < negativeThreshold:
		return "negative"
	default:
		return "neutral"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
