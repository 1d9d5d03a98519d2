package signal

import (
	"strings"
	"unicode"

	"marketpulse/pkg/models"
)

// tokenize lowercases and splits on non-alphanumeric runes, dropping
// single-character tokens. Hashtag and mention sigils disappear, so "#Nifty"
// and "nifty" hit the same lexicon entry.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// sentimentScore is the lexicon hit balance: (bullish - bearish) over total
// hits, zero when nothing matches. Already in [-1, 1] by construction.
func sentimentScore(text string) float64 {
	var bullish, bearish int
	for _, token := range tokenize(text) {
		if _, ok := bullishTerms[token]; ok {
			bullish++
		} else if _, ok := bearishTerms[token]; ok {
			bearish++
		}
	}
	total := bullish + bearish
	if total == 0 {
		return 0
	}
	return float64(bullish-bearish) / float64(total)
}

// engagementRaw weights shares above likes: a retweet spreads the post, a
// reply signals attention, a like is cheap.
func engagementRaw(p models.RawPost) float64 {
	return float64(p.Likes) + 2*float64(p.Retweets) + 1.5*float64(p.Replies)
}

// minMaxNormalize scales values into [0, 1] across the corpus. A corpus with
// no spread normalizes to zero: uniform engagement carries no signal, and an
// all-zero corpus must not inflate the composite.
func minMaxNormalize(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	out := make([]float64, len(values))
	if max == min {
		return out
	}
	for i, v := range values {
		out[i] = (v - min) / (max - min)
	}
	return out
}

// customTerm folds market-focus markers into [0, 1]: half for carrying a
// known market hashtag, a quarter each for mention density and numeric-token
// density (prices and targets).
func customTerm(p models.RawPost) float64 {
	var score float64

	for _, tag := range p.Hashtags {
		if _, ok := marketHashtags[strings.ToLower(strings.TrimPrefix(tag, "#"))]; ok {
			score += 0.5
			break
		}
	}

	mentionDensity := float64(len(p.Mentions)) / 5
	if mentionDensity > 1 {
		mentionDensity = 1
	}
	score += 0.25 * mentionDensity

	tokens := tokenize(p.Text)
	if len(tokens) > 0 {
		numeric := 0
		for _, t := range tokens {
			if isNumeric(t) {
				numeric++
			}
		}
		score += 0.25 * float64(numeric) / float64(len(tokens))
	}

	return score
}

func isNumeric(token string) bool {
	for _, r := range token {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(token) > 0
}
