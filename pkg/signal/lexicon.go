package signal

// Market sentiment lexicon tuned for Indian equity chatter. The two sets are
// disjoint; a term only ever contributes in one direction.
var (
	bullishTerms = termSet(
		"bullish", "buy", "long", "breakout", "rally", "surge", "uptrend",
		"support", "accumulate", "target", "upside", "momentum", "strong",
		"gain", "gains", "profit", "green", "higher", "rocket", "moon",
		"ath", "golden", "reversal", "oversold", "undervalued", "outperform",
		"growth", "record", "multibagger", "opportunity",
	)

	bearishTerms = termSet(
		"bearish", "sell", "short", "breakdown", "crash", "dump", "downtrend",
		"resistance", "correction", "stoploss", "downside", "weak", "loss",
		"losses", "red", "lower", "panic", "fall", "falling", "plunge",
		"overbought", "overvalued", "underperform", "recession", "bubble",
		"risk", "avoid", "exit", "warning", "fraud",
	)

	// marketHashtags mark a post as market-focused for the composite
	// signal's custom term.
	marketHashtags = termSet(
		"nifty", "nifty50", "sensex", "banknifty", "intraday",
		"stockmarket", "nse", "bse", "trading", "stocks",
	)
)

func termSet(terms ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}
