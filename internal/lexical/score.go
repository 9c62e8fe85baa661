package lexical

// Score 计算两个关键词集合的 Jaccard 相似度，范围 [0,1]
// Score returns the Jaccard index of two keyword sets in [0,1]. Empty input
// on either side scores 0 rather than NaN, so empty text never matches.
func Score(a, b Set) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
