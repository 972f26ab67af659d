// Package scoring grades a selected option set against an answer key.
package scoring

// Score returns a value in [0, 1]. Each correct pick earns 1/|correct|, each
// wrong pick costs the same weight, and the total is clamped at zero. An empty
// answer key always scores 0. Inputs are treated as sets; duplicates count once.
func Score(selected, correct []string) float64 {
	key := toSet(correct)
	if len(key) == 0 {
		return 0
	}
	weight := 1 / float64(len(key))

	picked := toSet(selected)
	hit := 0
	for option := range picked {
		if _, ok := key[option]; ok {
			hit++
		}
	}
	miss := len(picked) - hit

	raw := float64(hit)*weight - float64(miss)*weight
	if raw < 0 {
		return 0
	}
	return raw
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
