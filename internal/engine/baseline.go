package engine

// ResolveBaseline picks the first usable baseline value: an explicit caller
// override wins over the live reading, which wins over the default. Live
// readings of zero mean "no data yet".
func ResolveBaseline(override *float64, live, def float64) float64 {
	if override != nil {
		return *override
	}
	if live > 0 {
		return live
	}
	return def
}
