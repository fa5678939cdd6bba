package athandler

// ring does the circular index arithmetic over a fixed-size buffer.
// Indices returned by next and prev always stay in [0, size).
type ring struct {
	size int
}

func (r ring) next(i int) int {
	if i == r.size-1 {
		return 0
	}
	return i + 1
}

func (r ring) prev(i int) int {
	if i == 0 {
		return r.size - 1
	}
	return i - 1
}
