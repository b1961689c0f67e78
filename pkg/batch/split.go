package batch

import (
	"strconv"
	"sync/atomic"
)

// SplitToMaxLength splits items into consecutive chunks of at most n
// elements, preserving order. n <= 0 yields a single chunk.
func SplitToMaxLength[T any](items []T, n int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if n <= 0 {
		return [][]T{items}
	}
	chunks := make([][]T, 0, (len(items)+n-1)/n)
	for start := 0; start < len(items); start += n {
		end := min(start+n, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}

// IDGenerator hands out "1", "2", ... for multipart entries.
type IDGenerator struct {
	last atomic.Uint64
}

// Next returns the next id.
func (g *IDGenerator) Next() string {
	return strconv.FormatUint(g.last.Add(1), 10)
}

// Reset restarts the sequence at "1".
func (g *IDGenerator) Reset() {
	g.last.Store(0)
}
