package embedding

// Embedder converts normalised text into a numeric vector representation.
// Prepare fits the embedder over the whole corpus; Embed only transforms and
// must not change the fitted state, so one prepared Embedder can serve many readers.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(text string) ([]float64, error)
}

// Factory returns a fresh, unprepared Embedder for each corpus build.
type Factory func() Embedder

// Cosine returns the dot product of two L2-normalised vectors, which is their
// cosine similarity. Extra dimensions of the longer vector are ignored.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
