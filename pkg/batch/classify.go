package batch

import (
	"path"
	"strconv"
	"strings"
)

// Classifier decides whether a URL should be tagged small (vs large) for
// pool.Pool dispatch priority. Pluggable on purpose: the workload-
// specific default heuristic below is not hard-wired, so a caller can
// supply its own predicate for a different corpus.
type Classifier func(url string, index int) (small bool)

// DefaultClassifier implements the batch's small-file heuristic: a URL
// is small iff its basename contains "thumb", "_s", "_small", ends in
// "_128.jpg", or matches img_DDD.jpg with DDD <= 16.
func DefaultClassifier(url string, _ int) bool {
	base := path.Base(url)
	lower := strings.ToLower(base)

	for _, marker := range []string{"thumb", "_s", "_small"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	if strings.HasSuffix(lower, "_128.jpg") {
		return true
	}

	if n, ok := imgIndex(base); ok && n <= 16 {
		return true
	}
	return false
}

// imgIndex extracts DDD from a basename of the form "img_DDD.jpg"
// (any run of digits between "img_" and ".jpg", case-insensitive on the
// extension). Returns ok=false for anything else.
func imgIndex(base string) (int, bool) {
	const prefix = "img_"
	lower := strings.ToLower(base)
	if !strings.HasPrefix(lower, prefix) {
		return 0, false
	}
	rest := base[len(prefix):]
	dot := strings.LastIndex(rest, ".")
	if dot < 0 {
		return 0, false
	}
	if !strings.EqualFold(rest[dot:], ".jpg") {
		return 0, false
	}
	digits := rest[:dot]
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
