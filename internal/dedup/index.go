// Package dedup prevents the same logical document from being persisted
// twice within one job run and its date window.
package dedup

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// fold lowercases, strips accents and collapses whitespace, so "Société
// Générale" and "societe  generale" produce the same key component. The
// transformer chain is stateful and must not be shared across goroutines, so
// it is built per call; construction is cheap.
func fold(s string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Key derives the composite dedup identity: normalized vendor name, document
// identifier, rounded monetary total and calendar date.
func Key(vendorName, documentID string, total float64, date time.Time) string {
	day := ""
	if !date.IsZero() {
		day = date.Format("2006-01-02")
	}
	return fmt.Sprintf("%s|%s|%.2f|%s",
		fold(vendorName),
		fold(documentID),
		math.Round(total*100)/100,
		day,
	)
}

// Index is the session-scoped key set. Safe for concurrent use by sibling
// messages of one batch.
type Index struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewIndex() *Index {
	return &Index{seen: make(map[string]struct{})}
}

// Register records a key, reporting whether it was already present. The
// check-and-set is atomic so two siblings extracting equivalent documents
// cannot both pass.
func (i *Index) Register(key string) (duplicate bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.seen[key]; ok {
		return true
	}
	i.seen[key] = struct{}{}
	return false
}

// Release withdraws a key, so a document whose persistence failed does not
// block an equivalent later one.
func (i *Index) Release(key string) {
	i.mu.Lock()
	delete(i.seen, key)
	i.mu.Unlock()
}

// Len returns the number of registered keys.
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.seen)
}
