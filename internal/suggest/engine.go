// Package suggest ranks previously used transaction titles as the user types.
//
// Items are deduplicated by (normalized title, category) and grouped into
// buckets keyed by the first two runes of the normalized title. Queries rank
// prefix matches first, then higher frequency, then more recent use.
package suggest

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"tally/internal/cache"
	"tally/internal/log"
)

const (
	DefaultLimit    = 8
	DefaultDebounce = 150 * time.Millisecond

	// Queries of at least this many runes also match inside titles that live
	// in other buckets.
	minSubstringRunes = 3

	defaultCacheSize = 128
	defaultCacheTTL  = 10 * time.Minute
)

// TransactionLike is anything whose title can be indexed.
type TransactionLike interface {
	TransactionTitle() string
	TransactionCategory() string
	TransactionDate() time.Time
}

// Item is one suggestion.
type Item struct {
	Title      string    `json:"title"`
	CategoryID string    `json:"categoryIdentifier,omitempty"`
	Frequency  int       `json:"frequency"`
	LastUsed   time.Time `json:"lastUsed"`
}

// Normalized is the trimmed lower-cased title used for matching.
func (i Item) Normalized() string { return Normalize(i.Title) }

// Dispatcher runs debounced callbacks, e.g. on a UI event loop.
type Dispatcher func(func())

// Options configure an Engine. Zero values select the defaults; an empty Path
// keeps the index in memory only.
type Options struct {
	Path       string
	Debounce   time.Duration
	CacheSize  int
	CacheTTL   time.Duration
	Dispatcher Dispatcher
	Logger     *log.Logger
}

type itemKey struct {
	normalized string
	category   string
}

// Engine is safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	path    string
	items   map[itemKey]*Item
	buckets map[string][]*Item
	results *cache.LRUCache[[]Item]
	logger  *log.Logger

	debounce   time.Duration
	dispatch   Dispatcher
	timer      *time.Timer
	generation uint64
}

func New(opts Options) *Engine {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = func(f func()) { f() }
	}
	if opts.Logger == nil {
		opts.Logger = log.FromSlog(nil, log.ComponentSuggest)
	}
	return &Engine{
		path:     opts.Path,
		items:    make(map[itemKey]*Item),
		buckets:  make(map[string][]*Item),
		results:  cache.NewLRUCache[[]Item](opts.CacheSize, opts.CacheTTL),
		logger:   opts.Logger.WithComponent(log.ComponentSuggest),
		debounce: opts.Debounce,
		dispatch: opts.Dispatcher,
	}
}

// Normalize trims surrounding whitespace and lower-cases s.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// bucketKey is the first two runes of a normalized title, padded with spaces.
func bucketKey(normalized string) string {
	var b strings.Builder
	n := 0
	for _, r := range normalized {
		if n == 2 {
			break
		}
		b.WriteRune(r)
		n++
	}
	for ; n < 2; n++ {
		b.WriteByte(' ')
	}
	return b.String()
}

// Build replaces the index with the titles of txs and saves it.
func (e *Engine) Build(txs []TransactionLike) {
	e.mu.Lock()
	e.items = make(map[itemKey]*Item, len(txs))
	for _, tx := range txs {
		e.addLocked(tx)
	}
	e.rebuildLocked()
	n := len(e.items)
	e.mu.Unlock()

	e.logger.Info("Suggestion index built", log.FieldRecords, n)
	e.persist(log.OpBuild)
}

// BuildFrom is Build for any slice of TransactionLike values.
func BuildFrom[T TransactionLike](e *Engine, txs []T) {
	like := make([]TransactionLike, len(txs))
	for i, tx := range txs {
		like[i] = tx
	}
	e.Build(like)
}

// Upsert records one more use of tx's title and saves the index.
func (e *Engine) Upsert(tx TransactionLike) {
	e.mu.Lock()
	added := e.addLocked(tx)
	if added {
		e.rebuildLocked()
	}
	e.mu.Unlock()

	if added {
		e.persist(log.OpUpsert)
	}
}

// addLocked folds tx into the item map. The display title follows the most
// recent spelling. It reports false for blank titles.
func (e *Engine) addLocked(tx TransactionLike) bool {
	title := tx.TransactionTitle()
	normalized := Normalize(title)
	if normalized == "" {
		return false
	}
	key := itemKey{normalized: normalized, category: tx.TransactionCategory()}
	used := tx.TransactionDate()

	if it, ok := e.items[key]; ok {
		it.Title = strings.TrimSpace(title)
		it.Frequency++
		if used.After(it.LastUsed) {
			it.LastUsed = used
		}
		return true
	}
	e.items[key] = &Item{
		Title:      strings.TrimSpace(title),
		CategoryID: key.category,
		Frequency:  1,
		LastUsed:   used,
	}
	return true
}

func (e *Engine) rebuildLocked() {
	e.buckets = make(map[string][]*Item, len(e.items))
	for key, it := range e.items {
		b := bucketKey(key.normalized)
		e.buckets[b] = append(e.buckets[b], it)
	}
	e.results.Purge()
}

// Query returns up to limit items containing text, best first. A limit of
// zero or less selects DefaultLimit.
func (e *Engine) Query(text string, limit int) []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queryLocked(text, limit)
}

func (e *Engine) queryLocked(text string, limit int) []Item {
	q := Normalize(text)
	if q == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	cacheKey := fmt.Sprintf("%d|%s", limit, q)
	if cached, ok := e.results.Get(cacheKey); ok {
		return append([]Item(nil), cached...)
	}

	key := bucketKey(q)
	var candidates []*Item
	for _, it := range e.buckets[key] {
		if strings.Contains(it.Normalized(), q) {
			candidates = append(candidates, it)
		}
	}
	if utf8.RuneCountInString(q) >= minSubstringRunes {
		for b, items := range e.buckets {
			if b == key {
				continue
			}
			for _, it := range items {
				if strings.Contains(it.Normalized(), q) {
					candidates = append(candidates, it)
				}
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j], q)
	})

	n := min(limit, len(candidates))
	out := make([]Item, n)
	for i := 0; i < n; i++ {
		out[i] = *candidates[i]
	}
	e.results.Set(cacheKey, out)
	return append([]Item(nil), out...)
}

func less(a, b *Item, q string) bool {
	ap := strings.HasPrefix(a.Normalized(), q)
	bp := strings.HasPrefix(b.Normalized(), q)
	if ap != bp {
		return ap
	}
	if a.Frequency != b.Frequency {
		return a.Frequency > b.Frequency
	}
	if !a.LastUsed.Equal(b.LastUsed) {
		return a.LastUsed.After(b.LastUsed)
	}
	// Stable order for identical scores.
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	return a.CategoryID < b.CategoryID
}

// QueryDebounced runs Query after the debounce delay and hands the results to
// callback through the dispatcher. A later call, or Reset, supersedes any
// pending one; a superseded call never invokes its callback.
func (e *Engine) QueryDebounced(text string, limit int, callback func([]Item)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.generation++
	gen := e.generation
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, func() {
		e.mu.Lock()
		if gen != e.generation {
			e.mu.Unlock()
			return
		}
		results := e.queryLocked(text, limit)
		e.mu.Unlock()

		e.dispatch(func() {
			if !e.current(gen) {
				return
			}
			callback(results)
		})
	})
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen == e.generation
}

// Cancel drops any pending debounced query.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
}

func (e *Engine) cancelLocked() {
	e.generation++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// Reset clears the index, cancels any pending query and saves the empty index.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.cancelLocked()
	e.items = make(map[itemKey]*Item)
	e.rebuildLocked()
	e.mu.Unlock()

	e.persist(log.OpReset)
}

// Items returns every item ordered by normalized title then category.
func (e *Engine) Items() []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []Item {
	out := make([]Item, 0, len(e.items))
	for _, it := range e.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].Normalized(), out[j].Normalized()
		if ni != nj {
			return ni < nj
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out
}

// Len returns the number of distinct items.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items)
}

// CleanExpired evicts stale memoised query results; it lets a cache.Manager
// sweep the engine.
func (e *Engine) CleanExpired() int {
	return e.results.CleanExpired()
}
