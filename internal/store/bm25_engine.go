package store

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// BM25Engine is an in-memory BM25 index. Readers load an immutable snapshot
// and never block; writers build the next snapshot under mu and publish it
// atomically, so a search sees either the pre- or post-update corpus.
type BM25Engine struct {
	config BM25Config

	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[bm25Snapshot]
}

type bm25Doc struct {
	id        string
	content   string
	length    int
	termFreqs map[string]int
}

// bm25Snapshot is never mutated after publication, except for its IDF cache
// which is safe for concurrent use and dies with the snapshot.
type bm25Snapshot struct {
	docs     []*bm25Doc // insertion order
	byID     map[string]int
	postings map[string][]int // term -> doc positions
	totalLen int
	idf      *lru.Cache[string, float64]
}

// NewBM25Engine creates an empty engine.
func NewBM25Engine(config BM25Config) *BM25Engine {
	defaults := DefaultBM25Config()
	if config.K1 <= 0 {
		config.K1 = defaults.K1
	}
	if config.B < 0 || config.B > 1 {
		config.B = defaults.B
	}
	if config.MinTokenLength <= 0 {
		config.MinTokenLength = defaults.MinTokenLength
	}
	if config.IDFCacheSize <= 0 {
		config.IDFCacheSize = defaults.IDFCacheSize
	}

	e := &BM25Engine{config: config}
	e.snap.Store(e.newSnapshot(nil, 0))
	return e
}

func (e *BM25Engine) newSnapshot(docs []*bm25Doc, capHint int) *bm25Snapshot {
	cache, _ := lru.New[string, float64](e.config.IDFCacheSize)
	s := &bm25Snapshot{
		docs:     make([]*bm25Doc, 0, capHint),
		byID:     make(map[string]int, capHint),
		postings: make(map[string][]int),
		idf:      cache,
	}
	for _, d := range docs {
		s.append(d)
	}
	return s
}

// append adds d at the end. Only used while building a fresh snapshot.
func (s *bm25Snapshot) append(d *bm25Doc) {
	pos := len(s.docs)
	s.docs = append(s.docs, d)
	s.byID[d.id] = pos
	s.totalLen += d.length
	for term := range d.termFreqs {
		s.postings[term] = append(s.postings[term], pos)
	}
}

// AddDocument indexes a single document.
func (e *BM25Engine) AddDocument(id, content string) {
	e.AddDocuments([]*Document{{ID: id, Content: content}})
}

// AddDocuments indexes a batch. An existing ID keeps its position and gets
// the new content. Every call publishes a new snapshot with a fresh IDF cache.
func (e *BM25Engine) AddDocuments(docs []*Document) {
	if len(docs) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.snap.Load()
	next := &bm25Snapshot{
		docs:     append(make([]*bm25Doc, 0, len(old.docs)+len(docs)), old.docs...),
		byID:     make(map[string]int, len(old.byID)+len(docs)),
		postings: make(map[string][]int, len(old.postings)),
		totalLen: old.totalLen,
	}
	for id, pos := range old.byID {
		next.byID[id] = pos
	}
	for term, list := range old.postings {
		next.postings[term] = list
	}
	// Posting lists are shared with old; touched lists are copied before writing.
	touched := make(map[string]bool)
	cloneList := func(term string) {
		if !touched[term] {
			next.postings[term] = append([]int(nil), next.postings[term]...)
			touched[term] = true
		}
	}

	for _, in := range docs {
		if in == nil || in.ID == "" {
			continue
		}
		d := e.analyze(in.ID, in.Content)

		if pos, exists := next.byID[in.ID]; exists {
			prev := next.docs[pos]
			next.totalLen -= prev.length
			for term := range prev.termFreqs {
				cloneList(term)
				next.postings[term] = removePosition(next.postings[term], pos)
				if len(next.postings[term]) == 0 {
					delete(next.postings, term)
				}
			}
			next.docs[pos] = d
			next.totalLen += d.length
			for term := range d.termFreqs {
				cloneList(term)
				next.postings[term] = insertPosition(next.postings[term], pos)
			}
			continue
		}

		pos := len(next.docs)
		next.docs = append(next.docs, d)
		next.byID[in.ID] = pos
		next.totalLen += d.length
		for term := range d.termFreqs {
			cloneList(term)
			next.postings[term] = append(next.postings[term], pos)
		}
	}

	next.idf, _ = lru.New[string, float64](e.config.IDFCacheSize)
	e.snap.Store(next)
}

func (e *BM25Engine) analyze(id, content string) *bm25Doc {
	tokens := Tokenize(content, e.config.MinTokenLength)
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return &bm25Doc{id: id, content: content, length: len(tokens), termFreqs: tf}
}

func removePosition(list []int, pos int) []int {
	out := list[:0]
	for _, p := range list {
		if p != pos {
			out = append(out, p)
		}
	}
	return out
}

func insertPosition(list []int, pos int) []int {
	i := sort.SearchInts(list, pos)
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = pos
	return list
}

// Rank scores every document sharing at least one term with query and
// returns the best limit, ties in insertion order. limit <= 0 means all.
func (e *BM25Engine) Rank(query string, limit int) []*BM25Result {
	s := e.snap.Load()
	n := len(s.docs)
	terms := uniqueTerms(Tokenize(query, e.config.MinTokenLength))
	if n == 0 || len(terms) == 0 {
		return []*BM25Result{}
	}

	avgLen := float64(s.totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	type scored struct {
		pos     int
		score   float64
		matched []string
	}
	byPos := make(map[int]*scored)
	for _, term := range terms {
		list := s.postings[term]
		if len(list) == 0 {
			continue
		}
		idf := e.idf(s, term, n, len(list))
		for _, pos := range list {
			d := s.docs[pos]
			tf := float64(d.termFreqs[term])
			norm := tf + e.config.K1*(1-e.config.B+e.config.B*float64(d.length)/avgLen)
			sc, ok := byPos[pos]
			if !ok {
				sc = &scored{pos: pos}
				byPos[pos] = sc
			}
			sc.score += idf * (tf * (e.config.K1 + 1)) / norm
			sc.matched = append(sc.matched, term)
		}
	}

	hits := make([]*scored, 0, len(byPos))
	for _, sc := range byPos {
		if sc.score > 0 {
			hits = append(hits, sc)
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].pos < hits[j].pos
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]*BM25Result, len(hits))
	for i, h := range hits {
		results[i] = &BM25Result{DocID: s.docs[h.pos].id, Score: h.score, MatchedTerms: h.matched}
	}
	return results
}

// idf returns the cached IDF for term in snapshot s.
func (e *BM25Engine) idf(s *bm25Snapshot, term string, n, df int) float64 {
	if v, ok := s.idf.Get(term); ok {
		return v
	}
	v := math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1)
	v = math.Max(e.config.MinIDF, v)
	s.idf.Add(term, v)
	return v
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// DocumentCount returns the number of indexed documents.
func (e *BM25Engine) DocumentCount() int {
	return len(e.snap.Load().docs)
}

// Document returns an indexed document by ID.
func (e *BM25Engine) Document(id string) (*Document, bool) {
	s := e.snap.Load()
	pos, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	d := s.docs[pos]
	return &Document{ID: d.id, Content: d.content}, true
}

// Clear drops every document.
func (e *BM25Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.Store(e.newSnapshot(nil, 0))
}

// Index implements BM25Index.
func (e *BM25Engine) Index(_ context.Context, docs []*Document) error {
	e.AddDocuments(docs)
	return nil
}

// Search implements BM25Index.
func (e *BM25Engine) Search(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.Rank(query, limit), nil
}

// Delete implements BM25Index. Remaining documents keep their relative order.
func (e *BM25Engine) Delete(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	old := e.snap.Load()
	kept := make([]*bm25Doc, 0, len(old.docs))
	for _, d := range old.docs {
		if _, ok := drop[d.id]; !ok {
			kept = append(kept, d)
		}
	}
	if len(kept) == len(old.docs) {
		return nil
	}
	e.snap.Store(e.newSnapshot(kept, len(kept)))
	return nil
}

// AllIDs implements BM25Index, in insertion order.
func (e *BM25Engine) AllIDs() ([]string, error) {
	s := e.snap.Load()
	ids := make([]string, len(s.docs))
	for i, d := range s.docs {
		ids[i] = d.id
	}
	return ids, nil
}

// Stats implements BM25Index.
func (e *BM25Engine) Stats() *IndexStats {
	s := e.snap.Load()
	stats := &IndexStats{DocumentCount: len(s.docs), TermCount: len(s.postings)}
	if len(s.docs) > 0 {
		stats.AvgDocLength = float64(s.totalLen) / float64(len(s.docs))
	}
	return stats
}

// Close implements BM25Index.
func (e *BM25Engine) Close() error {
	return nil
}

var _ BM25Index = (*BM25Engine)(nil)
