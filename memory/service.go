package memory

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto"
)

// ServiceConfig tunes the memory service.
type ServiceConfig struct {
	// Enabled toggles the whole memory system.
	Enabled bool

	// SubjectLabel is the third-person label facts are rewritten to.
	SubjectLabel string

	// TopK is the default number of facts retrieved per query.
	TopK int

	// MinSimilarity drops retrieval hits below this cosine similarity.
	MinSimilarity float64

	// Heuristic also stores plain self-disclosures ("I live in Rome")
	// that arrive without an explicit remember command.
	Heuristic bool
}

// DefaultServiceConfig returns the settings used by the CLI.
var DefaultServiceConfig = &ServiceConfig{
	Enabled:       true,
	SubjectLabel:  DefaultSubjectLabel,
	TopK:          5,
	MinSimilarity: 0.25,
	Heuristic:     true,
}

// Service is the facade over store, index, embedder and normalizer.
//
// All writes keep store and index consistent: if the embedding cannot be
// produced nothing is stored, and if indexing fails the stored row is
// rolled back. Query embeddings are cached so repeated retrievals do not
// re-embed the same text.
type Service struct {
	store      Store
	index      Index
	embedder   Embedder
	normalizer *Normalizer
	cache      *ristretto.Cache
	cfg        *ServiceConfig

	mu sync.Mutex // serializes writes
}

// NewService wires a memory service from its parts.
func NewService(store Store, index Index, embedder Embedder, cfg *ServiceConfig) (*Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig
	}
	if embedder.Dimensions() != index.Dimensions() {
		return nil, &DimensionMismatchError{Got: embedder.Dimensions(), Want: index.Dimensions()}
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     16 << 20, // 16 MiB of cached vectors
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Service{
		store:      store,
		index:      index,
		embedder:   embedder,
		normalizer: NewNormalizer(cfg.SubjectLabel),
		cache:      cache,
		cfg:        cfg,
	}, nil
}

// rememberPatterns are the explicit remember commands. The capture group
// is the fact payload.
var rememberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^remember that\s+(.+)$`),
	regexp.MustCompile(`(?i)^remember:\s*(.+)$`),
	regexp.MustCompile(`(?i)^note that\s+(.+)$`),
	regexp.MustCompile(`(?i)^don't forget that\s+(.+)$`),
	regexp.MustCompile(`(?i)^keep in mind that\s+(.+)$`),
}

// disclosurePrefixes mark utterances that read like durable facts about
// the user. Transient wants ("I want pizza") are deliberately absent.
var disclosurePrefixes = []string{
	"i like ", "i love ", "i hate ", "i prefer ", "i enjoy ",
	"i live ", "i work ", "i am ", "i'm ", "i have ", "i speak ",
	"i use ", "i own ", "i play ", "i study ",
	"my name is ", "my favorite ", "my favourite ", "call me ",
}

// ConsiderForMemory decides whether the utterance is worth remembering
// and stores it if so. Returns the stored fact, or nil when the
// utterance was not memorable.
func (s *Service) ConsiderForMemory(ctx context.Context, utterance string) (*Fact, error) {
	if !s.cfg.Enabled {
		return nil, nil
	}
	trimmed := strings.TrimSpace(utterance)
	if trimmed == "" {
		return nil, fmt.Errorf("consider for memory: empty utterance: %w", ErrValidation)
	}

	if payload, ok := rememberPayload(trimmed); ok {
		return s.Remember(ctx, payload)
	}
	if s.cfg.Heuristic && looksMemorable(trimmed) {
		return s.Remember(ctx, trimmed)
	}
	return nil, nil
}

// Remember normalizes, embeds and durably stores text as a fact.
func (s *Service) Remember(ctx context.Context, text string) (*Fact, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("remember: empty text: %w", ErrValidation)
	}

	normalized := s.normalizer.Normalize(trimmed)
	vector, err := s.embed(ctx, normalized)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fact, err := s.store.Append(ctx, normalized, trimmed, vector, nil)
	if err != nil {
		return nil, err
	}
	if err := s.index.Add(ctx, fact.ID, vector); err != nil {
		// Roll the row back so store and index stay consistent.
		if delErr := s.store.Delete(ctx, fact.ID); delErr != nil {
			log.Printf("[MEMORY] Failed to roll back fact %d: %v", fact.ID, delErr)
		}
		return nil, err
	}

	log.Printf("[MEMORY] Stored fact %d: %q", fact.ID, truncateLog(normalized, 60))
	return fact, nil
}

// Retrieve returns up to k facts semantically close to the query.
func (s *Service) Retrieve(ctx context.Context, query string, k int) ([]*Fact, error) {
	if !s.cfg.Enabled {
		return nil, nil
	}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, fmt.Errorf("retrieve: empty query: %w", ErrValidation)
	}
	if k <= 0 {
		k = s.cfg.TopK
	}
	if s.index.Len() == 0 {
		return nil, nil
	}

	vector, err := s.embed(ctx, s.normalizer.Normalize(trimmed))
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}

	facts := make([]*Fact, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < s.cfg.MinSimilarity {
			continue
		}
		fact, err := s.store.Get(ctx, hit.ID)
		if err != nil {
			log.Printf("[MEMORY] Indexed fact %d missing from store: %v", hit.ID, err)
			continue
		}
		if !fact.Active {
			continue
		}
		facts = append(facts, fact)
	}

	log.Printf("[MEMORY] Retrieved %d facts for query: %q", len(facts), truncateLog(trimmed, 50))
	return facts, nil
}

// ListAll returns all active facts in insertion order.
func (s *Service) ListAll(ctx context.Context) ([]*Fact, error) {
	return s.store.ListAll(ctx)
}

// SearchText returns active facts whose text contains the query.
// Matches the retrieval pass also scores come first, in similarity
// order; the rest keep insertion order.
func (s *Service) SearchText(ctx context.Context, query string, limit int) ([]*Fact, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, fmt.Errorf("search: empty query: %w", ErrValidation)
	}
	matches, err := s.store.SearchText(ctx, trimmed, limit)
	if err != nil || len(matches) < 2 {
		return matches, err
	}

	ranked, err := s.Retrieve(ctx, trimmed, len(matches))
	if err != nil {
		// Substring order still answers the query.
		log.Printf("[MEMORY] Semantic ranking unavailable for search %q: %v",
			truncateLog(trimmed, 50), err)
		return matches, nil
	}

	rank := make(map[int64]int, len(ranked))
	for i, f := range ranked {
		rank[f.ID] = i
	}
	sort.SliceStable(matches, func(i, j int) bool {
		ri, iOK := rank[matches[i].ID]
		rj, jOK := rank[matches[j].ID]
		switch {
		case iOK && jOK:
			return ri < rj
		case iOK:
			return true
		default:
			return false
		}
	})
	return matches, nil
}

// SupersedeFact replaces a fact with a corrected statement. The old fact
// stays readable by id but leaves the active set and the index.
func (s *Service) SupersedeFact(ctx context.Context, oldID int64, text string) (*Fact, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("supersede: empty text: %w", ErrValidation)
	}

	normalized := s.normalizer.Normalize(trimmed)
	vector, err := s.embed(ctx, normalized)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fact, err := s.store.Supersede(ctx, oldID, normalized, trimmed, vector, nil)
	if err != nil {
		return nil, err
	}
	if err := s.index.Remove(ctx, oldID); err != nil {
		return nil, err
	}
	if err := s.index.Add(ctx, fact.ID, vector); err != nil {
		return nil, err
	}
	return fact, nil
}

// Forget permanently removes a fact from store and index.
func (s *Service) Forget(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	return s.index.Remove(ctx, id)
}

// Clear permanently removes all facts.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	facts, err := s.store.ListAll(ctx)
	if err != nil {
		return err
	}
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	for _, fact := range facts {
		if err := s.index.Remove(ctx, fact.ID); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild loads persisted embeddings into the index; called at startup.
// Facts whose stored vector does not match the index dimensions are
// skipped: they stay listed but leave semantic retrieval.
func (s *Service) Rebuild(ctx context.Context) error {
	entries, err := s.store.Embeddings(ctx)
	if err != nil {
		return err
	}

	loaded := 0
	for _, entry := range entries {
		if len(entry.Vector) != s.index.Dimensions() {
			log.Printf("[MEMORY] Skipping fact %d: stored vector has %d dims, index wants %d",
				entry.ID, len(entry.Vector), s.index.Dimensions())
			continue
		}
		if err := s.index.Add(ctx, entry.ID, entry.Vector); err != nil {
			return fmt.Errorf("rebuild fact %d: %w", entry.ID, err)
		}
		loaded++
	}

	log.Printf("[MEMORY] Rebuilt index with %d facts", loaded)
	return nil
}

// Close releases the underlying store and cache.
func (s *Service) Close() error {
	s.cache.Close()
	return s.store.Close()
}

// embed produces a cached embedding for text, validating dimensions.
func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := s.cache.Get(text); ok {
		if vec, ok := cached.([]float32); ok {
			return vec, nil
		}
	}

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %v: %w", err, ErrEmbeddingUnavailable)
	}
	if len(vector) != s.index.Dimensions() {
		return nil, &DimensionMismatchError{Got: len(vector), Want: s.index.Dimensions()}
	}

	s.cache.Set(text, vector, int64(len(vector)*4))
	return vector, nil
}

// IsRememberCommand reports whether the utterance is an explicit
// remember command ("remember that ...", "note that ...").
func IsRememberCommand(utterance string) bool {
	_, ok := rememberPayload(strings.TrimSpace(utterance))
	return ok
}

// rememberPayload extracts the fact from an explicit remember command.
func rememberPayload(utterance string) (string, bool) {
	for _, pattern := range rememberPatterns {
		if m := pattern.FindStringSubmatch(utterance); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	return "", false
}

// looksMemorable reports whether the utterance reads like a durable
// self-disclosure.
func looksMemorable(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, prefix := range disclosurePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// truncateLog truncates text for logging.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
