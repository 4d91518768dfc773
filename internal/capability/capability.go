// Package capability implements the Capability Store (spec.md §4.7):
// matches an intent against promoted, reliable intent->code patterns, and
// promotes/retires capabilities based on observed usage.
package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/mcpgw/gateway/internal/domain"
	"github.com/mcpgw/gateway/internal/embedding"
	"github.com/mcpgw/gateway/internal/storage"
)

// minThreshold and reliabilityFloor are the reference defaults from
// spec.md §4.7.
const (
	minThreshold     = 0.85
	reliabilityFloor = 0.7
	retirementFloor  = 0.5
	retirementUses   = 10
)

// Store is the Capability Store.
type Store struct {
	storage  storage.Adapter
	embedder embedding.Port
	idGen    func() string
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the capability_id generator used by Promote.
func WithIDGenerator(f func() string) Option { return func(s *Store) { s.idGen = f } }

// New constructs a Store over storage and embedder.
func New(store storage.Adapter, embedder embedding.Port, opts ...Option) *Store {
	s := &Store{storage: store, embedder: embedder, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PromoteInput carries a completed code-execution outcome eligible for
// promotion into a reusable capability.
type PromoteInput struct {
	Intent     string
	Code       string
	ToolsUsed  []string
	DurationMS int64
	Success    bool
}

// FindMatch returns the best capability whose reliability exceeds
// reliabilityFloor and whose match score (semantic_similarity *
// reliability) is at least threshold, or false if none qualifies
// (spec.md §4.7). threshold<=0 uses the reference default of 0.85.
func (s *Store) FindMatch(ctx context.Context, intentText string, threshold float64) (domain.Capability, float64, bool, error) {
	if threshold <= 0 {
		threshold = minThreshold
	}

	queryVec, err := s.embedder.Embed(ctx, intentText)
	if err != nil {
		return domain.Capability{}, 0, false, err
	}

	candidates, err := s.storage.ListActiveCapabilities(ctx)
	if err != nil {
		return domain.Capability{}, 0, false, err
	}

	var best domain.Capability
	var bestScore float64
	found := false
	for _, c := range candidates {
		reliability := c.Reliability()
		if reliability <= reliabilityFloor {
			continue
		}
		sim := cosineSimilarity(queryVec, c.IntentEmbedding)
		score := sim * reliability
		if score < threshold {
			continue
		}
		if !found || score > bestScore || (score == bestScore && c.CapabilityID < best.CapabilityID) {
			best = c
			bestScore = score
			found = true
		}
	}
	return best, bestScore, found, nil
}

// Promote hashes the normalized code and either increments the usage/
// success counters of an existing capability with that hash, or inserts a
// new one (spec.md §4.7).
func (s *Store) Promote(ctx context.Context, in PromoteInput) (domain.Capability, error) {
	hash := patternHash(in.Code)

	existing, ok, err := s.storage.GetCapabilityByHash(ctx, hash)
	if err != nil {
		return domain.Capability{}, err
	}

	var c domain.Capability
	if ok {
		c = existing
		c.UsageCount++
		if in.Success {
			c.SuccessCount++
		}
	} else {
		vec, err := s.embedder.Embed(ctx, in.Intent)
		if err != nil {
			return domain.Capability{}, err
		}
		c = domain.Capability{
			CapabilityID:    s.newID(),
			Name:            capabilityName(in.Intent),
			IntentEmbedding: vec,
			Code:            in.Code,
			PatternHash:     hash,
			UsageCount:      1,
			Active:          true,
		}
		if in.Success {
			c.SuccessCount = 1
		}
	}
	c.LastUsed = s.now()
	c.Active = !isRetired(c)

	if err := s.storage.UpsertCapability(ctx, c); err != nil {
		return domain.Capability{}, err
	}
	return c, nil
}

// RecordUsage updates a capability's usage/success counters after it was
// invoked directly (as opposed to re-promoted), and retires it if its
// reliability has fallen below the retirement floor (spec.md §4.7).
func (s *Store) RecordUsage(ctx context.Context, capabilityID string, success bool) error {
	candidates, err := s.storage.ListActiveCapabilities(ctx)
	if err != nil {
		return err
	}
	var c domain.Capability
	found := false
	for _, cand := range candidates {
		if cand.CapabilityID == capabilityID {
			c = cand
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	c.UsageCount++
	if success {
		c.SuccessCount++
	}
	c.LastUsed = s.now()
	c.Active = !isRetired(c)
	return s.storage.UpsertCapability(ctx, c)
}

// isRetired reports whether c should be marked inactive: success/usage <
// 0.5 after at least 10 uses (spec.md §4.7).
func isRetired(c domain.Capability) bool {
	if c.UsageCount < retirementUses {
		return false
	}
	return float64(c.SuccessCount)/float64(c.UsageCount) < retirementFloor
}

func (s *Store) newID() string {
	if s.idGen != nil {
		return s.idGen()
	}
	return patternHash(time.Now().String())
}

var normalizeWhitespace = regexp.MustCompile(`\s+`)

// patternHash hashes code after normalizing whitespace, so formatting-only
// differences between two submissions of the same logic hash identically
// (spec.md §4.7).
func patternHash(code string) string {
	normalized := strings.TrimSpace(normalizeWhitespace.ReplaceAllString(code, " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// capabilityName derives a short human-readable label from an intent's
// first few words.
func capabilityName(intent string) string {
	words := strings.Fields(intent)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
