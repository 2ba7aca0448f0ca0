package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spherical-ai/spherical/libs/deck-processor/internal/domain"
	"github.com/spherical-ai/spherical/libs/deck-processor/internal/observability"
)

const hashChunkSize = 8192

// ResultStoreConfig configures the result cache.
type ResultStoreConfig struct {
	// TTL bounds entry lifetime. Zero keeps entries until cleared.
	TTL time.Duration
	// KeyPrefix namespaces result keys inside the backend.
	KeyPrefix string
}

// ResultStore caches conversion results keyed by file content and options.
type ResultStore struct {
	client Client
	logger *observability.Logger
	config ResultStoreConfig
}

// CachedResult is the envelope persisted per key.
type CachedResult struct {
	Result         *domain.ResultDocument `json:"result"`
	ResultLocation string                 `json:"result_url"`
	CachedAt       time.Time              `json:"cached_at"`
	ExpiresAt      *time.Time             `json:"expires_at,omitempty"`
}

// NewResultStore creates a result cache over the given backend.
func NewResultStore(client Client, logger *observability.Logger, config ResultStoreConfig) *ResultStore {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "result-"
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &ResultStore{
		client: client,
		logger: logger,
		config: config,
	}
}

// GenerateKey hashes the file in fixed-size chunks together with the
// canonical (sorted) parameter string. It returns false when the file cannot
// be hashed, meaning caching is disabled for this call.
func GenerateKey(filePath string, params map[string]string) (string, bool) {
	fileHash, err := hashFile(filePath)
	if err != nil {
		return "", false
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	sum := sha256.Sum256([]byte(fileHash + "-" + strings.Join(pairs, "&")))
	return hex.EncodeToString(sum[:]), true
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Get returns the cached result and its location. Unreadable or corrupt
// entries are treated as misses; corrupt ones are deleted.
func (s *ResultStore) Get(ctx context.Context, key string) (*domain.ResultDocument, string, bool) {
	if key == "" || s.client == nil {
		return nil, "", false
	}

	fullKey := s.config.KeyPrefix + key
	data, err := s.client.Get(ctx, fullKey)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		s.logger.Debug().Str("key", key).Msg("Cache miss")
		return nil, "", false
	}

	var cached CachedResult
	if err := json.Unmarshal(data, &cached); err != nil || cached.Result == nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry, deleting")
		s.delete(ctx, fullKey)
		return nil, "", false
	}

	if cached.ExpiresAt != nil && time.Now().After(*cached.ExpiresAt) {
		s.logger.Debug().Str("key", key).Msg("Cache entry expired")
		s.delete(ctx, fullKey)
		return nil, "", false
	}

	s.logger.Debug().Str("key", key).Msg("Cache hit")
	return cached.Result, cached.ResultLocation, true
}

// Put stores a result. Failures are logged and reported as false.
func (s *ResultStore) Put(ctx context.Context, key string, result *domain.ResultDocument, location string) bool {
	if key == "" || s.client == nil || result == nil {
		return false
	}

	now := time.Now().UTC()
	cached := CachedResult{
		Result:         result,
		ResultLocation: location,
		CachedAt:       now,
	}
	if s.config.TTL > 0 {
		exp := now.Add(s.config.TTL)
		cached.ExpiresAt = &exp
	}

	data, err := json.Marshal(cached)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to marshal cache entry")
		return false
	}

	if err := s.client.Set(ctx, s.config.KeyPrefix+key, data, s.config.TTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to write cache entry")
		return false
	}

	s.logger.Debug().Str("key", key).Msg("Cached conversion result")
	return true
}

// Clear removes one entry.
func (s *ResultStore) Clear(ctx context.Context, key string) bool {
	if s.client == nil {
		return false
	}
	return s.delete(ctx, s.config.KeyPrefix+key)
}

// ClearAll removes every result entry.
func (s *ResultStore) ClearAll(ctx context.Context) bool {
	if s.client == nil {
		return false
	}
	if err := s.client.DeleteByPrefix(ctx, s.config.KeyPrefix); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to clear cache")
		return false
	}
	s.logger.Info().Msg("Cache cleared")
	return true
}

func (s *ResultStore) delete(ctx context.Context, fullKey string) bool {
	if err := s.client.Delete(ctx, fullKey); err != nil {
		s.logger.Warn().Err(err).Str("key", fullKey).Msg("Failed to delete cache entry")
		return false
	}
	return true
}
