package campaign

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"sdcampaign/logging"
)

// commentPrefix marks an ignored line in a keyword file.
const commentPrefix = "#"

// keywordPool picks the category's flat pool: keywords_<name>.txt, then the
// category's entry in keywords.json, then the document's keywords list.
func (r *Resolver) keywordPool(name string, doc map[string]any, log *logging.Logger) []string {
	if pool, found := r.keywordFile(filepath.Join(r.cfg.ConfigDir, keywordsPrefix+name+".txt"), log); found {
		return pool
	}
	if pool, ok := r.keywordMap(log)[name]; ok {
		return pool
	}
	return stringList(doc["keywords"])
}

// keywordFile returns the lines of a keyword file. found is false when the
// file does not exist; an unreadable file is found with an empty pool.
func (r *Resolver) keywordFile(path string, log *logging.Logger) (pool []string, found bool) {
	if cached, ok := r.files.Get(path); ok {
		entry := cached.(keywordFileEntry)
		return entry.pool, entry.found
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		r.files.Set(path, keywordFileEntry{}, cache.NoExpiration)
		return nil, false
	case err != nil:
		log.Warn("keyword file unreadable, using empty pool", zap.String("path", path), zap.Error(err))
		r.files.Set(path, keywordFileEntry{found: true}, cache.NoExpiration)
		return nil, true
	}

	pool = ParseKeywordLines(data)
	r.files.Set(path, keywordFileEntry{pool: pool, found: true}, cache.NoExpiration)
	return pool, true
}

type keywordFileEntry struct {
	pool  []string
	found bool
}

// keywordMap returns keywords.json as category -> pool. A missing or
// malformed file is an empty map.
func (r *Resolver) keywordMap(log *logging.Logger) map[string][]string {
	path := filepath.Join(r.cfg.ConfigDir, keywordsMap)
	if cached, ok := r.files.Get(path); ok {
		return cached.(map[string][]string)
	}

	out := map[string][]string{}
	data, err := os.ReadFile(path)
	if err == nil {
		raw := map[string]any{}
		if err := json.Unmarshal(data, &raw); err != nil {
			log.Warn("keywords.json is malformed, ignoring", zap.String("path", path), zap.Error(err))
		} else {
			for category, pool := range raw {
				out[category] = stringList(pool)
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("keywords.json unreadable, ignoring", zap.String("path", path), zap.Error(err))
	}

	r.files.Set(path, out, cache.NoExpiration)
	return out
}

// ParseKeywordLines returns the trimmed, non-empty, non-comment lines of data.
// Lines of any length are kept.
func ParseKeywordLines(data []byte) []string {
	var pool []string
	for line := range strings.Lines(string(data)) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, commentPrefix) {
			continue
		}
		pool = append(pool, line)
	}
	return pool
}
