package campaign

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"sdcampaign/imagegen/sd"
	"sdcampaign/logging"
)

// Document file naming.
const (
	documentPrefix = "config_"
	keywordsPrefix = "keywords_"
	keywordsMap    = "keywords.json"
)

// documentExtensions are tried in order; the first existing file wins.
var documentExtensions = []string{".json", ".yaml", ".yml"}

// documentKeys are recognised document keys that are not request parameters.
// They are consumed by the resolver and never reported as dropped.
var documentKeys = map[string]bool{
	"images_count":  true,
	"images":        true,
	"base_prompt":   true,
	"base_style":    true,
	"keywords":      true,
	"prompt_blocks": true,
	"output_dir":    true,
	"outdir":        true,
	"seed_mode":     true,
	"seed_fixed":    true,
	"site_id":       true,
	"hires_fix":     true,
	"adetailer":     true,
	"category":      true,
}

// ResolverConfig holds the directories the resolver reads from and writes to.
type ResolverConfig struct {
	// ConfigDir contains config_<name>.{json,yaml,yml} and keyword files.
	ConfigDir string

	// BaseOutputDir is the parent of the per-category output directories.
	BaseOutputDir string

	// WorkDir anchors relative output_dir overrides. Default: process working directory.
	WorkDir string
}

// Resolver builds CategorySpecs from the defaults and per-category documents.
// Configuration problems never fail a resolve; they are logged and the
// affected part falls back to defaults.
type Resolver struct {
	cfg      ResolverConfig
	defaults Defaults
	logger   *logging.Logger

	// files memoises parsed keyword files for the lifetime of the resolver.
	files *cache.Cache
}

// NewResolver creates a Resolver. defaults is copied; later changes by the
// caller do not affect resolved specs.
func NewResolver(cfg ResolverConfig, defaults Defaults, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.WorkDir = wd
		}
	}
	defaults.Request = defaults.Request.Clone()

	return &Resolver{
		cfg:      cfg,
		defaults: defaults,
		logger:   logger.Named("resolver"),
		files:    cache.New(cache.NoExpiration, 0),
	}
}

// Discover lists the category names that have a document in the config
// directory, sorted and without duplicates.
func (r *Resolver) Discover() ([]string, error) {
	var names []string
	for _, ext := range documentExtensions {
		matches, err := filepath.Glob(filepath.Join(r.cfg.ConfigDir, documentPrefix+"*"+ext))
		if err != nil {
			return nil, fmt.Errorf("failed to list category documents: %w", err)
		}
		for _, m := range matches {
			name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), documentPrefix), ext)
			if ValidCategoryName(name) {
				names = append(names, name)
			}
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

// Resolve returns the CategorySpec for name.
func (r *Resolver) Resolve(name string) CategorySpec {
	spec := CategorySpec{
		Name:        name,
		ImagesCount: r.defaults.ImagesCount,
		OutputDir:   filepath.Join(r.cfg.BaseOutputDir, name),
		Overrides:   map[string]any{},
		SeedMode:    SeedModeRandom,
		SeedFixed:   r.defaults.SeedFixed,
		Request:     r.defaults.Request.Clone(),
	}
	log := r.logger.With(zap.String("category", name))

	doc, source, err := r.loadDocument(name)
	switch {
	case err != nil:
		log.Warn("category document unreadable, using defaults",
			zap.String("path", source), zap.Error(err))
		doc = nil
	case source == "":
		log.Debug("no category document, using defaults")
	default:
		spec.Source = source
	}

	if doc != nil {
		r.applyDocument(&spec, doc, log)
	}
	spec.Keywords = r.keywordPool(name, doc, log)

	log.Debug("category resolved",
		zap.Int("images_count", spec.ImagesCount),
		zap.String("seed_mode", string(spec.SeedMode)),
		zap.Int("keywords", len(spec.Keywords)),
		zap.Int("prompt_blocks", len(spec.PromptBlocks)),
		zap.Strings("overrides", slices.Sorted(maps.Keys(spec.Overrides))),
		zap.String("output_dir", spec.OutputDir))
	return spec
}

// loadDocument reads the first existing document for name. A nil map with
// an empty source means no document exists.
func (r *Resolver) loadDocument(name string) (map[string]any, string, error) {
	for _, ext := range documentExtensions {
		path := filepath.Join(r.cfg.ConfigDir, documentPrefix+name+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, path, err
		}

		doc := map[string]any{}
		if ext == ".json" {
			err = json.Unmarshal(data, &doc)
		} else {
			err = yaml.Unmarshal(data, &doc)
		}
		if err != nil {
			return nil, path, fmt.Errorf("malformed document: %w", err)
		}
		return doc, path, nil
	}
	return nil, "", nil
}

func (r *Resolver) applyDocument(spec *CategorySpec, doc map[string]any, log *logging.Logger) {
	if v, ok := firstPresent(doc, "images_count", "images"); ok {
		if n, ok := intValue(v); ok {
			spec.ImagesCount = int(max(n, 0))
		} else {
			log.Warn("images_count is not numeric, using default",
				zap.Any("value", v), zap.Int("default", r.defaults.ImagesCount))
		}
	}

	if v, ok := firstPresent(doc, "output_dir", "outdir"); ok {
		if dir, ok := v.(string); ok && strings.TrimSpace(dir) != "" {
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(r.cfg.WorkDir, dir)
			}
			spec.OutputDir = filepath.Clean(dir)
		}
	}

	r.applyOverrides(spec, doc, log)

	if v, ok := firstPresent(doc, "base_prompt", "base_style"); ok {
		spec.BasePrompt, _ = v.(string)
	} else {
		spec.BasePrompt = spec.Request.Prompt
	}
	spec.Request.Prompt = ""

	spec.PromptBlocks = promptBlocks(doc["prompt_blocks"])
	r.applySeed(spec, doc, log)
	r.applyADetailer(spec, doc)
}

// applyOverrides merges the allow-listed request keys over the defaults.
// Keys are applied one at a time so a single bad value only drops itself.
func (r *Resolver) applyOverrides(spec *CategorySpec, doc map[string]any, log *logging.Logger) {
	overrides := hiresOverrides(doc["hires_fix"])
	for key, value := range doc {
		if AllowedOverrideKeys[key] {
			overrides[key] = value
			continue
		}
		if !documentKeys[key] {
			log.Debug("dropping unknown key", zap.String("key", key))
		}
	}
	if len(overrides) == 0 {
		return
	}

	current, err := requestMap(spec.Request)
	if err != nil {
		log.Warn("failed to encode default request, ignoring overrides", zap.Error(err))
		return
	}

	for _, key := range slices.Sorted(maps.Keys(overrides)) {
		value := overrides[key]
		candidate := maps.Clone(current)

		if key == overrideSettingsKey {
			settings, ok := value.(map[string]any)
			if !ok {
				log.Warn("override_settings must be a mapping, ignoring", zap.Any("value", value))
				continue
			}
			merged := map[string]any{}
			if existing, ok := current[key].(map[string]any); ok {
				maps.Copy(merged, existing)
			}
			maps.Copy(merged, settings)
			candidate[key] = merged
		} else {
			candidate[key] = value
		}

		if _, err := decodeRequest(candidate); err != nil {
			log.Warn("ignoring override with invalid value",
				zap.String("key", key), zap.Any("value", value), zap.Error(err))
			continue
		}
		current = candidate
		spec.Overrides[key] = value
	}

	req, err := decodeRequest(current)
	if err != nil {
		log.Warn("failed to apply overrides", zap.Error(err))
		return
	}
	spec.Request = req
}

func (r *Resolver) applySeed(spec *CategorySpec, doc map[string]any, log *logging.Logger) {
	if v, ok := doc["seed_mode"]; ok {
		s, _ := v.(string)
		mode, known := ParseSeedMode(s)
		if !known {
			log.Warn("unknown seed_mode, using random", zap.Any("seed_mode", v))
		}
		spec.SeedMode = mode
	}

	if v, ok := doc["seed_fixed"]; ok {
		n, ok := intValue(v)
		if ok && n >= 0 {
			spec.SeedFixed = n
		} else {
			log.Warn("invalid seed_fixed, using default",
				zap.Any("seed_fixed", v), zap.Int64("default", r.defaults.SeedFixed))
		}
	}

	if v, ok := doc["site_id"]; ok {
		if n, ok := intValue(v); ok {
			spec.SiteID = max(n, 0)
		}
	}
}

func (r *Resolver) applyADetailer(spec *CategorySpec, doc map[string]any) {
	block, ok := doc["adetailer"].(map[string]any)
	if !ok {
		return
	}
	if enabled, _ := block["enable"].(bool); !enabled {
		return
	}

	settings := r.defaults.ADetailer
	if s, ok := block["face_prompt"].(string); ok {
		settings.FacePrompt = s
	}
	if s, ok := block["hand_prompt"].(string); ok {
		settings.HandPrompt = s
	}
	if f, ok := floatValue(block["face_denoise"]); ok {
		settings.FaceDenoise = f
	}
	if f, ok := floatValue(block["hand_denoise"]); ok {
		settings.HandDenoise = f
	}
	if f, ok := floatValue(block["confidence"]); ok {
		settings.Confidence = f
	}

	spec.ADetailer = &settings
	spec.Request = spec.Request.WithScripts(settings.Scripts())
}

// hiresOverrides translates a hires_fix block into request keys.
func hiresOverrides(v any) map[string]any {
	out := map[string]any{}
	block, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for from, to := range map[string]string{
		"enable":   "enable_hr",
		"scale":    "hr_scale",
		"denoise":  "denoising_strength",
		"upscaler": "hr_upscaler",
	} {
		if value, ok := block[from]; ok {
			out[to] = value
		}
	}
	return out
}

func promptBlocks(v any) map[string][]string {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	blocks := make(map[string][]string, len(raw))
	for slot, pool := range raw {
		if fragments := stringList(pool); len(fragments) > 0 {
			blocks[slot] = fragments
		}
	}
	if len(blocks) == 0 {
		return nil
	}
	return blocks
}

// requestMap returns the JSON object form of req.
func requestMap(req sd.GenerationRequest) (map[string]any, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeRequest(m map[string]any) (sd.GenerationRequest, error) {
	var req sd.GenerationRequest
	data, err := json.Marshal(m)
	if err != nil {
		return req, err
	}
	err = json.Unmarshal(data, &req)
	return req, err
}

func firstPresent(doc map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// intValue accepts JSON numbers, YAML integers and numeric strings.
// Fractions truncate.
func intValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if !finite(n) {
			return 0, false
		}
		return int64(n), true
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && finite(f) {
			return int64(f), true
		}
	}
	return 0, false
}

// floatValue accepts numbers and numeric strings. NaN and infinities are
// rejected since encoding/json cannot encode them.
func floatValue(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	return f, finite(f)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// stringList returns the non-empty strings of a list value.
func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
