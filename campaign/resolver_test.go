package campaign

import (
	"encoding/json"
	"maps"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"sdcampaign/imagegen/sd"
)

func newTestResolver(t *testing.T, configDir string) *Resolver {
	t.Helper()
	logger, _ := newObservedLogger()
	return NewResolver(ResolverConfig{
		ConfigDir:     configDir,
		BaseOutputDir: "/srv/output",
		WorkDir:       "/srv/work",
	}, DefaultParameters(), logger)
}

func TestResolver_MissingDocumentUsesDefaults(t *testing.T) {
	r := newTestResolver(t, t.TempDir())
	spec := r.Resolve("office")

	if spec.ImagesCount != DefaultImagesCount {
		t.Errorf("ImagesCount = %d, want %d", spec.ImagesCount, DefaultImagesCount)
	}
	if spec.BasePrompt != "" || len(spec.Keywords) != 0 {
		t.Errorf("BasePrompt/Keywords = %q/%v, want empty", spec.BasePrompt, spec.Keywords)
	}
	if spec.OutputDir != filepath.Join("/srv/output", "office") {
		t.Errorf("OutputDir = %q", spec.OutputDir)
	}
	if spec.SeedMode != SeedModeRandom || spec.Source != "" {
		t.Errorf("SeedMode/Source = %s/%q", spec.SeedMode, spec.Source)
	}
	if !reflect.DeepEqual(spec.Request, DefaultParameters().Request) {
		t.Errorf("Request differs from defaults:\n%+v", spec.Request)
	}
}

func TestResolver_JSONDocument(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config_office.json", `{
		"images_count": 5,
		"base_prompt": "office portrait",
		"output_dir": "out/office",
		"steps": 30,
		"cfg_scale": 7,
		"sampler_name": "Euler a",
		"override_settings": {"CLIP_stop_at_last_layers": 1, "sd_vae": "auto"}
	}`)

	spec := newTestResolver(t, dir).Resolve("office")

	if spec.ImagesCount != 5 || spec.BasePrompt != "office portrait" {
		t.Errorf("ImagesCount/BasePrompt = %d/%q", spec.ImagesCount, spec.BasePrompt)
	}
	if spec.OutputDir != filepath.Join("/srv/work", "out", "office") {
		t.Errorf("OutputDir = %q, want path under the work dir", spec.OutputDir)
	}
	if spec.Request.Steps != 30 || spec.Request.CFGScale != 7 || spec.Request.SamplerName != "Euler a" {
		t.Errorf("Request overrides not applied: %+v", spec.Request)
	}
	if spec.Request.Width != 832 || spec.Request.HRUpscaler != "R-ESRGAN 4x+ Anime6B" {
		t.Errorf("untouched defaults changed: %+v", spec.Request)
	}
	if spec.Request.Prompt != "" {
		t.Errorf("Request.Prompt = %q, want empty", spec.Request.Prompt)
	}

	settings := spec.Request.OverrideSettings
	if settings["CLIP_stop_at_last_layers"] != float64(1) || settings["sd_vae"] != "auto" {
		t.Errorf("override_settings not merged: %v", settings)
	}
	if _, ok := settings["outdir_txt2img_samples"]; !ok {
		t.Errorf("override_settings lost default keys: %v", settings)
	}

	wantKeys := []string{"cfg_scale", "override_settings", "sampler_name", "steps"}
	if got := slices.Sorted(maps.Keys(spec.Overrides)); !slices.Equal(got, wantKeys) {
		t.Errorf("Overrides keys = %v, want %v", got, wantKeys)
	}
	if spec.Source != filepath.Join(dir, "config_office.json") {
		t.Errorf("Source = %q", spec.Source)
	}
}

func TestResolver_UnknownKeyIgnored(t *testing.T) {
	clean, dirty := t.TempDir(), t.TempDir()
	writeFile(t, clean, "config_dark.json", `{"images_count": 3, "steps": 24, "keywords": ["candle"]}`)
	writeFile(t, dirty, "config_dark.json", `{"images_count": 3, "steps": 24, "keywords": ["candle"],
		"script_name": "x/y/z plot", "alwayson_scripts": {"evil": {"args": []}}}`)

	a := newTestResolver(t, clean).Resolve("dark")
	b := newTestResolver(t, dirty).Resolve("dark")
	a.Source, b.Source = "", ""

	if !reflect.DeepEqual(a, b) {
		t.Errorf("unknown keys changed the resolved category:\n%+v\n%+v", a, b)
	}
	if b.Request.HasScripts() {
		t.Error("alwayson_scripts from a document must not reach the request")
	}
}

func TestResolver_YAMLMatchesJSON(t *testing.T) {
	jsonDir, yamlDir := t.TempDir(), t.TempDir()
	writeFile(t, jsonDir, "config_soft.json", `{
		"images_count": 4,
		"base_style": "soft light",
		"steps": 30,
		"cfg_scale": 7,
		"override_settings": {"CLIP_stop_at_last_layers": 1},
		"keywords": ["linen", "window"],
		"prompt_blocks": {"scene": ["loft"], "pose": ["sitting"]},
		"seed_mode": "fixed",
		"seed_fixed": 10
	}`)
	writeFile(t, yamlDir, "config_soft.yaml", `
images_count: 4
base_style: soft light
steps: 30
cfg_scale: 7
override_settings:
  CLIP_stop_at_last_layers: 1
keywords: [linen, window]
prompt_blocks:
  scene: [loft]
  pose: [sitting]
seed_mode: fixed
seed_fixed: 10
`)

	a := newTestResolver(t, jsonDir).Resolve("soft")
	b := newTestResolver(t, yamlDir).Resolve("soft")

	if !reflect.DeepEqual(a.Request, b.Request) {
		t.Errorf("Request differs:\njson %+v\nyaml %+v", a.Request, b.Request)
	}
	if a.ImagesCount != b.ImagesCount || a.BasePrompt != b.BasePrompt || a.SeedMode != b.SeedMode || a.SeedFixed != b.SeedFixed {
		t.Errorf("scalars differ: %+v vs %+v", a, b)
	}
	if !slices.Equal(a.Keywords, b.Keywords) || !reflect.DeepEqual(a.PromptBlocks, b.PromptBlocks) {
		t.Errorf("pools differ: %v/%v vs %v/%v", a.Keywords, a.PromptBlocks, b.Keywords, b.PromptBlocks)
	}
	if a.BasePrompt != "soft light" || a.SeedFixed != 10 || a.Request.Steps != 30 {
		t.Errorf("document not applied: %+v", a)
	}
}

func TestResolver_MalformedDocument(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config_mirror.json", `{"images_count": 5,`)

	logger, logs := newObservedLogger()
	r := NewResolver(ResolverConfig{ConfigDir: dir, BaseOutputDir: "/srv/output"}, DefaultParameters(), logger)
	spec := r.Resolve("mirror")

	if spec.ImagesCount != DefaultImagesCount || spec.Source != "" {
		t.Errorf("ImagesCount/Source = %d/%q, want defaults", spec.ImagesCount, spec.Source)
	}
	if logs.FilterMessage("category document unreadable, using defaults").Len() != 1 {
		t.Errorf("expected a warning, got %v", logs.All())
	}
}

func TestResolver_ImagesCount(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want int
	}{
		{"integer", `{"images_count": 7}`, 7},
		{"float truncates", `{"images_count": 3.9}`, 3},
		{"numeric string", `{"images_count": " 12 "}`, 12},
		{"negative clamps to zero", `{"images_count": -4}`, 0},
		{"zero skips", `{"images_count": 0}`, 0},
		{"non-numeric uses default", `{"images_count": "many"}`, DefaultImagesCount},
		{"images alias", `{"images": 9}`, 9},
		{"images_count wins over alias", `{"images_count": 2, "images": 9}`, 2},
		{"absent uses default", `{}`, DefaultImagesCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "config_cat.json", tt.doc)
			if got := newTestResolver(t, dir).Resolve("cat").ImagesCount; got != tt.want {
				t.Errorf("ImagesCount = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolver_InvalidOverrideValueDropped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config_gym.json", `{"steps": "many", "cfg_scale": 5, "override_settings": "nope"}`)

	spec := newTestResolver(t, dir).Resolve("gym")

	if spec.Request.Steps != 28 {
		t.Errorf("Steps = %d, want default 28", spec.Request.Steps)
	}
	if spec.Request.CFGScale != 5 {
		t.Errorf("CFGScale = %v, want 5", spec.Request.CFGScale)
	}
	if _, ok := spec.Overrides["steps"]; ok {
		t.Error("invalid steps kept in Overrides")
	}
	if _, ok := spec.Overrides["override_settings"]; ok {
		t.Error("non-mapping override_settings kept in Overrides")
	}
}

func TestResolver_PromptOverrideBecomesBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config_luxury.json", `{"prompt": "penthouse suite"}`)

	spec := newTestResolver(t, dir).Resolve("luxury")
	if spec.BasePrompt != "penthouse suite" || spec.Request.Prompt != "" {
		t.Errorf("BasePrompt/Request.Prompt = %q/%q", spec.BasePrompt, spec.Request.Prompt)
	}
}

func TestResolver_HiresFixAndADetailer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config_uniform.json", `{
		"hires_fix": {"enable": true, "scale": 2, "denoise": 0.3, "upscaler": "Latent"},
		"hr_scale": 1.5,
		"adetailer": {"enable": true, "face_prompt": "sharp eyes", "confidence": 0.5}
	}`)

	spec := newTestResolver(t, dir).Resolve("uniform")

	if !spec.Request.EnableHR || spec.Request.HRUpscaler != "Latent" || spec.Request.DenoisingStrength != 0.3 {
		t.Errorf("hires_fix not translated: %+v", spec.Request)
	}
	if spec.Request.HRScale != 1.5 {
		t.Errorf("HRScale = %v, top-level hr_scale should win", spec.Request.HRScale)
	}

	if spec.ADetailer == nil {
		t.Fatal("ADetailer = nil, want enabled")
	}
	if spec.ADetailer.FacePrompt != "sharp eyes" || spec.ADetailer.Confidence != 0.5 {
		t.Errorf("ADetailer = %+v", spec.ADetailer)
	}
	if spec.ADetailer.HandDenoise != 0.30 {
		t.Errorf("HandDenoise = %v, want default", spec.ADetailer.HandDenoise)
	}

	script, ok := spec.Request.AlwaysonScripts[sd.ADetailerScript]
	if !ok || len(script.Args) != 2 {
		t.Fatalf("AlwaysonScripts = %+v", spec.Request.AlwaysonScripts)
	}
	face := script.Args[0].(sd.ADetailerArgs)
	if face.Model != sd.ADetailerFaceModel || face.Prompt != "sharp eyes" {
		t.Errorf("face pass = %+v", face)
	}
}

func TestResolver_NonFiniteNumbersIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config_night.yaml", `
images_count: .inf
adetailer:
  enable: true
  face_denoise: .nan
  hand_denoise: "-Inf"
  confidence: "NaN"
`)
	spec := newTestResolver(t, dir).Resolve("night")

	if spec.ImagesCount != DefaultImagesCount {
		t.Errorf("ImagesCount = %d, want default %d", spec.ImagesCount, DefaultImagesCount)
	}
	defaults := DefaultParameters().ADetailer
	if spec.ADetailer == nil {
		t.Fatal("ADetailer = nil, want enabled")
	}
	if spec.ADetailer.FaceDenoise != defaults.FaceDenoise ||
		spec.ADetailer.HandDenoise != defaults.HandDenoise ||
		spec.ADetailer.Confidence != defaults.Confidence {
		t.Errorf("ADetailer = %+v, want defaults for non-finite values", spec.ADetailer)
	}
	if _, err := json.Marshal(spec.Request); err != nil {
		t.Errorf("resolved request cannot be encoded: %v", err)
	}
}

func TestResolver_ADetailerDisabled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config_bedroom.json", `{"adetailer": {"enable": false}}`)

	spec := newTestResolver(t, dir).Resolve("bedroom")
	if spec.ADetailer != nil || spec.Request.HasScripts() {
		t.Errorf("ADetailer attached while disabled: %+v", spec.ADetailer)
	}
}

func TestResolver_SeedSettings(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantMode  SeedMode
		wantFixed int64
		wantSite  int64
	}{
		{"default", `{}`, SeedModeRandom, DefaultSeedFixed, 0},
		{"fixed", `{"seed_mode": "fixed", "seed_fixed": 42}`, SeedModeFixed, 42, 0},
		{"site", `{"seed_mode": "SITE", "site_id": 7}`, SeedModeSite, DefaultSeedFixed, 7},
		{"negative fixed falls back", `{"seed_mode": "fixed", "seed_fixed": -5}`, SeedModeFixed, DefaultSeedFixed, 0},
		{"negative site clamps", `{"seed_mode": "site", "site_id": -3}`, SeedModeSite, DefaultSeedFixed, 0},
		{"unknown mode", `{"seed_mode": "lucky"}`, SeedModeRandom, DefaultSeedFixed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "config_cat.json", tt.doc)
			spec := newTestResolver(t, dir).Resolve("cat")
			if spec.SeedMode != tt.wantMode || spec.SeedFixed != tt.wantFixed || spec.SiteID != tt.wantSite {
				t.Errorf("mode/fixed/site = %s/%d/%d, want %s/%d/%d",
					spec.SeedMode, spec.SeedFixed, spec.SiteID, tt.wantMode, tt.wantFixed, tt.wantSite)
			}
		})
	}
}

func TestResolver_KeywordSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config_office.json", `{"keywords": ["from document"]}`)
	writeFile(t, dir, "config_dark.json", `{"keywords": ["from document"]}`)
	writeFile(t, dir, "config_shower.json", `{"keywords": ["from document"]}`)
	writeFile(t, dir, "keywords_office.txt", "# office pool\n\nglass desk\n  city view  \n#skip\n")
	writeFile(t, dir, "keywords.json", `{"office": ["from map"], "dark": ["neon", "candle"]}`)

	r := newTestResolver(t, dir)

	if got := r.Resolve("office").Keywords; !slices.Equal(got, []string{"glass desk", "city view"}) {
		t.Errorf("office keywords = %q, want keyword file lines", got)
	}
	if got := r.Resolve("dark").Keywords; !slices.Equal(got, []string{"neon", "candle"}) {
		t.Errorf("dark keywords = %q, want keywords.json entry", got)
	}
	if got := r.Resolve("shower").Keywords; !slices.Equal(got, []string{"from document"}) {
		t.Errorf("shower keywords = %q, want document list", got)
	}
	if got := r.Resolve("fitness").Keywords; len(got) != 0 {
		t.Errorf("fitness keywords = %q, want empty", got)
	}
}

func TestResolver_MalformedKeywordMap(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keywords.json", `["not", "a", "map"`)

	if got := newTestResolver(t, dir).Resolve("office").Keywords; len(got) != 0 {
		t.Errorf("Keywords = %q, want empty pool", got)
	}
}

func TestResolver_Discover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config_office.json", `{}`)
	writeFile(t, dir, "config_dark.yaml", ``)
	writeFile(t, dir, "config_office.yml", ``)
	writeFile(t, dir, "keywords_office.txt", ``)
	writeFile(t, dir, "notes.json", `{}`)

	names, err := newTestResolver(t, dir).Discover()
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if !slices.Equal(names, []string{"dark", "office"}) {
		t.Errorf("Discover() = %v", names)
	}
}

func TestParseKeywordLines(t *testing.T) {
	got := ParseKeywordLines([]byte("a\r\n# comment\n\n  b  \n   # indented comment\nc"))
	if !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("ParseKeywordLines() = %q", got)
	}
}

func TestParseKeywordLines_LongLine(t *testing.T) {
	long := strings.Repeat("x", 70000)
	got := ParseKeywordLines([]byte("a\n" + long + "\nb\nc\n"))
	if !slices.Equal(got, []string{"a", long, "b", "c"}) {
		t.Errorf("ParseKeywordLines() kept %d lines, want 4", len(got))
	}
}
