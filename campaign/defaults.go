package campaign

import (
	"sdcampaign/imagegen/sd"
)

// DefaultImagesCount is the per-category target when a document does not set one.
const DefaultImagesCount = 20

// DefaultSeedFixed is the base seed of fixed mode.
const DefaultSeedFixed int64 = 123456

// DefaultCategories are run when no category is named and none is discovered.
var DefaultCategories = []string{
	"bedroom", "dark", "office", "soft", "uniform",
	"shower", "mirror", "fitness", "luxury", "redroom",
}

// defaultNegativePrompt suppresses the usual multi-person and fused-anatomy artifacts.
const defaultNegativePrompt = "(worst quality, low quality, normal quality:1.2), " +
	"text, watermark, logo, signature, blurry, lowres, " +
	"multiple people, two persons, extra face, fused head, duplicated head, " +
	"deformed anatomy, dislocated limbs, extra arms, extra legs, " +
	"long neck, malformed hands, missing fingers, extra fingers, " +
	"bad hands, bad feet, cropped, out of frame"

// AllowedOverrideKeys are the request parameters a category document may set.
// Any other top-level key that is not a recognised document key is dropped.
var AllowedOverrideKeys = map[string]bool{
	"prompt":               true,
	"negative_prompt":      true,
	"sampler_name":         true,
	"steps":                true,
	"cfg_scale":            true,
	"width":                true,
	"height":               true,
	"seed":                 true,
	"restore_faces":        true,
	"enable_hr":            true,
	"hr_scale":             true,
	"hr_upscaler":          true,
	"hr_second_pass_steps": true,
	"denoising_strength":   true,
	"batch_size":           true,
	"override_settings":    true,
}

// overrideSettingsKey is merged key by key instead of replaced.
const overrideSettingsKey = "override_settings"

// Defaults is the engine's built-in parameter set. It is built once by
// DefaultParameters and handed to the Resolver by value.
type Defaults struct {
	// Request is the WebUI payload every category starts from.
	Request sd.GenerationRequest

	// ImagesCount is the target when a document is missing or silent.
	ImagesCount int

	// SeedFixed is the base seed for fixed mode.
	SeedFixed int64

	// ADetailer holds the pass settings used when a document enables the
	// extension without overriding them.
	ADetailer ADetailerSettings
}

// DefaultParameters returns the built-in defaults: DPM++ 2M Karras at 28
// steps, portrait 832x1248, hires fix at 1.6x and CLIP skip 2. The WebUI's
// own output folders are blanked since images are saved by the writer.
func DefaultParameters() Defaults {
	return Defaults{
		Request: sd.GenerationRequest{
			NegativePrompt:    defaultNegativePrompt,
			SamplerName:       "DPM++ 2M Karras",
			Steps:             28,
			CFGScale:          6.5,
			Width:             832,
			Height:            1248,
			Seed:              -1,
			RestoreFaces:      false,
			SaveImages:        false,
			EnableHR:          true,
			HRScale:           1.6,
			DenoisingStrength: 0.25,
			HRUpscaler:        "R-ESRGAN 4x+ Anime6B",
			BatchSize:         1,
			OverrideSettings: map[string]any{
				"outdir_txt2img_samples":   "",
				"outdir_txt2img_grids":     "",
				"outdir_save":              "",
				"CLIP_stop_at_last_layers": 2,
			},
		},
		ImagesCount: DefaultImagesCount,
		SeedFixed:   DefaultSeedFixed,
		ADetailer: ADetailerSettings{
			FacePrompt:  "clear pupils, sharp eyelashes, well-defined lips, natural skin texture",
			FaceDenoise: 0.38,
			HandPrompt:  "well-formed hands, natural fingers",
			HandDenoise: 0.30,
			Confidence:  0.3,
		},
	}
}

// ADetailerSettings configures the face and hand refinement passes.
type ADetailerSettings struct {
	FacePrompt  string
	FaceDenoise float64
	HandPrompt  string
	HandDenoise float64
	Confidence  float64
}

// Scripts returns the alwayson_scripts block for these settings.
func (a ADetailerSettings) Scripts() map[string]sd.AlwaysonScript {
	return sd.ADetailerScripts(
		sd.ADetailerArgs{
			Model:             sd.ADetailerFaceModel,
			Prompt:            a.FacePrompt,
			DenoisingStrength: a.FaceDenoise,
			Confidence:        a.Confidence,
		},
		sd.ADetailerArgs{
			Model:             sd.ADetailerHandModel,
			Prompt:            a.HandPrompt,
			DenoisingStrength: a.HandDenoise,
			Confidence:        a.Confidence,
		},
	)
}
