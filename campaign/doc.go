// Package campaign runs unattended image-generation campaigns against a
// Stable Diffusion WebUI.
//
// A campaign walks a list of categories in order. For each category the
// Resolver builds an immutable CategorySpec from the built-in defaults and the
// category's document, then the Driver loops until the target count is
// written or the category is abandoned:
//
//	prompt := PromptSynthesizer.Next()
//	seed   := SeedStrategy.Seed(spec, index)
//	result := Executor.Execute(ctx, spec.Request.WithPrompt(prompt).WithSeed(seed))
//	report := OutputWriter.Write(result.Images, remaining)
//
// Only one request is in flight at any time. Each category owns its prompt
// history, output writer and progress counters.
//
// # Category documents
//
// Documents live in the config directory as config_<name>.json or
// config_<name>.yaml. Recognised keys:
//
//	images_count / images    target count (default 20, 0 skips the category)
//	base_prompt / base_style prompt prefix
//	keywords                 flat keyword pool
//	prompt_blocks            {scene: [...], outfit: [...], ...}
//	output_dir / outdir      output directory override
//	seed_mode                fixed | site | random
//	seed_fixed, site_id      seed mode parameters
//	hires_fix                {enable, scale, denoise, upscaler}
//	adetailer                {enable, face_prompt, face_denoise, hand_prompt, hand_denoise, confidence}
//
// plus any WebUI parameter from the override allow-list (AllowedOverrideKeys).
package campaign
