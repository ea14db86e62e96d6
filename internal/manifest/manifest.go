// Package manifest loads and validates storyboard manifests: the YAML files
// users hand to `montage add` describing the scenes to generate.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"montage/internal/jobs"
	"montage/internal/scene"
	"montage/internal/services"
)

// Scene describes one clip of a storyboard.
type Scene struct {
	// Prompt drives image generation and, absent VideoPrompt, motion too.
	Prompt string `yaml:"prompt"`
	// VideoPrompt optionally overrides the motion description.
	VideoPrompt string `yaml:"video_prompt"`
	// DurationSeconds is the clip length; zero inherits the storyboard
	// default.
	DurationSeconds int `yaml:"duration_seconds"`
}

// Storyboard is the parsed manifest. Field order mirrors the documented
// manifest format.
type Storyboard struct {
	Title string `yaml:"title"`
	// Style is prepended to every scene prompt so the storyboard reads as
	// one piece.
	Style string `yaml:"style"`
	// ReferenceImages lists look-reference URLs or paths, resolved to
	// scenes later.
	ReferenceImages []string `yaml:"reference_images"`
	// DefaultClipSeconds applies to scenes that leave duration unset.
	DefaultClipSeconds int     `yaml:"default_clip_seconds"`
	Scenes             []Scene `yaml:"scenes"`
}

// File pairs a parsed storyboard with its on-disk source.
type File struct {
	Storyboard Storyboard
	Path       string
}

// Parse decodes and validates a manifest payload.
func Parse(data []byte) (Storyboard, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Storyboard{}, services.Wrap(services.ErrValidation, "manifest", "parse", "manifest is empty", nil)
	}
	var sb Storyboard
	if err := yaml.Unmarshal(data, &sb); err != nil {
		return Storyboard{}, services.Wrap(services.ErrValidation, "manifest", "parse", "decode manifest", err)
	}
	sb.normalize()
	if err := sb.Validate(); err != nil {
		return Storyboard{}, err
	}
	return sb, nil
}

// Load reads a manifest file from disk and returns the parsed storyboard.
func Load(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, services.Wrap(services.ErrValidation, "manifest", "load", fmt.Sprintf("stat %s", path), err)
	}
	if info.IsDir() {
		return File{}, services.Wrap(services.ErrValidation, "manifest", "load", fmt.Sprintf("%s is a directory", path), nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, services.Wrap(services.ErrValidation, "manifest", "load", fmt.Sprintf("read %s", path), err)
	}
	sb, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return File{Storyboard: sb, Path: filepath.Clean(path)}, nil
}

func (s *Storyboard) normalize() {
	s.Title = strings.TrimSpace(s.Title)
	s.Style = strings.TrimSpace(s.Style)
	refs := s.ReferenceImages[:0]
	for _, ref := range s.ReferenceImages {
		if trimmed := strings.TrimSpace(ref); trimmed != "" {
			refs = append(refs, trimmed)
		}
	}
	s.ReferenceImages = refs
	for i := range s.Scenes {
		s.Scenes[i].Prompt = strings.TrimSpace(s.Scenes[i].Prompt)
		s.Scenes[i].VideoPrompt = strings.TrimSpace(s.Scenes[i].VideoPrompt)
	}
}

// Validate checks the storyboard for problems a run would only discover
// mid-flight: missing prompts and out-of-range clip durations.
func (s Storyboard) Validate() error {
	if s.Title == "" {
		return services.Wrap(services.ErrValidation, "manifest", "validate", "title is required", nil)
	}
	if len(s.Scenes) == 0 {
		return services.Wrap(services.ErrValidation, "manifest", "validate", "at least one scene is required", nil)
	}
	if err := validateDuration(s.DefaultClipSeconds, "default_clip_seconds"); err != nil {
		return err
	}
	for i, sc := range s.Scenes {
		if sc.Prompt == "" {
			return services.Wrap(services.ErrValidation, "manifest", "validate",
				fmt.Sprintf("scene %d: prompt is required", i), nil)
		}
		if err := validateDuration(sc.DurationSeconds, fmt.Sprintf("scene %d: duration_seconds", i)); err != nil {
			return err
		}
	}
	return nil
}

func validateDuration(seconds int, field string) error {
	if seconds == 0 {
		return nil
	}
	if seconds < jobs.MinClipSeconds || seconds > jobs.MaxClipSeconds {
		return services.Wrap(services.ErrValidation, "manifest", "validate",
			fmt.Sprintf("%s: %ds outside [%d,%d]", field, seconds, jobs.MinClipSeconds, jobs.MaxClipSeconds), nil)
	}
	return nil
}

// ClipSeconds resolves the duration for scene index i, falling back to the
// storyboard default and then to fallback when both are unset.
func (s Storyboard) ClipSeconds(i, fallback int) int {
	if i >= 0 && i < len(s.Scenes) && s.Scenes[i].DurationSeconds > 0 {
		return s.Scenes[i].DurationSeconds
	}
	if s.DefaultClipSeconds > 0 {
		return s.DefaultClipSeconds
	}
	return fallback
}

// ScenePrompt returns scene i's image prompt with the storyboard style
// prepended.
func (s Storyboard) ScenePrompt(i int) string {
	if i < 0 || i >= len(s.Scenes) {
		return ""
	}
	prompt := s.Scenes[i].Prompt
	if s.Style == "" {
		return prompt
	}
	return s.Style + ", " + prompt
}

// Tasks expands the storyboard into idle scene tasks for storyboardID.
// fallbackClipSeconds covers scenes with no duration anywhere in the
// manifest.
func (s Storyboard) Tasks(storyboardID string, fallbackClipSeconds int) []*scene.SceneTask {
	tasks := make([]*scene.SceneTask, 0, len(s.Scenes))
	for i, sc := range s.Scenes {
		task := scene.NewTask(storyboardID, i, s.ScenePrompt(i))
		task.VideoPrompt = sc.VideoPrompt
		task.DurationSeconds = s.ClipSeconds(i, fallbackClipSeconds)
		tasks = append(tasks, task)
	}
	return tasks
}
