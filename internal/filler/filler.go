// Package filler implements the Filler Engine (spec.md §4.5): preloaded
// short audio clips streamed to the outbound mixer while the model is
// "thinking", stopped the instant model audio arrives. Grounded on
// spec.md §4.5 directly; the clip buffer shape mirrors the teacher's
// raw-PCM-chunk handling in default_audio_recorder.go.
package filler

import (
	"context"
	"sync"
	"time"
)

// Clip is a preloaded filler audio clip (spec.md §3 FillerClip).
type Clip struct {
	ID             string
	LanguageTag    string
	PrincipleTags  []string
	ProfileTags    []string
	PCM16_16k      []int16
	Duration       time.Duration
}

// FillerDelay is the silence-from-model duration the engine waits before
// starting playback (spec.md §4.5).
const FillerDelay = 400 * time.Millisecond

// Selector chooses the next filler clip to play. The default
// implementation is round-robin over clips surviving the
// language/principle/profile filter chain, with no immediate repeat
// (spec.md §4.5). DESIGN.md Open Question #1: this is the single mixer
// arbiter replacing the source's v1/v2 "Hedge Engine" duality.
type Selector interface {
	Next(language string, principleTag, profileTag string) (Clip, bool)
}

// DefaultSelector is the pluggable default clip-selection strategy.
type DefaultSelector struct {
	mu       sync.Mutex
	clips    []Clip
	lastUsed map[string]string // language -> last clip id played for that language
}

// NewDefaultSelector builds a selector over the given clip set, loaded
// once at startup per spec.md §3.
func NewDefaultSelector(clips []Clip) *DefaultSelector {
	return &DefaultSelector{clips: clips, lastUsed: make(map[string]string)}
}

// Next implements the filter chain: language -> principle -> profile;
// falls back to language-only if no clip survives all three filters;
// emits no filler (ok=false) if even that is empty.
func (s *DefaultSelector) Next(language, principleTag, profileTag string) (Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := filterClips(s.clips, language, principleTag, profileTag)
	if len(candidates) == 0 {
		candidates = filterClips(s.clips, language, "", "")
	}
	if len(candidates) == 0 {
		return Clip{}, false
	}

	last := s.lastUsed[language]
	next := 0
	for i, c := range candidates {
		if c.ID == last {
			next = (i + 1) % len(candidates)
			break
		}
	}
	// With only one survivor the same clip repeats: still better than
	// silence, spec.md only forbids it when *any* alternative exists.
	chosen := candidates[next]
	s.lastUsed[language] = chosen.ID
	return chosen, true
}

func filterClips(clips []Clip, language, principleTag, profileTag string) []Clip {
	var out []Clip
	for _, c := range clips {
		if language != "" && c.LanguageTag != language {
			continue
		}
		if principleTag != "" && !containsTag(c.PrincipleTags, principleTag) {
			continue
		}
		if profileTag != "" && !containsTag(c.ProfileTags, profileTag) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// OutputFunc streams a PCM16/16k filler chunk to the outbound mixer. The
// caller (Session Orchestrator) supplies this so the engine never owns
// the mixer directly (mixer exclusivity is the Orchestrator's job).
type OutputFunc func(pcm []int16)

// Engine runs the filler playback loop under Conversation State Machine
// control.
type Engine struct {
	selector Selector
	output   OutputFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewEngine builds a Filler Engine bound to a Selector and an output sink.
func NewEngine(selector Selector, output OutputFunc) *Engine {
	return &Engine{selector: selector, output: output}
}

// Start begins filler playback. Must only be called while the state
// machine is in PROCESSING and no model audio has arrived yet (spec.md
// §4.5). Safe to call again while already running (no-op).
func (e *Engine) Start(language, principleTag, profileTag string) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	go e.run(ctx, language, principleTag, profileTag)
}

// Stop halts playback immediately (model audio arrived, or state left
// PROCESSING).
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.cancel != nil {
		e.cancel()
	}
	e.running = false
}

// Running reports whether filler playback is currently active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) run(ctx context.Context, language, principleTag, profileTag string) {
	select {
	case <-time.After(FillerDelay):
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		clip, ok := e.selector.Next(language, principleTag, profileTag)
		if !ok {
			return
		}
		e.output(clip.PCM16_16k)

		select {
		case <-time.After(clip.Duration):
		case <-ctx.Done():
			return
		}
	}
}
