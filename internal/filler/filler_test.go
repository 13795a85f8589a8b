package filler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSelectorFiltersAndRoundRobins(t *testing.T) {
	clips := []Clip{
		{ID: "a", LanguageTag: "en", PrincipleTags: []string{"p1"}},
		{ID: "b", LanguageTag: "en", PrincipleTags: []string{"p1"}},
		{ID: "c", LanguageTag: "fr", PrincipleTags: []string{"p1"}},
	}
	sel := NewDefaultSelector(clips)

	c1, ok := sel.Next("en", "p1", "")
	require.True(t, ok)
	c2, ok := sel.Next("en", "p1", "")
	require.True(t, ok)
	assert.NotEqual(t, c1.ID, c2.ID, "must not repeat the immediately previous clip")
}

func TestDefaultSelectorFallsBackToLanguageOnly(t *testing.T) {
	clips := []Clip{
		{ID: "a", LanguageTag: "en", PrincipleTags: []string{"other"}},
	}
	sel := NewDefaultSelector(clips)
	c, ok := sel.Next("en", "missing-principle", "missing-profile")
	require.True(t, ok)
	assert.Equal(t, "a", c.ID)
}

func TestDefaultSelectorEmptyWhenNoClipsMatchLanguage(t *testing.T) {
	clips := []Clip{{ID: "a", LanguageTag: "fr"}}
	sel := NewDefaultSelector(clips)
	_, ok := sel.Next("en", "", "")
	assert.False(t, ok)
}

func TestEngineStopIsImmediate(t *testing.T) {
	clips := []Clip{{ID: "a", LanguageTag: "en", Duration: 5 * time.Second, PCM16_16k: []int16{1, 2, 3}}}
	sel := NewDefaultSelector(clips)

	var mu sync.Mutex
	var calls int
	engine := NewEngine(sel, func(pcm []int16) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	engine.Start("en", "", "")
	assert.True(t, engine.Running())
	engine.Stop()
	assert.False(t, engine.Running())

	// give the goroutine a moment to observe cancellation before the delay fires
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, calls, "stopped before FillerDelay elapsed, so no clip should have played")
	mu.Unlock()
}

func TestEngineStartIsNoOpWhenAlreadyRunning(t *testing.T) {
	clips := []Clip{{ID: "a", LanguageTag: "en", Duration: time.Second}}
	sel := NewDefaultSelector(clips)
	engine := NewEngine(sel, func(pcm []int16) {})

	engine.Start("en", "", "")
	engine.Start("en", "", "") // must not replace the running cancel func
	assert.True(t, engine.Running())
	engine.Stop()
}
