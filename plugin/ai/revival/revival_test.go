package revival

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(seed int64) *Engine {
	return NewEngine(Config{Rand: rand.New(rand.NewSource(seed))})
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		user      string
		assistant string
		min       float64
		max       float64
	}{
		{
			name: "flat exchange scores zero",
			user: "what time is it", assistant: "it is 3pm",
			min: 0, max: 0,
		},
		{
			name: "emotional first-person exchange passes threshold",
			user: "I'm so excited, I finally solved that bug!", assistant: "Congratulations!",
			min: 0.5, max: 1.0,
		},
		{
			name: "humour counts",
			user: "haha that was hilarious", assistant: "glad you liked it",
			min: 0.2, max: 1.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.user, tt.assistant)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestTopics(t *testing.T) {
	topics := Topics("I fixed a bug in my code before the meeting", "nice work")
	assert.Contains(t, topics, "coding")
	assert.Contains(t, topics, "work")
	assert.Empty(t, Topics("hello there", "hi"))
}

func TestObserveRecordsAboveThreshold(t *testing.T) {
	e := newTestEngine(1)

	entry := e.Observe("alice", "work", "I'm thrilled, I finally fixed the bug in my code!", "Great news!")
	require.NotNil(t, entry)
	assert.Greater(t, entry.EmotionalWeight, RecordThreshold)
	assert.Contains(t, entry.Topics, "coding")
	assert.Equal(t, LabelProblemSolving, entry.Label)
	assert.Equal(t, 1, e.Count("alice"))

	// A flat exchange is not recorded.
	assert.Nil(t, e.Observe("alice", "work", "list my files", "here they are"))
	assert.Equal(t, 1, e.Count("alice"))
}

func TestRetrievePrefersLowRevivalCount(t *testing.T) {
	e := newTestEngine(2)

	exhausted := &Entry{
		ID: "a", UserID: "alice", EmotionalWeight: 0.9,
		Topics: []string{"coding"}, Label: LabelGeneral,
		RevivalCount: MaxRevivalCount, CreatedAt: time.Now(),
	}
	available := &Entry{
		ID: "b", UserID: "alice", EmotionalWeight: 0.5,
		Topics: []string{"coding"}, Label: LabelGeneral,
		CreatedAt: time.Now(),
	}
	e.entries["alice"] = []*Entry{exhausted, available}

	// However many draws, the exhausted entry never comes back.
	for i := 0; i < 20; i++ {
		got := e.Retrieve("alice", "another bug in my code")
		require.NotNil(t, got)
		assert.Equal(t, "b", got.ID)
	}
}

func TestRetrieveExhaustedReturnsNil(t *testing.T) {
	e := newTestEngine(3)
	e.entries["alice"] = []*Entry{{
		ID: "a", UserID: "alice", EmotionalWeight: 0.9,
		RevivalCount: MaxRevivalCount, CreatedAt: time.Now(),
	}}
	assert.Nil(t, e.Retrieve("alice", "anything"))
	assert.Nil(t, e.Retrieve("bob", "anything"))
}

func TestRetrieveIncrementsCount(t *testing.T) {
	e := newTestEngine(4)
	e.entries["alice"] = []*Entry{{
		ID: "a", UserID: "alice", UserMessage: "I finally solved it",
		EmotionalWeight: 0.9, Topics: []string{"coding"},
		Label: LabelProblemSolving, CreatedAt: time.Now(),
	}}

	got := e.Retrieve("alice", "my code is broken again")
	require.NotNil(t, got)
	assert.Equal(t, 1, got.RevivalCount)
	assert.Equal(t, 1, e.entries["alice"][0].RevivalCount)
}

func TestRetrieveRestrictsToTopicMatches(t *testing.T) {
	e := newTestEngine(5)
	e.entries["alice"] = []*Entry{
		{ID: "music", UserID: "alice", EmotionalWeight: 0.9, Topics: []string{"music"}, CreatedAt: time.Now()},
		{ID: "coding", UserID: "alice", EmotionalWeight: 0.4, Topics: []string{"coding"}, CreatedAt: time.Now()},
	}

	for i := 0; i < 20; i++ {
		got := e.Retrieve("alice", "found another bug in my program")
		require.NotNil(t, got)
		assert.Equal(t, "coding", got.ID)
		e.entries["alice"][1].RevivalCount = 0 // keep the candidate alive
	}
}

func TestShouldReviveTopicBranch(t *testing.T) {
	// With this seed sequence the topic draw lands under 0.2 while
	// base and time draws do not fire, exercising the topic branch.
	hits := 0
	for seed := int64(0); seed < 200; seed++ {
		e := newTestEngine(seed)
		e.entries["alice"] = []*Entry{{
			ID: "a", UserID: "alice", EmotionalWeight: 0.9,
			Topics: []string{"coding"}, CreatedAt: time.Now(),
		}}
		if e.ShouldRevive("alice", "thinking about that bug in my code", 12, false) {
			hits++
		}
	}
	// Combined probability is roughly 1-(0.95*0.85*0.8) ≈ 0.35.
	assert.Greater(t, hits, 30)
	assert.Less(t, hits, 140)
}

func TestShouldReviveVoiceDamping(t *testing.T) {
	voiceHits, plainHits := 0, 0
	for seed := int64(0); seed < 300; seed++ {
		plain := newTestEngine(seed)
		if plain.ShouldRevive("alice", "hello", 20, false) {
			plainHits++
		}
		voiced := newTestEngine(seed)
		if voiced.ShouldRevive("alice", "hello", 20, true) {
			voiceHits++
		}
	}
	assert.Less(t, voiceHits, plainHits)
}

func TestEviction(t *testing.T) {
	e := NewEngine(Config{Cap: 5, Rand: rand.New(rand.NewSource(6))})

	now := time.Now()
	for i := 0; i < 8; i++ {
		e.entries["alice"] = append(e.entries["alice"], &Entry{
			ID:              fmt.Sprintf("e%d", i),
			UserID:          "alice",
			EmotionalWeight: 0.1 * float64(i+1),
			CreatedAt:       now,
		})
	}
	// One more Observe pushes past the cap and triggers eviction.
	entry := e.Observe("alice", "work", "I'm so proud, I finally nailed it!", "Well done!")
	require.NotNil(t, entry)

	assert.Equal(t, 5, e.Count("alice"))
	// Same age, so the lowest weights go first.
	for _, kept := range e.entries["alice"] {
		assert.GreaterOrEqual(t, kept.EmotionalWeight, 0.4)
	}
}

func TestSynthesize(t *testing.T) {
	e := newTestEngine(7)
	entry := &Entry{
		Label:       LabelProblemSolving,
		UserMessage: "I finally fixed the flaky integration test after three days",
	}

	sentence := e.Synthesize(entry, false)
	assert.NotEmpty(t, sentence)
	assert.Contains(t, sentence, "I finally fixed the flaky")

	long := &Entry{
		Label:       LabelGeneral,
		UserMessage: strings.Repeat("a very long story ", 10),
	}
	voiced := e.Synthesize(long, true)
	assert.LessOrEqual(t, len(voiced), VoiceTruncateLen)
	assert.True(t, strings.HasSuffix(voiced, "..."))
}

func TestSynthesizeKeepsRuneBoundaries(t *testing.T) {
	e := newTestEngine(7)

	accented := &Entry{
		Label:       LabelGeneral,
		UserMessage: strings.Repeat("é", 100),
	}
	sentence := e.Synthesize(accented, false)
	assert.True(t, utf8.ValidString(sentence))

	cjk := &Entry{
		Label:       LabelGeneral,
		UserMessage: strings.Repeat("旅行の計画", 30),
	}
	voiced := e.Synthesize(cjk, true)
	assert.True(t, utf8.ValidString(voiced))
	assert.LessOrEqual(t, utf8.RuneCountInString(voiced), VoiceTruncateLen)
	assert.True(t, strings.HasSuffix(voiced, "..."))
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "revival.db")
	backend, err := NewSQLiteBackend(dsn)
	require.NoError(t, err)

	e := NewEngine(Config{Backend: backend, Rand: rand.New(rand.NewSource(8))})
	entry := e.Observe("alice", "work", "I'm thrilled, I finally fixed the bug!", "Great!")
	require.NotNil(t, entry)

	got := e.Retrieve("alice", "that bug in my code again")
	require.NotNil(t, got)
	require.NoError(t, backend.Close())

	// A fresh engine on the same database sees the entry with its
	// incremented revival count.
	reopened, err := NewSQLiteBackend(dsn)
	require.NoError(t, err)
	defer reopened.Close()

	restarted := NewEngine(Config{Backend: reopened, Rand: rand.New(rand.NewSource(9))})
	assert.Equal(t, 1, restarted.Count("alice"))
	assert.Equal(t, 1, restarted.entries["alice"][0].RevivalCount)
	assert.Equal(t, entry.ID, restarted.entries["alice"][0].ID)
}
