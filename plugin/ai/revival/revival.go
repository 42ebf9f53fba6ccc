// Package revival scores emotionally salient exchanges and
// occasionally resurfaces them as conversational asides.
package revival

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// RecordThreshold is the minimum emotional weight for an
	// exchange to be remembered.
	RecordThreshold = 0.3

	// DefaultCap bounds the number of retained entries per user.
	DefaultCap = 100

	// MaxRevivalCount is how often a single entry may be revived.
	MaxRevivalCount = 2

	baseChance      = 0.05
	timeBasedChance = 0.15
	topicChance     = 0.2
	voiceDamping    = 0.3
	countDamping    = 0.3

	// VoiceTruncateLen caps the revival sentence length when the
	// reply will be spoken aloud.
	VoiceTruncateLen = 80

	freshWindow = 7 * 24 * time.Hour
)

// Context labels attached to recorded exchanges.
const (
	LabelProblemSolving = "problem_solving"
	LabelHumorous       = "humorous"
	LabelPositive       = "positive"
	LabelCreative       = "creative"
	LabelGeneral        = "general"
)

// Entry is one remembered exchange.
type Entry struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Context         string    `json:"context"`
	UserMessage     string    `json:"user_message"`
	AssistantReply  string    `json:"assistant_reply"`
	EmotionalWeight float64   `json:"emotional_weight"`
	Topics          []string  `json:"topics"`
	Label           string    `json:"label"`
	RevivalCount    int       `json:"revival_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Backend durably stores entries. Optional; the engine is fully
// functional in memory.
type Backend interface {
	SaveEntry(entry *Entry) error
	UpdateRevivalCount(id string, count int) error
	DeleteEntries(ids []string) error
	LoadEntries() ([]*Entry, error)
	Close() error
}

// Config holds engine settings. Rand and Now exist so tests can pin
// the randomness and the clock.
type Config struct {
	Cap     int
	Rand    *rand.Rand
	Now     func() time.Time
	Backend Backend
}

// Engine records and revives emotionally weighted exchanges. Safe for
// concurrent use.
type Engine struct {
	mu      sync.Mutex
	entries map[string][]*Entry // keyed by user id
	cap     int
	rng     *rand.Rand
	now     func() time.Time
	backend Backend
}

// NewEngine creates an engine, loading any durable entries from the
// configured backend.
func NewEngine(config Config) *Engine {
	if config.Cap <= 0 {
		config.Cap = DefaultCap
	}
	if config.Rand == nil {
		config.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	e := &Engine{
		entries: make(map[string][]*Entry),
		cap:     config.Cap,
		rng:     config.Rand,
		now:     config.Now,
		backend: config.Backend,
	}
	if e.backend != nil {
		stored, err := e.backend.LoadEntries()
		if err != nil {
			slog.Error("failed to load revival entries", slog.Any("error", err))
		} else {
			for _, entry := range stored {
				e.entries[entry.UserID] = append(e.entries[entry.UserID], entry)
			}
		}
	}
	return e
}

// Emotional scoring vocabularies. Presence of any token from a
// category adds that category's contribution; the sum is clamped to 1.
var (
	emotionWords = []string{
		"love", "hate", "excited", "worried", "frustrated", "happy",
		"sad", "amazing", "terrible", "afraid", "proud", "grateful",
		"angry", "anxious", "thrilled", "nervous", "relieved",
	}
	humourWords = []string{
		"haha", "lol", "funny", "hilarious", "joke", "laughing", "lmao",
	}
	firstPersonMarkers = []string{
		"i feel", "i think", "i'm", "i am", "i was", "i can't", "my",
	}
	breakthroughWords = []string{
		"finally", "solved", "figured out", "breakthrough", "it works",
		"fixed", "eureka", "got it", "nailed it",
	}
)

const (
	emotionContribution      = 0.3
	humourContribution       = 0.25
	firstPersonContribution  = 0.15
	breakthroughContribution = 0.35
)

// topicVocabulary tags exchanges so later messages on the same topic
// can trigger a revival.
var topicVocabulary = map[string][]string{
	"coding": {"code", "coding", "bug", "debug", "program", "software", "compile"},
	"work":   {"work", "project", "deadline", "meeting", "boss", "colleague"},
	"family": {"family", "mom", "dad", "kids", "brother", "sister", "parents"},
	"music":  {"music", "song", "album", "concert", "playlist", "band"},
	"travel": {"travel", "trip", "flight", "vacation", "hotel", "abroad"},
	"health": {"health", "doctor", "exercise", "sleep", "gym", "diet"},
	"food":   {"food", "cooking", "recipe", "dinner", "restaurant", "baking"},
}

// Score computes the emotional weight of an exchange in [0,1].
func Score(userMessage, assistantReply string) float64 {
	text := strings.ToLower(userMessage + " " + assistantReply)

	weight := 0.0
	if containsAny(text, emotionWords) {
		weight += emotionContribution
	}
	if containsAny(text, humourWords) {
		weight += humourContribution
	}
	if containsAny(text, firstPersonMarkers) {
		weight += firstPersonContribution
	}
	if containsAny(text, breakthroughWords) {
		weight += breakthroughContribution
	}
	if weight > 1.0 {
		weight = 1.0
	}
	return weight
}

// Topics returns the topic tags whose keywords appear in either side
// of the exchange.
func Topics(userMessage, assistantReply string) []string {
	text := strings.ToLower(userMessage + " " + assistantReply)

	var topics []string
	for topic, keywords := range topicVocabulary {
		if containsAny(text, keywords) {
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)
	return topics
}

func classify(text, contextName string) string {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, breakthroughWords):
		return LabelProblemSolving
	case containsAny(lower, humourWords):
		return LabelHumorous
	case contextName == "creative":
		return LabelCreative
	case containsAny(lower, emotionWords):
		return LabelPositive
	default:
		return LabelGeneral
	}
}

func containsAny(text string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// Observe scores an exchange and records it when the weight passes
// RecordThreshold. Returns the recorded entry, or nil.
func (e *Engine) Observe(userID, contextName, userMessage, assistantReply string) *Entry {
	weight := Score(userMessage, assistantReply)
	if weight <= RecordThreshold {
		return nil
	}

	entry := &Entry{
		ID:              uuid.NewString(),
		UserID:          userID,
		Context:         contextName,
		UserMessage:     userMessage,
		AssistantReply:  assistantReply,
		EmotionalWeight: weight,
		Topics:          Topics(userMessage, assistantReply),
		Label:           classify(userMessage+" "+assistantReply, contextName),
		CreatedAt:       e.now(),
	}

	e.mu.Lock()
	e.entries[userID] = append(e.entries[userID], entry)
	evicted := e.evictLocked(userID)
	e.mu.Unlock()

	if e.backend != nil {
		if err := e.backend.SaveEntry(entry); err != nil {
			slog.Error("failed to persist revival entry", slog.Any("error", err))
		}
		if len(evicted) > 0 {
			if err := e.backend.DeleteEntries(evicted); err != nil {
				slog.Error("failed to prune revival entries", slog.Any("error", err))
			}
		}
	}
	return entry
}

// evictLocked keeps the top-cap entries for the user, scored by
// 0.7*weight - 0.01*age_days. Returns the ids removed.
func (e *Engine) evictLocked(userID string) []string {
	entries := e.entries[userID]
	if len(entries) <= e.cap {
		return nil
	}

	now := e.now()
	retention := func(entry *Entry) float64 {
		ageDays := now.Sub(entry.CreatedAt).Hours() / 24
		return 0.7*entry.EmotionalWeight - 0.01*ageDays
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return retention(entries[i]) > retention(entries[j])
	})

	var evicted []string
	for _, entry := range entries[e.cap:] {
		evicted = append(evicted, entry.ID)
	}
	e.entries[userID] = entries[:e.cap]
	return evicted
}

// ShouldRevive decides whether to surface a past exchange for this
// message. Voice output damps every branch's probability.
func (e *Engine) ShouldRevive(userID, userMessage string, historyLen int, voiceEnabled bool) bool {
	damping := 1.0
	if voiceEnabled {
		damping = voiceDamping
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rng.Float64() < baseChance*damping {
		return true
	}
	if historyLen > 10 && e.rng.Float64() < timeBasedChance*damping {
		return true
	}
	if e.topicsIntersectLocked(userID, userMessage) && e.rng.Float64() < topicChance*damping {
		return true
	}
	return false
}

func (e *Engine) topicsIntersectLocked(userID, userMessage string) bool {
	messageTopics := Topics(userMessage, "")
	if len(messageTopics) == 0 {
		return false
	}
	for _, entry := range e.entries[userID] {
		if intersects(entry.Topics, messageTopics) {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Retrieve picks an entry to revive, favouring topic matches and
// fresh entries, weighted by emotional weight damped by how often the
// entry was already revived. Entries revived MaxRevivalCount times
// are excluded. Returns nil when nothing qualifies.
func (e *Engine) Retrieve(userID, userMessage string) *Entry {
	messageTopics := Topics(userMessage, "")

	e.mu.Lock()
	defer e.mu.Unlock()

	var candidates []*Entry
	for _, entry := range e.entries[userID] {
		if entry.RevivalCount >= MaxRevivalCount {
			continue
		}
		candidates = append(candidates, entry)
	}
	if len(candidates) == 0 {
		return nil
	}

	if len(messageTopics) > 0 {
		var matched []*Entry
		for _, entry := range candidates {
			if intersects(entry.Topics, messageTopics) {
				matched = append(matched, entry)
			}
		}
		if len(matched) > 0 {
			candidates = matched
		}
	}

	now := e.now()
	var fresh []*Entry
	for _, entry := range candidates {
		if now.Sub(entry.CreatedAt) < freshWindow {
			fresh = append(fresh, entry)
		}
	}
	if len(fresh) > 0 {
		candidates = fresh
	}

	chosen := e.weightedChoiceLocked(candidates)
	if chosen == nil {
		return nil
	}
	chosen.RevivalCount++
	if e.backend != nil {
		if err := e.backend.UpdateRevivalCount(chosen.ID, chosen.RevivalCount); err != nil {
			slog.Error("failed to update revival count", slog.Any("error", err))
		}
	}
	cp := *chosen
	return &cp
}

func (e *Engine) weightedChoiceLocked(candidates []*Entry) *Entry {
	total := 0.0
	weights := make([]float64, len(candidates))
	for i, entry := range candidates {
		w := entry.EmotionalWeight * (1 - countDamping*float64(entry.RevivalCount))
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return candidates[0]
	}

	draw := e.rng.Float64() * total
	for i, w := range weights {
		draw -= w
		if draw < 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

// Phrasings for weaving a past exchange into the reply, keyed by
// context label.
var phrasings = map[string][]string{
	LabelProblemSolving: {
		"By the way, this reminds me of when you cracked \"%s\".",
		"Speaking of which, remember when you worked through \"%s\"?",
	},
	LabelHumorous: {
		"This takes me back to when you joked about \"%s\".",
		"Ha, remember \"%s\"? Still makes me smile.",
	},
	LabelPositive: {
		"It reminds me of how glad you were about \"%s\".",
		"You sounded so happy when you told me \"%s\".",
	},
	LabelCreative: {
		"This has the same spark as your idea \"%s\".",
		"It reminds me of when you were dreaming up \"%s\".",
	},
	LabelGeneral: {
		"That reminds me of when you mentioned \"%s\".",
		"Funny, we once talked about \"%s\".",
	},
}

// Synthesize renders the revival as a trailing sentence. Voice output
// truncates the sentence to VoiceTruncateLen characters.
func (e *Engine) Synthesize(entry *Entry, voiceEnabled bool) string {
	options, ok := phrasings[entry.Label]
	if !ok {
		options = phrasings[LabelGeneral]
	}

	moment := truncateRunes(entry.UserMessage, 60)

	e.mu.Lock()
	phrase := options[e.rng.Intn(len(options))]
	e.mu.Unlock()

	sentence := fmt.Sprintf(phrase, moment)
	if voiceEnabled {
		sentence = truncateRunes(sentence, VoiceTruncateLen)
	}
	return sentence
}

// truncateRunes shortens s to at most n runes, cutting on rune
// boundaries and appending an ellipsis when something was dropped.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

// Count returns how many entries are stored for the user.
func (e *Engine) Count(userID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries[userID])
}
