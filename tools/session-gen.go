// session-gen generates synthetic writing-session action scripts for
// exercising capture, replay, and analytics without manual typing.
//
// Usage:
//
//	go run tools/session-gen.go -output script.json -words 200
//	go run tools/session-gen.go -output script.json -profile heavy-editor
//	go run tools/session-gen.go -output script.json -profile distracted
//
// The output is consumed by `typetraced record -script`.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"
)

// Action mirrors the script entry format of `typetraced record`.
type Action struct {
	DelayMs    int64  `json:"delay_ms"`
	Type       string `json:"type,omitempty"`
	Data       string `json:"data,omitempty"`
	CaretStart int    `json:"caret_start"`
	CaretEnd   int    `json:"caret_end"`
	Pause      bool   `json:"pause,omitempty"`
	Resume     bool   `json:"resume,omitempty"`
}

// WriterProfile parameterizes a simulated writer.
type WriterProfile struct {
	Name        string
	Description string

	KeyDelayMs       int64   // median inter-key delay
	KeyJitterMs      int64   // uniform jitter around the median
	WordPauseMs      int64   // extra delay between words
	ThinkPauseMs     int64   // occasional mid-sentence think pause
	ThinkProbability float64 // probability of a think pause per word
	LongBreakMs      int64   // explicit pause/resume break length
	BreakProbability float64 // probability of a long break per sentence
	TypoProbability  float64 // probability of typo-then-backspace per word
	ReviseProbability float64 // probability of revising an earlier word
	PasteProbability float64 // probability a sentence arrives as a paste
}

var profiles = map[string]WriterProfile{
	"steady": {
		Name:             "steady",
		Description:      "Consistent drafting with few pauses or edits",
		KeyDelayMs:       140,
		KeyJitterMs:      60,
		WordPauseMs:      180,
		ThinkPauseMs:     2500,
		ThinkProbability: 0.03,
		TypoProbability:  0.02,
	},
	"heavy-editor": {
		Name:              "heavy-editor",
		Description:       "Frequent backtracking and revision of earlier text",
		KeyDelayMs:        160,
		KeyJitterMs:       80,
		WordPauseMs:       250,
		ThinkPauseMs:      4000,
		ThinkProbability:  0.08,
		TypoProbability:   0.10,
		ReviseProbability: 0.15,
	},
	"distracted": {
		Name:             "distracted",
		Description:      "Long gaps and breaks between short typing runs",
		KeyDelayMs:       180,
		KeyJitterMs:      120,
		WordPauseMs:      400,
		ThinkPauseMs:     12000,
		ThinkProbability: 0.12,
		LongBreakMs:      45000,
		BreakProbability: 0.3,
		TypoProbability:  0.04,
	},
	"paster": {
		Name:             "paster",
		Description:      "Large blocks arrive at once instead of keystrokes",
		KeyDelayMs:       130,
		KeyJitterMs:      50,
		WordPauseMs:      150,
		ThinkPauseMs:     3000,
		ThinkProbability: 0.05,
		PasteProbability: 0.5,
	},
}

var corpus = strings.Fields(`the quick brown fox jumps over the lazy dog while
autumn leaves drift past the window and the kettle hums on the stove a
paragraph takes shape one clause at a time revised reread and revised again
until the sentence finally says what it meant all along`)

func main() {
	output := flag.String("output", "session.json", "output script path")
	profileName := flag.String("profile", "steady", "writer profile: steady, heavy-editor, distracted, paster")
	words := flag.Int("words", 120, "approximate words to produce")
	seed := flag.Int64("seed", 0, "random seed (0 uses a fixed default)")
	list := flag.Bool("list", false, "list available profiles")
	flag.Parse()

	if *list {
		for _, p := range profiles {
			fmt.Printf("%-14s %s\n", p.Name, p.Description)
		}
		return
	}

	profile, ok := profiles[*profileName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown profile: %s\n", *profileName)
		os.Exit(1)
	}

	if *seed == 0 {
		*seed = 42
	}
	rng := rand.New(rand.NewSource(*seed))

	actions := generate(rng, profile, *words)

	data, err := json.MarshalIndent(actions, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding script: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*output, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *output, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d actions (%s profile) to %s\n", len(actions), profile.Name, *output)
}

type generator struct {
	rng     *rand.Rand
	profile WriterProfile
	actions []Action
	caret   int
	length  int // rune length of the document so far
	words   []int // caret position of each completed word
}

func generate(rng *rand.Rand, p WriterProfile, wordCount int) []Action {
	g := &generator{rng: rng, profile: p}

	sentenceLen := 0
	for w := 0; w < wordCount; w++ {
		word := corpus[rng.Intn(len(corpus))]

		if p.PasteProbability > 0 && sentenceLen == 0 && rng.Float64() < p.PasteProbability {
			w += g.pasteSentence(rng, wordCount-w)
			sentenceLen = 0
			continue
		}

		g.typeWord(word)
		g.insert(" ", g.keyDelay())
		sentenceLen++

		if rng.Float64() < p.ThinkProbability {
			g.insertWithDelay("", p.ThinkPauseMs)
		}
		if rng.Float64() < p.TypoProbability {
			g.typoAndFix()
		}
		if p.ReviseProbability > 0 && len(g.words) > 3 && rng.Float64() < p.ReviseProbability {
			g.reviseEarlierWord()
		}

		if sentenceLen >= 8+rng.Intn(8) {
			g.backspace()
			g.typeWord(".")
			g.insert(" ", g.keyDelay())
			sentenceLen = 0
			if p.BreakProbability > 0 && rng.Float64() < p.BreakProbability {
				g.longBreak()
			}
		}
	}
	return g.actions
}

func (g *generator) keyDelay() int64 {
	j := g.profile.KeyJitterMs
	if j <= 0 {
		return g.profile.KeyDelayMs
	}
	return g.profile.KeyDelayMs + g.rng.Int63n(2*j) - j
}

func (g *generator) insert(s string, delay int64) {
	g.actions = append(g.actions, Action{
		DelayMs:    delay,
		Type:       "insert",
		Data:       s,
		CaretStart: g.caret,
		CaretEnd:   g.caret,
	})
	n := len([]rune(s))
	g.caret += n
	g.length += n
}

func (g *generator) insertWithDelay(s string, delay int64) {
	if s == "" {
		// A bare think pause: attach the delay to the next action by
		// emitting a zero-width select at the caret.
		g.actions = append(g.actions, Action{
			DelayMs:    delay,
			Type:       "select",
			CaretStart: g.caret,
			CaretEnd:   g.caret,
		})
		return
	}
	g.insert(s, delay)
}

func (g *generator) typeWord(word string) {
	start := g.caret
	for _, r := range word {
		g.insert(string(r), g.keyDelay())
	}
	g.words = append(g.words, start)
	if delay := g.profile.WordPauseMs; delay > 0 {
		g.actions[len(g.actions)-1].DelayMs += g.rng.Int63n(delay)
	}
}

func (g *generator) backspace() {
	g.actions = append(g.actions, Action{
		DelayMs:    g.keyDelay(),
		Type:       "delete",
		CaretStart: g.caret,
		CaretEnd:   g.caret,
	})
	if g.caret > 0 {
		g.caret--
		g.length--
	}
}

func (g *generator) typoAndFix() {
	g.insert(string(rune('a'+g.rng.Intn(26))), g.keyDelay())
	g.backspace()
}

// reviseEarlierWord deletes a character inside a previously written
// word and retypes one, producing a revision-pattern signature.
func (g *generator) reviseEarlierWord() {
	target := g.words[g.rng.Intn(len(g.words)-1)]
	if target+1 >= g.length {
		return
	}
	g.actions = append(g.actions, Action{
		DelayMs:    g.keyDelay() + 600,
		Type:       "delete",
		CaretStart: target,
		CaretEnd:   target + 1,
	})
	g.length--
	saved := g.caret
	g.caret = target
	g.insert(string(rune('a'+g.rng.Intn(26))), g.keyDelay())
	g.caret = saved
}

func (g *generator) pasteSentence(rng *rand.Rand, budget int) int {
	n := 6 + rng.Intn(6)
	if n > budget {
		n = budget
	}
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(corpus[rng.Intn(len(corpus))])
		sb.WriteString(" ")
	}
	g.insert(sb.String(), g.keyDelay()+1500)
	return n
}

func (g *generator) longBreak() {
	g.actions = append(g.actions, Action{DelayMs: g.keyDelay(), Pause: true})
	g.actions = append(g.actions, Action{DelayMs: g.profile.LongBreakMs, Resume: true})
}
