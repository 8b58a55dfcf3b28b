// Package feed produces synthetic keystroke events for driving a session
// without a platform capture hook.
package feed

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/keyflow/keyflow/internal/model"
)

// defaultWords is the embedded fallback corpus.
var defaultWords = []string{
	"the", "quick", "brown", "fox", "jumps", "over", "lazy", "dog",
	"time", "people", "system", "program", "thought", "keyboard",
	"window", "pressure", "memory", "signal", "worker", "session",
	"measure", "pattern", "balance", "channel", "counter", "stream",
	"compute", "monitor", "display", "message", "restart", "archive",
	"language", "terminal", "baseline", "threshold", "statistics",
	"complexity", "throughput", "background",
}

// LoadWords reads one word per line from the provided file path.
func LoadWords(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			// Best-effort close for read-only word list.
			_ = cerr
		}
	}()

	var words []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("word list is empty")
	}
	return words, nil
}

// DefaultWords returns the embedded corpus.
func DefaultWords() []string {
	return append([]string(nil), defaultWords...)
}

// Source emits keystrokes at a target WPM with a configurable error rate.
type Source struct {
	rnd       *rand.Rand
	words     []string
	wpm       int
	errorRate float64

	current []rune
	pos     int
	carry   float64
}

// New creates a Source. Passing nil words uses the embedded corpus.
func New(words []string, wpm int, errorRate float64) *Source {
	if len(words) == 0 {
		words = defaultWords
	}
	if wpm <= 0 {
		wpm = 60
	}
	if errorRate < 0 {
		errorRate = 0
	}
	if errorRate > 1 {
		errorRate = 1
	}
	return &Source{
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		words:     words,
		wpm:       wpm,
		errorRate: errorRate,
	}
}

// Tick returns the keystrokes produced during elapsed, stamped relative to
// now. The fractional remainder carries over so the long-run rate matches
// the configured WPM.
func (s *Source) Tick(now time.Time, elapsed time.Duration) []model.KeyEvent {
	cps := float64(s.wpm) * 5.0 / 60.0
	s.carry += cps * elapsed.Seconds()
	n := int(s.carry)
	if n <= 0 {
		return nil
	}
	s.carry -= float64(n)

	events := make([]model.KeyEvent, 0, n)
	step := elapsed / time.Duration(n)
	ts := now.Add(-elapsed)
	for i := 0; i < n; i++ {
		ts = ts.Add(step)
		events = append(events, s.next(ts))
	}
	return events
}

func (s *Source) next(ts time.Time) model.KeyEvent {
	if s.pos >= len(s.current) {
		word := s.words[s.rnd.Intn(len(s.words))]
		s.current = append(append(s.current[:0], []rune(word)...), ' ')
		s.pos = 0
	}
	ch := s.current[s.pos]
	s.pos++

	ev := model.KeyEvent{Timestamp: ts, Char: ch}
	if s.rnd.Float64() < s.errorRate {
		ev.IsError = true
		ev.Char = 0
	}
	return ev
}
