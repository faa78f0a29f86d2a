package topics

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/choco0031/thisorthat/pkg/types"
)

// Pool is the ordered list of topics a game draws from. It is never
// mutated after construction and is safe to share between sessions.
type Pool struct {
	topics []types.Topic
}

var fallback = []types.Topic{
	{Option1: "Apple", Option2: "Banana"},
	{Option1: "Pizza", Option2: "Burger"},
	{Option1: "Coffee", Option2: "Tea"},
	{Option1: "Beach", Option2: "Mountains"},
	{Option1: "Summer", Option2: "Winter"},
	{Option1: "Cats", Option2: "Dogs"},
	{Option1: "Morning person", Option2: "Night owl"},
	{Option1: "Sweet", Option2: "Savory"},
	{Option1: "Book", Option2: "Movie"},
	{Option1: "City", Option2: "Countryside"},
	{Option1: "Music", Option2: "Podcast"},
	{Option1: "Hot weather", Option2: "Cold weather"},
	{Option1: "Instagram", Option2: "TikTok"},
	{Option1: "Netflix", Option2: "YouTube"},
	{Option1: "Android", Option2: "iPhone"},
}

func New(topics []types.Topic) *Pool {
	return &Pool{topics: append([]types.Topic(nil), topics...)}
}

// Fallback returns the built-in pool used when no topic file is readable.
func Fallback() *Pool { return New(fallback) }

// maxLineLen bounds a topic line. Longer lines count as malformed.
const maxLineLen = 4 << 10

// Parse reads "option1,option2" lines. Blank or malformed lines are
// skipped.
func Parse(r io.Reader) (*Pool, error) {
	var out []types.Topic
	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read topics: %w", err)
		}
		if t, ok := parseLine(raw); ok {
			out = append(out, t)
		}
		if err != nil {
			break
		}
	}
	return &Pool{topics: out}, nil
}

func parseLine(raw string) (types.Topic, bool) {
	if len(raw) > maxLineLen {
		return types.Topic{}, false
	}
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) < 2 {
		return types.Topic{}, false
	}
	t := types.Topic{
		Option1: strings.TrimSpace(parts[0]),
		Option2: strings.TrimSpace(parts[1]),
	}
	return t, t.Option1 != "" && t.Option2 != ""
}

// Load parses the topic file at path. The returned error is non-nil when
// the file could not be used; callers fall back to Fallback().
func Load(path string) (*Pool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open topics: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// LoadOrFallback never fails.
func LoadOrFallback(path string) (*Pool, error) {
	p, err := Load(path)
	if err != nil {
		return Fallback(), err
	}
	return p, nil
}

func (p *Pool) Len() int { return len(p.topics) }

func (p *Pool) At(i int) types.Topic { return p.topics[i] }

// Unused returns the indices not present in used, in pool order.
func (p *Pool) Unused(used map[int]struct{}) []int {
	out := make([]int, 0, max(len(p.topics)-len(used), 0))
	for i := range p.topics {
		if _, ok := used[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}
