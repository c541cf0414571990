package prompt

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/dmorgan81/sdclient/internal/log"
	"github.com/samber/do"
)

var ErrNoPrompts = errors.New("no fallback prompts configured")

// Randomizer picks a fallback style and prompt from "style|prompt" pairs.
// Entries without a separator are treated as a bare prompt.
type Randomizer struct {
	prompts []string
	rnd     *rand.Rand
}

func NewRandomizer(i *do.Injector) (*Randomizer, error) {
	prompts := do.MustInvokeNamed[[]string](i, "prompts")
	return NewRandomizerWith(prompts, rand.NewSource(time.Now().UTC().UnixNano())), nil
}

func NewRandomizerWith(prompts []string, src rand.Source) *Randomizer {
	return &Randomizer{prompts, rand.New(src)}
}

func (r *Randomizer) Randomize(ctx context.Context) (string, string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("randomizer")
	if len(r.prompts) == 0 {
		return "", "", ErrNoPrompts
	}
	log.Info("picking fallback style and prompt", "choices", len(r.prompts))

	entry := r.prompts[r.rnd.Intn(len(r.prompts))]
	styleName, prompt, found := strings.Cut(entry, "|")
	if !found {
		return "", strings.TrimSpace(entry), nil
	}
	return strings.TrimSpace(styleName), strings.TrimSpace(prompt), nil
}
