package prompt

import (
	"strings"

	"github.com/dmorgan81/sdclient/internal/style"
)

// Lookup is the part of a style catalog composition needs.
type Lookup interface {
	Lookup(name string) (style.Preset, bool)
}

// Compose merges the preset registered as styleName into the user's prompt
// pair. Unknown or empty style names leave both strings untouched.
//
// The style's negative fragment always comes before the user's; the server
// weights earlier tokens more heavily.
func Compose(styles Lookup, prompt, negative, styleName string) (string, string) {
	if styles == nil || styleName == "" {
		return prompt, negative
	}
	preset, ok := styles.Lookup(styleName)
	if !ok {
		return prompt, negative
	}

	prompt = strings.ReplaceAll(preset.Prompt, style.Placeholder, prompt)
	if preset.NegativePrompt != "" {
		negative = strings.Trim(preset.NegativePrompt+", "+negative, ", ")
	}
	return prompt, negative
}
