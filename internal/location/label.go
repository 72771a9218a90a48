package location

import (
	"fmt"
	"strings"
	"unicode"
)

// Label is the human name of a location node: an optional icon token and a plain name.
// The icon is stored apart from the name; the combined display form only exists
// at presentation and wire boundaries.
type Label struct {
	Icon string `json:"icon,omitempty"`
	Name string `json:"name"`
}

// NewLabel builds a label from separately entered icon and name, trimming both.
// An icon containing whitespace keeps only its first token.
func NewLabel(icon, name string) Label {
	icon = strings.TrimSpace(icon)
	if i := strings.IndexFunc(icon, unicode.IsSpace); i >= 0 {
		icon = icon[:i]
	}
	return Label{Icon: icon, Name: strings.TrimSpace(name)}
}

// ParseLabel splits a display name such as "🏡 Home" into icon and plain name.
// A leading token is treated as an icon only when it is made of symbol runes
// and is followed by a space; otherwise the whole string is the plain name.
func ParseLabel(display string) Label {
	display = strings.TrimSpace(display)
	head, rest, ok := strings.Cut(display, " ")
	if !ok || !IsIcon(head) {
		return Label{Name: display}
	}
	return Label{Icon: head, Name: strings.TrimSpace(rest)}
}

// Display returns icon + " " + name when an icon is set, else the plain name.
func (l Label) Display() string {
	if l.Icon == "" {
		return l.Name
	}
	return l.Icon + " " + l.Name
}

func (l Label) String() string { return l.Display() }

// Validate checks that the label has a plain name and that its icon, when set,
// survives the display form round trip.
func (l Label) Validate() error {
	if l.Name == "" {
		return ErrEmptyName
	}
	if l.Icon != "" && !IsIcon(l.Icon) {
		return fmt.Errorf("%w: %q", ErrInvalidIcon, l.Icon)
	}
	return nil
}

// IsIcon reports whether tok looks like an icon token: at least one symbol rune
// and no letters, digits or punctuation. Emoji modifiers, variation selectors and
// zero-width joiners are allowed so multi-rune emoji stay intact.
func IsIcon(tok string) bool {
	if tok == "" {
		return false
	}
	symbols := 0
	for _, r := range tok {
		switch {
		case unicode.Is(unicode.So, r), unicode.Is(unicode.Sk, r):
			symbols++
		case unicode.Is(unicode.Mn, r), unicode.Is(unicode.Me, r), unicode.Is(unicode.Cf, r):
			// combining marks, variation selectors, ZWJ
		default:
			return false
		}
	}
	return symbols > 0
}
