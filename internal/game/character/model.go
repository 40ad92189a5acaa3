// Package character defines the player-visible character descriptor and its validation rules.
package character

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Name length bounds, in runes.
const (
	MinNameLen = 1
	MaxNameLen = 15
)

// Descriptor is the identity and appearance of a player character. Colors are
// six-digit hex RGB triples without a leading '#'.
//
// A Descriptor is created by its owner and mirrored read-only by every peer.
type Descriptor struct {
	Name       string `json:"name"`
	HeadColor  string `json:"headColor"`
	TorsoColor string `json:"torsoColor"`
	LegsColor  string `json:"legsColor"`
	EyesColor  string `json:"eyesColor"`
}

// Default colors used when a descriptor omits them.
const (
	DefaultHeadColor  = "ffcc99"
	DefaultTorsoColor = "3366cc"
	DefaultLegsColor  = "333333"
	DefaultEyesColor  = "000000"
)

// ErrInvalidName is returned when a name is empty, too long, or contains
// non-printable runes.
var ErrInvalidName = errors.New("character name must be 1-15 printable characters")

// ErrInvalidColor is returned when a color is not a six-digit hex triple.
var ErrInvalidColor = errors.New("color must be a six-digit hex RGB triple")

// New builds a validated Descriptor. Colors are normalized to lower case
// and may carry a leading '#'.
//
// Postcondition: Returns a valid Descriptor or an error wrapping ErrInvalidName/ErrInvalidColor.
func New(name, head, torso, legs, eyes string) (Descriptor, error) {
	d := Descriptor{
		Name:       strings.TrimSpace(name),
		HeadColor:  normalizeColor(head),
		TorsoColor: normalizeColor(torso),
		LegsColor:  normalizeColor(legs),
		EyesColor:  normalizeColor(eyes),
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Validate checks the name and every color.
func (d Descriptor) Validate() error {
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	colors := []struct {
		part, value string
	}{
		{"head", d.HeadColor},
		{"torso", d.TorsoColor},
		{"legs", d.LegsColor},
		{"eyes", d.EyesColor},
	}
	for _, c := range colors {
		if !isHexColor(c.value) {
			return fmt.Errorf("%s color %q: %w", c.part, c.value, ErrInvalidColor)
		}
	}
	return nil
}

// WithDefaults returns a copy with any empty color replaced by its default.
func (d Descriptor) WithDefaults() Descriptor {
	if d.HeadColor == "" {
		d.HeadColor = DefaultHeadColor
	}
	if d.TorsoColor == "" {
		d.TorsoColor = DefaultTorsoColor
	}
	if d.LegsColor == "" {
		d.LegsColor = DefaultLegsColor
	}
	if d.EyesColor == "" {
		d.EyesColor = DefaultEyesColor
	}
	return d
}

// IsZero reports whether no field is set.
func (d Descriptor) IsZero() bool {
	return d == Descriptor{}
}

// ValidateName reports whether name is 1-15 printable runes.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < MinNameLen || n > MaxNameLen {
		return fmt.Errorf("%q has %d characters: %w", name, n, ErrInvalidName)
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("%q: %w", name, ErrInvalidName)
		}
	}
	return nil
}

func normalizeColor(c string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c), "#"))
}

func isHexColor(c string) bool {
	if len(c) != 6 {
		return false
	}
	for i := 0; i < len(c); i++ {
		switch b := c[i]; {
		case b >= '0' && b <= '9', b >= 'a' && b <= 'f', b >= 'A' && b <= 'F':
		default:
			return false
		}
	}
	return true
}
