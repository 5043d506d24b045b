// Package kb encodes runes into the pair of Input.dispatchKeyEvent params
// (keyDown, keyUp) needed to synthesize typing, the same key/code/keyCode
// table the original client library's own kb package generates from the Chromium source
// tree, hand-reduced here to the printable ASCII range plus the control
// keys SendKeys needs.
package kb

import (
	"fmt"

	"github.com/chromedp/cdproto/input"
)

// key describes one rune's encoding, a reduced form of the reference
// generator's Key shape: DOM code, DOM key, keyCode, and whether it needs
// the shift modifier.
type key struct {
	code           string
	domKey         string
	keyCode        int64
	shift          bool
}

// special holds the non-printable keys SendKeys may be asked to type
// (Enter, Tab, Backspace, Escape); printable ASCII is handled generically by
// lookup.
var special = map[rune]key{
	'\r': {code: "Enter", domKey: "Enter", keyCode: 13},
	'\n': {code: "Enter", domKey: "Enter", keyCode: 13},
	'\t': {code: "Tab", domKey: "Tab", keyCode: 9},
	'\b': {code: "Backspace", domKey: "Backspace", keyCode: 8},
	0x1b: {code: "Escape", domKey: "Escape", keyCode: 27},
}

const shiftedSymbols = `!@#$%^&*()_+{}|:"<>?~`
const unshiftedSymbols = `1234567890-=[]\;',./` + "`"

// Encode returns the keyDown/keyUp command params for r, ready to pass to
// input.DispatchKeyEvent via Session.Execute.
func Encode(r rune) (*input.DispatchKeyEventParams, *input.DispatchKeyEventParams, error) {
	k, err := lookup(r)
	if err != nil {
		return nil, nil, err
	}

	mods := input.ModifierNone
	if k.shift {
		mods = input.ModifierShift
	}

	down := input.DispatchKeyEvent(input.KeyDown).
		WithKey(k.domKey).
		WithCode(k.code).
		WithNativeVirtualKeyCode(k.keyCode).
		WithWindowsVirtualKeyCode(k.keyCode).
		WithModifiers(mods)
	if k.domKey != "" && len(k.domKey) == 1 {
		down = down.WithText(k.domKey)
	}

	up := input.DispatchKeyEvent(input.KeyUp).
		WithKey(k.domKey).
		WithCode(k.code).
		WithNativeVirtualKeyCode(k.keyCode).
		WithWindowsVirtualKeyCode(k.keyCode).
		WithModifiers(mods)

	return down, up, nil
}

func lookup(r rune) (key, error) {
	if k, ok := special[r]; ok {
		return k, nil
	}
	if r >= 'a' && r <= 'z' {
		return key{code: fmt.Sprintf("Key%c", r-32), domKey: string(r), keyCode: int64(r - 32)}, nil
	}
	if r >= 'A' && r <= 'Z' {
		return key{code: fmt.Sprintf("Key%c", r), domKey: string(r), keyCode: int64(r), shift: true}, nil
	}
	if i := indexRune(unshiftedSymbols, r); i >= 0 {
		return key{code: "Digit", domKey: string(r), keyCode: int64(r)}, nil
	}
	if i := indexRune(shiftedSymbols, r); i >= 0 {
		return key{code: "Digit", domKey: string(r), keyCode: int64(unshiftedSymbols[i]), shift: true}, nil
	}
	if r == ' ' {
		return key{code: "Space", domKey: " ", keyCode: 32}, nil
	}
	return key{}, fmt.Errorf("kb: unsupported rune %q", r)
}

func indexRune(s string, r rune) int {
	for i, c := range s {
		if c == r {
			return i
		}
	}
	return -1
}
