// Package romaji converts buffered Latin phonetic input into hiragana.
//
// Transliterate is deterministic, total, and side-effect free: every input
// character ends up either in the emitted script text or in the returned
// remainder, never dropped. The remainder holds input that is still
// ambiguous (a trailing "n", a consonant waiting for its vowel) and is fed
// back in full on the next keystroke.
package romaji

import (
	"strings"
	"unicode"
)

// Sokuon is the glottal-stop mark produced by a doubled consonant.
const Sokuon = "っ"

// SyllabicN is the mark produced by a resolved standalone n.
const SyllabicN = "ん"

// Transliterate converts buffer left to right and returns the emitted
// hiragana plus the unconsumed tail. Rules, in priority order at each
// position: doubled-consonant sokuon, longest-match table lookup (4 runes
// down to 1), then the standalone-n rules. The first position no rule
// applies to ends the scan; everything from there on is the remainder.
func Transliterate(buffer string) (emitted, remainder string) {
	runes := []rune(buffer)
	var out strings.Builder
	pos := 0

	for pos < len(runes) {
		c := unicode.ToLower(runes[pos])

		// Doubled consonant: emit っ and advance one; the second copy
		// starts the next syllable.
		if pos+1 < len(runes) && sokuonConsonant(c) && unicode.ToLower(runes[pos+1]) == c {
			out.WriteString(Sokuon)
			pos++
			continue
		}

		if n := matchTable(runes[pos:], &out); n > 0 {
			pos += n
			continue
		}

		if c == 'n' {
			if pos+1 == len(runes) {
				// Trailing n: might extend into な, にゃ, or ん.
				break
			}
			next := unicode.ToLower(runes[pos+1])
			if isVowel(next) || next == 'y' || next == 'n' {
				// Still ambiguous; wait for more input.
				break
			}
			out.WriteString(SyllabicN)
			pos++
			continue
		}

		// No rule applies here; the rest of the buffer stays pending.
		break
	}

	return out.String(), string(runes[pos:])
}

// matchTable tries table entries of length maxEntryLen down to 1 at the
// head of runes, writes the hit to out, and returns the matched length
// (0 on miss). Longer entries win so that, e.g., "kyo" beats "k"+"yo".
func matchTable(runes []rune, out *strings.Builder) int {
	limit := maxEntryLen
	if len(runes) < limit {
		limit = len(runes)
	}
	for n := limit; n >= 1; n-- {
		key := strings.ToLower(string(runes[:n]))
		if kana, ok := table[key]; ok {
			out.WriteString(kana)
			return n
		}
	}
	return 0
}
