package romaji

import "testing"

func TestTransliterate(t *testing.T) {
	tests := []struct {
		in        string
		emitted   string
		remainder string
	}{
		// Plain syllables and longest-match precedence
		{"a", "あ", ""},
		{"ka", "か", ""},
		{"kyouha", "きょうは", ""},   // "kyo" wins over "k"+"yo"
		{"sha", "しゃ", ""},
		{"sya", "しゃ", ""},
		{"chi", "ち", ""},
		{"tsukue", "つくえ", ""},
		{"xtsu", "っ", ""}, // 4-rune table entry

		// Doubled consonant (sokuon) before table lookup
		{"kitte", "きって", ""},
		{"zasshi", "ざっし", ""},
		{"ikkyo", "いっきょ", ""},
		{"tt", "っ", "t"},

		// Standalone n
		{"n", "", "n"},          // lone trailing n stays pending
		{"kan", "か", "n"},       // trailing n after a syllable still pending
		{"na", "な", ""},         // n plus vowel is the full syllable, not ん+あ
		{"nya", "にゃ", ""},       // n plus y resolves through the table
		{"kanji", "かんじ", ""},    // n before consonant becomes ん
		{"ny", "", "ny"},        // n followed by y with nothing after: ambiguous
		{"nn", "", "nn"},        // doubled n stays pending, never っ
		{"honto", "ほんと", ""},

		// Unconvertible input preserved literally
		{"", "", ""},
		{"q", "", "q"},
		{"kaq1", "か", "q1"},
		{"ky", "", "ky"}, // consonant waiting for its vowel

		// Punctuation through the buffer
		{"kawa-", "かわー", ""},
		{"a,", "あ、", ""},
		{"owari.", "おわり。", ""},

		// Case folding
		{"KA", "か", ""},
		{"Kitte", "きって", ""},
	}

	for _, tt := range tests {
		emitted, remainder := Transliterate(tt.in)
		if emitted != tt.emitted || remainder != tt.remainder {
			t.Errorf("Transliterate(%q) = (%q, %q), want (%q, %q)",
				tt.in, emitted, remainder, tt.emitted, tt.remainder)
		}
	}
}

func TestTransliterateAccountsForEveryRune(t *testing.T) {
	inputs := []string{"kyouha", "n", "nn", "kaq1", "zasshi", "tt", "xyz", "konnnichiha"}
	for _, in := range inputs {
		emitted, remainder := Transliterate(in)
		// Every input rune is either consumed into emitted script text or
		// preserved in the remainder; the remainder is a literal tail.
		if len(remainder) > len(in) {
			t.Errorf("Transliterate(%q): remainder %q longer than input", in, remainder)
		}
		if remainder != "" && in[len(in)-len(remainder):] != remainder {
			t.Errorf("Transliterate(%q): remainder %q is not the literal input tail", in, remainder)
		}
		if remainder == in && emitted != "" {
			t.Errorf("Transliterate(%q): full remainder but non-empty emission %q", in, emitted)
		}
	}
}

func TestTransliterateDeterministic(t *testing.T) {
	e1, r1 := Transliterate("kyoumohareda")
	e2, r2 := Transliterate("kyoumohareda")
	if e1 != e2 || r1 != r2 {
		t.Fatalf("non-deterministic: (%q,%q) vs (%q,%q)", e1, r1, e2, r2)
	}
}
