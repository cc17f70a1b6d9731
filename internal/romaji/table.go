package romaji

// maxEntryLen is the longest key in the table; lookups try this length
// first and shrink toward single characters.
const maxEntryLen = 4

// table maps romaji fragments to hiragana. Bare "n" and "nn" are absent on
// purpose: the syllabic n is resolved by Transliterate, which has to look at
// the following character before committing to ん.
var table = map[string]string{
	// Vowels
	"a": "あ", "i": "い", "u": "う", "e": "え", "o": "お",

	// K / G
	"ka": "か", "ki": "き", "ku": "く", "ke": "け", "ko": "こ",
	"ga": "が", "gi": "ぎ", "gu": "ぐ", "ge": "げ", "go": "ご",
	"kya": "きゃ", "kyi": "きぃ", "kyu": "きゅ", "kye": "きぇ", "kyo": "きょ",
	"gya": "ぎゃ", "gyi": "ぎぃ", "gyu": "ぎゅ", "gye": "ぎぇ", "gyo": "ぎょ",
	"kwa": "くぁ", "gwa": "ぐぁ",

	// S / Z
	"sa": "さ", "si": "し", "su": "す", "se": "せ", "so": "そ",
	"za": "ざ", "zi": "じ", "zu": "ず", "ze": "ぜ", "zo": "ぞ",
	"shi": "し", "sha": "しゃ", "shu": "しゅ", "she": "しぇ", "sho": "しょ",
	"sya": "しゃ", "syi": "しぃ", "syu": "しゅ", "sye": "しぇ", "syo": "しょ",
	"ji": "じ", "ja": "じゃ", "ju": "じゅ", "je": "じぇ", "jo": "じょ",
	"jya": "じゃ", "jyi": "じぃ", "jyu": "じゅ", "jye": "じぇ", "jyo": "じょ",
	"zya": "じゃ", "zyi": "じぃ", "zyu": "じゅ", "zye": "じぇ", "zyo": "じょ",

	// T / D
	"ta": "た", "ti": "ち", "tu": "つ", "te": "て", "to": "と",
	"da": "だ", "di": "ぢ", "du": "づ", "de": "で", "do": "ど",
	"chi": "ち", "tsu": "つ",
	"cha": "ちゃ", "chu": "ちゅ", "che": "ちぇ", "cho": "ちょ",
	"tya": "ちゃ", "tyi": "ちぃ", "tyu": "ちゅ", "tye": "ちぇ", "tyo": "ちょ",
	"dya": "ぢゃ", "dyi": "ぢぃ", "dyu": "ぢゅ", "dye": "ぢぇ", "dyo": "ぢょ",
	"tsa": "つぁ", "tsi": "つぃ", "tse": "つぇ", "tso": "つぉ",
	"thi": "てぃ", "thu": "てゅ", "dhi": "でぃ", "dhu": "でゅ",
	"twu": "とぅ", "dwu": "どぅ",

	// N row (syllable; the bare consonant is rule-driven)
	"na": "な", "ni": "に", "nu": "ぬ", "ne": "ね", "no": "の",
	"nya": "にゃ", "nyi": "にぃ", "nyu": "にゅ", "nye": "にぇ", "nyo": "にょ",

	// H / B / P / F
	"ha": "は", "hi": "ひ", "hu": "ふ", "he": "へ", "ho": "ほ",
	"ba": "ば", "bi": "び", "bu": "ぶ", "be": "べ", "bo": "ぼ",
	"pa": "ぱ", "pi": "ぴ", "pu": "ぷ", "pe": "ぺ", "po": "ぽ",
	"fu": "ふ", "fa": "ふぁ", "fi": "ふぃ", "fe": "ふぇ", "fo": "ふぉ",
	"hya": "ひゃ", "hyi": "ひぃ", "hyu": "ひゅ", "hye": "ひぇ", "hyo": "ひょ",
	"bya": "びゃ", "byi": "びぃ", "byu": "びゅ", "bye": "びぇ", "byo": "びょ",
	"pya": "ぴゃ", "pyi": "ぴぃ", "pyu": "ぴゅ", "pye": "ぴぇ", "pyo": "ぴょ",
	"fya": "ふゃ", "fyu": "ふゅ", "fyo": "ふょ",

	// M
	"ma": "ま", "mi": "み", "mu": "む", "me": "め", "mo": "も",
	"mya": "みゃ", "myi": "みぃ", "myu": "みゅ", "mye": "みぇ", "myo": "みょ",

	// Y
	"ya": "や", "yu": "ゆ", "yo": "よ", "ye": "いぇ",

	// R
	"ra": "ら", "ri": "り", "ru": "る", "re": "れ", "ro": "ろ",
	"rya": "りゃ", "ryi": "りぃ", "ryu": "りゅ", "rye": "りぇ", "ryo": "りょ",

	// W / V
	"wa": "わ", "wi": "うぃ", "we": "うぇ", "wo": "を",
	"va": "ゔぁ", "vi": "ゔぃ", "vu": "ゔ", "ve": "ゔぇ", "vo": "ゔぉ",

	// Small kana
	"xa": "ぁ", "xi": "ぃ", "xu": "ぅ", "xe": "ぇ", "xo": "ぉ",
	"la": "ぁ", "li": "ぃ", "lu": "ぅ", "le": "ぇ", "lo": "ぉ",
	"xya": "ゃ", "xyu": "ゅ", "xyo": "ょ",
	"lya": "ゃ", "lyu": "ゅ", "lyo": "ょ",
	"xtu": "っ", "ltu": "っ", "xtsu": "っ", "ltsu": "っ",
	"xwa": "ゎ", "lwa": "ゎ",
	"xka": "ヵ", "xke": "ヶ",

	// Punctuation and symbols typed through the phonetic buffer
	"-": "ー", ",": "、", ".": "。",
	"[": "「", "]": "」", "/": "・",
	"!": "！", "?": "？", "~": "〜",
}

// sokuonConsonant reports whether a doubled occurrence of c produces the
// glottal-stop mark っ. Vowels never double into it, and n is excluded
// because a doubled n belongs to the syllabic-n rules.
func sokuonConsonant(c rune) bool {
	switch c {
	case 'a', 'i', 'u', 'e', 'o', 'n':
		return false
	}
	return c >= 'a' && c <= 'z'
}

func isVowel(c rune) bool {
	switch c {
	case 'a', 'i', 'u', 'e', 'o':
		return true
	}
	return false
}
