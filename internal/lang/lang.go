// Package lang holds the static language-code lookup tables used by the
// connection handshake and the ASR backends.
//
// Clients may supply either a two-letter short code ("uk") or a full
// script-qualified code ("ukr_Cyrl"). The tables below cover the languages
// the Refuge.Help frontend offers; codes outside the table pass through
// unchanged so that callers can use any code their ASR backend understands.
package lang

// shortToFull maps two-letter short codes to full script-qualified codes.
var shortToFull = map[string]string{
	"uk": "ukr_Cyrl",
	"ru": "rus_Cyrl",
	"en": "eng_Latn",
	"nl": "nld_Latn",
	"de": "deu_Latn",
	"fr": "fra_Latn",
	"ar": "ara_Arab",
	"fa": "fas_Arab",
	"ps": "pus_Arab",
	"so": "som_Latn",
	"ti": "tir_Ethi",
	"tr": "tur_Latn",
	"pl": "pol_Latn",
	"it": "ita_Latn",
	"ku": "kmr_Latn",
}

// fullToShort is the inverse of shortToFull, built once at init time.
var fullToShort = func() map[string]string {
	m := make(map[string]string, len(shortToFull))
	for short, full := range shortToFull {
		m[full] = short
	}
	return m
}()

// Normalize expands a short language code to its full script-qualified form.
// Unmapped codes (including full codes and the empty string) are returned
// unchanged.
func Normalize(code string) string {
	if full, ok := shortToFull[code]; ok {
		return full
	}
	return code
}

// Short reduces a full script-qualified code to its two-letter short form
// when the table knows it. Unmapped codes are returned unchanged. ASR
// backends that speak ISO 639-1 (e.g. whisper.cpp) use this to translate
// the session's language hint.
func Short(code string) string {
	if short, ok := fullToShort[code]; ok {
		return short
	}
	return code
}
