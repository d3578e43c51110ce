package speech

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

const DefaultVoice = "en-US-AriaNeural"

// voices maps a locale to the neural voice used to narrate it.
var voices = map[language.Tag]string{
	language.AmericanEnglish:     "en-US-AriaNeural",
	language.EuropeanSpanish:     "es-ES-ElviraNeural",
	language.French:              "fr-FR-DeniseNeural",
	language.German:              "de-DE-KatjaNeural",
	language.Italian:             "it-IT-ElsaNeural",
	language.BrazilianPortuguese: "pt-BR-FranciscaNeural",
	language.Dutch:               "nl-NL-ColetteNeural",
	language.Russian:             "ru-RU-SvetlanaNeural",
	language.Polish:              "pl-PL-ZofiaNeural",
	language.Turkish:             "tr-TR-EmelNeural",
	language.Japanese:            "ja-JP-NanamiNeural",
	language.Korean:              "ko-KR-SunHiNeural",
	language.SimplifiedChinese:   "zh-CN-XiaoxiaoNeural",
	language.Hindi:               "hi-IN-SwaraNeural",
}

var (
	supported = supportedTags()
	matcher   = language.NewMatcher(supported)
)

func supportedTags() []language.Tag {
	// English first: the matcher falls back to the first entry.
	tags := []language.Tag{language.AmericanEnglish}
	for t := range voices {
		if t != language.AmericanEnglish {
			tags = append(tags, t)
		}
	}
	return tags
}

// minDetectRunes is the shortest text language detection is trusted on.
const minDetectRunes = 20

// SelectVoice picks a voice for text. fallback is used when the language
// cannot be detected reliably or no voice matches it.
func SelectVoice(text, fallback string) (string, language.Tag) {
	if fallback == "" {
		fallback = DefaultVoice
	}
	fallbackTag := VoiceLocale(fallback)

	if len([]rune(strings.TrimSpace(text))) < minDetectRunes {
		return fallback, fallbackTag
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return fallback, fallbackTag
	}
	detected, err := language.Parse(info.Lang.Iso6391())
	if err != nil {
		return fallback, fallbackTag
	}

	// The fallback voice wins when it already speaks the detected language.
	if base, _ := fallbackTag.Base(); sameBase(base, detected) {
		return fallback, fallbackTag
	}

	_, idx, conf := matcher.Match(detected)
	if conf == language.No {
		return fallback, fallbackTag
	}
	tag := supported[idx]
	return voices[tag], tag
}

// VoiceLocale extracts the locale prefix of a voice name ("en-US-AriaNeural" -> en-US).
func VoiceLocale(voice string) language.Tag {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 {
		if tag, err := language.Parse(parts[0] + "-" + parts[1]); err == nil {
			return tag
		}
	}
	return language.AmericanEnglish
}

func sameBase(base language.Base, tag language.Tag) bool {
	b, _ := tag.Base()
	return b == base
}
