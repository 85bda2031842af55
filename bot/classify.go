package bot

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

var (
	leadPunct = regexp.MustCompile("[.,!?:;()\\[\\]{}'\"`«»]+")

	greetingRu = regexp.MustCompile(`^(привет(ик|ствую)?|здравствуй(те)?|здар(ова|ов)|салют|хай|ку|добр(ое утро|ый день|ый вечер))`)
	greetingEn = regexp.MustCompile(`^(hi|hello|hey|yo|good (morning|afternoon|evening)|howdy|greetings)\b`)

	laughWord = regexp.MustCompile(`^(лол|лул|кек|ржу|lol|lmao|rofl|kek)$`)
	laughRun  = regexp.MustCompile(`(^|[\s.,!?…:;()"'«»\-\[\]\\/])(ах[ах]*|ха[ха]*|хе[хе]*|хи[хи]*|хо[хо]*|ор[ру]*|haha+|hehe+|hoho+)($|[\s.,!?…:;()"'«»\-\[\]\\/])`)
)

// isGreeting reports whether a message starts with a Russian or English
// greeting, ignoring leading punctuation.
func isGreeting(message string) bool {
	t := strings.TrimSpace(leadPunct.ReplaceAllString(strings.ToLower(message), " "))
	return greetingRu.MatchString(t) || greetingEn.MatchString(t)
}

// isLaughing reports whether a message is laughter: an exact laugh word or a
// ha/he/hi/ho run bounded by separators.
func isLaughing(message string) bool {
	t := strings.ToLower(strings.TrimSpace(message))
	return laughWord.MatchString(t) || laughRun.MatchString(t)
}

// emoteOnly reports whether a message consists of nothing but emotes and
// returns what the overlay should render: the CDN url of the first Twitch
// emote, or the literal text for plain Unicode emoji.
func emoteOnly(msg twitch.PrivateMessage) (string, bool) {
	noSpaces := 0
	for _, r := range msg.Message {
		if !unicode.IsSpace(r) {
			noSpaces++
		}
	}

	if len(msg.Emotes) > 0 {
		emoteChars := 0
		for _, e := range msg.Emotes {
			emoteChars += utf8.RuneCountInString(e.Name) * e.Count
		}
		if emoteChars == noSpaces {
			return "https://static-cdn.jtvnw.net/emoticons/v2/" + msg.Emotes[0].ID + "/default/dark/3.0", true
		}
		return "", false
	}

	if noSpaces == 0 || !unicodeEmojiOnly(msg.Message) {
		return "", false
	}
	emoji := strings.TrimSpace(msg.Message)
	if emoji == "" {
		emoji = "🙂"
	}
	return emoji, true
}

// unicodeEmojiOnly reports whether the text is made of emoji plus joiners,
// variation selectors and whitespace, with at least one actual emoji.
func unicodeEmojiOnly(text string) bool {
	sawEmoji := false
	for _, r := range text {
		switch {
		case isPictographic(r):
			sawEmoji = true
		case unicode.IsSpace(r), r == 0xFE0F, r == 0x200D:
		default:
			return false
		}
	}
	return sawEmoji
}

func isPictographic(r rune) bool {
	return (r >= 0x1F000 && r <= 0x1FAFF) ||
		(r >= 0x2600 && r <= 0x27BF) ||
		(r >= 0x2B00 && r <= 0x2BFF)
}
