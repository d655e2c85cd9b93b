package news

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Layouts tried against the raw string before any normalization.
var feedLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	time.RFC850,
	time.ANSIC,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04 -0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Layouts tried after localized names have been replaced by English ones.
var normalizedLayouts = []string{
	"2 Jan 2006",
	"2 Jan 2006 15:04",
	"2 Jan 2006 15:04:05",
	"2 Jan 2006 15:04 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	"Jan 2 2006",
	"Jan 2 2006 15:04",
	"Jan 2 2006 15:04:05",
	"2 Jan 06",
	"Jan 2006",
}

var monthNames = map[string]string{}

func init() {
	byMonth := map[string][]string{
		"Jan": {"january", "jan", "januar", "jänner", "janvier", "janv", "enero", "ene", "gennaio", "gen", "januari", "janeiro"},
		"Feb": {"february", "feb", "februar", "février", "fevrier", "févr", "fevr", "febrero", "febbraio", "februari", "fevereiro", "fev"},
		"Mar": {"march", "mar", "märz", "maerz", "mär", "mars", "marzo", "maart", "mrt", "marts", "março", "marco"},
		"Apr": {"april", "apr", "avril", "avr", "abril", "abr", "aprile"},
		"May": {"may", "mai", "mayo", "maggio", "mag", "mei", "maj", "maio"},
		"Jun": {"june", "jun", "juni", "juin", "junio", "giugno", "giu", "junho"},
		"Jul": {"july", "jul", "juli", "juillet", "juil", "julio", "luglio", "lug", "julho"},
		"Aug": {"august", "aug", "août", "aout", "agosto", "ago", "augustus", "augusti"},
		"Sep": {"september", "sep", "sept", "septembre", "septiembre", "setiembre", "settembre", "set", "setembro"},
		"Oct": {"october", "oct", "oktober", "okt", "octobre", "octubre", "ottobre", "ott", "outubro", "out"},
		"Nov": {"november", "nov", "novembre", "noviembre", "novembro"},
		"Dec": {"december", "dec", "dezember", "dez", "décembre", "decembre", "déc", "diciembre", "dic", "dicembre", "desember", "des", "dezembro"},
	}
	for en, names := range byMonth {
		for _, n := range names {
			monthNames[n] = en
		}
	}
}

// Weekday names and filler words dropped during normalization.
var droppedWords = toSet(
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"mon", "tue", "wed", "thu", "fri", "sat", "sun",
	"montag", "dienstag", "mittwoch", "donnerstag", "freitag", "samstag", "sonntag",
	"lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi", "dimanche",
	"lunes", "martes", "miércoles", "miercoles", "jueves", "viernes", "sábado", "sabado", "domingo",
	"lunedì", "martedì", "mercoledì", "giovedì", "venerdì", "domenica",
	"maandag", "dinsdag", "woensdag", "donderdag", "vrijdag", "zaterdag", "zondag",
	"mandag", "tirsdag", "onsdag", "torsdag", "fredag", "lørdag", "søndag",
	"måndag", "tisdag", "lördag", "söndag",
	"segunda", "terça", "terca", "quarta", "quinta", "sexta", "feira",
	"mo", "di", "mi", "do", "fr", "sa", "so",
	"lun", "mer", "jeu", "ven", "sam", "dim",
	"mié", "mie", "jue", "vie", "sáb", "sab", "dom", "gio",
	"wo", "vr", "za", "zo", "ma",
	"man", "tir", "tirs", "ons", "tor", "tors", "fre", "lør", "søn",
	"mån", "ti", "tis", "lör", "sön",
	"seg", "ter", "qua", "qui", "sex",
	"de", "del", "le", "el", "den", "der", "the", "of", "am", "um", "uhr", "at", "à", "kl",
)

// Abbreviations shared by a weekday and a month ("mar" is Tuesday in French,
// Spanish and Italian). They count as a weekday only when another month name
// is present.
var weekdayOrMonth = toSet("mar")

var (
	ordinalRe = regexp.MustCompile(`(\d)(st|nd|rd|th|er)\b`)
	wordRe    = regexp.MustCompile(`\p{L}+\.?`)
	dayDotRe  = regexp.MustCompile(`\b(\d{1,2})\.(\s)`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// ParseDate parses a publication date in any of the supported formats and
// locales. It never fails: an unparseable value yields the current time.
func ParseDate(s string) time.Time {
	if t, ok := TryParseDate(s); ok {
		return t
	}
	return time.Now()
}

// TryParseDate is ParseDate without the fallback.
func TryParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range feedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	norm := normalizeDate(s)
	for _, layout := range normalizedLayouts {
		if t, err := time.Parse(layout, norm); err == nil {
			return t, true
		}
	}

	if t, err := dateparse.ParseAny(norm); err == nil {
		return t, true
	}
	if t, err := dateparse.ParseAny(s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// normalizeDate rewrites localized month names to English abbreviations and
// removes weekdays, filler words, ordinal suffixes and commas.
func normalizeDate(s string) string {
	s = ordinalRe.ReplaceAllString(s, "$1")
	months := 0
	for _, w := range wordRe.FindAllString(s, -1) {
		if _, ok := monthNames[wordKey(w)]; ok {
			months++
		}
	}
	s = wordRe.ReplaceAllStringFunc(s, func(w string) string {
		key := wordKey(w)
		if weekdayOrMonth[key] && months > 1 {
			return " "
		}
		if en, ok := monthNames[key]; ok {
			return " " + en + " "
		}
		if droppedWords[key] {
			return " "
		}
		return w
	})
	s = dayDotRe.ReplaceAllString(s, "$1$2")
	s = strings.ReplaceAll(s, ",", " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func wordKey(w string) string {
	return strings.ToLower(strings.TrimSuffix(w, "."))
}

func toSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
