package assign

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/goodsign/monday"
	"golang.org/x/text/language"

	"github.com/sambeau/stitch/pkg/stitch/value"
)

// Locale is a resolved date locale.
type Locale struct {
	Tag        language.Tag
	Monday     monday.Locale
	MonthFirst bool // how ambiguous numeric dates are read
}

// ParseLocale resolves a BCP 47 tag ("fr-CA", "de", "en_GB"). Empty or
// unparseable input yields en-US.
func ParseLocale(s string) Locale {
	def := Locale{Tag: language.AmericanEnglish, Monday: monday.LocaleEnUS, MonthFirst: true}
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return def
	}
	base, _ := tag.Base()
	region, conf := tag.Region()

	key := strings.ToLower(base.String())
	if conf == language.Exact {
		key += "_" + strings.ToLower(region.String())
	}
	loc, ok := mondayLocales[key]
	if !ok {
		loc, ok = mondayLocales[strings.ToLower(base.String())]
	}
	if !ok {
		loc = monday.LocaleEnUS
	}
	return Locale{
		Tag:        tag,
		Monday:     loc,
		MonthFirst: base.String() == "en" && (conf != language.Exact || region.String() == "US"),
	}
}

var mondayLocales = map[string]monday.Locale{
	"en":    monday.LocaleEnUS,
	"en_us": monday.LocaleEnUS,
	"en_gb": monday.LocaleEnGB,
	"de":    monday.LocaleDeDE,
	"fr":    monday.LocaleFrFR,
	"fr_ca": monday.LocaleFrCA,
	"es":    monday.LocaleEsES,
	"it":    monday.LocaleItIT,
	"pt":    monday.LocalePtPT,
	"pt_br": monday.LocalePtBR,
	"nl":    monday.LocaleNlNL,
	"nl_be": monday.LocaleNlBE,
	"ru":    monday.LocaleRuRU,
	"pl":    monday.LocalePlPL,
	"cs":    monday.LocaleCsCZ,
	"da":    monday.LocaleDaDK,
	"fi":    monday.LocaleFiFI,
	"sv":    monday.LocaleSvSE,
	"nb":    monday.LocaleNbNO,
	"nn":    monday.LocaleNnNO,
	"ja":    monday.LocaleJaJP,
	"zh":    monday.LocaleZhCN,
	"zh_tw": monday.LocaleZhTW,
	"ko":    monday.LocaleKoKR,
	"tr":    monday.LocaleTrTR,
	"uk":    monday.LocaleUkUA,
	"el":    monday.LocaleElGR,
	"ro":    monday.LocaleRoRO,
	"hu":    monday.LocaleHuHU,
	"bg":    monday.LocaleBgBG,
	"id":    monday.LocaleIdID,
	"th":    monday.LocaleThTH,
}

// dateFilter implements `date: "<fmt>" [, "<locale>"]`. Input that is not a
// time and does not parse as one passes through unchanged.
func (e *Evaluator) dateFilter(in any, args []any) any {
	if len(args) == 0 {
		return in
	}
	layout := value.String(args[0])
	loc := e.locale
	if len(args) > 1 {
		if s := value.String(args[1]); s != "" {
			loc = ParseLocale(s)
		}
	}
	t, ok := toTime(in, loc)
	if !ok {
		return in
	}
	return FormatDate(t, layout, loc)
}

func toTime(in any, loc Locale) (time.Time, bool) {
	switch v := in.(type) {
	case time.Time:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		t, err := dateparse.ParseIn(s, time.UTC, dateparse.PreferMonthFirst(loc.MonthFirst))
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// FormatDate expands %Y %m %d %B %b and %% in layout. Month names are
// localized; every other byte is copied literally.
func FormatDate(t time.Time, layout string, loc Locale) string {
	var sb strings.Builder
	for i := 0; i < len(layout); i++ {
		c := layout[i]
		if c != '%' || i+1 == len(layout) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch layout[i] {
		case 'Y':
			fmt.Fprintf(&sb, "%04d", t.Year())
		case 'm':
			fmt.Fprintf(&sb, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&sb, "%02d", t.Day())
		case 'B':
			sb.WriteString(monday.Format(t, "January", loc.Monday))
		case 'b':
			sb.WriteString(monday.Format(t, "Jan", loc.Monday))
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(layout[i])
		}
	}
	return sb.String()
}
