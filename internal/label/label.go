// Package label extracts structured matchup information from raw stream
// labels. The extractor is deliberately forgiving: catalog labels mix team
// names with rankings, broadcast times, language tags, and league prefixes
// in no consistent order, so each recognized fragment is peeled off and the
// residue on either side of the separator is treated as a team mention.
package label

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"lineup/internal/prefilter"
)

// Parsed is the structured view of one stream label.
type Parsed struct {
	// Team1 and Team2 are the cleaned mentions on each side of the
	// separator. Team1 is the left side, conventionally the away team for
	// "@" labels but callers must not rely on ordering.
	Team1 string
	Team2 string

	// Date is the event date hint extracted from the label, in the local
	// zone of the reference time. Zero when the label carried no date.
	Date time.Time
	// HasDate reports whether Date is meaningful.
	HasDate bool
	// HasTime reports whether the label carried a clock time. A time
	// without a date promotes to the reference day.
	HasTime bool
	// DateInferred reports that Date came from the time-only promotion
	// rather than an explicit date in the label.
	DateInferred bool

	// Hints holds league, sport, or competition tokens found around the
	// matchup, lowercased. The resolver treats these as advisory.
	Hints []string
}

var (
	prefixHintPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9 .&'-]{1,24}):\s*`)
	rankingPattern    = regexp.MustCompile(`#\d+\s*`)
	bracketTagPattern = regexp.MustCompile(`\s*[(\[][^)\]]{0,18}[)\]]\s*`)
	roundPattern      = regexp.MustCompile(`(?i)\s*[-|,]?\s*\b(round\s+\d+|game\s+\d+|quarter[- ]?finals?|semi[- ]?finals?|finals?|playoffs?|leg\s+\d+)\b\s*$`)

	isoDatePattern  = regexp.MustCompile(`\b(20\d{2})-(\d{2})-(\d{2})\b`)
	monthDayPattern = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})\b`)
	clockPattern    = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*(am|pm)?\b`)
	hourOnlyPattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(am|pm)\b`)
	// Broadcast time ranges like "19:00et-00:00uk"; see extractTZRange.
	tzRangePattern = regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}\s*(?:et|ct|mt|pt|est|cst|mst|pst|edt|cdt|mdt|pdt|uk|gmt|bst)(?:\s*-\s*\d{1,2}:\d{2}\s*[a-z]{2,3})?\b`)
)

var monthIndex = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// Parse extracts matchup structure from a label. The reference time anchors
// relative dates: a bare clock time promotes to the reference day, and a
// month-day date resolves to the year nearest the reference.
//
// The second return value is false when the label has no matchup separator;
// callers should have prefiltered such labels already.
func Parse(text string, now time.Time) (Parsed, bool) {
	var p Parsed

	// Times come out first: a clock like "8:00 PM" contains the colon the
	// prefix-hint pattern keys on, so hint extraction must see a label with
	// no clock left in it.
	rest := text
	rest = extractTZRange(rest)
	rest = extractDate(rest, now, &p)
	rest = extractClock(rest, now, &p)

	if m := prefixHintPattern.FindStringSubmatch(rest); m != nil {
		p.Hints = append(p.Hints, strings.ToLower(strings.TrimSpace(m[1])))
		rest = rest[len(m[0]):]
	}

	left, right, ok := prefilter.SplitMatchup(rest)
	if !ok {
		return Parsed{}, false
	}

	p.Team1 = cleanMention(left, &p)
	p.Team2 = cleanMention(right, &p)
	if p.Team1 == "" || p.Team2 == "" {
		return Parsed{}, false
	}
	return p, true
}

// extractTZRange strips broadcast airing windows. The zone suffixes shift
// with daylight saving, so the clocks cannot be trusted as an event instant;
// the range contributes nothing and resolution falls back to closest-to-now.
func extractTZRange(text string) string {
	if loc := tzRangePattern.FindStringIndex(text); loc != nil {
		return text[:loc[0]] + text[loc[1]:]
	}
	return text
}

func extractDate(text string, now time.Time, p *Parsed) string {
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		setExplicitDate(time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location()), p)
		return strings.Replace(text, m[0], " ", 1)
	}
	if m := monthDayPattern.FindStringSubmatch(text); m != nil {
		month := monthIndex[strings.ToLower(m[1])[:3]]
		day, _ := strconv.Atoi(m[2])
		setExplicitDate(nearestYear(month, day, now), p)
		return strings.Replace(text, m[0], " ", 1)
	}
	return text
}

func setExplicitDate(date time.Time, p *Parsed) {
	p.Date = date
	p.HasDate = true
	p.DateInferred = false
}

func extractClock(text string, now time.Time, p *Parsed) string {
	if m := clockPattern.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if applyClock(hour, minute, m[3], now, p) {
			return strings.Replace(text, m[0], " ", 1)
		}
	}
	if m := hourOnlyPattern.FindStringSubmatch(text); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if applyClock(hour, 0, m[2], now, p) {
			return strings.Replace(text, m[0], " ", 1)
		}
	}
	return text
}

func applyClock(hour, minute int, meridiem string, now time.Time, p *Parsed) bool {
	switch strings.ToLower(meridiem) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return false
	}
	if !p.HasDate {
		p.Date = dayOf(now)
		p.HasDate = true
		p.DateInferred = true
	}
	p.Date = time.Date(p.Date.Year(), p.Date.Month(), p.Date.Day(), hour, minute, 0, 0, now.Location())
	p.HasTime = true
	return true
}

// nearestYear resolves a month-day to the year closest to the reference, so
// a December label seen in January points backward and a January label seen
// in December points forward.
func nearestYear(month time.Month, day int, now time.Time) time.Time {
	candidate := time.Date(now.Year(), month, day, 0, 0, 0, 0, now.Location())
	if candidate.Sub(now) > 183*24*time.Hour {
		return candidate.AddDate(-1, 0, 0)
	}
	if now.Sub(candidate) > 183*24*time.Hour {
		return candidate.AddDate(1, 0, 0)
	}
	return candidate
}

func cleanMention(s string, p *Parsed) string {
	s = rankingPattern.ReplaceAllString(s, "")
	for _, tag := range bracketTagPattern.FindAllString(s, -1) {
		inner := strings.ToLower(strings.Trim(strings.TrimSpace(tag), "()[]"))
		if inner != "" {
			p.Hints = append(p.Hints, inner)
		}
	}
	s = bracketTagPattern.ReplaceAllString(s, " ")
	s = roundPattern.ReplaceAllString(s, "")
	s = strings.Trim(s, " -|,.:@")
	return strings.Join(strings.Fields(s), " ")
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
