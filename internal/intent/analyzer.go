// Package intent extracts calendar fields (date, time, title, category)
// from a Korean utterance.
package intent

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Analysis is the structured reading of one utterance.
type Analysis struct {
	Date         string  `json:"date"` // YYYY-MM-DD
	Time         string  `json:"time"` // HH:MM, 24h
	Title        string  `json:"title"`
	Category     string  `json:"category"`
	OriginalText string  `json:"original_text"`
	Confidence   float64 `json:"confidence"`
}

const (
	DefaultTime  = "14:00"
	DefaultTitle = "일정"

	CategoryFamily      = "family"
	CategoryMedical     = "medical"
	CategoryMeeting     = "meeting"
	CategoryAppointment = "appointment"
	CategoryBirthday    = "birthday"
	CategoryAnniversary = "anniversary"
	CategoryMeal        = "meal"
	CategoryGeneral     = "general"
)

type keyword struct {
	word     string
	category string
}

// Checked in order; the first keyword found wins.
var categoryKeywords = []keyword{
	{"가족", CategoryFamily},
	{"병원", CategoryMedical},
	{"회의", CategoryMeeting},
	{"약속", CategoryAppointment},
	{"생일", CategoryBirthday},
	{"기념일", CategoryAnniversary},
	{"식사", CategoryMeal},
	{"저녁", CategoryMeal},
	{"점심", CategoryMeal},
	{"아침", CategoryMeal},
	{"일반", CategoryGeneral},
}

var extraCategoryKeywords = []keyword{
	{"의원", CategoryMedical},
	{"클리닉", CategoryMedical},
	{"치과", CategoryMedical},
	{"미팅", CategoryMeeting},
}

var titleStopwords = []string{
	"일정", "약속", "예약", "추가", "등록", "잡아주세요", "잡아",
	"오늘", "내일", "모레", "이틀 뒤", "삼일 뒤", "일주일 뒤", "다음 주",
	"오전", "오후", "저녁", "점심", "아침", "시", "분",
	"나", "저", "제가", "있어", "해주세요", "부탁해",
}

var (
	reTwoDays   = regexp.MustCompile(`이틀\s*뒤`)
	reThreeDays = regexp.MustCompile(`삼일\s*뒤`)
	reWeek      = regexp.MustCompile(`일주일\s*뒤|다음\s*주`)
	reMonthDay  = regexp.MustCompile(`(\d{1,2})월\s*(\d{1,2})일`)

	reMorning   = regexp.MustCompile(`(?:오전|아침)\s*(\d{1,2})시(?:\s*(\d{1,2})분)?`)
	reAfternoon = regexp.MustCompile(`(?:오후|저녁)\s*(\d{1,2})시(?:\s*(\d{1,2})분)?`)
	reLunch     = regexp.MustCompile(`점심\s*(\d{1,2})시(?:\s*(\d{1,2})분)?`)
	reClock     = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	reHour      = regexp.MustCompile(`(\d{1,2})시(?:\s*(\d{1,2})분)?`)
)

// Analyzer reads calendar intents relative to the current date.
type Analyzer struct {
	now func() time.Time
}

// NewAnalyzer returns an Analyzer. A nil clock uses time.Now.
func NewAnalyzer(now func() time.Time) *Analyzer {
	if now == nil {
		now = time.Now
	}
	return &Analyzer{now: now}
}

// Analyze extracts the calendar fields of text.
func (a *Analyzer) Analyze(text string) Analysis {
	return Analysis{
		Date:         a.Date(text),
		Time:         Time(text),
		Title:        Title(text),
		Category:     Category(text),
		OriginalText: text,
		Confidence:   Confidence(text),
	}
}

// Date resolves relative day words and "M월 D일". Defaults to today.
func (a *Analyzer) Date(text string) string {
	today := a.now()
	day := func(offset int) string { return today.AddDate(0, 0, offset).Format("2006-01-02") }
	switch {
	case strings.Contains(text, "오늘"):
		return day(0)
	case strings.Contains(text, "내일"):
		return day(1)
	case strings.Contains(text, "모레") || reTwoDays.MatchString(text):
		return day(2)
	case reThreeDays.MatchString(text):
		return day(3)
	case reWeek.MatchString(text):
		return day(7)
	}
	if m := reMonthDay.FindStringSubmatch(text); m != nil {
		month, _ := strconv.Atoi(m[1])
		dom, _ := strconv.Atoi(m[2])
		if month >= 1 && month <= 12 && dom >= 1 && dom <= 31 {
			return fmt.Sprintf("%d-%02d-%02d", today.Year(), month, dom)
		}
	}
	return day(0)
}

// Time resolves "오전/오후/저녁/점심/아침 N시", "HH:MM" and "N시" to 24h
// HH:MM. Defaults to DefaultTime.
func Time(text string) string {
	if m := reMorning.FindStringSubmatch(text); m != nil {
		hour := atoi(m[1])
		if hour == 12 {
			hour = 0
		}
		return clock(hour, m[2])
	}
	if m := reAfternoon.FindStringSubmatch(text); m != nil {
		hour := atoi(m[1])
		if hour < 12 {
			hour += 12
		}
		return clock(hour, m[2])
	}
	if m := reLunch.FindStringSubmatch(text); m != nil {
		hour := atoi(m[1])
		if hour >= 1 && hour <= 5 {
			hour += 12
		}
		return clock(hour, m[2])
	}
	if m := reClock.FindStringSubmatch(text); m != nil {
		return clock(atoi(m[1]), m[2])
	}
	if m := reHour.FindStringSubmatch(text); m != nil {
		return clock(atoi(m[1]), m[2])
	}
	return DefaultTime
}

func clock(hour int, minute string) string {
	minutes := atoi(minute)
	if hour > 23 || minutes > 59 {
		return DefaultTime
	}
	return fmt.Sprintf("%02d:%02d", hour, minutes)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Title strips scheduling words from text. Defaults to DefaultTitle when
// fewer than two characters remain.
func Title(text string) string {
	title := text
	for _, word := range titleStopwords {
		title = strings.ReplaceAll(title, word, "")
	}
	title = strings.Join(strings.Fields(title), " ")
	title = strings.TrimRight(title, ".!?")
	if len([]rune(title)) < 2 {
		return DefaultTitle
	}
	return title
}

// Category classifies text by keyword.
func Category(text string) string {
	lower := strings.ToLower(text)
	for _, k := range categoryKeywords {
		if strings.Contains(lower, k.word) {
			return k.category
		}
	}
	for _, k := range extraCategoryKeywords {
		if strings.Contains(lower, k.word) {
			return k.category
		}
	}
	return CategoryGeneral
}

// Confidence scores how much calendar information text carries, in [0, 1].
func Confidence(text string) float64 {
	var c float64
	if containsAny(text, "오늘", "내일", "모레", "이틀", "일주일") {
		c += 0.3
	}
	if containsAny(text, "시", "분", "오전", "오후", "저녁", "점심") {
		c += 0.3
	}
	for _, k := range categoryKeywords {
		if strings.Contains(text, k.word) {
			c += 0.2
			break
		}
	}
	if len([]rune(Title(text))) > 2 {
		c += 0.2
	}
	return math.Min(math.Round(c*100)/100, 1)
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
