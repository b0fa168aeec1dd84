package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(year int, month time.Month, day int) func() time.Time {
	return func() time.Time { return time.Date(year, month, day, 10, 0, 0, 0, time.Local) }
}

func TestAnalyzeSchedulingRequest(t *testing.T) {
	a := NewAnalyzer(fixedClock(2026, time.October, 19))
	got := a.Analyze("내일 오후 3시에 병원 예약 일정 추가해줘")
	assert.Equal(t, Analysis{
		Date:         "2026-10-20",
		Time:         "15:00",
		Title:        "3에 병원 해줘",
		Category:     CategoryMedical,
		OriginalText: "내일 오후 3시에 병원 예약 일정 추가해줘",
		Confidence:   1,
	}, got)
}

func TestDate(t *testing.T) {
	a := NewAnalyzer(fixedClock(2026, time.October, 19))
	cases := map[string]string{
		"오늘 회의":      "2026-10-19",
		"내일 약속":      "2026-10-20",
		"모레 점심":      "2026-10-21",
		"이틀 뒤에 만나자":  "2026-10-21",
		"삼일 뒤 병원":    "2026-10-22",
		"일주일 뒤 생일":   "2026-10-26",
		"다음 주 회의":    "2026-10-26",
		"12월 25일 파티": "2026-12-25",
		"13월 40일 파티": "2026-10-19",
		"언젠가":        "2026-10-19",
	}
	for text, want := range cases {
		assert.Equal(t, want, a.Date(text), text)
	}
}

func TestDateCrossesYear(t *testing.T) {
	a := NewAnalyzer(fixedClock(2026, time.December, 31))
	assert.Equal(t, "2027-01-01", a.Date("내일 아침"))
}

func TestTime(t *testing.T) {
	cases := map[string]string{
		"오전 9시":      "09:00",
		"오전 12시":     "00:00",
		"아침 7시 30분":  "07:30",
		"오후 3시":      "15:00",
		"오후 12시":     "12:00",
		"저녁 6시":      "18:00",
		"점심 1시":      "13:00",
		"점심 12시":     "12:00",
		"10:30에 회의":  "10:30",
		"9시 30분":     "09:30",
		"25시":        DefaultTime,
		"시간 날 때 보자": DefaultTime,
	}
	for text, want := range cases {
		assert.Equal(t, want, Time(text), text)
	}
}

func TestTitle(t *testing.T) {
	assert.Equal(t, DefaultTitle, Title("일정 추가"))
	assert.Equal(t, "엄마 생일 파티", Title("내일 엄마 생일 파티 일정 등록해주세요"))
}

func TestCategory(t *testing.T) {
	cases := map[string]string{
		"가족 모임":    CategoryFamily,
		"치과 가기":    CategoryMedical,
		"동네 의원":    CategoryMedical,
		"팀 미팅":     CategoryMeeting,
		"저녁 먹기":    CategoryMeal,
		"결혼 기념일":   CategoryAnniversary,
		"그냥 메모해줘": CategoryGeneral,
	}
	for text, want := range cases {
		assert.Equal(t, want, Category(text), text)
	}
}

func TestConfidence(t *testing.T) {
	assert.Zero(t, Confidence("안녕"))
	assert.InDelta(t, 0.3, Confidence("내일"), 1e-9)
	assert.InDelta(t, 0.8, Confidence("내일 오후 회의"), 1e-9)
	assert.LessOrEqual(t, Confidence("오늘 오후 3시 가족 저녁 식사 약속"), 1.0)
}
