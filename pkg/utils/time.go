package utils

import (
	"time"
)

// time.go - утилиты торгового календаря
//
// Назначение:
// Вспомогательные функции для планировщика ребаланса и внутридневного
// square-off. Все расчёты ведутся в UTC модельного времени прогона.
//
// Функции:
// - DayStart: начало дня (00:00:00)
// - SameDay / SameISOWeek / SameMonth / SameQuarter: сравнение периодов
// - IsQuarterStartMonth: январь/апрель/июль/октябрь
// - AfterCutoff: время дня достигло порога square-off

// DayStart возвращает начало дня для указанного времени в UTC
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay возвращает true, если оба времени приходятся на один день UTC
func SameDay(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// SameISOWeek возвращает true, если оба времени приходятся на одну ISO-неделю.
// Используется недельным ребалансом: "первый торговый день недели" - это
// первый тик, попавший в новую ISO-неделю.
func SameISOWeek(a, b time.Time) bool {
	ay, aw := a.UTC().ISOWeek()
	by, bw := b.UTC().ISOWeek()
	return ay == by && aw == bw
}

// SameMonth возвращает true, если оба времени приходятся на один месяц
func SameMonth(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// SameQuarter возвращает true, если оба времени приходятся на один квартал
func SameQuarter(a, b time.Time) bool {
	a, b = a.UTC(), b.UTC()
	return a.Year() == b.Year() && quarterOf(a.Month()) == quarterOf(b.Month())
}

// IsQuarterStartMonth возвращает true для января, апреля, июля и октября
func IsQuarterStartMonth(m time.Month) bool {
	switch m {
	case time.January, time.April, time.July, time.October:
		return true
	default:
		return false
	}
}

// AfterCutoff возвращает true, если время дня t достигло порога hh:mm.
// Используется для time-based square-off независимо от PNL.
func AfterCutoff(t time.Time, hour, minute int) bool {
	t = t.UTC()
	if t.Hour() > hour {
		return true
	}
	return t.Hour() == hour && t.Minute() >= minute
}

func quarterOf(m time.Month) int {
	return (int(m) - 1) / 3
}
