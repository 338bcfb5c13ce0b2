// Package stats derives reading statistics from tracker entities.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/bookworm/internal/tracker"
)

const (
	dateLayout   = "2006-01-02"
	maxGenres    = 6
	maxPaceWeeks = 12
	maxDailyDays = 30
)

// WeekStart returns the date key of the Sunday opening t's week in loc.
func WeekStart(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day()-int(local.Weekday()), 0, 0, 0, 0, loc)
	return start.Format(dateLayout)
}

type DayTotal struct {
	Date    string `json:"date" yaml:"date"`
	Pages   int    `json:"pages" yaml:"pages"`
	Minutes int    `json:"minutes" yaml:"minutes"`
}

type GenreShare struct {
	Genre      string `json:"genre" yaml:"genre"`
	Count      int    `json:"count" yaml:"count"`
	Percentage int    `json:"percentage" yaml:"percentage"`
}

type WeekPace struct {
	WeekStart  string `json:"week_start" yaml:"week_start"`
	AvgPages   int    `json:"avg_pages" yaml:"avg_pages"`
	AvgMinutes int    `json:"avg_minutes" yaml:"avg_minutes"`
}

type YearSummary struct {
	Year             int `json:"year" yaml:"year"`
	BooksCompleted   int `json:"books_completed" yaml:"books_completed"`
	TotalPages       int `json:"total_pages" yaml:"total_pages"`
	TotalMinutes     int `json:"total_minutes" yaml:"total_minutes"`
	AvgPagesPerDay   int `json:"avg_pages_per_day" yaml:"avg_pages_per_day"`
	AvgMinutesPerDay int `json:"avg_minutes_per_day" yaml:"avg_minutes_per_day"`
	CurrentStreak    int `json:"current_streak" yaml:"current_streak"`
	LongestStreak    int `json:"longest_streak" yaml:"longest_streak"`
}

// Report is the full statistics view for one year.
type Report struct {
	Summary            YearSummary  `json:"summary" yaml:"summary"`
	DailyProgress      []DayTotal   `json:"daily_progress" yaml:"daily_progress"`
	GenreBreakdown     []GenreShare `json:"genre_breakdown" yaml:"genre_breakdown"`
	WeeklyPace         []WeekPace   `json:"weekly_pace" yaml:"weekly_pace"`
	HourlyDistribution [24]int      `json:"hourly_distribution" yaml:"hourly_distribution"`
}

// Build computes the report for year. now bounds the averaging window of the current year.
func Build(year int, now time.Time, entries []tracker.ProgressEntry, books []tracker.Book, loc *time.Location) Report {
	inYear := make([]tracker.ProgressEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.CreatedAt.In(loc).Year() == year {
			inYear = append(inYear, entry)
		}
	}
	daily := Daily(inYear, loc)
	if len(daily) > maxDailyDays {
		daily = daily[len(daily)-maxDailyDays:]
	}
	return Report{
		Summary:            Yearly(year, now, entries, books, loc),
		DailyProgress:      daily,
		GenreBreakdown:     Genres(books),
		WeeklyPace:         Pace(inYear, loc),
		HourlyDistribution: Hourly(inYear, loc),
	}
}

// Daily sums entries per calendar day, oldest first.
func Daily(entries []tracker.ProgressEntry, loc *time.Location) []DayTotal {
	totals := make(map[string]*DayTotal)
	for _, entry := range entries {
		key := entry.CreatedAt.In(loc).Format(dateLayout)
		total, ok := totals[key]
		if !ok {
			total = &DayTotal{Date: key}
			totals[key] = total
		}
		total.Pages += entry.PagesRead
		total.Minutes += entry.TimeSpentMinutes
	}
	days := make([]DayTotal, 0, len(totals))
	for _, total := range totals {
		days = append(days, *total)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days
}

// Yearly summarizes a calendar year of activity.
func Yearly(year int, now time.Time, entries []tracker.ProgressEntry, books []tracker.Book, loc *time.Location) YearSummary {
	summary := YearSummary{Year: year}
	days := make([]string, 0)
	seen := make(map[string]bool)
	for _, entry := range entries {
		local := entry.CreatedAt.In(loc)
		if local.Year() != year {
			continue
		}
		summary.TotalPages += entry.PagesRead
		summary.TotalMinutes += entry.TimeSpentMinutes
		key := local.Format(dateLayout)
		if !seen[key] {
			seen[key] = true
			days = append(days, key)
		}
	}
	for _, book := range books {
		if book.IsCompleted && book.CompletedAt != nil && book.CompletedAt.In(loc).Year() == year {
			summary.BooksCompleted++
		}
	}

	elapsedDays := 365
	localNow := now.In(loc)
	if localNow.Year() == year {
		yearStart := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
		elapsedDays = int(math.Ceil(localNow.Sub(yearStart).Hours() / 24))
		elapsedDays = max(elapsedDays, 1)
	}
	summary.AvgPagesPerDay = int(math.Round(float64(summary.TotalPages) / float64(elapsedDays)))
	summary.AvgMinutesPerDay = int(math.Round(float64(summary.TotalMinutes) / float64(elapsedDays)))

	sort.Strings(days)
	summary.CurrentStreak, summary.LongestStreak = streaks(days, localNow, loc)
	return summary
}

// streaks expects sorted, distinct date keys. The current streak counts back from today,
// or from yesterday when nothing was read yet today.
func streaks(days []string, now time.Time, loc *time.Location) (current, longest int) {
	if len(days) == 0 {
		return 0, 0
	}
	run := 0
	var previous time.Time
	for index, key := range days {
		day, err := time.ParseInLocation(dateLayout, key, loc)
		if err != nil {
			continue
		}
		if index > 0 && daysBetween(previous, day) == 1 {
			run++
		} else {
			run = 1
		}
		longest = max(longest, run)
		previous = day
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if daysBetween(previous, today) <= 1 {
		current = run
	}
	return current, longest
}

func daysBetween(from, to time.Time) int {
	fromDate := time.Date(from.Year(), from.Month(), from.Day(), 12, 0, 0, 0, time.UTC)
	toDate := time.Date(to.Year(), to.Month(), to.Day(), 12, 0, 0, 0, time.UTC)
	return int(toDate.Sub(fromDate).Hours() / 24)
}

// Genres counts genre tags across books and returns the most frequent ones.
func Genres(books []tracker.Book) []GenreShare {
	counts := make(map[string]int)
	total := 0
	for _, book := range books {
		for _, genre := range book.Genres {
			counts[genre]++
			total++
		}
	}
	shares := make([]GenreShare, 0, len(counts))
	for genre, count := range counts {
		shares = append(shares, GenreShare{
			Genre:      genre,
			Count:      count,
			Percentage: int(math.Round(float64(count) / float64(total) * 100)),
		})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Count != shares[j].Count {
			return shares[i].Count > shares[j].Count
		}
		return shares[i].Genre < shares[j].Genre
	})
	if len(shares) > maxGenres {
		shares = shares[:maxGenres]
	}
	return shares
}

// Pace averages each week's totals over seven days, keeping the most recent weeks.
func Pace(entries []tracker.ProgressEntry, loc *time.Location) []WeekPace {
	type totals struct{ pages, minutes int }
	weeks := make(map[string]*totals)
	for _, entry := range entries {
		key := WeekStart(entry.CreatedAt, loc)
		week, ok := weeks[key]
		if !ok {
			week = &totals{}
			weeks[key] = week
		}
		week.pages += entry.PagesRead
		week.minutes += entry.TimeSpentMinutes
	}
	pace := make([]WeekPace, 0, len(weeks))
	for key, week := range weeks {
		pace = append(pace, WeekPace{
			WeekStart:  key,
			AvgPages:   int(math.Round(float64(week.pages) / 7)),
			AvgMinutes: int(math.Round(float64(week.minutes) / 7)),
		})
	}
	sort.Slice(pace, func(i, j int) bool { return pace[i].WeekStart < pace[j].WeekStart })
	if len(pace) > maxPaceWeeks {
		pace = pace[len(pace)-maxPaceWeeks:]
	}
	return pace
}

// Hourly counts sessions per local hour of day.
func Hourly(entries []tracker.ProgressEntry, loc *time.Location) [24]int {
	var hours [24]int
	for _, entry := range entries {
		hours[entry.CreatedAt.In(loc).Hour()]++
	}
	return hours
}
