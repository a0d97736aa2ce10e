// Package duration turns free-form text such as "25", "45秒" or "2 hours"
// into a canonical number of seconds.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Magnitude bounds accepted by Parse.
const (
	MinMagnitude = 1
	MaxMagnitude = 999
)

// Result is a successfully parsed duration.
type Result struct {
	// Seconds is the canonical duration.
	Seconds int `json:"seconds"`
	// Number is the magnitude the user typed.
	Number int `json:"number"`
	// Unit is the canonical unit label (秒, 分钟, 小时).
	Unit string `json:"unit"`
	// UnitEn is the English unit name (second, minute, hour).
	UnitEn string `json:"unit_en"`
	// DisplayText is "<number> <unit>".
	DisplayText string `json:"display_text"`
}

// Duration returns the result as a time.Duration.
func (r Result) Duration() time.Duration {
	return time.Duration(r.Seconds) * time.Second
}

// EnglishText renders the magnitude with the English unit, pluralised.
func (r Result) EnglishText() string {
	if r.Number == 1 {
		return fmt.Sprintf("%d %s", r.Number, r.UnitEn)
	}
	return fmt.Sprintf("%d %ss", r.Number, r.UnitEn)
}

type pattern struct {
	re         *regexp.Regexp
	unit       string
	unitEn     string
	multiplier int
}

// Patterns are tried in order; the first in-range match wins. Chinese units
// may appear anywhere in the text, English units must end it.
var patterns = []pattern{
	{regexp.MustCompile(`(\d+)\s*秒`), "秒", "second", 1},
	{regexp.MustCompile(`(\d+)\s*分(?:钟)?`), "分钟", "minute", 60},
	{regexp.MustCompile(`(\d+)\s*(?:个)?小时`), "小时", "hour", 3600},
	{regexp.MustCompile(`(\d+)\s*(?:s|secs?|seconds?)$`), "秒", "second", 1},
	{regexp.MustCompile(`(\d+)\s*(?:m|mins?|minutes?)$`), "分钟", "minute", 60},
	{regexp.MustCompile(`(\d+)\s*(?:h|hrs?|hours?)$`), "小时", "hour", 3600},
	{regexp.MustCompile(`^(\d+)$`), "分钟", "minute", 60},
}

// Parse recognises an integer magnitude in [MinMagnitude, MaxMagnitude]
// followed by a unit, so "休息5分钟" and "break 10 min" both parse. A bare
// integer means minutes. A match whose magnitude is out of range does not
// stop the search. ok is false when nothing usable matches.
func Parse(text string) (res Result, ok bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return Result{}, false
	}

	for _, p := range patterns {
		m := p.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < MinMagnitude || n > MaxMagnitude {
			continue
		}
		return Result{
			Seconds:     n * p.multiplier,
			Number:      n,
			Unit:        p.unit,
			UnitEn:      p.unitEn,
			DisplayText: fmt.Sprintf("%d %s", n, p.unit),
		}, true
	}
	return Result{}, false
}

// Format renders seconds compactly, e.g. 3725 -> "1h2m5s", 1500 -> "25m".
func Format(seconds int) string {
	if seconds <= 0 {
		return "0s"
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60

	var b strings.Builder
	if h > 0 {
		fmt.Fprintf(&b, "%dh", h)
	}
	if m > 0 {
		fmt.Fprintf(&b, "%dm", m)
	}
	if s > 0 {
		fmt.Fprintf(&b, "%ds", s)
	}
	return b.String()
}
