package service

import (
	"regexp"
	"strconv"
)

// Recording file names commonly embed the achieved time, written with
// any of '.', ',' or ':' as separators and with minute, centisecond
// and millisecond variants. The patterns are tried most-specific
// first so "1.23.456" is read as minutes before "23.456" could match.
var (
	reMinutesMillis = regexp.MustCompile(`(\d+)[.,:](\d+)[.,:](\d{3})`)
	reMinutesCentis = regexp.MustCompile(`(\d+)[.,:](\d+)[.,:](\d{2})`)
	reSecondsMillis = regexp.MustCompile(`(\d+)[.,:](\d{3})`)
	reSecondsCentis = regexp.MustCompile(`(\d+)[.,:](\d{2})`)
	reBareMillis    = regexp.MustCompile(`(\d{4}\d*)`)

	reTASMarker = regexp.MustCompile(`(?i)(\b|_)tas(\b|_)`)
)

// GuessTime extracts the expected finish time in milliseconds from a
// recording file name. Centisecond forms cannot name the final digit,
// so they resolve to the top of their 10ms bucket. Returns false when
// the name carries no recognizable time.
func GuessTime(name string) (int64, bool) {
	_, high, ok := GuessTimeRange(name)
	if !ok {
		return 0, false
	}
	return high, true
}

// GuessTimeRange extracts the inclusive range of finish times in
// milliseconds that a recording file name could denote. Exact forms
// collapse to a single-value range; centisecond forms span the 10ms
// they abbreviate.
func GuessTimeRange(name string) (low, high int64, ok bool) {
	if m := reMinutesMillis.FindStringSubmatch(name); m != nil {
		v := atoi(m[1])*60000 + atoi(m[2])*1000 + atoi(m[3])
		return v, v, true
	}
	if m := reMinutesCentis.FindStringSubmatch(name); m != nil {
		v := atoi(m[1])*60000 + atoi(m[2])*1000 + atoi(m[3])*10
		return v, v + 9, true
	}
	if m := reSecondsMillis.FindStringSubmatch(name); m != nil {
		v := atoi(m[1])*1000 + atoi(m[2])
		return v, v, true
	}
	if m := reSecondsCentis.FindStringSubmatch(name); m != nil {
		v := atoi(m[1])*1000 + atoi(m[2])*10
		return v, v + 9, true
	}
	if m := reBareMillis.FindStringSubmatch(name); m != nil {
		v := atoi(m[1])
		return v, v, true
	}
	return 0, 0, false
}

// GuessTAS reports whether a recording file name marks the run as
// tool-assisted.
func GuessTAS(name string) bool {
	return reTASMarker.MatchString(name)
}

func atoi(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
