package verify

import (
	"fmt"
	"strconv"
	"strings"
)

// Score is a parsed playback outcome, field for field what the server
// expects in a run report.
type Score struct {
	Success     bool    `json:"success"`
	Mission     string  `json:"mission"`
	LevelName   string  `json:"level_name"`
	ScoreTime   int64   `json:"score_time"`
	ElapsedTime int64   `json:"elapsed_time"`
	BonusTime   int64   `json:"bonus_time"`
	GemCount    int64   `json:"gem_count"`
	GemTotal    int64   `json:"gem_total"`
	FPS         float64 `json:"fps"`
	FramesCount int64   `json:"frames_count"`
	FramesTime  int64   `json:"frames_time"`
}

// Outcome is the result of one verification attempt. Exactly one of
// Score and Error is set.
type Outcome struct {
	Score *Score
	Error *string
}

// Parse interprets the stdout of the verification tool. A non-zero
// exit, output without a STATUS line, or a STATUS report with missing
// or malformed fields all produce an error outcome carrying the raw
// text, so the attempt is reported as a failed run rather than
// retried forever.
func Parse(stdout string, exitCode int) *Outcome {
	if exitCode != 0 {
		raw := stdout
		return &Outcome{Error: &raw}
	}

	fields := make(map[string]string)
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		key, value, found := strings.Cut(line, ": ")
		if !found {
			continue
		}
		fields[key] = value
	}

	status, ok := fields["STATUS"]
	if !ok {
		raw := stdout
		return &Outcome{Error: &raw}
	}

	score, err := parseScore(fields, status)
	if err != nil {
		msg := err.Error() + "\n" + stdout
		return &Outcome{Error: &msg}
	}
	return &Outcome{Score: score}
}

func parseScore(fields map[string]string, status string) (*Score, error) {
	score := &Score{Success: status == "SUCCESS"}

	var err error
	if score.Mission, err = parseReqString(fields, "MISSION"); err != nil {
		return nil, err
	}
	if score.LevelName, err = parseReqString(fields, "LEVEL NAME"); err != nil {
		return nil, err
	}
	if score.FPS, err = parseReqFloat(fields, "APPROXIMATE FPS"); err != nil {
		return nil, err
	}
	if score.FramesCount, err = parseReqInt(fields, "TOTAL RECORDING FRAMES"); err != nil {
		return nil, err
	}
	if score.FramesTime, err = parseReqInt(fields, "TOTAL RECORDING TIME"); err != nil {
		return nil, err
	}

	if !score.Success {
		// A failed playback reports no trustworthy timing, so those
		// fields stay zero even when present in the output.
		return score, nil
	}

	if score.ScoreTime, err = parseReqInt(fields, "SCORE TIME"); err != nil {
		return nil, err
	}
	if score.ElapsedTime, err = parseReqInt(fields, "ELAPSED TIME"); err != nil {
		return nil, err
	}
	if score.BonusTime, err = parseReqInt(fields, "BONUS TIME"); err != nil {
		return nil, err
	}
	if score.GemCount, score.GemTotal, err = parseGems(fields); err != nil {
		return nil, err
	}

	return score, nil
}

// Values may carry a human-readable rendering after the number, as in
// "3559 (0:03.559)". Only the leading token counts.
func leadingToken(value string) string {
	value = strings.TrimSpace(value)
	if idx := strings.IndexByte(value, ' '); idx >= 0 {
		return value[:idx]
	}
	return value
}

func parseReqString(fields map[string]string, key string) (string, error) {
	value, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("output is missing %s", key)
	}
	return unescape(value), nil
}

func parseReqInt(fields map[string]string, key string) (int64, error) {
	value, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("output is missing %s", key)
	}
	v, err := strconv.ParseInt(leadingToken(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s value %q", key, value)
	}
	return v, nil
}

func parseReqFloat(fields map[string]string, key string) (float64, error) {
	value, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("output is missing %s", key)
	}
	v, err := strconv.ParseFloat(leadingToken(value), 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s value %q", key, value)
	}
	return v, nil
}

// GEM COUNT reads "collected / total".
func parseGems(fields map[string]string) (int64, int64, error) {
	value, ok := fields["GEM COUNT"]
	if !ok {
		return 0, 0, fmt.Errorf("output is missing GEM COUNT")
	}
	parts := strings.SplitN(value, " / ", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bad GEM COUNT value %q", value)
	}
	count, err := strconv.ParseInt(leadingToken(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad GEM COUNT value %q", value)
	}
	total, err := strconv.ParseInt(leadingToken(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad GEM COUNT value %q", value)
	}
	return count, total, nil
}

var unescaper = strings.NewReplacer(
	`\n`, "\n",
	`\r`, "\r",
	`\t`, "\t",
	`\'`, "'",
	`\"`, `"`,
	`\\`, `\`,
)

func unescape(s string) string {
	return unescaper.Replace(s)
}
