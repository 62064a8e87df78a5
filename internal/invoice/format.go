package invoice

import (
	"fmt"
	"strconv"
	"strings"
)

// Separator joins the non-empty invoice number segments.
const Separator = "-"

// Config is a tenant's invoice numbering configuration.
type Config struct {
	Enabled bool   `json:"enabled"`
	Prefix  string `json:"prefix"`
	Series  string `json:"series"`
	Suffix  string `json:"suffix"`
	Padding int    `json:"padding"`
}

// Format renders sequence n as prefix-series-padded-suffix, omitting empty segments.
// A padding of zero or less disables zero padding.
func Format(cfg Config, n int64) string {
	seq := strconv.FormatInt(n, 10)
	if cfg.Padding > 0 {
		seq = fmt.Sprintf("%0*d", cfg.Padding, n)
	}
	parts := make([]string, 0, 4)
	for _, segment := range []string{cfg.Prefix, cfg.Series, seq, cfg.Suffix} {
		if s := strings.TrimSpace(segment); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, Separator)
}

// Sequence extracts n from a number rendered by Format(cfg, n). It reports false for numbers
// that do not follow cfg, such as ones written under an earlier configuration.
func Sequence(cfg Config, number string) (int64, bool) {
	number = strings.TrimSpace(number)
	head := make([]string, 0, 2)
	for _, segment := range []string{cfg.Prefix, cfg.Series} {
		if s := strings.TrimSpace(segment); s != "" {
			head = append(head, s)
		}
	}
	digits := number
	if len(head) > 0 {
		var ok bool
		if digits, ok = strings.CutPrefix(digits, strings.Join(head, Separator)+Separator); !ok {
			return 0, false
		}
	}
	if suffix := strings.TrimSpace(cfg.Suffix); suffix != "" {
		var ok bool
		if digits, ok = strings.CutSuffix(digits, Separator+suffix); !ok {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n < 1 || Format(cfg, n) != number {
		return 0, false
	}
	return n, true
}
