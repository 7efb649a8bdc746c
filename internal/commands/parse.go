package commands

import (
	"fmt"
	"strconv"
	"strings"
)

// tokenize splits command text into tokens, honouring quotes and backslash escapes.
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// parseFlags splits raw args into positionals and flags.
//
//	--k=v, --k v, --flag (bool)
//	-k=v, -k v, -abc (bool flags a,b,c)
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--") && len(a) > 2 {
			key := strings.TrimPrefix(a, "--")
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[key[:eq]] = key[eq+1:]
				continue
			}
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags[key] = args[i+1]
				i++
				continue
			}
			bools[key] = true
			continue
		}
		if strings.HasPrefix(a, "-") && len(a) > 1 && a != "-" {
			key := strings.TrimPrefix(a, "-")
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				flags[key[:eq]] = key[eq+1:]
				continue
			}
			if len(key) == 1 {
				if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
					flags[key] = args[i+1]
					i++
					continue
				}
				bools[key] = true
				continue
			}
			for j := 0; j < len(key); j++ {
				bools[string(key[j])] = true
			}
			continue
		}
		pos = append(pos, a)
	}
	return pos, flags, bools
}

// ParseTimeOfDay reads a time of day such as "21:30", "9:30", "9:30 pm",
// "9:30p", "9 am" or "21".
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	bad := fmt.Errorf("time %q not recognized; use e.g. 9:00, 21:30 or 9:30 pm", strings.TrimSpace(s))

	t := strings.ToLower(strings.Join(strings.Fields(s), ""))
	if t == "" {
		return 0, 0, bad
	}
	meridiem := ""
	switch {
	case strings.HasSuffix(t, "am"), strings.HasSuffix(t, "pm"):
		meridiem, t = t[len(t)-2:len(t)-1], t[:len(t)-2]
	case strings.HasSuffix(t, "a"), strings.HasSuffix(t, "p"):
		meridiem, t = t[len(t)-1:], t[:len(t)-1]
	}

	hs, ms, hasMin := strings.Cut(t, ":")
	if hs == "" || len(hs) > 2 || (hasMin && len(ms) != 2) {
		return 0, 0, bad
	}
	hour, err = strconv.Atoi(hs)
	if err != nil {
		return 0, 0, bad
	}
	if hasMin {
		if minute, err = strconv.Atoi(ms); err != nil || minute < 0 || minute > 59 {
			return 0, 0, bad
		}
	}

	switch meridiem {
	case "":
		if hour < 0 || hour > 23 {
			return 0, 0, bad
		}
	default:
		if hour < 1 || hour > 12 {
			return 0, 0, bad
		}
		hour %= 12
		if meridiem == "p" {
			hour += 12
		}
	}
	return hour, minute, nil
}

// FormatTimeOfDay renders hour:minute as "9:05 AM".
func FormatTimeOfDay(hour, minute int) string {
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:%02d %s", h, minute, suffix)
}
