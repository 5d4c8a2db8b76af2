package console

import "regexp"

var (
	ansiCSI          *regexp.Regexp
	ansiOSC          *regexp.Regexp
	ansiCharset      *regexp.Regexp
	ansiKeypad       *regexp.Regexp
	ansiSingle       *regexp.Regexp
	cursorReportTail *regexp.Regexp
)

func init() {
	ansiCSI = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	ansiOSC = regexp.MustCompile(`\x1b\].*?(?:\x07|\x1b\\)`)
	ansiCharset = regexp.MustCompile(`\x1b[()][0-9A-Za-z]`)
	ansiKeypad = regexp.MustCompile(`\x1b[=>]`)
	ansiSingle = regexp.MustCompile(`\x1b.`)
	// Cursor-position reports arrive split across reads, leaving ";<row>R"
	// fragments after the escape prefix has been stripped.
	cursorReportTail = regexp.MustCompile(`;\d+R`)
}

// StripControl removes terminal escape sequences, cursor-position-report
// artifacts and remaining C0/C1 control bytes from a console line.
func StripControl(s string) string {
	s = ansiCSI.ReplaceAllString(s, "")
	s = ansiOSC.ReplaceAllString(s, "")
	s = ansiCharset.ReplaceAllString(s, "")
	s = ansiKeypad.ReplaceAllString(s, "")
	s = ansiSingle.ReplaceAllString(s, "")
	s = cursorReportTail.ReplaceAllString(s, "")

	result := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\b' {
			if len(result) > 0 {
				result = result[:len(result)-1]
			}
			continue
		}
		if (ch < 0x20 || (ch >= 0x7f && ch <= 0x9f)) && ch != '\t' {
			continue
		}
		result = append(result, ch)
	}
	return string(result)
}
