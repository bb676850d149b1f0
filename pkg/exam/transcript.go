package exam

import (
	"strings"
)

// RenderTranscript renders the conversation history as labeled lines, the
// form both the evaluation prompt and the fallback prompt consume.
func RenderTranscript(turns []Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		switch turn.Sender {
		case SenderExaminer:
			b.WriteString("Examiner: ")
		default:
			b.WriteString("Student: ")
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}
