package relay

import (
	"html"
	"strings"

	"tgwabridge/internal/phone"
)

// idMarker prefixes the trailing token of every signature.
const idMarker = "#ID"

// Signature builds the HTML block appended to messages relayed into the
// group. number is the sender's number as WhatsApp reported it; the last line
// ends with "+{number} #ID{number}" so operator replies can be routed back.
func Signature(number, name string) string {
	if strings.TrimSpace(name) == "" {
		name = number
	}
	var sb strings.Builder
	sb.WriteString("\n\n<i>~whatsapp</i> ")
	sb.WriteString(`<a href="https://wa.me/` + number + `">`)
	sb.WriteString(html.EscapeString(name))
	sb.WriteString("</a> +" + number + " " + idMarker + number)
	return sb.String()
}

// RecoverNumber extracts the end user's number from the text of a relayed
// group message. It reads the last line and takes the token before the
// trailing #ID marker, or the second-to-last token when no marker is found.
// The result has its '+' stripped and is not canonicalized.
func RecoverNumber(text string) (string, bool) {
	text = strings.TrimRight(text, " \t\r\n")
	if text == "" {
		return "", false
	}
	lastLine := text[strings.LastIndex(text, "\n")+1:]
	fields := strings.Fields(lastLine)

	marker := -1
	for i := len(fields) - 1; i >= 0; i-- {
		if strings.HasPrefix(fields[i], idMarker) {
			marker = i
			break
		}
	}

	var token string
	switch {
	case marker > 0:
		token = fields[marker-1]
	case marker < 0 && len(fields) >= 2:
		token = fields[len(fields)-2]
	default:
		return "", false
	}

	number := phone.Clean(token)
	if !phone.IsDigits(number) {
		return "", false
	}
	return number, true
}
