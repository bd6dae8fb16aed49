package actions

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nhle/mailfiler/internal/message"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// Expand substitutes message-derived values into a destination
// mailbox template. Supported placeholders:
//
//   - {year}, {month}, {day} (also reachable as {date.year} etc.)
//     from the parsed Date header, zero-padded;
//   - any header under its lower-cased name with "-" replaced by "_",
//     e.g. {x_list_id} for X-List-Id.
//
// Placeholders that cannot be resolved expand to the empty string, so
// an unparsable date never fails a move.
func Expand(template string, msg *message.Message) string {
	if !strings.ContainsRune(template, '{') {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(m, "{"), "}")
		return resolve(name, msg)
	})
}

func resolve(name string, msg *message.Message) string {
	switch strings.TrimPrefix(name, "date.") {
	case "year":
		if t, err := msg.Date(); err == nil {
			return fmt.Sprintf("%04d", t.Year())
		}
		return ""
	case "month":
		if t, err := msg.Date(); err == nil {
			return fmt.Sprintf("%02d", int(t.Month()))
		}
		return ""
	case "day":
		if t, err := msg.Date(); err == nil {
			return fmt.Sprintf("%02d", t.Day())
		}
		return ""
	}
	header := strings.ReplaceAll(strings.ToLower(name), "_", "-")
	return msg.Header(header)
}
