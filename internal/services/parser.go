package services

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// <quantity> <product name> talla <size>
var orderLinePattern = regexp.MustCompile(`(?i)(\d+)\s+([a-záéíóúüñ\s]+?)\s+talla\s+(\w+)`)

// ErrLineFormat is returned for a line that does not follow the order pattern
var ErrLineFormat = errors.New("line does not match <cantidad> <producto> talla <talla>")

// ParsedLine is one order line as typed by the user
type ParsedLine struct {
	Quantity    int
	ProductName string
	Size        string
}

// SplitLines returns the non-empty trimmed lines of raw
func SplitLines(raw string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ParseLine parses a single order line
func ParseLine(line string) (ParsedLine, error) {
	m := orderLinePattern.FindStringSubmatch(line)
	if m == nil {
		return ParsedLine{}, ErrLineFormat
	}

	quantity, err := strconv.Atoi(m[1])
	if err != nil {
		return ParsedLine{}, errors.Wrap(ErrLineFormat, "quantity out of range")
	}
	if quantity <= 0 {
		return ParsedLine{}, errors.Wrap(ErrLineFormat, "quantity must be positive")
	}

	return ParsedLine{
		Quantity:    quantity,
		ProductName: strings.Join(strings.Fields(m[2]), " "),
		Size:        m[3],
	}, nil
}
