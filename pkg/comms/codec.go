package comms

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// Prefix starts every data line.
	Prefix = "~~"

	// Separator splits field, type code and data.
	Separator = "~"

	// ArraySeparator joins array elements.
	ArraySeparator = ","

	// MaxPending bounds the unterminated input a Parser will hold.
	MaxPending = 4096
)

var typeCodes = map[Kind]string{
	KindBool:        "b",
	KindInt:         "i",
	KindIntArray:    "i[]",
	KindDouble:      "d",
	KindDoubleArray: "d[]",
	KindString:      "s",
}

// TypeCode returns the wire code for a kind.
func TypeCode(k Kind) (string, bool) {
	code, ok := typeCodes[k]
	return code, ok
}

// KindForCode returns the kind a wire code decodes to.
func KindForCode(code string) (Kind, bool) {
	for k, c := range typeCodes {
		if c == code {
			return k, true
		}
	}
	return 0, false
}

// reserved are the characters a field name or string payload may not carry.
// DecodeLine splits on every separator, so data may not hold one either.
const reserved = Separator + "\n\r"

// EncodeLine renders one field as a newline-terminated data line. Field names
// must be non-empty; neither they nor string data may contain "~", "\n" or
// "\r" (ErrUnencodable).
func EncodeLine(field string, v Value) (string, error) {
	code, ok := TypeCode(v.Kind())
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedKind, v.Kind())
	}
	if field == "" {
		return "", fmt.Errorf("%w: empty field name", ErrUnencodable)
	}
	if strings.ContainsAny(field, reserved) {
		return "", fmt.Errorf("%w: field name %q", ErrUnencodable, field)
	}

	var data string
	switch p := v.payload.(type) {
	case bool:
		data = strconv.FormatBool(p)
	case int:
		data = strconv.Itoa(p)
	case []int:
		parts := make([]string, len(p))
		for i, n := range p {
			parts[i] = strconv.Itoa(n)
		}
		data = strings.Join(parts, ArraySeparator)
	case float64:
		data = formatDouble(p)
	case []float64:
		parts := make([]string, len(p))
		for i, d := range p {
			parts[i] = formatDouble(d)
		}
		data = strings.Join(parts, ArraySeparator)
	case string:
		if strings.ContainsAny(p, reserved) {
			return "", fmt.Errorf("%w: field %s: string data %q", ErrUnencodable, field, p)
		}
		data = p
	}

	return Prefix + field + Separator + code + Separator + data + "\n", nil
}

// DecodeLine parses one line (with or without its trailing newline).
// It returns ErrNotData for lines lacking the prefix, ErrMalformedLine when
// the line does not split into exactly three parts, ErrUnknownTypeCode, or a
// parse error for bad data.
func DecodeLine(line string) (string, Value, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, Prefix) {
		return "", Value{}, ErrNotData
	}

	parts := strings.Split(strings.TrimPrefix(line, Prefix), Separator)
	if len(parts) != 3 {
		return "", Value{}, fmt.Errorf("%w: %d parts", ErrMalformedLine, len(parts))
	}
	field, code, data := parts[0], parts[1], parts[2]

	kind, ok := KindForCode(code)
	if !ok {
		return field, Value{}, fmt.Errorf("%w: %q", ErrUnknownTypeCode, code)
	}

	payload, err := decodeData(kind, data)
	if err != nil {
		return field, Value{}, fmt.Errorf("field %s: failed to decode %s data %q: %w", field, kind, data, err)
	}

	v, err := NewValue(kind, payload)
	if err != nil {
		return field, Value{}, err
	}
	return field, v, nil
}

func decodeData(kind Kind, data string) (any, error) {
	switch kind {
	case KindBool:
		return data == "true" || data == "1", nil
	case KindInt:
		return strconv.Atoi(strings.TrimSpace(data))
	case KindIntArray:
		out := []int{}
		for _, s := range splitArray(data) {
			n, err := strconv.Atoi(s)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	case KindDouble:
		return strconv.ParseFloat(strings.TrimSpace(data), 64)
	case KindDoubleArray:
		out := []float64{}
		for _, s := range splitArray(data) {
			d, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	default:
		return data, nil
	}
}

// splitArray splits comma-joined data, skipping empty elements so a
// trailing separator is tolerated.
func splitArray(data string) []string {
	var out []string
	for _, s := range strings.Split(data, ArraySeparator) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func formatDouble(d float64) string {
	return strconv.FormatFloat(d, 'g', -1, 64)
}

// Frame is one complete line produced by a Parser.
type Frame struct {
	Raw   string
	Field string
	Value Value
	// Err is ErrNotData for diagnostic text, ErrLineTooLong for discarded
	// input, or a decode error. Value is only valid when Err is nil.
	Err error
}

// Parser splits a byte stream into lines and decodes them. A trailing
// partial line is kept until the rest of it arrives.
type Parser struct {
	pending strings.Builder
}

// Feed appends a chunk and returns every line it completed.
func (p *Parser) Feed(chunk string) []Frame {
	p.pending.WriteString(chunk)
	buf := p.pending.String()

	var frames []Frame
	for {
		i := strings.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		raw := strings.TrimSpace(buf[:i])
		buf = buf[i+1:]
		if raw == "" {
			continue
		}
		field, v, err := DecodeLine(raw)
		frames = append(frames, Frame{Raw: raw, Field: field, Value: v, Err: err})
	}

	if len(buf) > MaxPending {
		frames = append(frames, Frame{Raw: buf, Err: ErrLineTooLong})
		buf = ""
	}

	p.pending.Reset()
	p.pending.WriteString(buf)
	return frames
}

// Pending returns the unterminated input held for the next Feed.
func (p *Parser) Pending() string {
	return p.pending.String()
}
