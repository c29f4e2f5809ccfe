package bias

import (
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FieldReader is a simple reader for whitespace-delimited table dumps.
type FieldReader struct {
	Pos    int
	Fields []string
}

// NewFieldReader constructs a new field reader around the given data
func NewFieldReader(data string) *FieldReader {
	return &FieldReader{0, strings.Fields(data)}
}

// Read returns the next whitespace-delimited field/token
func (fr *FieldReader) Read() (string, error) {
	if fr.Pos >= len(fr.Fields) {
		return "", io.EOF
	}
	p := fr.Pos
	fr.Pos++
	return fr.Fields[p], nil
}

// ReadFloat reads the next token as a float
func (fr *FieldReader) ReadFloat() (float64, error) {
	s, err := fr.Read()
	if err != nil {
		return 0, err
	}

	return strconv.ParseFloat(s, 64)
}

// Remaining returns how many unread fields are left.
func (fr *FieldReader) Remaining() int {
	return len(fr.Fields) - fr.Pos
}

// Preprocessor for table dumps: drop blank lines and # comments. Returns the
// header line (the first real line) and the rest of the buffer.
func tablePreprocess(data []byte) (string, string, error) {
	lines := strings.Split(string(data), "\n")

	newPos := 0
	for i, ln := range lines {
		ln = strings.TrimSpace(ln)
		if len(ln) < 1 || ln[0] == '#' {
			lines[i] = "" // Empty or comment: skip
			continue
		}

		lines[newPos] = ln
		newPos++
	}

	if newPos < 2 {
		return "", "", errors.Errorf("Table needs a header line and at least one row, found %d lines", newPos)
	}
	return lines[0], strings.Join(lines[1:newPos], "\n"), nil
}
