package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Record keys of the trace wire format.
const (
	KeyBeginTest = "BeginTest"
	KeyEndTest   = "EndTest"
	KeyBeginUnit = "BeginUnit"
	KeyEndUnit   = "EndUnit"
	KeyLocation  = "Location"
)

// ParseError reports a malformed trace record.
type ParseError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("trace line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// Parse reads a trace log. Lines that are not trace records, such as output
// of the test framework sharing the same stream, are skipped.
func Parse(r io.Reader) (Trace, error) {
	var (
		tr    Trace
		test  string
		unit  string
		inTst bool
		inUnt bool
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		key, value, hasValue := strings.Cut(line, "=")
		fail := func(reason string) error {
			return &ParseError{Line: lineNo, Text: line, Reason: reason}
		}

		switch key {
		case KeyBeginTest:
			if !hasValue || value == "" {
				return nil, fail("test without name")
			}
			if inTst {
				return nil, fail("test started before previous test ended")
			}
			test, inTst = value, true

		case KeyEndTest:
			if hasValue {
				continue
			}
			if !inTst {
				return nil, fail("end of test without begin")
			}
			test, inTst = "", false

		case KeyBeginUnit:
			if !hasValue || value == "" {
				return nil, fail("unit without name")
			}
			if inUnt {
				return nil, fail("unit started before previous unit ended")
			}
			unit, inUnt = value, true

		case KeyEndUnit:
			if hasValue {
				continue
			}
			if !inUnt {
				return nil, fail("end of unit without begin")
			}
			unit, inUnt = "", false

		case KeyLocation:
			if !hasValue || value == "" {
				return nil, fail("location without id")
			}
			tr = append(tr, Location{Test: test, Unit: unit, ID: value})
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}

	return tr, nil
}

// ParseFile parses the trace log at path.
func ParseFile(path string) (Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening trace %s: %w", path, err)
	}
	defer f.Close()

	tr, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing trace %s: %w", path, err)
	}
	return tr, nil
}
