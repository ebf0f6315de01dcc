// Package junit reads the JUnit XML report pytest writes with --junitxml.
package junit

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

type testSuites struct {
	XMLName    xml.Name    `xml:"testsuites"`
	TestSuites []testSuite `xml:"testsuite"`
}

type testSuite struct {
	Name      string     `xml:"name,attr"`
	Tests     int        `xml:"tests,attr"`
	Skipped   int        `xml:"skipped,attr"`
	Time      float64    `xml:"time,attr"`
	TestCases []testCase `xml:"testcase"`
}

type testCase struct {
	Name      string   `xml:"name,attr"`
	ClassName string   `xml:"classname,attr"`
	Failure   *problem `xml:"failure"`
	Error     *problem `xml:"error"`
}

type problem struct {
	Message string `xml:"message,attr"`
	Content string `xml:",chardata"`
}

// Failure is one failed or errored test.
type Failure struct {
	Test    string
	Kind    string // "failure" or "error"
	Message string
}

func (f Failure) String() string {
	if f.Message == "" {
		return fmt.Sprintf("[%s] %s", f.Kind, f.Test)
	}
	return fmt.Sprintf("[%s] %s: %s", f.Kind, f.Test, firstLine(f.Message))
}

// Summary totals a test run.
type Summary struct {
	Tests    int
	Skipped  int
	Seconds  float64
	Failures []Failure
}

// Passed reports whether no test failed or errored.
func (s Summary) Passed() bool {
	return len(s.Failures) == 0
}

func (s Summary) String() string {
	return fmt.Sprintf("%d tests, %d failed, %d skipped in %.1fs", s.Tests, len(s.Failures), s.Skipped, s.Seconds)
}

// Parse accepts both a <testsuites> root (pytest 5.1+) and a bare
// <testsuite>.
func Parse(data []byte) (Summary, error) {
	var suites testSuites
	if err := xml.Unmarshal(data, &suites); err == nil && len(suites.TestSuites) > 0 {
		return summarize(suites.TestSuites), nil
	}

	var suite testSuite
	if err := xml.Unmarshal(data, &suite); err != nil {
		return Summary{}, fmt.Errorf("parse JUnit XML: %w", err)
	}
	return summarize([]testSuite{suite}), nil
}

// ReadFile parses the report at path.
func ReadFile(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, err
	}
	return Parse(data)
}

func summarize(suites []testSuite) Summary {
	var s Summary
	for _, suite := range suites {
		s.Tests += suite.Tests
		s.Skipped += suite.Skipped
		s.Seconds += suite.Time
		for _, tc := range suite.TestCases {
			name := tc.Name
			if tc.ClassName != "" {
				name = tc.ClassName + "::" + tc.Name
			}
			if tc.Failure != nil {
				s.Failures = append(s.Failures, Failure{Test: name, Kind: "failure", Message: message(tc.Failure)})
			}
			if tc.Error != nil {
				s.Failures = append(s.Failures, Failure{Test: name, Kind: "error", Message: message(tc.Error)})
			}
		}
	}
	return s
}

func message(p *problem) string {
	if p.Message != "" {
		return p.Message
	}
	return strings.TrimSpace(p.Content)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
