// Package parsers ingests test result files (JUnit and TestNG XML)
// into TestResult values.
package parsers

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"flakeradar/internal/model"
)

// DetectFormat guesses the file format from its name. TestNG output is
// JUnit-shaped enough to share a parser.
func DetectFormat(path string) string {
	if strings.HasSuffix(strings.ToLower(filepath.Base(path)), ".xml") {
		return "junit"
	}
	return "unknown"
}

type testCaseXML struct {
	ClassName string      `xml:"classname,attr"`
	Class     string      `xml:"class,attr"`
	Name      string      `xml:"name,attr"`
	Time      string      `xml:"time,attr"`
	Failure   *failureXML `xml:"failure"`
	Error     *failureXML `xml:"error"`
	Skipped   *struct{}   `xml:"skipped"`
}

type failureXML struct {
	Type    string `xml:"type,attr"`
	Message string `xml:"message,attr"`
	Text    string `xml:",chardata"`
}

// ParseJUnitFile reads one JUnit/TestNG XML file.
func ParseJUnitFile(path, defaultSuite string) ([]model.TestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	results, err := ParseJUnit(f, defaultSuite)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return results, nil
}

// ParseJUnit walks the XML token stream so testcase elements are found
// at any nesting depth (testsuites, testsuite, testng-results all
// occur in the wild).
func ParseJUnit(r io.Reader, defaultSuite string) ([]model.TestResult, error) {
	dec := xml.NewDecoder(r)
	var results []model.TestResult
	var suiteStack []string

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "testsuite", "testng-results", "suite":
				suiteStack = append(suiteStack, attr(el, "name"))
			case "testcase":
				var tc testCaseXML
				if err := dec.DecodeElement(&tc, &el); err != nil {
					return nil, err
				}
				results = append(results, toResult(tc, currentSuite(suiteStack, defaultSuite)))
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "testsuite", "testng-results", "suite":
				if len(suiteStack) > 0 {
					suiteStack = suiteStack[:len(suiteStack)-1]
				}
			}
		}
	}
	return results, nil
}

func toResult(tc testCaseXML, suite string) model.TestResult {
	className := tc.ClassName
	if className == "" {
		className = tc.Class
	}
	if className == "" {
		className = suite
	}
	if className == "" {
		className = "unknown"
	}
	name := tc.Name
	if name == "" {
		name = "unknown"
	}

	res := model.TestResult{
		FullName: className + "#" + name,
		Suite:    suite,
		Status:   model.StatusPass,
	}
	if secs, err := strconv.ParseFloat(tc.Time, 64); err == nil {
		ms := int64(secs * 1000)
		res.DurationMS = &ms
	}

	switch {
	case tc.Failure != nil:
		res.Status = model.StatusFail
		res.ErrorType = tc.Failure.Type
		res.ErrorMessage = tc.Failure.Message
		res.ErrorDetails = strings.TrimSpace(tc.Failure.Text)
	case tc.Error != nil:
		res.Status = model.StatusError
		res.ErrorType = tc.Error.Type
		res.ErrorMessage = tc.Error.Message
		res.ErrorDetails = strings.TrimSpace(tc.Error.Text)
	case tc.Skipped != nil:
		res.Status = model.StatusSkipped
	}
	return res
}

func currentSuite(stack []string, fallback string) string {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] != "" {
			return stack[i]
		}
	}
	return fallback
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// ParseGlob expands a glob and parses every recognized file. Unknown
// formats are skipped and reported in the second return value.
func ParseGlob(pattern, defaultSuite string) ([]model.TestResult, []string, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, nil, err
	}
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no result files found for glob: %s", pattern)
	}
	var (
		results []model.TestResult
		skipped []string
	)
	for _, p := range paths {
		if DetectFormat(p) != "junit" {
			skipped = append(skipped, p)
			continue
		}
		parsed, err := ParseJUnitFile(p, defaultSuite)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, parsed...)
	}
	return results, skipped, nil
}
