package parsers_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flakeradar/internal/model"
	"flakeradar/internal/parsers"
)

const junitSample = `<?xml version="1.0" encoding="UTF-8"?>
<testsuites>
  <testsuite name="com.example.OrderSuite" tests="4">
    <testcase classname="com.example.OrderTest" name="testCreate" time="0.125"/>
    <testcase classname="com.example.OrderTest" name="testCancel" time="1.5">
      <failure type="java.lang.AssertionError" message="expected CANCELLED got OPEN">
at com.example.OrderTest.testCancel(OrderTest.java:42)
      </failure>
    </testcase>
    <testcase classname="com.example.OrderTest" name="testArchive">
      <error type="java.net.SocketTimeoutException" message="read timed out"/>
    </testcase>
    <testcase classname="com.example.OrderTest" name="testLegacy">
      <skipped/>
    </testcase>
  </testsuite>
</testsuites>`

func TestParseJUnitStatuses(t *testing.T) {
	results, err := parsers.ParseJUnit(strings.NewReader(junitSample), "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("results = %d, want 4", len(results))
	}

	byName := map[string]model.TestResult{}
	for _, r := range results {
		byName[r.FullName] = r
	}

	pass := byName["com.example.OrderTest#testCreate"]
	if pass.Status != model.StatusPass {
		t.Errorf("testCreate status = %s", pass.Status)
	}
	if pass.DurationMS == nil || *pass.DurationMS != 125 {
		t.Errorf("testCreate duration = %v, want 125ms", pass.DurationMS)
	}
	if pass.Suite != "com.example.OrderSuite" {
		t.Errorf("suite = %s", pass.Suite)
	}

	fail := byName["com.example.OrderTest#testCancel"]
	if fail.Status != model.StatusFail {
		t.Errorf("testCancel status = %s", fail.Status)
	}
	if fail.ErrorType != "java.lang.AssertionError" {
		t.Errorf("error type = %s", fail.ErrorType)
	}
	if fail.ErrorMessage != "expected CANCELLED got OPEN" {
		t.Errorf("error message = %q", fail.ErrorMessage)
	}
	if !strings.Contains(fail.ErrorDetails, "OrderTest.java:42") {
		t.Errorf("error details = %q", fail.ErrorDetails)
	}

	if byName["com.example.OrderTest#testArchive"].Status != model.StatusError {
		t.Error("error element not mapped to error status")
	}
	if byName["com.example.OrderTest#testLegacy"].Status != model.StatusSkipped {
		t.Error("skipped element not mapped to skipped status")
	}
}

func TestParseJUnitNestedSuitesAndFallbacks(t *testing.T) {
	const nested = `<testsuites>
  <testsuite name="outer">
    <testsuite name="inner">
      <testcase name="bare"/>
    </testsuite>
    <testcase classname="outer.C" name="afterInner"/>
  </testsuite>
</testsuites>`
	results, err := parsers.ParseJUnit(strings.NewReader(nested), "fallback")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	// classname missing: the enclosing suite names the test
	if results[0].FullName != "inner#bare" || results[0].Suite != "inner" {
		t.Errorf("nested case = %+v", results[0])
	}
	// the inner suite popped off the stack
	if results[1].Suite != "outer" {
		t.Errorf("suite after inner close = %s, want outer", results[1].Suite)
	}
}

func TestParseTestNGResults(t *testing.T) {
	const testng = `<testng-results>
  <suite name="regression">
    <test name="checkout">
      <class name="com.example.Checkout">
        <testcase name="payWithCard" class="com.example.Checkout"/>
      </class>
    </test>
  </suite>
</testng-results>`
	results, err := parsers.ParseJUnit(strings.NewReader(testng), "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].FullName != "com.example.Checkout#payWithCard" {
		t.Errorf("full name = %s", results[0].FullName)
	}
	if results[0].Suite != "regression" {
		t.Errorf("suite = %s, want regression", results[0].Suite)
	}
}

func TestDetectFormat(t *testing.T) {
	if parsers.DetectFormat("target/surefire/TEST-Foo.XML") != "junit" {
		t.Error("xml not detected as junit")
	}
	if parsers.DetectFormat("results.json") != "unknown" {
		t.Error("json misdetected")
	}
}

func TestParseGlob(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("one.xml", junitSample)
	write("notes.txt", "not a result file")

	results, skipped, err := parsers.ParseGlob(filepath.Join(dir, "*"), "")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(results) != 4 {
		t.Errorf("results = %d, want 4", len(results))
	}
	if len(skipped) != 1 || filepath.Base(skipped[0]) != "notes.txt" {
		t.Errorf("skipped = %v", skipped)
	}

	if _, _, err := parsers.ParseGlob(filepath.Join(dir, "missing-*.xml"), ""); err == nil {
		t.Error("empty glob should error")
	}
}
