// Copyright 2026 The Telemetry Relay Daemon Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"strings"
	"testing"
)

func TestParseFileDottedKeys(t *testing.T) {
	input := `
# a comment
; also a comment

app_timeout = 600
utilization.detect_aws=true
rlimit_files=2048
`
	values, err := ParseFile(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	if got := values.Int("app_timeout", -1); got != 600 {
		t.Errorf("app_timeout = %d, want 600", got)
	}
	if got := values.Bool("utilization.detect_aws", false); !got {
		t.Error("utilization.detect_aws = false, want true")
	}
	if got := values.Int("rlimit_files", -1); got != 2048 {
		t.Errorf("rlimit_files = %d, want 2048", got)
	}
}

func TestParseFileRejectsLineWithoutEquals(t *testing.T) {
	_, err := ParseFile(strings.NewReader("not_a_key_value_line"))
	if err == nil {
		t.Fatal("ParseFile: want error for line without '='")
	}
}

func TestApplyDefineOverridesFileValue(t *testing.T) {
	values, err := ParseFile(strings.NewReader("app_timeout=600\n"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	if err := values.ApplyDefine("app_timeout=60"); err != nil {
		t.Fatalf("ApplyDefine: %v", err)
	}
	if got := values.Int("app_timeout", -1); got != 60 {
		t.Errorf("app_timeout after --define = %d, want 60", got)
	}
}

func TestStringDefault(t *testing.T) {
	values := Values{}
	if got := values.String("missing", "fallback"); got != "fallback" {
		t.Errorf("String(missing) = %q, want %q", got, "fallback")
	}
}
