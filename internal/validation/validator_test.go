// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package validation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/simsync/internal/apierr"
)

// ===================================================================================================
// Singleton Validator Tests
// ===================================================================================================

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}
	if v1 == nil {
		t.Error("GetValidator() should not return nil")
	}
}

// ===================================================================================================
// Custom Tag Tests
// ===================================================================================================

type smsInput struct {
	ICCID       string `json:"iccid" validate:"iccid"`
	Message     string `json:"message" validate:"min=1,max=160"`
	Destination string `json:"destination" validate:"omitempty,msisdn"`
}

type topUpInput struct {
	ICCID  string `json:"iccid" validate:"iccid"`
	Type   string `json:"quota_type" validate:"quotatype"`
	Volume int64  `json:"volume" validate:"gte=0"`
}

type windowInput struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date" validate:"gtefield=Start"`
}

func TestICCIDTag(t *testing.T) {
	tests := []struct {
		iccid string
		valid bool
	}{
		{"8988280666000000001", true},  // 19 digits
		{"89882806660000000012", true}, // 20 digits
		{"898828066600000000", false},  // 18 digits
		{"898828066600000000123", false},
		{"898828066600000000A", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidateStruct(&topUpInput{ICCID: tt.iccid, Type: "data"})
		if (err == nil) != tt.valid {
			t.Errorf("iccid %q: err = %v, want valid=%v", tt.iccid, err, tt.valid)
		}
	}
}

func TestSMSMessageLength(t *testing.T) {
	base := smsInput{ICCID: "8988280666000000001"}

	tests := []struct {
		name    string
		message string
		valid   bool
	}{
		{"single char", "x", true},
		{"exactly 160", strings.Repeat("a", 160), true},
		{"161 chars", strings.Repeat("a", 161), false},
		{"empty", "", false},
		{"160 multibyte runes", strings.Repeat("ü", 160), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			in.Message = tt.message
			err := ValidateStruct(&in)
			if (err == nil) != tt.valid {
				t.Errorf("err = %v, want valid=%v", err, tt.valid)
			}
		})
	}
}

func TestMSISDNTag(t *testing.T) {
	tests := []struct {
		dest  string
		valid bool
	}{
		{"", true},
		{"+491701234567", true},
		{"491701234567", true},
		{"12345", false},
		{"+49 170 1234567", false},
		{"+1234567890123456", false},
	}
	for _, tt := range tests {
		err := ValidateStruct(&smsInput{ICCID: "8988280666000000001", Message: "hi", Destination: tt.dest})
		if (err == nil) != tt.valid {
			t.Errorf("destination %q: err = %v, want valid=%v", tt.dest, err, tt.valid)
		}
	}
}

func TestQuotaTypeAndVolume(t *testing.T) {
	iccid := "8988280666000000001"
	if err := ValidateStruct(&topUpInput{ICCID: iccid, Type: "sms", Volume: 0}); err != nil {
		t.Errorf("zero volume should be valid: %v", err)
	}
	err := ValidateStruct(&topUpInput{ICCID: iccid, Type: "voice", Volume: -1})
	if err == nil {
		t.Fatal("expected errors for bad type and negative volume")
	}
	if len(err.Errors()) != 2 {
		t.Fatalf("Errors() = %d, want 2", len(err.Errors()))
	}
	checkField(t, err.Errors()[0], "quota_type", "quotatype")
	checkField(t, err.Errors()[1], "volume", "gte")
	if err.Errors()[1].Param() != "0" {
		t.Errorf("Param() = %q, want 0", err.Errors()[1].Param())
	}
}

func TestWindowOrder(t *testing.T) {
	now := time.Now()
	if err := ValidateStruct(&windowInput{Start: now, End: now}); err != nil {
		t.Errorf("empty window should be valid: %v", err)
	}
	err := ValidateStruct(&windowInput{Start: now, End: now.Add(-time.Hour)})
	if err == nil {
		t.Fatal("expected error for inverted window")
	}
	checkField(t, err.Errors()[0], "end_date", "gtefield")
}

// ===================================================================================================
// Conversion Tests
// ===================================================================================================

func TestToAPIErr(t *testing.T) {
	verr := ValidateStruct(&smsInput{ICCID: "123", Message: strings.Repeat("a", 200)})
	if verr == nil {
		t.Fatal("expected validation errors")
	}

	var err error = verr.ToAPIErr()
	var ve *apierr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("ToAPIErr() = %T, want *apierr.ValidationError", err)
	}
	if ve.Field != "iccid" {
		t.Errorf("Field = %q, want iccid", ve.Field)
	}
	for _, want := range []string{"iccid must be 19 to 20 digits", "message must be at most 160 characters"} {
		if !strings.Contains(ve.Reason, want) {
			t.Errorf("Reason %q does not contain %q", ve.Reason, want)
		}
	}
	if apierr.Code(err) != apierr.CodeValidation {
		t.Errorf("Code = %s", apierr.Code(err))
	}
}

func TestNormalizeAndValidateICCID(t *testing.T) {
	got, err := ValidateICCID(" 8988 2806-6600 0000 001 ")
	if err != nil {
		t.Fatalf("ValidateICCID: %v", err)
	}
	if got != "8988280666000000001" {
		t.Errorf("normalized = %q", got)
	}

	_, err = ValidateICCID("8988-2806")
	var ve *apierr.ValidationError
	if !errors.As(err, &ve) || ve.Field != "iccid" {
		t.Errorf("err = %v, want iccid ValidationError", err)
	}
}

func checkField(t *testing.T, e ValidationError, field, tag string) {
	t.Helper()
	if e.Field() != field || e.Tag() != tag {
		t.Errorf("error = %s/%s (%q), want %s/%s", e.Field(), e.Tag(), e.Error(), field, tag)
	}
}
