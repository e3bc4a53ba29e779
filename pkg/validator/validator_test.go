package validator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type sampleRequest struct {
	RecipientEmail string     `form:"recipientEmail" validate:"required,email,email_tld"`
	Subject        string     `json:"subject" validate:"required,max=60"`
	ScheduledAt    time.Time  `json:"scheduledAt" validate:"required,future"`
	RemindAt       *time.Time `json:"remindAt" validate:"omitempty,future"`
}

func TestCustomValidator_ValidateReturnsValidationError(t *testing.T) {
	cv := New()

	err := cv.Validate(sampleRequest{})
	if err == nil {
		t.Fatalf("expected validation error, got nil")
	}

	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}

	for _, field := range []string{"recipientEmail", "subject", "scheduledAt"} {
		if _, exists := ve.Errors[field]; !exists {
			t.Errorf("expected %q to be in validation errors, got %v", field, ve.Errors)
		}
	}
}

func TestCustomValidator_Future(t *testing.T) {
	cv := New()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	cv.now = func() time.Time { return now }

	past := now.Add(-time.Minute)
	req := sampleRequest{
		RecipientEmail: "future@example.com",
		Subject:        "Hi",
		ScheduledAt:    now,
		RemindAt:       &past,
	}

	err := cv.Validate(req)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if msg := ve.Errors["scheduledAt"]; !strings.Contains(msg, "must be in the future") {
		t.Errorf("unexpected scheduledAt message %q", msg)
	}
	if _, exists := ve.Errors["remindAt"]; !exists {
		t.Errorf("expected remindAt to fail for a past time")
	}

	req.ScheduledAt = now.Add(time.Hour)
	req.RemindAt = nil
	if err := cv.Validate(req); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestCustomValidator_MaxLength(t *testing.T) {
	cv := New()

	err := cv.Validate(sampleRequest{
		RecipientEmail: "future@example.com",
		Subject:        strings.Repeat("x", 61),
		ScheduledAt:    time.Now().Add(time.Hour),
	})
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if _, exists := ve.Errors["subject"]; !exists || len(ve.Errors) != 1 {
		t.Fatalf("expected only subject to fail, got %v", ve.Errors)
	}
}

func TestCustomValidator_EmailTLD(t *testing.T) {
	cv := New()

	cases := []struct {
		email string
		valid bool
	}{
		{"future@example.com", true},
		{"someone@mail.example.co", true},
		{"user@example.c", false},
		{"user@example.c0m", false},
	}

	for _, tc := range cases {
		t.Run(tc.email, func(t *testing.T) {
			err := cv.Validate(sampleRequest{
				RecipientEmail: tc.email,
				Subject:        "Hello",
				ScheduledAt:    time.Now().Add(time.Hour),
			})

			if tc.valid {
				if err != nil {
					t.Fatalf("expected %q to be accepted, got %v", tc.email, err)
				}
				return
			}

			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected *ValidationError for %q, got %v", tc.email, err)
			}
			if _, exists := ve.Errors["recipientEmail"]; !exists {
				t.Fatalf("expected recipientEmail to fail, got %v", ve.Errors)
			}
		})
	}
}

func TestHandleValidationError_Returns422WithDetails(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	c := e.NewContext(req, rec)

	if err := HandleValidationError(c, FieldError("attachment", "type not allowed")); err != nil {
		t.Fatalf("HandleValidationError returned error: %v", err)
	}

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}

	var body ValidationErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if body.Success {
		t.Errorf("expected Success=false, got true")
	}
	if body.Error != "Validation failed" {
		t.Errorf("expected error='Validation failed', got %q", body.Error)
	}
	if body.Details["attachment"] != "type not allowed" {
		t.Fatalf("unexpected details: %v", body.Details)
	}
}

func TestHandleValidationError_OtherErrorsAre400(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/test", nil), rec)

	if err := HandleValidationError(c, echo.ErrBadRequest); err != nil {
		t.Fatalf("HandleValidationError returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
}
