package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/nahidhasan98/wacrm/internal/errors"
	"github.com/nahidhasan98/wacrm/internal/message"
	"github.com/nahidhasan98/wacrm/internal/models"
)

var (
	// CRM user ids become gateway session name prefixes
	userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

	// Message, ticket, contact and attendant ids
	entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)
)

// Validator provides validation methods
type Validator struct{}

// New creates a new validator instance
func New() *Validator {
	return &Validator{}
}

// ValidateUserID validates a CRM user id
func (v *Validator) ValidateUserID(user string) *errors.AppError {
	if !userIDPattern.MatchString(user) {
		return errors.ValidationError(fmt.Sprintf("Invalid user id: %q", user)).
			WithDetails("user ids are 1-64 letters, digits, '_' or '-'")
	}
	return nil
}

// ValidateID validates an opaque entity id; field names the id in the error
func (v *Validator) ValidateID(field, id string) *errors.AppError {
	if strings.TrimSpace(id) == "" {
		return errors.ValidationError(fmt.Sprintf("'%s' is required", field))
	}
	if !entityIDPattern.MatchString(id) {
		return errors.ValidationError(fmt.Sprintf("Invalid %s: %q", field, id))
	}
	return nil
}

// ValidateDispatchRequest validates a dispatch request
func (v *Validator) ValidateDispatchRequest(req *models.DispatchRequest) *errors.AppError {
	if req == nil || req.Message == nil {
		return errors.InvalidRequest("'message' field is required")
	}
	if !req.Sender.Valid() {
		return errors.ValidationError(fmt.Sprintf("Invalid sender %q: must be %q or %q",
			req.Sender, message.SenderAgent, message.SenderUser))
	}
	if req.Message.MediaURL != "" && !v.IsValidURL(req.Message.MediaURL) {
		return errors.ValidationError("Invalid 'mediaUrl'")
	}
	return nil
}

// ValidateTranscribeRequest validates a transcription request
func (v *Validator) ValidateTranscribeRequest(req *models.TranscribeRequest) *errors.AppError {
	if req == nil || strings.TrimSpace(req.AudioURL) == "" {
		return errors.ValidationError("'audioUrl' field is required")
	}
	if !v.IsValidURL(req.AudioURL) {
		return errors.ValidationError("Invalid 'audioUrl'")
	}
	return nil
}

// ValidateAssumeTicketRequest validates a ticket takeover request
func (v *Validator) ValidateAssumeTicketRequest(req *models.AssumeTicketRequest) *errors.AppError {
	if req == nil {
		return errors.InvalidRequest("Request body is required")
	}
	if err := v.ValidateID("contactId", req.ContactID); err != nil {
		return err
	}
	return v.ValidateID("attendantId", req.AttendantID)
}

// IsValidURL accepts absolute http(s) URLs and gateway-relative paths
func (v *Validator) IsValidURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "/") {
		return !strings.HasPrefix(raw, "//")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidateQueryParams validates common query parameters
func (v *Validator) ValidateQueryParams(params map[string]string) *errors.AppError {
	for key, value := range params {
		switch key {
		case "limit":
			if err := v.validateLimit(value); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateLimit validates the limit parameter
func (v *Validator) validateLimit(limit string) *errors.AppError {
	if limit == "" {
		return nil
	}

	// Check if it's a number
	var limitInt int
	if _, err := fmt.Sscanf(limit, "%d", &limitInt); err != nil {
		return errors.ValidationError("Invalid limit parameter: must be a number")
	}

	// Check range
	if limitInt < 1 || limitInt > 1000 {
		return errors.ValidationError("Invalid limit parameter: must be between 1 and 1000")
	}

	return nil
}
