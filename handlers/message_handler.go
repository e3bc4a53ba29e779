package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/scheduled-email-service/internal/domain"
	"github.com/onurcolak/scheduled-email-service/internal/service"
	"github.com/onurcolak/scheduled-email-service/pkg/logger"
	"github.com/onurcolak/scheduled-email-service/pkg/response"
	"github.com/onurcolak/scheduled-email-service/pkg/storage"
	"github.com/onurcolak/scheduled-email-service/pkg/validator"
)

// Layouts accepted for scheduledAt, besides RFC3339. The short forms come from
// HTML date/time pickers and are read in the server's local time zone.
var scheduleLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
}

type messageService interface {
	CreateMessage(ctx context.Context, input service.CreateMessageInput) (*domain.Message, error)
	UpdateMessage(ctx context.Context, id int64, input service.UpdateMessageInput) (*domain.Message, error)
	CancelMessage(ctx context.Context, id int64) error
	GetMessage(ctx context.Context, id int64) (*domain.Message, error)
	OpenAttachment(ctx context.Context, id int64) (io.ReadCloser, string, error)
	GetAllMessages(ctx context.Context, status *domain.MessageStatus, page, pageSize int) ([]domain.Message, int64, error)
	GetSentMessages(ctx context.Context, page, pageSize int) ([]domain.Message, int64, error)
	GetStats(ctx context.Context) (*domain.MessageStats, error)
	GetCachedMessages(ctx context.Context) (map[int64]*domain.SentMessageCache, error)
}

type MessageHandler struct {
	service messageService
}

func NewMessageHandler(service messageService) *MessageHandler {
	return &MessageHandler{service: service}
}

type CreateMessageRequest struct {
	RecipientEmail string `json:"recipientEmail" form:"recipientEmail" validate:"required,email,email_tld,max=255"`
	Subject        string `json:"subject" form:"subject" validate:"required,max=60"`
	Body           string `json:"body" form:"body" validate:"required,max=5000"`
	ScheduledAt    string `json:"scheduledAt" form:"scheduledAt" validate:"required"`
}

// UpdateMessageRequest holds the parsed form of a PUT. Absent fields are nil.
type UpdateMessageRequest struct {
	RecipientEmail   *string    `json:"recipientEmail" validate:"omitempty,email,email_tld,max=255"`
	Subject          *string    `json:"subject" validate:"omitempty,max=60"`
	Body             *string    `json:"body" validate:"omitempty,max=5000"`
	ScheduledAt      *time.Time `json:"scheduledAt" validate:"omitempty,future"`
	RemoveAttachment bool       `json:"removeAttachment"`
}

// updateMessageBody is the JSON form of a PUT. Pointers tell absent fields apart.
type updateMessageBody struct {
	RecipientEmail   *string `json:"recipientEmail"`
	Subject          *string `json:"subject"`
	Body             *string `json:"body"`
	ScheduledAt      *string `json:"scheduledAt"`
	RemoveAttachment *bool   `json:"removeAttachment"`
}

var errUnsupportedMediaType = errors.New("content type must be multipart/form-data, application/x-www-form-urlencoded or application/json")

type scheduleCheck struct {
	ScheduledAt time.Time `json:"scheduledAt" validate:"future"`
}

type StatsResponse struct {
	domain.MessageStats
	Total int64 `json:"total"`
}

// GetAllMessages godoc
// @Summary Get all messages
// @Description Retrieves a paginated list of scheduled emails, newest schedule first, with optional status filter
// @Tags messages
// @Accept json
// @Produce json
// @Param x-capsule-auth-key header string true "API key for messages"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Param status query string false "Filter by status (pending, sent)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages [get]
func (h *MessageHandler) GetAllMessages(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var status *domain.MessageStatus
	if statusStr := c.QueryParam("status"); statusStr != "" {
		parsedStatus := domain.MessageStatus(strings.ToLower(statusStr))
		if !parsedStatus.Valid() {
			return response.BadRequestWithMessage(c, "status must be pending or sent")
		}
		status = &parsedStatus
	}

	messages, totalCount, err := h.service.GetAllMessages(c.Request().Context(), status, page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, messages, page, pageSize, totalCount)
}

// GetSentMessages godoc
// @Summary Get sent messages
// @Description Retrieves a paginated list of delivered emails
// @Tags messages
// @Accept json
// @Produce json
// @Param x-capsule-auth-key header string true "API key for messages"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/sent [get]
func (h *MessageHandler) GetSentMessages(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	messages, totalCount, err := h.service.GetSentMessages(c.Request().Context(), page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, messages, page, pageSize, totalCount)
}

// CreateMessage godoc
// @Summary Schedule an email
// @Description Schedules an email for future delivery, with an optional attachment (jpg, png, pdf, mp4, docx)
// @Tags messages
// @Accept multipart/form-data
// @Produce json
// @Param x-capsule-auth-key header string true "API key for messages"
// @Param recipientEmail formData string true "Recipient email address"
// @Param subject formData string true "Subject (max 60 characters)"
// @Param body formData string true "Message body (max 5000 characters)"
// @Param scheduledAt formData string true "Delivery time, RFC3339 or YYYY-MM-DDTHH:MM"
// @Param attachment formData file false "Optional attachment"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages [post]
func (h *MessageHandler) CreateMessage(c echo.Context) error {
	var req CreateMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}
	req.RecipientEmail = strings.TrimSpace(req.RecipientEmail)

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	scheduledAt, err := parseScheduledAt(req.ScheduledAt)
	if err != nil {
		return validator.HandleValidationError(c, validator.FieldError("scheduledAt", err.Error()))
	}

	if err := c.Validate(&scheduleCheck{ScheduledAt: scheduledAt}); err != nil {
		return validator.HandleValidationError(c, err)
	}

	upload, closeUpload, err := formUpload(c)
	if err != nil {
		return response.BadRequest(c, err)
	}
	defer closeUpload()

	message, err := h.service.CreateMessage(c.Request().Context(), service.CreateMessageInput{
		RecipientEmail: req.RecipientEmail,
		Subject:        req.Subject,
		Body:           req.Body,
		ScheduledAt:    scheduledAt,
		Attachment:     upload,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return response.Created(c, "Message scheduled successfully", message)
}

// GetMessage godoc
// @Summary Get a message
// @Tags messages
// @Produce json
// @Param x-capsule-auth-key header string true "API key for messages"
// @Param id path int true "Message ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/messages/{id} [get]
func (h *MessageHandler) GetMessage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	message, err := h.service.GetMessage(c.Request().Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return response.Ok(c, message)
}

// UpdateMessage godoc
// @Summary Edit a pending message
// @Description Changes any of the fields of a message that has not been sent yet. Sent messages are immutable.
// @Tags messages
// @Accept multipart/form-data,application/json
// @Produce json
// @Param x-capsule-auth-key header string true "API key for messages"
// @Param id path int true "Message ID"
// @Param recipientEmail formData string false "Recipient email address"
// @Param subject formData string false "Subject (max 60 characters)"
// @Param body formData string false "Message body (max 5000 characters)"
// @Param scheduledAt formData string false "Delivery time, RFC3339 or YYYY-MM-DDTHH:MM"
// @Param removeAttachment formData bool false "Drop the current attachment"
// @Param attachment formData file false "Replacement attachment"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 415 {object} response.ErrorResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Router /api/v1/messages/{id} [put]
func (h *MessageHandler) UpdateMessage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	req, err := parseUpdateRequest(c)
	if err != nil {
		var ve *validator.ValidationError
		switch {
		case errors.As(err, &ve):
			return validator.HandleValidationError(c, err)
		case errors.Is(err, errUnsupportedMediaType):
			return response.UnsupportedMediaType(c, err)
		}
		return response.BadRequest(c, err)
	}

	if err := c.Validate(req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	upload, closeUpload, err := formUpload(c)
	if err != nil {
		return response.BadRequest(c, err)
	}
	defer closeUpload()

	if upload != nil && req.RemoveAttachment {
		return validator.HandleValidationError(c,
			validator.FieldError("removeAttachment", "cannot be combined with a new attachment"))
	}

	input := service.UpdateMessageInput{
		RecipientEmail:   req.RecipientEmail,
		Subject:          req.Subject,
		Body:             req.Body,
		ScheduledAt:      req.ScheduledAt,
		Attachment:       upload,
		RemoveAttachment: req.RemoveAttachment,
	}

	message, err := h.service.UpdateMessage(c.Request().Context(), id, input)
	if err != nil {
		return handleServiceError(c, err)
	}

	return response.OkWithMessage(c, "Message updated successfully", message)
}

// CancelMessage godoc
// @Summary Cancel a pending message
// @Description Deletes a message that has not been sent yet, together with its attachment
// @Tags messages
// @Produce json
// @Param x-capsule-auth-key header string true "API key for messages"
// @Param id path int true "Message ID"
// @Success 204
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/v1/messages/{id} [delete]
func (h *MessageHandler) CancelMessage(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	if err := h.service.CancelMessage(c.Request().Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	return response.NoContent(c)
}

// DownloadAttachment godoc
// @Summary Download a message attachment
// @Tags messages
// @Produce octet-stream
// @Param x-capsule-auth-key header string true "API key for messages"
// @Param id path int true "Message ID"
// @Success 200 {file} file
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/messages/{id}/attachment [get]
func (h *MessageHandler) DownloadAttachment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	rc, name, err := h.service.OpenAttachment(c.Request().Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))

	return c.Stream(http.StatusOK, storage.ContentType(name), rc)
}

// GetStats godoc
// @Summary Get message statistics
// @Description Returns counts of pending, sent and currently due messages
// @Tags messages
// @Accept json
// @Produce json
// @Param x-capsule-auth-key header string true "API key for messages"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/stats [get]
func (h *MessageHandler) GetStats(c echo.Context) error {
	stats, err := h.service.GetStats(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, StatsResponse{
		MessageStats: *stats,
		Total:        stats.Pending + stats.Sent,
	})
}

// GetCachedMessages godoc
// @Summary Get recently delivered messages from Redis
// @Description Returns the delivery records mirrored into Redis, keyed by message id
// @Tags messages
// @Accept json
// @Produce json
// @Param x-capsule-auth-key header string true "API key for messages"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/messages/cached [get]
func (h *MessageHandler) GetCachedMessages(c echo.Context) error {
	cached, err := h.service.GetCachedMessages(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, cached)
}

func handleServiceError(c echo.Context, err error) error {
	var vErr *service.ValidationError

	switch {
	case errors.As(err, &vErr):
		return validator.HandleValidationError(c, validator.FieldError(vErr.Field, vErr.Message))
	case errors.Is(err, service.ErrNotFound):
		return response.NotFound(c, "Message not found")
	case errors.Is(err, service.ErrNotPending):
		return response.Conflict(c, "Message has already been sent and can no longer be changed")
	case errors.Is(err, storage.ErrNotFound):
		return response.NotFound(c, "Attachment not found")
	default:
		logger.Errorf("Request %s %s failed: %v", c.Request().Method, c.Path(), err)
		return response.InternalServerError(c, err)
	}
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid message id")
	}
	return id, nil
}

func parseScheduledAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}

	for _, layout := range scheduleLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("must be RFC3339 or YYYY-MM-DDTHH:MM")
}

// parseUpdateRequest reads only the fields present in the request, so an absent
// field is left unchanged. Forms and JSON bodies are accepted.
func parseUpdateRequest(c echo.Context) (*UpdateMessageRequest, error) {
	var (
		body updateMessageBody
		err  error
	)

	ctype := c.Request().Header.Get(echo.HeaderContentType)
	switch {
	case strings.HasPrefix(ctype, echo.MIMEApplicationJSON):
		if err := (&echo.DefaultBinder{}).BindBody(c, &body); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
	case strings.HasPrefix(ctype, echo.MIMEApplicationForm), strings.HasPrefix(ctype, echo.MIMEMultipartForm):
		body, err = formUpdateBody(c)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errUnsupportedMediaType
	}

	req := &UpdateMessageRequest{
		Subject: body.Subject,
		Body:    body.Body,
	}

	if body.RecipientEmail != nil {
		trimmed := strings.TrimSpace(*body.RecipientEmail)
		req.RecipientEmail = &trimmed
	}

	if body.ScheduledAt != nil {
		t, err := parseScheduledAt(*body.ScheduledAt)
		if err != nil {
			return nil, validator.FieldError("scheduledAt", err.Error())
		}
		req.ScheduledAt = &t
	}

	if body.RemoveAttachment != nil {
		req.RemoveAttachment = *body.RemoveAttachment
	}

	return req, nil
}

func formUpdateBody(c echo.Context) (updateMessageBody, error) {
	var body updateMessageBody

	params, err := c.FormParams()
	if err != nil {
		return body, fmt.Errorf("invalid form: %w", err)
	}

	field := func(key string) *string {
		if values, ok := params[key]; ok && len(values) > 0 {
			v := values[0]
			return &v
		}
		return nil
	}

	body.RecipientEmail = field("recipientEmail")
	body.Subject = field("subject")
	body.Body = field("body")
	body.ScheduledAt = field("scheduledAt")

	if raw := field("removeAttachment"); raw != nil && *raw != "" {
		remove, err := strconv.ParseBool(*raw)
		if err != nil {
			return body, validator.FieldError("removeAttachment", "must be a boolean")
		}
		body.RemoveAttachment = &remove
	}

	return body, nil
}

// formUpload returns the optional "attachment" file of a multipart request.
// Requests that are not multipart simply carry no attachment.
func formUpload(c echo.Context) (*service.Upload, func(), error) {
	noop := func() {}

	fh, err := c.FormFile("attachment")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, noop, nil
		}
		return nil, noop, fmt.Errorf("invalid attachment: %w", err)
	}

	return openUpload(fh)
}

func openUpload(fh *multipart.FileHeader) (*service.Upload, func(), error) {
	f, err := fh.Open()
	if err != nil {
		return nil, func() {}, fmt.Errorf("failed to read attachment: %w", err)
	}

	closeFn := func() {
		if err := f.Close(); err != nil {
			logger.Warnf("Failed to close uploaded file %s: %v", fh.Filename, err)
		}
	}

	return &service.Upload{
		Filename: fh.Filename,
		Size:     fh.Size,
		Content:  f,
	}, closeFn, nil
}

func parsePaginationParams(c echo.Context) (int, int, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	pageStr := c.QueryParam("page")
	pageSizeStr := c.QueryParam("pageSize")

	page := defaultPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = p
	}

	pageSize := defaultPageSize
	if pageSizeStr != "" {
		ps, err := strconv.Atoi(pageSizeStr)
		if err != nil || ps <= 0 || ps > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}

		pageSize = ps
	}

	return page, pageSize, nil
}
