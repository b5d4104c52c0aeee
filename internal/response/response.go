package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Response is the envelope of every REST reply.
type Response struct {
	Data       any         `json:"data"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// ErrorBody is a stable code plus its human message. Fields carries
// per-field validation messages keyed by JSON path.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Pagination describes one page of a teacher listing.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

const (
	defaultPerPage = 10
	maxPerPage     = 100
)

// PageBounds clamps client paging input and returns the page, page size and
// row offset to query with.
func PageBounds(page, perPage int) (int, int, int) {
	page = max(page, 1)
	switch {
	case perPage < 1:
		perPage = defaultPerPage
	case perPage > maxPerPage:
		perPage = maxPerPage
	}
	return page, perPage, (page - 1) * perPage
}

// NewPagination builds the pagination block for a clamped page.
func NewPagination(page, perPage, total int) *Pagination {
	return &Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: (total + perPage - 1) / perPage,
	}
}

// Metadata ties a reply to its request. ServerTime lets exam clients correct
// their countdown for clock skew.
type Metadata struct {
	RequestID  string `json:"request_id"`
	Timestamp  string `json:"timestamp"`
	ServerTime int64  `json:"server_time_ms"`
}

// Success sends data with the given status.
func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{Data: data, Metadata: buildMetadata(c)})
}

// SuccessWithPagination sends one page of a listing.
func SuccessWithPagination(c *gin.Context, statusCode int, data any, pagination *Pagination) {
	c.JSON(statusCode, Response{Data: data, Pagination: pagination, Metadata: buildMetadata(c)})
}

// Fail sends an error envelope for code.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, failure(c, code, nil))
}

// FailWithFields sends an error envelope with per-field messages.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	c.JSON(statusCode, failure(c, code, fields))
}

// Invalid rejects a request body that failed binding or tag validation.
func Invalid(c *gin.Context, fields map[string]string) {
	FailWithFields(c, http.StatusBadRequest, ErrValidation, fields)
}

// AbortFail stops the middleware chain with an error envelope.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, failure(c, code, nil))
}

func failure(c *gin.Context, code ErrCode, fields map[string]string) Response {
	return Response{
		Error:    &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields},
		Metadata: buildMetadata(c),
	}
}

func buildMetadata(c *gin.Context) Metadata {
	now := time.Now().UTC()
	return Metadata{
		RequestID:  RequestID(c),
		Timestamp:  now.Format(time.RFC3339),
		ServerTime: now.UnixMilli(),
	}
}
