package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, header string, h gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", h)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(HeaderRequestID, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestRequestID_ReusesWellFormedHeader(t *testing.T) {
	w, body := serve(t, "edge-7f3a.42", func(c *gin.Context) {
		Success(c, http.StatusOK, gin.H{"ok": true})
	})

	assert.Equal(t, "edge-7f3a.42", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "edge-7f3a.42", body.Metadata.RequestID)
	assert.Positive(t, body.Metadata.ServerTime)
}

func TestRequestID_ReplacesMalformedHeader(t *testing.T) {
	for _, bad := range []string{"has space", "line\x01break", strings.Repeat("a", maxRequestIDLen+1)} {
		w, body := serve(t, bad, func(c *gin.Context) {
			Fail(c, http.StatusNotFound, ErrNotFound)
		})
		got := w.Header().Get(HeaderRequestID)
		assert.NotEqual(t, bad, got)
		assert.Len(t, got, 36, "replaced by a uuid")
		assert.Equal(t, got, body.Metadata.RequestID)
	}
}

func TestRequestID_OutsideMiddlewareIsStable(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	first := RequestID(c)
	assert.NotEmpty(t, first)
	assert.Equal(t, first, RequestID(c))
}

func TestInvalid_CarriesFields(t *testing.T) {
	w, body := serve(t, "", func(c *gin.Context) {
		Invalid(c, map[string]string{"section": "must be at least 1"})
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, ErrValidation, body.Error.Code)
	assert.Equal(t, GetMessage(ErrValidation), body.Error.Message)
	assert.Equal(t, "must be at least 1", body.Error.Fields["section"])
	assert.Nil(t, body.Data)
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		page, perPage             int
		wantPage, wantPer, offset int
	}{
		{0, 0, 1, defaultPerPage, 0},
		{3, 20, 3, 20, 40},
		{2, 1000, 2, maxPerPage, maxPerPage},
		{-4, -1, 1, defaultPerPage, 0},
	}
	for _, tt := range tests {
		page, per, offset := PageBounds(tt.page, tt.perPage)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantPer, per)
		assert.Equal(t, tt.offset, offset)
	}

	p := NewPagination(2, 10, 21)
	assert.Equal(t, 3, p.TotalPages)
	assert.Zero(t, NewPagination(1, 10, 0).TotalPages)
}
