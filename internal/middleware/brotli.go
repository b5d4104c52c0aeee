package middleware

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// brotliMinLength is the smallest body worth compressing.
const brotliMinLength = 1024

// bufferedWriter holds the whole body so the encoding can be chosen once the
// size is known. Only mount it on bounded JSON routes, never on streams.
type bufferedWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	return w.body.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

// Brotli compresses large responses for clients that accept "br".
// Question papers are the main payload it is mounted on.
func Brotli(quality int) gin.HandlerFunc {
	if quality < brotli.BestSpeed || quality > brotli.BestCompression {
		quality = brotli.DefaultCompression
	}

	return func(c *gin.Context) {
		if !acceptsBrotli(c.Request) || strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			c.Next()
			return
		}

		orig := c.Writer
		bw := &bufferedWriter{ResponseWriter: orig}
		c.Writer = bw
		c.Next()
		c.Writer = orig

		orig.Header().Add("Vary", "Accept-Encoding")
		if bw.body.Len() < brotliMinLength {
			_, _ = orig.Write(bw.body.Bytes())
			return
		}

		var out bytes.Buffer
		enc := brotli.NewWriterLevel(&out, quality)
		if _, err := enc.Write(bw.body.Bytes()); err != nil || enc.Close() != nil {
			_, _ = orig.Write(bw.body.Bytes())
			return
		}
		orig.Header().Set("Content-Encoding", "br")
		orig.Header().Set("Content-Length", strconv.Itoa(out.Len()))
		_, _ = orig.Write(out.Bytes())
	}
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(name, "br") {
			return true
		}
	}
	return false
}
