package httpapi

import (
	"bytes"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the HTTP layer logger; silent until SetLogger is called.
var zlog = zerolog.Nop()

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

// loggingLineWriter echoes complete NDJSON lines to the logger at debug.
type loggingLineWriter struct {
	buf []byte
	rid string
}

func (lw *loggingLineWriter) Write(p []byte) (int, error) {
	lw.buf = append(lw.buf, p...)
	for {
		idx := bytes.IndexByte(lw.buf, '\n')
		if idx < 0 {
			break
		}
		if idx > 0 {
			zlog.Debug().Str("request_id", lw.rid).RawJSON("line", lw.buf[:idx]).Msg("infer>")
		}
		lw.buf = lw.buf[idx+1:]
	}
	return len(p), nil
}

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug", "1":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// defaultLogLevel is read once from INFERD_LOG_LEVEL.
var defaultLogLevel = parseLevel(os.Getenv("INFERD_LOG_LEVEL"))

// requestLogLevel resolves verbosity: ?log= wins over X-Log-Level, which
// wins over the process default.
func requestLogLevel(r *http.Request) LogLevel {
	if v := r.URL.Query().Get("log"); v != "" {
		return parseLevel(v)
	}
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// requestLog scopes start/end log lines for one request.
type requestLog struct {
	lvl   LogLevel
	rid   string
	path  string
	start time.Time
}

func newRequestLog(r *http.Request) requestLog {
	return requestLog{lvl: requestLogLevel(r), rid: middleware.GetReqID(r.Context()), path: r.URL.Path, start: time.Now()}
}

func (l requestLog) begin(model string) {
	if l.lvl < LevelInfo {
		return
	}
	zlog.Info().Str("path", l.path).Str("model", model).Str("request_id", l.rid).Msg("request start")
}

func (l requestLog) end(status int, err error) {
	switch {
	case err != nil && l.lvl >= LevelError:
		zlog.Warn().Str("path", l.path).Int("status", status).Dur("dur", time.Since(l.start)).
			Str("request_id", l.rid).Err(err).Msg("request end")
	case err == nil && l.lvl >= LevelInfo:
		zlog.Info().Str("path", l.path).Int("status", status).Dur("dur", time.Since(l.start)).
			Str("request_id", l.rid).Msg("request end")
	}
}
