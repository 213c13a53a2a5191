package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"smartclock/internal/service"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := readBody(r, maxBytes)
	if err != nil {
		return err
	}
	return decodeJSON(body, out)
}

func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	return io.ReadAll(io.LimitReader(r.Body, maxBytes))
}

// decodeJSON 空 body 不报错，交给业务层判断缺少的字段
func decodeJSON(body []byte, out any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// statusFor 业务错误 -> HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage 去掉 "invalid input: " 前缀
func clientMessage(err error) string {
	return strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": ")
}

// idFrom 先查 query（id / _id），再查 body
func idFrom(r *http.Request, bodyID, bodyLegacyID string) string {
	q := r.URL.Query()
	if id := q.Get("id"); id != "" {
		return id
	}
	if id := q.Get("_id"); id != "" {
		return id
	}
	if bodyID != "" {
		return bodyID
	}
	return bodyLegacyID
}
