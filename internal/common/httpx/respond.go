package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// WriteJSON отдаёт JSON с нужным статусом
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem: единый формат ошибок (упрощённый RFC7807 Problem+JSON)
func WriteProblem(w http.ResponseWriter, code int, typ, detail string, extra map[string]any) {
	resp := map[string]any{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	}
	for k, v := range extra {
		resp[k] = v
	}
	WriteJSON(w, code, resp)
}

// AtoiDefault разбирает int, при ошибке возвращает d
func AtoiDefault(s string, d int) int {
	if s == "" {
		return d
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return n
}
