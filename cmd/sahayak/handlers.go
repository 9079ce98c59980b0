package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/swasthya-ai/sahayak/types"
)

// queryRequest 入站查询。identifier 缺省时回落到远端地址，
// 保证限流闸门总有标识可用。
type queryRequest struct {
	Text       string `json:"text"`
	SessionID  string `json:"session_id,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Language   string `json:"language,omitempty"`
	Channel    string `json:"channel,omitempty"`
	District   string `json:"district,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleQuery POST /v1/query
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed", Message: "use POST"})
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: "malformed JSON body"})
		return
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = r.RemoteAddr
	}
	channel := types.Channel(req.Channel)
	if channel == "" {
		channel = types.ChannelWeb
	}

	query := &types.Query{
		SessionID:  req.SessionID,
		Identifier: identifier,
		Text:       req.Text,
		Language:   types.Language(req.Language),
		Channel:    channel,
		District:   req.District,
		ReceivedAt: time.Now(),
	}

	answer, err := s.orchestrator.Handle(r.Context(), query)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// writeQueryError 只有限流与格式错误会走到这里；
// 其余故障都已在管线内降级为正常回答。
func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	var appErr *types.Error
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, errorResponse{Error: string(appErr.Code), Message: appErr.Message})
		return
	}
	s.logger.Error("unexpected pipeline error", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal server error"})
}

// handleHealthz 存活探针
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz 就绪探针：上报各熔断器状态与推理服务可达性。
// 熔断打开不算未就绪，服务仍能通过降级路径应答。
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	breakers := make(map[string]string, len(s.breakers))
	for name, b := range s.breakers {
		breakers[name] = b.State().String()
	}

	inferenceUp := false
	if s.infClient != nil {
		inferenceUp = s.infClient.Health(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"inference_up": inferenceUp,
		"breakers":     breakers,
	})
}

// handleVersion 版本信息
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
