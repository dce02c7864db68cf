package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mrm/emergencystop/internal/control"
	"github.com/mrm/emergencystop/internal/stream"
)

const maxBodyBytes = 64 << 10

// OperateRequest is the takeover request body.
type OperateRequest struct {
	Operate *bool `json:"operate"`
}

// OperateResponse is the takeover response body.
type OperateResponse struct {
	Response ResponseStatus `json:"response"`
}

// ResponseStatus reports whether a request was applied.
type ResponseStatus struct {
	Success bool `json:"success"`
}

// operateHandler serves POST /api/v1/mrm/emergency_stop/operate.
// A well-formed request always succeeds.
func operateHandler(logger *slog.Logger, op *control.Operator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OperateRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Operate == nil {
			writeError(w, http.StatusBadRequest, `missing "operate" field`)
			return
		}

		success := op.Operate(*req.Operate)
		logger.Info("operate request",
			"component", "api",
			"operate", *req.Operate,
			"success", success,
			"state", op.State(),
		)
		writeJSON(w, http.StatusOK, OperateResponse{Response: ResponseStatus{Success: success}})
	}
}

// controlCommandHandler serves POST /api/v1/control/control_cmd, the inbound
// driving command feed.
func controlCommandHandler(logger *slog.Logger, op *control.Operator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd control.ControlCommand
		if err := decodeBody(w, r, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := validateCommand(cmd); err != nil {
			logger.Warn("rejected control command", "component", "api", "error", err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		stored := op.OnControlCommand(cmd)
		writeJSON(w, http.StatusAccepted, map[string]bool{"stored": stored})
	}
}

func latestStatusHandler(hub *stream.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, ok := hub.LatestStatus()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "no status published yet")
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func latestControlCommandHandler(hub *stream.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd, ok := hub.LatestControlCommand()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "no control command published yet")
			return
		}
		writeJSON(w, http.StatusOK, cmd)
	}
}

// validateCommand rejects upstream commands the ramp cannot start from.
// A zero stamp would turn the first ramp step into an arbitrarily long dt.
func validateCommand(cmd control.ControlCommand) error {
	if cmd.Longitudinal.Speed < 0 {
		return errors.New("longitudinal.speed must be >= 0")
	}
	if cmd.Stamp.IsZero() {
		return errors.New("stamp is required")
	}
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
