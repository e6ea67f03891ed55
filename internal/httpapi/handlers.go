package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jihwankim/irrig-core/internal/apierr"
	"github.com/jihwankim/irrig-core/internal/iopoint"
	"github.com/jihwankim/irrig-core/internal/server"
)

type pointView struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Type         string      `json:"type"`
	Pin          int         `json:"pin"`
	ChipIndex    int         `json:"chipIndex"`
	BitIndex     int         `json:"bitIndex"`
	IsInverted   bool        `json:"isInverted"`
	BoType       string      `json:"boType,omitempty"`
	FlowRate     float64     `json:"flowRateMLPerSecond,omitempty"`
	IsCalibrated bool        `json:"isCalibrated,omitempty"`
	Runtime      runtimeView `json:"runtime"`
}

type runtimeView struct {
	RawValue         float64 `json:"rawValue"`
	ConditionedValue float64 `json:"conditionedValue"`
	DigitalState     bool    `json:"digitalState"`
	ErrorState       bool    `json:"errorState"`
	LastUpdateTime   int64   `json:"lastUpdateTime"`
	UpdateCount      uint64  `json:"updateCount"`
	ErrorCount       uint64  `json:"errorCount"`
	AlarmActive      bool    `json:"alarmActive"`
}

func buildPointView(pc *iopoint.IoPointConfig, rt iopoint.PointRuntime) pointView {
	v := pointView{
		ID:          string(pc.Id),
		Name:        pc.Name,
		Description: pc.Description,
		Type:        pc.Kind.Tag.String(),
		Pin:         pc.Kind.Pin,
		ChipIndex:   pc.Kind.ChipIndex,
		BitIndex:    pc.Kind.BitIndex,
		IsInverted:  pc.Inverted,
		Runtime: runtimeView{
			RawValue:         rt.Raw,
			ConditionedValue: rt.Conditioned,
			DigitalState:     rt.Digital,
			ErrorState:       rt.HasError,
			LastUpdateTime:   rt.LastUpdateUs,
			UpdateCount:      rt.UpdateCount,
			ErrorCount:       rt.ErrorCount,
			AlarmActive:      rt.AlarmActive(),
		},
	}
	if pc.IsOutput() {
		v.BoType = pc.Kind.OutputKind.String()
		v.FlowRate = pc.Kind.FlowRateMLPerSec
		v.IsCalibrated = pc.Kind.IsCalibrated
	}
	return v
}

// handleListPoints implements GET /api/io/points (§6.1).
func handleListPoints(ctx *server.Context, w http.ResponseWriter, r *http.Request, _ map[string]string) (int, interface{}, error) {
	cfg := ctx.IO.Config()
	points := make([]pointView, 0, len(cfg.Points))
	for _, id := range cfg.SortedPointIds() {
		rt, err := ctx.IO.GetRuntime(id)
		if err != nil {
			continue
		}
		points = append(points, buildPointView(cfg.Points[id], rt))
	}
	return http.StatusOK, map[string]interface{}{
		"points":     points,
		"totalCount": len(points),
		"status":     "success",
	}, nil
}

// handleGetPoint implements GET /api/io/points/{id}.
func handleGetPoint(ctx *server.Context, w http.ResponseWriter, r *http.Request, params map[string]string) (int, interface{}, error) {
	id := iopoint.PointId(params["id"])
	cfg := ctx.IO.Config()
	pc, ok := cfg.Points[id]
	if !ok {
		return 0, nil, apierr.New(apierr.NotFound, "point %s not found", id)
	}
	rt, err := ctx.IO.GetRuntime(id)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, buildPointView(pc, rt), nil
}

// handleSetPoint implements POST /api/io/points/{id}/set.
func handleSetPoint(ctx *server.Context, w http.ResponseWriter, r *http.Request, params map[string]string) (int, interface{}, error) {
	id := iopoint.PointId(params["id"])
	var body struct {
		State bool `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return 0, nil, apierr.New(apierr.InvalidArgument, "malformed request body: %v", err)
	}
	if err := ctx.IO.SetBinaryOutput(id, body.State); err != nil {
		return 0, nil, err
	}
	return http.StatusOK, map[string]interface{}{
		"status":  "success",
		"pointId": string(id),
		"state":   body.State,
		"message": "output updated",
	}, nil
}

// handleStatistics implements GET /api/io/statistics.
func handleStatistics(ctx *server.Context, w http.ResponseWriter, r *http.Request, _ map[string]string) (int, interface{}, error) {
	s := ctx.IO.Stats()
	return http.StatusOK, map[string]interface{}{
		"status":           "success",
		"updateCycles":     s.UpdateCycles,
		"totalErrors":      s.TotalErrors,
		"lastUpdateTime":   s.LastUpdateTimeUs,
		"pollingActive":    s.PollingActive,
		"activePointCount": s.ActivePointCount,
	}, nil
}

// handleLogin implements POST /api/auth/login. On success it sets the
// session_token cookie directly on w (§6.1: "Set-Cookie: session_token=…;
// HttpOnly; Max-Age=1800").
func handleLogin(ctx *server.Context, w http.ResponseWriter, r *http.Request, _ map[string]string) (int, interface{}, error) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return 0, nil, apierr.New(apierr.InvalidArgument, "malformed request body: %v", err)
	}
	sess, err := ctx.Auth.Login(body.Username, body.Password)
	if err != nil {
		return 0, nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "session_token",
		Value:    sess.Token,
		HttpOnly: true,
		MaxAge:   1800,
		Path:     "/",
	})
	return http.StatusOK, map[string]interface{}{
		"success":    true,
		"role":       sess.Role.String(),
		"expires_at": sess.LastActivity.Add(30 * time.Minute).Unix(),
	}, nil
}

// handleLogout implements POST /api/auth/logout.
func handleLogout(ctx *server.Context, w http.ResponseWriter, r *http.Request, _ map[string]string) (int, interface{}, error) {
	ctx.Auth.Logout(sessionToken(r))
	http.SetCookie(w, &http.Cookie{Name: "session_token", Value: "", MaxAge: -1, Path: "/"})
	return http.StatusOK, map[string]interface{}{"success": true}, nil
}

// handleAuthStatus implements GET /api/auth/status.
func handleAuthStatus(ctx *server.Context, w http.ResponseWriter, r *http.Request, _ map[string]string) (int, interface{}, error) {
	token := sessionToken(r)
	if token == "" {
		return http.StatusOK, map[string]interface{}{"authenticated": false}, nil
	}
	sess, err := ctx.Auth.Validate(token)
	if err != nil {
		return http.StatusOK, map[string]interface{}{"authenticated": false}, nil
	}
	return http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"username":      sess.Username,
		"role":          sess.Role.String(),
		"created_time":  sess.Created.Unix(),
		"last_activity": sess.LastActivity.Unix(),
		"request_count": sess.RequestCount,
	}, nil
}

// handleAuthValidate implements GET /api/auth/validate.
func handleAuthValidate(ctx *server.Context, w http.ResponseWriter, r *http.Request, _ map[string]string) (int, interface{}, error) {
	sess, err := ctx.Auth.Validate(sessionToken(r))
	if err != nil {
		return http.StatusOK, map[string]interface{}{"valid": false}, nil
	}
	return http.StatusOK, map[string]interface{}{"valid": true, "role": sess.Role.String()}, nil
}

// handleAuthStats implements GET /api/auth/stats. The Manager role
// requirement is enforced by the router before this handler ever runs
// (§6.1); this body only returns the auth core's counters.
func handleAuthStats(ctx *server.Context, w http.ResponseWriter, r *http.Request, _ map[string]string) (int, interface{}, error) {
	s := ctx.Auth.Stats()
	return http.StatusOK, s, nil
}

// handleEmergencyStop implements POST /api/emergency-stop. Forces every
// output to its safe (false) state and enters Emergency mode for a
// fixed TTL; the Manager role requirement is enforced by the router.
func handleEmergencyStop(ctx *server.Context, w http.ResponseWriter, r *http.Request, _ map[string]string) (int, interface{}, error) {
	ctx.Pri.EnterEmergency(30 * time.Second)
	cfg := ctx.IO.Config()
	for _, id := range cfg.SortedPointIds() {
		if cfg.Points[id].IsOutput() {
			_ = ctx.IO.SetBinaryOutput(id, false)
		}
	}
	return http.StatusOK, map[string]interface{}{"status": "success", "mode": "Emergency"}, nil
}
