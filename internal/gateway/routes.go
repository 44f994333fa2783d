package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/smsforms/internal/config"
	"github.com/soyeahso/smsforms/internal/store"
	"github.com/soyeahso/smsforms/internal/version"
)

// safeConfigPrefixes lists the config paths config.get and config.set may
// touch. Credentials live outside them.
var safeConfigPrefixes = []string{
	"gateway.port",
	"gateway.bind",
	"gateway.customBindHost",
	"formPlayer",
	"session",
	"replies",
	"logging",
}

func isAllowedConfigPath(key string) bool {
	for _, prefix := range safeConfigPrefixes {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.inbound != nil {
		mux.Handle("POST /sms/inbound", s.inbound)
	}
	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("status", s.rpcStatus)
	s.Handle("config.get", s.rpcConfigGet)
	s.Handle("config.set", s.rpcConfigSet)
	s.Handle("channels.status", s.rpcChannelsStatus)
	s.Handle("triggers.list", s.rpcTriggersList)
	s.Handle("triggers.save", s.rpcTriggersSave)
	s.Handle("triggers.delete", s.rpcTriggersDelete)
	s.Handle("sessions.list", s.rpcSessionsList)
	s.Handle("sessions.get", s.rpcSessionsGet)
	s.Handle("sessions.cancel", s.rpcSessionsCancel)
	s.Handle("sessions.send", s.rpcSessionsSend)
	s.Handle("message.send", s.rpcMessageSend)
	s.Handle("message.simulate", s.rpcMessageSimulate)
}

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:  "ok",
		Version: version.Version,
		Clients: s.clients.Count(),
	})
}

// StatusResponse is the payload of the status method.
type StatusResponse struct {
	Version      string   `json:"version"`
	Commit       string   `json:"commit,omitempty"`
	Addr         string   `json:"addr,omitempty"`
	UptimeMs     int64    `json:"uptimeMs"`
	Clients      int      `json:"clients"`
	Channels     []string `json:"channels"`
	OpenSessions int      `json:"openSessions"`
}

func (s *Server) rpcStatus(rc *RequestContext) {
	resp := StatusResponse{
		Version:  version.Version,
		Commit:   version.Commit,
		Addr:     s.Addr(),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
		Clients:  s.clients.Count(),
		Channels: []string{},
	}
	if s.channels != nil {
		resp.Channels = s.channels.List()
	}
	if s.sessions != nil {
		open, err := s.sessions.List(rc.Ctx, store.SessionFilter{OpenOnly: true})
		if err != nil {
			rc.RespondError(CodeInternal, err.Error())
			return
		}
		resp.OpenSessions = len(open)
	}
	rc.Respond(resp)
}

type configGetParams struct {
	Key string `json:"key"`
}

func (s *Server) rpcConfigGet(rc *RequestContext) {
	var p configGetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	path, ok := s.configPathParam(rc, p.Key)
	if !ok {
		return
	}

	s.mu.RLock()
	val, found := config.GetValueAtPath(s.configRaw, path)
	s.mu.RUnlock()
	if !found {
		rc.RespondError(CodeNotFound, "key not found: "+p.Key)
		return
	}
	rc.Respond(map[string]any{"key": p.Key, "value": val})
}

type configSetParams struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// rpcConfigSet edits the config map and, when the gateway knows its config
// file, saves it. The running services pick the change up on restart.
func (s *Server) rpcConfigSet(rc *RequestContext) {
	var p configSetParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return
	}
	path, ok := s.configPathParam(rc, p.Key)
	if !ok {
		return
	}

	s.mu.Lock()
	config.SetValueAtPath(s.configRaw, path, p.Value)
	var err error
	if s.configPath != "" {
		err = config.SaveRaw(s.configPath, s.configRaw)
	}
	s.mu.Unlock()
	if err != nil {
		rc.RespondError(CodeInternal, err.Error())
		return
	}

	s.log.Info().Str("key", p.Key).Msg("config changed by operator")
	rc.Respond(map[string]any{"key": p.Key, "value": p.Value, "restartRequired": true})
}

func (s *Server) configPathParam(rc *RequestContext, key string) ([]string, bool) {
	if key == "" {
		rc.RespondError(CodeInvalidParams, "key is required")
		return nil, false
	}
	if !isAllowedConfigPath(key) {
		rc.RespondError(CodeForbidden, "access denied for config path: "+key)
		return nil, false
	}
	path, err := config.ParseConfigPath(key)
	if err != nil {
		rc.RespondError(CodeInvalidParams, err.Error())
		return nil, false
	}
	return path, true
}

func (s *Server) rpcChannelsStatus(rc *RequestContext) {
	if s.channels == nil {
		rc.Respond(map[string]any{"channels": []any{}})
		return
	}
	rc.Respond(map[string]any{"channels": s.channels.Status()})
}
