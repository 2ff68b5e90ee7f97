// Package api is the operator-facing HTTP surface of the agent daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"voxelagent.ai/internal/agent"
	"voxelagent.ai/internal/catalog"
	"voxelagent.ai/internal/journal"
	"voxelagent.ai/internal/logging"
	"voxelagent.ai/internal/observability"
	"voxelagent.ai/internal/version"
	"voxelagent.ai/internal/world"
)

const maxBodyBytes = 1 << 20

// Agent is the control surface the API drives. *agent.Manager implements it.
type Agent interface {
	Start(ctx context.Context, p world.ConnectParams) error
	Stop()
	Status() agent.StatusReport
	Perceive(entityRadius float64, vol agent.Volume) (agent.Snapshot, error)
	Inventory() ([]world.Item, error)
	Surroundings() ([]agent.NearbyBlock, error)
	Say(message string) error
	Actions() agent.Executor
	Catalog() *catalog.Catalog
}

// History serves recorded actions and reflex runs. *journal.Journal
// implements it.
type History interface {
	RecentActions(ctx context.Context, limit int) ([]journal.ActionRow, error)
	RecentProtocols(ctx context.Context, limit int) ([]journal.ProtocolRow, error)
}

type Config struct {
	Agent   Agent
	History History
	Metrics *observability.Metrics
	Logger  *zap.Logger
	// StartTimeout bounds a POST /start connect attempt.
	StartTimeout time.Duration
}

type Server struct {
	agent        Agent
	history      History
	metrics      *observability.Metrics
	log          *zap.Logger
	schemas      map[string]*jsonschema.Schema
	startTimeout time.Duration
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("nil agent")
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, fmt.Errorf("compile schemas: %w", err)
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	return &Server{
		agent:        cfg.Agent,
		history:      cfg.History,
		metrics:      cfg.Metrics,
		log:          logging.OrNop(cfg.Logger).Named("api"),
		schemas:      schemas,
		startTimeout: cfg.StartTimeout,
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(pattern, h))
	}

	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /version", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"version": version.String()})
	})
	if reg := s.metrics.Registry(); reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	handle("POST /start", s.handleStart)
	handle("POST /stop", s.handleStop)
	handle("GET /status", s.handleStatus)
	handle("GET /catalog", s.handleCatalog)

	handle("GET /perception", s.handlePerception)
	handle("GET /inventory", s.handleInventory)
	handle("GET /surroundings", s.handleSurroundings)

	handle("POST /action/chat", s.handleChat)
	handle("POST /action/move", s.handleMove)
	handle("POST /action/mine", s.handleMine)
	handle("POST /action/place", s.handlePlace)
	handle("POST /action/equip", s.handleEquip)
	handle("POST /action/craft", s.handleCraft)
	handle("POST /action/attack", s.handleAttack)
	handle("POST /action/eat", s.handleEat)

	handle("GET /history/actions", s.handleHistoryActions)
	handle("GET /history/reflexes", s.handleHistoryReflexes)
	return mux
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: rw, code: http.StatusOK}
		start := time.Now()
		h(sw, r)
		s.metrics.RecordRequest(route, sw.code)
		s.log.Debug("request", zap.String("route", route), zap.Int("code", sw.code), zap.Duration("took", time.Since(start)))
	})
}

// Lifecycle.

type startReq struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Version  string `json:"version"`
	Password string `json:"password"`
	Auth     string `json:"auth"`
}

func (s *Server) handleStart(rw http.ResponseWriter, r *http.Request) {
	var req startReq
	if !s.decode(rw, r, "start", &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.startTimeout)
	defer cancel()
	err := s.agent.Start(ctx, world.ConnectParams{
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Version:  req.Version,
		Password: req.Password,
		Auth:     req.Auth,
	})
	if err != nil {
		s.log.Error("start", zap.Error(err))
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "starting"})
}

func (s *Server) handleStop(rw http.ResponseWriter, r *http.Request) {
	s.agent.Stop()
	writeJSON(rw, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleStatus(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.agent.Status())
}

func (s *Server) handleCatalog(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.agent.Catalog().Summary())
}

// Perception.

func (s *Server) handlePerception(rw http.ResponseWriter, r *http.Request) {
	var radius float64
	if v := r.URL.Query().Get("radius"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "radius must be a positive number"})
			return
		}
		radius = f
	}
	snap, err := s.agent.Perceive(radius, agent.Volume{})
	if err != nil {
		s.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, snap)
}

func (s *Server) handleInventory(rw http.ResponseWriter, r *http.Request) {
	items, err := s.agent.Inventory()
	if err != nil {
		s.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"inventory": items})
}

func (s *Server) handleSurroundings(rw http.ResponseWriter, r *http.Request) {
	blocks, err := s.agent.Surroundings()
	if err != nil {
		s.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"blocks": blocks})
}

// Actions.

type chatReq struct {
	Message string `json:"message"`
}

type positionReq struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p positionReq) vec() world.Vec3 { return world.Vec3{X: p.X, Y: p.Y, Z: p.Z} }

type placeReq struct {
	positionReq
	Face     positionReq `json:"face"`
	ItemName string      `json:"itemName"`
}

type equipReq struct {
	ItemName    string `json:"itemName"`
	Destination string `json:"destination"`
}

type craftReq struct {
	ItemName string `json:"itemName"`
	Count    int    `json:"count"`
}

type attackReq struct {
	EntityName string `json:"entityName"`
}

type itemReq struct {
	ItemName string `json:"itemName"`
}

func (s *Server) handleChat(rw http.ResponseWriter, r *http.Request) {
	var req chatReq
	if !s.decode(rw, r, "chat", &req) {
		return
	}
	s.done(rw, s.agent.Say(req.Message))
}

func (s *Server) handleMove(rw http.ResponseWriter, r *http.Request) {
	var req positionReq
	if !s.decode(rw, r, "position", &req) {
		return
	}
	s.done(rw, s.agent.Actions().MoveTo(r.Context(), req.vec()))
}

func (s *Server) handleMine(rw http.ResponseWriter, r *http.Request) {
	var req positionReq
	if !s.decode(rw, r, "position", &req) {
		return
	}
	s.done(rw, s.agent.Actions().MineBlock(r.Context(), req.vec()))
}

func (s *Server) handlePlace(rw http.ResponseWriter, r *http.Request) {
	var req placeReq
	if !s.decode(rw, r, "place", &req) {
		return
	}
	s.done(rw, s.agent.Actions().PlaceBlock(r.Context(), req.vec(), req.Face.vec(), req.ItemName))
}

func (s *Server) handleEquip(rw http.ResponseWriter, r *http.Request) {
	var req equipReq
	if !s.decode(rw, r, "equip", &req) {
		return
	}
	s.done(rw, s.agent.Actions().EquipItem(r.Context(), req.ItemName, req.Destination))
}

func (s *Server) handleCraft(rw http.ResponseWriter, r *http.Request) {
	var req craftReq
	if !s.decode(rw, r, "craft", &req) {
		return
	}
	s.done(rw, s.agent.Actions().CraftItem(r.Context(), req.ItemName, req.Count))
}

func (s *Server) handleAttack(rw http.ResponseWriter, r *http.Request) {
	var req attackReq
	if !s.decode(rw, r, "attack", &req) {
		return
	}
	s.done(rw, s.agent.Actions().AttackEntity(r.Context(), req.EntityName))
}

func (s *Server) handleEat(rw http.ResponseWriter, r *http.Request) {
	var req itemReq
	if !s.decode(rw, r, "item", &req) {
		return
	}
	s.done(rw, s.agent.Actions().ConsumeItem(r.Context(), req.ItemName))
}

// History.

func (s *Server) handleHistoryActions(rw http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": journal.ErrIndexDisabled.Error()})
		return
	}
	rows, err := s.history.RecentActions(r.Context(), limitParam(r))
	s.writeHistory(rw, map[string]any{"actions": rows}, err)
}

func (s *Server) handleHistoryReflexes(rw http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": journal.ErrIndexDisabled.Error()})
		return
	}
	rows, err := s.history.RecentProtocols(r.Context(), limitParam(r))
	s.writeHistory(rw, map[string]any{"reflexes": rows}, err)
}

func (s *Server) writeHistory(rw http.ResponseWriter, body any, err error) {
	switch {
	case errors.Is(err, journal.ErrIndexDisabled):
		writeJSON(rw, http.StatusNotFound, map[string]string{"error": err.Error()})
	case err != nil:
		s.log.Error("history query", zap.Error(err))
		writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		writeJSON(rw, http.StatusOK, body)
	}
}

func limitParam(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

// Helpers.

// decode reads and validates the body, answering 400 itself on failure.
func (s *Server) decode(rw http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	if err := decodeValid(s.schemas[schema], body, dst); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func (s *Server) done(rw http.ResponseWriter, err error) {
	if err != nil {
		s.fail(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]bool{"success": true})
}

// fail maps agent errors: no session is 503, every other failure 500 with
// its code.
func (s *Server) fail(rw http.ResponseWriter, err error) {
	code := agent.CodeOf(err)
	if errors.Is(err, agent.ErrNoSession) {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusInternalServerError, map[string]string{"error": err.Error(), "code": string(code)})
}

func writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	_ = json.NewEncoder(rw).Encode(v)
}
