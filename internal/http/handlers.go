package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/vai-no-pulo/internal/match"
	"github.com/example/vai-no-pulo/internal/models"
	"github.com/example/vai-no-pulo/internal/notify"
	"github.com/example/vai-no-pulo/internal/orders"
	"github.com/example/vai-no-pulo/internal/trips"
)

// Server is the HTTP API surface. Identity is resolved upstream (API
// gateway) and trusted from the X-User-Id / X-User-Role headers.
type Server struct {
	Orders  *orders.Service
	Trips   *trips.Service
	Matcher *match.Evaluator
	WSReg   *notify.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, ordersSvc *orders.Service, tripsSvc *trips.Service, matcher *match.Evaluator, wsreg *notify.WSRegistry) *Server {
	s := &Server{
		Orders:  ordersSvc,
		Trips:   tripsSvc,
		Matcher: matcher,
		WSReg:   wsreg,
		logger:  logger,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/pending/count", s.handleCountPending).Methods("GET")
	api.HandleFunc("/orders/read", s.handleMarkRead).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}/accept", s.handleAcceptOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/reject", s.handleRejectOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/start", s.handleStartOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/complete", s.handleCompleteOrder).Methods("POST")
	api.HandleFunc("/orders/{id}/reopen", s.handleReopenOrder).Methods("POST")

	s.registerTripRoutes(api)

	api.HandleFunc("/match/check", s.handleCheckMatch).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type coordReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c coordReq) coord() models.Coord { return models.Coord{Lat: c.Lat, Lng: c.Lng} }

type createOrderReq struct {
	TripID          *string  `json:"trip_id,omitempty"`
	ItemDescription string   `json:"item_description"`
	WeightKg        float64  `json:"weight_kg"`
	OriginName      string   `json:"origin_name"`
	Origin          coordReq `json:"origin"`
	DestName        string   `json:"dest_name"`
	Dest            coordReq `json:"dest"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := s.Orders.Create(r.Context(), orders.CreateCommand{
		TripID:          req.TripID,
		ItemDescription: req.ItemDescription,
		WeightKg:        req.WeightKg,
		OriginName:      req.OriginName,
		Origin:          req.Origin.coord(),
		DestName:        req.DestName,
		Dest:            req.Dest.coord(),
	}, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	id, role, ok := s.identity(w, r)
	if !ok {
		return
	}
	list, err := s.Orders.FindMyOrders(r.Context(), id, role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, role, ok := s.identity(w, r)
	if !ok {
		return
	}
	o, err := s.Orders.FindOne(r.Context(), mux.Vars(r)["id"], id, role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleAcceptOrder(w http.ResponseWriter, r *http.Request) {
	id, role, ok := s.identity(w, r)
	if !ok {
		return
	}
	if role != models.RoleDriver {
		writeError(w, http.StatusForbidden, "only drivers can accept orders")
		return
	}
	o, first, err := s.Orders.Accept(r.Context(), mux.Vars(r)["id"], id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	msg := "order assigned to you"
	if !first {
		msg = "interest recorded; another driver currently holds this order"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order":               o,
		"is_first_acceptance": first,
		"message":             msg,
	})
}

func (s *Server) handleRejectOrder(w http.ResponseWriter, r *http.Request) {
	id, role, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := s.Orders.Reject(r.Context(), mux.Vars(r)["id"], id, role, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	// body is optional for cancel
	_ = json.NewDecoder(r.Body).Decode(&req)
	o, err := s.Orders.Cancel(r.Context(), mux.Vars(r)["id"], id, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleStartOrder(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.identity(w, r)
	if !ok {
		return
	}
	o, err := s.Orders.StartProgress(r.Context(), mux.Vars(r)["id"], id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		FinalPrice *int64 `json:"final_price"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	o, err := s.Orders.Complete(r.Context(), mux.Vars(r)["id"], id, req.FinalPrice)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleReopenOrder(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.identity(w, r)
	if !ok {
		return
	}
	o, err := s.Orders.Reopen(r.Context(), mux.Vars(r)["id"], id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleCountPending(w http.ResponseWriter, r *http.Request) {
	id, role, ok := s.identity(w, r)
	if !ok {
		return
	}
	n, err := s.Orders.CountPending(r.Context(), id, role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, role, ok := s.identity(w, r)
	if !ok {
		return
	}
	if err := s.Orders.MarkAsRead(r.Context(), id, role); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkMatchReq struct {
	DriverOrigin coordReq `json:"driver_origin"`
	DriverDest   coordReq `json:"driver_dest"`
	ClientOrigin coordReq `json:"client_origin"`
	ClientDest   coordReq `json:"client_dest"`
	ToleranceKm  float64  `json:"tolerance_km"`
}

func (s *Server) handleCheckMatch(w http.ResponseWriter, r *http.Request) {
	var req checkMatchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.Matcher.CheckRouteMatch(r.Context(),
		req.DriverOrigin.coord(), req.DriverDest.coord(),
		req.ClientOrigin.coord(), req.ClientDest.coord(),
		req.ToleranceKm)
	if err != nil {
		// Routing provider failure: the route cannot be verified, so the
		// check fails closed rather than failing the request.
		s.logger.Warn("route match unavailable", "error", err)
		writeJSON(w, http.StatusOK, match.Result{})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(id, conn)
	// Drain the connection until it drops, then unregister the session.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		s.WSReg.Remove(id)
		_ = conn.Close()
	}()
}
