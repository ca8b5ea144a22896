package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/jackpot/go/internal/jackpot/action"
	"github.com/mcdev12/jackpot/go/internal/jackpot/ledger"
	"github.com/mcdev12/jackpot/go/internal/jackpot/session"
)

// Controller is what the HTTP edge needs from a running session.
type Controller interface {
	Snapshot() session.Snapshot
	Dispatcher() (*action.Dispatcher, bool)
	Refresh()
}

// DepositRequest is the body of POST /api/actions/deposit.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// ActionResponse reports a dispatched action.
type ActionResponse struct {
	Action       action.Action `json:"action"`
	Pending      bool          `json:"pending"`
	TxHash       string        `json:"tx_hash,omitempty"`
	Error        string        `json:"error,omitempty"`
	RevertReason string        `json:"revert_reason,omitempty"`
}

// StateHandler serves the composite view and accepts user actions.
type StateHandler struct {
	controller Controller
}

// NewStateHandler creates a state handler.
func NewStateHandler(controller Controller) *StateHandler {
	return &StateHandler{controller: controller}
}

// HandleGetState handles GET /api/state
func (h *StateHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

// HandleGetLedger handles GET /api/ledger. ?order=newest returns newest first.
func (h *StateHandler) HandleGetLedger(w http.ResponseWriter, r *http.Request) {
	snap := h.controller.Snapshot()
	l := ledger.Ledger{History: snap.History, Leaderboard: snap.Leaderboard}

	history := l.History
	switch r.URL.Query().Get("order") {
	case "", "ledger":
	case "newest":
		history = l.Newest()
	default:
		writeError(w, http.StatusBadRequest, "order must be ledger or newest")
		return
	}
	if r.URL.Query().Get("round") == "current" {
		history = ledger.Ledger{History: history}.CurrentRound()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history":     history,
		"leaderboard": l.Leaderboard,
	})
}

// HandleGetPayouts handles GET /api/payouts
func (h *StateHandler) HandleGetPayouts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Snapshot().Payouts)
}

// HandleRefresh handles POST /api/refresh
func (h *StateHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	h.controller.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

// HandleAction handles POST /api/actions/{action}. With ?wait=true the response is
// held until the transaction confirms or fails.
func (h *StateHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	d, ok := h.controller.Dispatcher()
	if !ok {
		writeError(w, http.StatusForbidden, "session is read-only")
		return
	}

	name := action.Action(r.PathValue("action"))
	var (
		ch  <-chan action.Result
		err error
	)
	switch name {
	case action.Deposit:
		var req DepositRequest
		if decErr := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); decErr != nil {
			writeError(w, http.StatusBadRequest, "invalid deposit request")
			return
		}
		ch, err = d.Deposit(req.Amount)
	case action.Settle:
		ch, err = d.Settle()
	case action.StartNewRound:
		ch, err = d.StartNewRound()
	case action.Distribute:
		ch, err = d.Distribute()
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		writeError(w, actionErrorStatus(err), err.Error())
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		writeJSON(w, http.StatusAccepted, ActionResponse{Action: name, Pending: true})
		return
	}

	select {
	case res := <-ch:
		st := d.Status()[name]
		resp := ActionResponse{Action: name, TxHash: st.TxHash, Error: st.Error, RevertReason: st.RevertReason}
		if res.Err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case <-r.Context().Done():
		log.Debug().Str("action", string(name)).Msg("client went away before confirmation")
	}
}

func actionErrorStatus(err error) int {
	switch {
	case errors.Is(err, action.ErrActionPending), errors.Is(err, action.ErrActionUnavailable):
		return http.StatusConflict
	case errors.Is(err, action.ErrBelowMinimum), errors.Is(err, action.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, action.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RegisterStateRoutes registers state and action routes with mux.
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", h.HandleGetState)
	mux.HandleFunc("GET /api/ledger", h.HandleGetLedger)
	mux.HandleFunc("GET /api/payouts", h.HandleGetPayouts)
	mux.HandleFunc("POST /api/refresh", h.HandleRefresh)
	mux.HandleFunc("POST /api/actions/{action}", h.HandleAction)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
