package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"solomate-backend/internal/domain"
	"solomate-backend/internal/domain/model"
	"solomate-backend/internal/infra/logging"
	"solomate-backend/internal/usecase"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Handler for the talk-time balance inquiry.
func talkTimeHandler(meteringUC usecase.MeteringUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, _ := logging.UserIDFrom(ctx)

		balance, err := meteringUC.ActiveTalkTime(ctx, userID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch talk time"})
			return
		}

		response := struct {
			UserID              string                         `json:"userId"`
			TotalTalkTime       int                            `json:"totalTalkTimeSeconds"`
			ActiveSubscriptions map[string]model.BalanceBucket `json:"activeSubscriptions"`
		}{
			UserID:              userID,
			TotalTalkTime:       balance.TotalSeconds,
			ActiveSubscriptions: balance.Breakdown,
		}
		writeJSON(w, http.StatusOK, response)
	}
}

type deductRequest struct {
	SecondsToDeduct json.Number `json:"secondsToDeduct"`
}

// Handler for reporting consumed talk time. Voice sessions call this
// periodically with the seconds consumed since the last report.
func deductTalkTimeHandler(meteringUC usecase.MeteringUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, _ := logging.UserIDFrom(ctx)

		var req deductRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		seconds, err := req.SecondsToDeduct.Int64()
		if err != nil || seconds < 0 {
			// Fractional, non-numeric, or negative seconds are a client bug,
			// distinct from an exhausted balance below.
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid secondsToDeduct"})
			return
		}

		plan, balance, err := meteringUC.Deduct(ctx, userID, int(seconds))
		if err != nil {
			var ite *domain.InsufficientTalkTimeError
			switch {
			case errors.As(err, &ite):
				writeJSON(w, http.StatusBadRequest, struct {
					Error            string            `json:"error"`
					SecondsRequested int               `json:"secondsRequested"`
					SecondsAvailable int               `json:"secondsAvailable"`
					Deductions       []model.Deduction `json:"deductions"`
				}{
					Error:            "insufficient talk time",
					SecondsRequested: ite.Requested,
					SecondsAvailable: ite.Available,
					Deductions:       plan.Deductions,
				})
			case errors.Is(err, domain.ErrInvalidArgument):
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid secondsToDeduct"})
			default:
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to deduct talk time"})
			}
			return
		}

		response := struct {
			UserID            string                         `json:"userId"`
			SecondsDeducted   int                            `json:"secondsDeducted"`
			Deductions        []model.Deduction              `json:"deductions"`
			TalkTimeRemaining map[string]model.BalanceBucket `json:"talkTimeRemaining"`
		}{
			UserID:            userID,
			SecondsDeducted:   plan.TotalDeducted(),
			Deductions:        plan.Deductions,
			TalkTimeRemaining: balance.Breakdown,
		}
		writeJSON(w, http.StatusOK, response)
	}
}

// ---- Admin entitlement lifecycle ----

type grantRequest struct {
	UserID    string     `json:"user_id"`
	Tier      string     `json:"tier"`
	Seconds   int        `json:"seconds"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func entitlementGrantHandler(entUC usecase.EntitlementUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req grantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		tier, err := model.ParseTier(req.Tier)
		if err != nil {
			http.Error(w, "Unknown tier", http.StatusBadRequest)
			return
		}

		e, err := entUC.Grant(ctx, req.UserID, tier, req.Seconds, req.ExpiresAt)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidArgument) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			http.Error(w, "Failed to grant entitlement", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

func entitlementTopUpHandler(entUC usecase.EntitlementUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		var req struct {
			Seconds int `json:"seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		e, err := entUC.TopUp(ctx, id, req.Seconds)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				http.NotFound(w, r)
			case errors.Is(err, domain.ErrInvalidArgument):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				http.Error(w, "Failed to top up entitlement", http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func entitlementCancelHandler(entUC usecase.EntitlementUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := chi.URLParam(r, "id")

		if err := entUC.Cancel(ctx, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "Failed to cancel entitlement", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func entitlementListHandler(entUC usecase.EntitlementUseCase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := chi.URLParam(r, "userID")

		ents, err := entUC.ListByUser(ctx, userID)
		if err != nil {
			http.Error(w, "Failed to list entitlements", http.StatusInternalServerError)
			return
		}

		response := struct {
			Data []*model.Entitlement `json:"data"`
		}{Data: ents}
		writeJSON(w, http.StatusOK, response)
	}
}
