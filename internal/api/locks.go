package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/slotlock"
)

func parseSlotKey(expertID, date, tod string) (slotlock.Key, string, string) {
	id, err := uuid.Parse(expertID)
	if err != nil {
		return slotlock.Key{}, "invalid_expert_id", "expertId must be a valid UUID"
	}
	d, err := availability.ParseDate(date)
	if err != nil {
		return slotlock.Key{}, "invalid_date", err.Error()
	}
	t, err := availability.ParseTimeOfDay(tod)
	if err != nil {
		return slotlock.Key{}, "invalid_time", err.Error()
	}
	return slotlock.Key{ExpertID: id, Date: d, Time: t}, "", ""
}

// checkLockHandler answers 409 when another session holds the slot, so the
// booking form can warn before the user fills it in.
func checkLockHandler(locks *slotlock.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		key, code, details := parseSlotKey(q.Get("expertId"), q.Get("date"), q.Get("time"))
		if code != "" {
			writeError(w, http.StatusBadRequest, code, details)
			return
		}

		locked, err := locks.IsLocked(r.Context(), key, q.Get("currentSessionId"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		status := http.StatusOK
		if locked {
			status = http.StatusConflict
		}
		writeJSON(w, status, LockStatusResponse{Locked: locked})
	}
}

func createLockHandler(locks *slotlock.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LockRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		key, code, details := parseSlotKey(req.ExpertID, req.Date, req.Time)
		if code != "" {
			writeError(w, http.StatusBadRequest, code, details)
			return
		}

		lock, err := locks.Acquire(r.Context(), key, req.SessionID)
		if err != nil {
			if errors.Is(err, slotlock.ErrSessionMissing) {
				writeError(w, http.StatusBadRequest, "session_required", err.Error())
				return
			}
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, LockResponse{
			ExpertID:  lock.Key.ExpertID,
			Date:      lock.Key.Date.String(),
			Time:      lock.Key.Time.String(),
			SessionID: lock.SessionID,
			ExpiresAt: lock.ExpiresAt,
		})
	}
}

func releaseLockHandler(locks *slotlock.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")

		err := locks.Release(r.Context(), sessionID)
		switch {
		case errors.Is(err, slotlock.ErrLockNotFound):
			writeError(w, http.StatusNotFound, "lock_not_found", err.Error())
			return
		case errors.Is(err, slotlock.ErrSessionMissing):
			writeError(w, http.StatusBadRequest, "session_required", err.Error())
			return
		case err != nil:
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"released": true})
	}
}
