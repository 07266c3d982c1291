package api

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/appointment"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/availability"
)

// Reassignment and reschedule reasons are shown to the customer, so they
// must say something.
const minReasonLength = 10

func parseID(w http.ResponseWriter, r *http.Request, param, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func checkReason(w http.ResponseWriter, reason string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(reason)) < minReasonLength {
		writeError(w, http.StatusBadRequest, "reason_too_short",
			"reason must be at least "+strconv.Itoa(minReasonLength)+" characters")
		return false
	}
	return true
}

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		expertID, err := uuid.Parse(req.ExpertID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_expert_id", "expertId must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookingRequest{
			ExpertID: expertID,
			Customer: appointment.Customer{
				Name:  req.UserName,
				Email: req.UserEmail,
				Phone: req.UserPhone,
			},
			TicketNo:  strings.TrimSpace(req.TicketNo),
			Date:      req.Date,
			Time:      req.Time,
			Notes:     req.Notes,
			SessionID: req.SessionID,
			Actor:     actorFromRequest(r),
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, newAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter appointment.ListFilter

		if s := q.Get("status"); s != "" {
			status, err := appointment.ParseStatus(s)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			filter.Status = &status
		}
		if s := q.Get("expertId"); s != "" {
			id, err := uuid.Parse(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_expert_id", "expertId must be a valid UUID")
				return
			}
			filter.ExpertID = &id
		}
		if s := q.Get("date"); s != "" {
			date, err := availability.ParseDate(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
				return
			}
			filter.Date = &date
		}
		for _, p := range []struct {
			name string
			dst  *int
		}{{"page", &filter.Page}, {"limit", &filter.Limit}} {
			s := q.Get(p.name)
			if s == "" {
				continue
			}
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid_"+p.name, p.name+" must be a positive integer")
				return
			}
			*p.dst = n
		}

		page, err := svc.ListAppointments(r.Context(), filter)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := AppointmentListResponse{
			Items: make([]AppointmentResponse, 0, len(page.Items)),
			Total: page.Total,
			Page:  page.Page,
			Limit: page.Limit,
		}
		for i := range page.Items {
			resp.Items = append(resp.Items, newAppointmentResponse(&page.Items[i]))
		}
		resp.TotalPages = (page.Total + page.Limit - 1) / page.Limit

		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func approveAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.Approve(r.Context(), id, actorFromRequest(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		appt, err := svc.Cancel(r.Context(), id, req.CancellationReason, actorFromRequest(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.Complete(r.Context(), id, actorFromRequest(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func remindAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.SendReminder(r.Context(), id, actorFromRequest(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func reassignAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req ReassignAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		newExpertID, err := uuid.Parse(req.NewExpertID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_expert_id", "newExpertId must be a valid UUID")
			return
		}
		if !checkReason(w, req.Reason) {
			return
		}

		appt, err := svc.Reassign(r.Context(), id, newExpertID, req.Reason, actorFromRequest(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, newAppointmentResponse(appt))
	}
}

func deleteAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), id, actorFromRequest(r)); err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "id": id})
	}
}

func purgeCancelledHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := svc.PurgeCancelled(r.Context(), actorFromRequest(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, PurgeResponse{Deleted: n})
	}
}

func proposeRescheduleHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req RescheduleAppointmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !checkReason(w, req.Reason) {
			return
		}

		created, err := svc.ProposeReschedule(r.Context(), appointment.RescheduleProposal{
			AppointmentID: id,
			Date:          req.Date,
			Time:          req.Time,
			Reason:        req.Reason,
			Actor:         actorFromRequest(r),
		})
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, RescheduleResponse{
			ID:            created.ID,
			AppointmentID: created.AppointmentID,
			ProposedDate:  created.ProposedDate.String(),
			ProposedTime:  created.ProposedTime.String(),
			State:         string(created.State),
			CreatedAt:     created.CreatedAt,
		})
	}
}

// resolveRescheduleHandler serves the links mailed to the customer. The token
// is the only credential, so every failure is final.
func resolveRescheduleHandler(svc *appointment.Service, approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")

		resolve := svc.RejectReschedule
		if approve {
			resolve = svc.ApproveReschedule
		}
		res, err := resolve(r.Context(), token)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, RescheduleResolutionResponse{
			State:       string(res.Request.State),
			Appointment: newAppointmentResponse(&res.Appointment),
		})
	}
}

func listExpertsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		experts, err := svc.ListExperts(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := make([]ExpertResponse, 0, len(experts))
		for _, e := range experts {
			resp = append(resp, ExpertResponse{ID: e.ID, Name: e.Name, Email: e.Email})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func expertAvailabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expertID, ok := parseID(w, r, "id", "invalid_expert_id")
		if !ok {
			return
		}
		date, err := availability.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		starts, err := svc.Availability().OpenStartTimes(r.Context(), expertID, date)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := AvailabilityResponse{ExpertID: expertID, Date: date.String(), Times: make([]string, 0, len(starts))}
		for _, t := range starts {
			resp.Times = append(resp.Times, t.String())
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
