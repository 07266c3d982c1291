package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/appointment"
)

type CreateAppointmentRequest struct {
	ExpertID  string `json:"expertId"`
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail"`
	UserPhone string `json:"userPhone"`
	TicketNo  string `json:"ticketNo"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	Notes     string `json:"notes"`
	SessionID string `json:"sessionId,omitempty"`
}

type CancelAppointmentRequest struct {
	CancellationReason string `json:"cancellationReason"`
}

type ReassignAppointmentRequest struct {
	NewExpertID string `json:"newExpertId"`
	Reason      string `json:"reason"`
}

type RescheduleAppointmentRequest struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Reason string `json:"reason"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	ExpertID           uuid.UUID  `json:"expertId"`
	UserName           string     `json:"userName"`
	UserEmail          string     `json:"userEmail"`
	UserPhone          string     `json:"userPhone"`
	TicketNo           string     `json:"ticketNo"`
	Date               string     `json:"date"`
	Time               string     `json:"time"`
	Status             string     `json:"status"`
	Notes              string     `json:"notes,omitempty"`
	CancellationReason string     `json:"cancellationReason,omitempty"`
	ReassignmentReason string     `json:"reassignmentReason,omitempty"`
	ReminderSentAt     *time.Time `json:"reminderSentAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func newAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		ExpertID:           a.ExpertID,
		UserName:           a.Customer.Name,
		UserEmail:          a.Customer.Email,
		UserPhone:          a.Customer.Phone,
		TicketNo:           a.TicketNo,
		Date:               a.Date.String(),
		Time:               a.Time.String(),
		Status:             string(a.Status),
		Notes:              a.Notes,
		CancellationReason: a.CancellationReason,
		ReassignmentReason: a.ReassignmentReason,
		ReminderSentAt:     a.ReminderSentAt,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

type AppointmentListResponse struct {
	Items      []AppointmentResponse `json:"items"`
	Total      int                   `json:"total"`
	Page       int                   `json:"page"`
	Limit      int                   `json:"limit"`
	TotalPages int                   `json:"totalPages"`
}

type RescheduleResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointmentId"`
	ProposedDate  string    `json:"proposedDate"`
	ProposedTime  string    `json:"proposedTime"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"createdAt"`
}

type RescheduleResolutionResponse struct {
	State       string              `json:"state"`
	Appointment AppointmentResponse `json:"appointment"`
}

type PurgeResponse struct {
	Deleted int `json:"deleted"`
}

type LockRequest struct {
	ExpertID  string `json:"expertId"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	SessionID string `json:"sessionId"`
}

type LockResponse struct {
	ExpertID  uuid.UUID `json:"expertId"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type LockStatusResponse struct {
	Locked bool `json:"locked"`
}

type ExpertResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
}

type AvailabilityResponse struct {
	ExpertID uuid.UUID `json:"expertId"`
	Date     string    `json:"date"`
	Times    []string  `json:"times"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
