package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/duocal/internal/services"
	"github.com/charlesng35/duocal/pkg/errors"
	"github.com/charlesng35/duocal/pkg/response"
)

// PartnerHandler exposes the pairing workflow.
type PartnerHandler struct {
	svc *services.PartnerService
}

func NewPartnerHandler(svc *services.PartnerService) *PartnerHandler {
	return &PartnerHandler{svc: svc}
}

type invitePartnerRequest struct {
	Email   string `json:"email" validate:"required,email,max=255"`
	Message string `json:"message" validate:"omitempty,max=500"`
}

type invitationTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type inviteResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GET /api/partner
func (h *PartnerHandler) Overview(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	overview, err := h.svc.Overview(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, overview)
}

// POST /api/partner/invite
func (h *PartnerHandler) Invite(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req invitePartnerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.Invite(requestContext(c), services.InviteInput{
		SenderID: userID,
		Email:    req.Email,
		Message:  strings.TrimSpace(req.Message),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, inviteResponse{
		ID:        result.InvitationID,
		Email:     result.Email,
		ExpiresAt: result.ExpiresAt,
	})
}

// GET /api/partner/invite/:token is public so the landing page renders before sign-in.
func (h *PartnerHandler) GetInvitation(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, errors.NewBadRequest("token is required"))
		return
	}
	view, err := h.svc.GetInvitation(requestContext(c), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, view)
}

// DELETE /api/partner/invite/:id
func (h *PartnerHandler) CancelInvitation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := h.svc.CancelInvitation(requestContext(c), userID, pathID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"cancelled": true})
}

// POST /api/partner/accept
func (h *PartnerHandler) Accept(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req invitationTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}
	result, err := h.svc.Accept(requestContext(c), userID, strings.TrimSpace(req.Token))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/partner/decline
func (h *PartnerHandler) Decline(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req invitationTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.svc.Decline(requestContext(c), userID, strings.TrimSpace(req.Token)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"declined": true})
}

// DELETE /api/partner/unlink
func (h *PartnerHandler) Unlink(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	result, err := h.svc.Unlink(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
