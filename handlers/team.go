package handlers

import (
	"net/http"

	"github.com/brandviz/brandviz/internal/models"
)

type roleRequest struct {
	Role models.Role `json:"role" validate:"required,oneof=owner admin viewer"`
}

type inviteRequest struct {
	Email string      `json:"email" validate:"required,email,max=254"`
	Role  models.Role `json:"role" validate:"required,oneof=admin viewer"`
}

type acceptRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	members, err := h.svc.Team.ListMembers(r.Context(), currentUser(r), brandID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", members)
}

// ChangeRole handles PATCH /api/brand/{id}/members/{userId}.
func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	memberID, err := pathUUID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req roleRequest
	if err := h.decode(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.svc.Team.ChangeRole(r.Context(), currentUser(r), brandID, memberID, req.Role); err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "role updated", nil)
}

func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	memberID, err := pathUUID(r, "userId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.svc.Team.RemoveMember(r.Context(), currentUser(r), brandID, memberID); err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "member removed", nil)
}

func (h *Handler) ListInvites(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	invites, err := h.svc.Team.ListInvites(r.Context(), currentUser(r), brandID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "ok", invites)
}

func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req inviteRequest
	if err := h.decode(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	invite, err := h.svc.Team.CreateInvite(r.Context(), currentUser(r), brandID, req.Email, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "invite sent", invite)
}

func (h *Handler) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	inviteID, err := pathUUID(r, "inviteId")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.svc.Team.RevokeInvite(r.Context(), currentUser(r), brandID, inviteID); err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "invite revoked", nil)
}

// AcceptInvite handles POST /api/invites/accept.
func (h *Handler) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := h.decode(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	membership, err := h.svc.Team.AcceptInvite(r.Context(), currentUser(r), req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, "invite accepted", membership)
}
