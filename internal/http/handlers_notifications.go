package http

import (
	"net/http"

	"finledger/internal/core"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	unreadOnly, bad := ParseBoolParam(r.URL.Query(), "unread")
	if bad != nil {
		bad.Write(w)
		return
	}
	all := s.finance.Notifications()
	out := make([]core.Notification, 0, len(all))
	for _, n := range all {
		if unreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	OK(map[string]any{
		"notifications": out,
		"unread":        s.finance.UnreadNotifications(),
	}).Write(w)
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.finance.MarkNotificationRead(r.Context(), r.PathValue("id")); err != nil {
		FromError(r, err).Write(w)
		return
	}
	NoContent().Write(w)
}

func (s *Server) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n := s.finance.MarkAllNotificationsRead(r.Context())
	OK(map[string]int{"marked": n}).Write(w)
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.finance.DeleteNotification(r.Context(), r.PathValue("id")); err != nil {
		FromError(r, err).Write(w)
		return
	}
	NoContent().Write(w)
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	s.finance.ClearNotifications(r.Context())
	NoContent().Write(w)
}
