package hub

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"rapidshare/models"
)

// handleIP answers like a public address lookup. Callers on a private or
// loopback address all share this hub's network address, so every LAN device
// of one hub lands in the same group.
func (s *Server) handleIP(w http.ResponseWriter, r *http.Request) {
	host := hostOnly(r.RemoteAddr)
	if ip := net.ParseIP(host); ip != nil && isLocalAddress(ip) {
		host = s.networkAddress(r)
	}
	writeJSON(w, http.StatusOK, map[string]string{"ip": host})
}

// networkAddress is Options.NetworkAddress, or else the address the request
// arrived on.
func (s *Server) networkAddress(r *http.Request) string {
	if s.opts.NetworkAddress != "" {
		return s.opts.NetworkAddress
	}
	if local, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		return hostOnly(local.String())
	}
	return hostOnly(r.Host)
}

func isLocalAddress(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast()
}

func hostOnly(addr string) string {
	if h, _, err := net.SplitHostPort(addr); err == nil {
		return h
	}
	return addr
}

func (s *Server) handleQueryPeers(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q := models.PeerQuery{
		GroupKey: values.Get("networkId"),
		Status:   models.PeerStatus(values.Get("status")),
	}
	if raw := values.Get("seenWithin"); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil || window < 0 {
			writeError(w, http.StatusBadRequest, "seenWithin must be a non-negative duration")
			return
		}
		q.SeenWithin = window
	}
	peers, err := s.store.QueryPeers(r.Context(), q)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, peers)
}

func (s *Server) handleGetPeer(w http.ResponseWriter, r *http.Request) {
	peer, err := s.store.GetPeer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, peer)
}

func (s *Server) handleUpsertPeer(w http.ResponseWriter, r *http.Request) {
	var peer models.Peer
	if !decodeBody(w, r, &peer) {
		return
	}
	id := chi.URLParam(r, "id")
	if peer.ID != "" && peer.ID != id {
		writeError(w, http.StatusBadRequest, "peer id does not match path")
		return
	}
	peer.ID = id

	stored, err := s.store.UpsertPeer(r.Context(), peer)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleSetPeerStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.PeerStatus `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.store.SetPeerStatus(r.Context(), chi.URLParam(r, "id"), body.Status); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueryTransfers(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q := models.TransferQuery{
		SenderID: values.Get("senderId"),
		Status:   models.TransferStatus(values.Get("status")),
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		q.Limit = limit
	}

	transfers, err := s.store.QueryTransfers(r.Context(), q)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfers)
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var t models.Transfer
	if !decodeBody(w, r, &t) {
		return
	}
	stored, err := s.store.CreateTransfer(r.Context(), t)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTransfer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTransfer(w http.ResponseWriter, r *http.Request) {
	var update models.TransferUpdate
	if !decodeBody(w, r, &update) {
		return
	}
	if err := s.store.UpdateTransferProgress(r.Context(), chi.URLParam(r, "id"), update); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
