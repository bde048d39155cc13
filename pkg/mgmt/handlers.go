package mgmt

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nexswitch/vswitch/pkg/mactable"
	"github.com/nexswitch/vswitch/pkg/packetbuf"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, APIResponse{Success: true, Data: s.core.SnapshotStats()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, APIResponse{Success: true, Message: "ok"})
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	entries := s.core.Ports().All()
	out := make([]PortDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, portToDTO(e))
	}
	s.sendJSON(w, APIResponse{Success: true, Data: out})
}

func (s *Server) handlePort(w http.ResponseWriter, r *http.Request) {
	id, err := parsePortID(mux.Vars(r)["id"])
	if err != nil {
		s.sendError(w, "invalid port id", http.StatusBadRequest)
		return
	}
	entry, err := s.core.Ports().GetInfo(id)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.sendJSON(w, APIResponse{Success: true, Data: portToDTO(entry)})
}

func (s *Server) handleVlans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries := s.core.Vlans().ListVlans()
		out := make([]VlanDTO, 0, len(entries))
		for _, v := range entries {
			out = append(out, vlanToDTO(v))
		}
		s.sendJSON(w, APIResponse{Success: true, Data: out})

	case http.MethodPost:
		var req struct {
			VlanID packetbuf.VlanID `json:"vlan_id"`
			Name   string           `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendError(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := s.core.Vlans().CreateVlan(req.VlanID, req.Name); err != nil {
			s.sendError(w, err.Error(), http.StatusConflict)
			return
		}
		s.sendJSON(w, APIResponse{Success: true, Message: "vlan created"})
	}
}

func (s *Server) handleVlan(w http.ResponseWriter, r *http.Request) {
	vid, err := parseVlanID(mux.Vars(r)["vid"])
	if err != nil {
		s.sendError(w, "invalid vlan id", http.StatusBadRequest)
		return
	}
	if err := s.core.Vlans().DeleteVlan(vid); err != nil {
		s.sendError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.sendJSON(w, APIResponse{Success: true, Message: "vlan deleted"})
}

// handleVlanPort adds or removes a port from a vlan's membership. Adding
// a port does not install a PortConfig for it -- the caller is expected
// to configure port mode separately, matching vlan.Engine's own
// AddPort/SetPortConfig split.
func (s *Server) handleVlanPort(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	vid, err := parseVlanID(vars["vid"])
	if err != nil {
		s.sendError(w, "invalid vlan id", http.StatusBadRequest)
		return
	}
	p, err := parsePortID(vars["port"])
	if err != nil {
		s.sendError(w, "invalid port id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		untagged := r.URL.Query().Get("untagged") == "true"
		if err := s.core.Vlans().AddPort(vid, p, untagged); err != nil {
			s.sendError(w, err.Error(), http.StatusNotFound)
			return
		}
		s.sendJSON(w, APIResponse{Success: true, Message: "port added to vlan"})

	case http.MethodDelete:
		if err := s.core.Vlans().RemovePort(vid, p); err != nil {
			s.sendError(w, err.Error(), http.StatusNotFound)
			return
		}
		s.sendJSON(w, APIResponse{Success: true, Message: "port removed from vlan"})
	}
}

func (s *Server) handleMacTable(w http.ResponseWriter, r *http.Request) {
	out := make([]MacEntryDTO, 0)
	s.core.Mac().Iterate(func(e mactable.Entry) {
		out = append(out, macEntryToDTO(e))
	})
	s.sendJSON(w, APIResponse{Success: true, Data: out})
}

func (s *Server) handleArp(w http.ResponseWriter, r *http.Request) {
	entries := s.core.Arp().ListEntries()
	out := make([]ArpEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, arpEntryToDTO(e))
	}
	s.sendJSON(w, APIResponse{Success: true, Data: out})
}

func (s *Server) handleStp(w http.ResponseWriter, r *http.Request) {
	bridge := s.core.Stp()
	ports := bridge.ListPorts()
	portDTOs := make([]StpPortDTO, 0, len(ports))
	for _, p := range ports {
		portDTOs = append(portDTOs, stpPortToDTO(p))
	}

	rootPort := 0
	if rp, ok := bridge.RootPort(); ok {
		rootPort = int(rp)
	}

	s.sendJSON(w, APIResponse{Success: true, Data: StpSummaryDTO{
		BridgeID:     bridgeIDString(bridge.BridgeID()),
		RootID:       bridgeIDString(bridge.RootID()),
		IsRootBridge: bridge.IsRootBridge(),
		RootPort:     rootPort,
		Ports:        portDTOs,
	}})
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	max := 4096
	if v := r.URL.Query().Get("max"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			max = n
		}
	}
	entries := s.core.Routes().GetAllRoutes(max)
	out := make([]RouteDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, routeToDTO(e))
	}
	s.sendJSON(w, APIResponse{Success: true, Data: out})
}

func parsePortID(s string) (packetbuf.PortID, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return packetbuf.PortID(n), nil
}

func parseVlanID(s string) (packetbuf.VlanID, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return packetbuf.VlanID(n), nil
}
