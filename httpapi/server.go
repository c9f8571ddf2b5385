// Package httpapi is the local HTTP surface of a node: the daemon binds it
// to loopback so apps and the CLI can drive the agent without linking it.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/openwebnode/dwn/agent"
	"github.com/openwebnode/dwn/node/index"
	"github.com/openwebnode/dwn/protocol"
	"github.com/openwebnode/dwn/sync/grpcnode"
)

// Server exposes one agent over HTTP.
type Server struct {
	Agent *agent.Agent

	// Peers maps a recipient DID to its gRPC sync target; send requests
	// addressed by DID resolve through it.
	Peers map[string]string

	// DialPeer opens a sync client for a target address; overridable in tests.
	DialPeer func(target string) (*grpcnode.Client, error)

	upgrader websocket.Upgrader
}

func NewServer(a *agent.Agent) *Server {
	return &Server{
		Agent: a,
		DialPeer: func(target string) (*grpcnode.Client, error) {
			return grpcnode.Dial(target, grpcnode.DialOptions{Timeout: 5 * time.Second})
		},
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/protocols", s.handleListProtocols).Methods(http.MethodGet)
	r.HandleFunc("/protocols", s.handleConfigureProtocol).Methods(http.MethodPost)
	r.HandleFunc("/records", s.handleQueryRecords).Methods(http.MethodGet)
	r.HandleFunc("/records", s.handleCreateRecord).Methods(http.MethodPost)
	r.HandleFunc("/records/{id}", s.handleReadRecord).Methods(http.MethodGet)
	r.HandleFunc("/records/{id}", s.handleUpdateRecord).Methods(http.MethodPut)
	r.HandleFunc("/records/{id}", s.handleDeleteRecord).Methods(http.MethodDelete)
	r.HandleFunc("/records/{id}/send", s.handleSendRecord).Methods(http.MethodPost)
	r.HandleFunc("/subscribe", s.handleSubscribe).Methods(http.MethodGet)
	r.Use(loggingMiddleware)
	return r
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		glog.Infof("http: %s %s %d %dB %s", r.Method, r.URL.Path, m.Code, m.Written, m.Duration)
	})
}

func writeJSON(w http.ResponseWriter, httpStatus int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(v)
}

// writeReply maps a node status straight onto the HTTP status line.
func writeReply(w http.ResponseWriter, status int, v interface{}) {
	writeJSON(w, status, v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, httpStatus int, msg string) {
	writeJSON(w, httpStatus, errorBody{Error: msg})
}

type protocolInfo struct {
	Protocol      string `json:"protocol"`
	DefinitionCID string `json:"definitionCid"`
}

// handleListProtocols lists installed protocols, or serves one full
// definition when a ?uri= query is present (protocol URIs hold slashes, so
// they do not survive as path parameters).
func (s *Server) handleListProtocols(w http.ResponseWriter, r *http.Request) {
	if uri := r.URL.Query().Get("uri"); uri != "" {
		reply := s.Agent.Node.ProtocolsQuery(r.Context(), uri)
		writeReply(w, reply.Status.Code, reply)
		return
	}
	uris, err := s.Agent.Node.Index().ListProtocols(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]protocolInfo, 0, len(uris))
	for _, uri := range uris {
		reply := s.Agent.Node.ProtocolsQuery(r.Context(), uri)
		if reply.Status.Code != 200 {
			continue
		}
		out = append(out, protocolInfo{Protocol: uri, DefinitionCID: reply.DefinitionCID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConfigureProtocol(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	def, err := protocol.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reply, err := s.Agent.ConfigureProtocol(r.Context(), def)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeReply(w, reply.Status.Code, reply)
}

type createRecordRequest struct {
	Protocol     string `json:"protocol"`
	ProtocolPath string `json:"protocolPath"`
	Schema       string `json:"schema,omitempty"`
	DataFormat   string `json:"dataFormat,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
	ParentID     string `json:"parentId,omitempty"`
	ContextID    string `json:"contextId,omitempty"`
	Published    bool   `json:"published,omitempty"`
	Data         []byte `json:"data"`
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reply, err := s.Agent.CreateRecord(r.Context(), agent.CreateOptions{
		Protocol:     req.Protocol,
		ProtocolPath: req.ProtocolPath,
		Schema:       req.Schema,
		DataFormat:   req.DataFormat,
		Recipient:    req.Recipient,
		ParentID:     req.ParentID,
		ContextID:    req.ContextID,
		Published:    req.Published,
	}, req.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeReply(w, reply.Status.Code, reply)
}

func (s *Server) handleReadRecord(w http.ResponseWriter, r *http.Request) {
	reply := s.Agent.ReadRecord(r.Context(), mux.Vars(r)["id"])
	writeReply(w, reply.Status.Code, reply)
}

func (s *Server) handleQueryRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := index.Filter{
		Protocol:     q.Get("protocol"),
		ProtocolPath: q.Get("protocolPath"),
		ParentID:     q.Get("parentId"),
		ContextID:    q.Get("contextId"),
	}
	reply := s.Agent.Node.RecordsQuery(r.Context(), f, s.Agent.ID.DID)
	writeReply(w, reply.Status.Code, reply)
}

type updateRecordRequest struct {
	Data []byte `json:"data"`
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var req updateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reply, err := s.Agent.UpdateRecord(r.Context(), mux.Vars(r)["id"], req.Data)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeReply(w, reply.Status.Code, reply)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	reply, err := s.Agent.DeleteRecord(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeReply(w, reply.Status.Code, reply)
}

type sendRecordRequest struct {
	// Recipient is a DID resolved through the server's peer map; target is
	// an explicit gRPC address and wins as a fallback for unmapped DIDs.
	Recipient string `json:"recipient,omitempty"`
	Target    string `json:"target,omitempty"`
}

type sendRecordResponse struct {
	RemoteStatus int `json:"remoteStatus"`
}

func (s *Server) resolveSendTarget(req sendRecordRequest) (string, int, string) {
	if req.Recipient != "" {
		if target, ok := s.Peers[req.Recipient]; ok {
			return target, 0, ""
		}
		if req.Target == "" {
			return "", http.StatusNotFound, "no peer mapping for " + req.Recipient
		}
	}
	if req.Target == "" {
		return "", http.StatusBadRequest, "missing recipient or target"
	}
	return req.Target, 0, ""
}

func (s *Server) handleSendRecord(w http.ResponseWriter, r *http.Request) {
	var req sendRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, errStatus, errMsg := s.resolveSendTarget(req)
	if errStatus != 0 {
		writeError(w, errStatus, errMsg)
		return
	}
	peer, err := s.DialPeer(target)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	defer peer.Close()

	code, err := s.Agent.Send(r.Context(), peer, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sendRecordResponse{RemoteStatus: code})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, cancel := s.Agent.Node.Events().Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-events:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
