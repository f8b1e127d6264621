package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/internal/state"
	"github.com/Craftycody123/vision-safe-nav/internal/warning"
)

// FeedLabel is the data channel label clients open to receive warnings.
const FeedLabel = "warnings"

// Update is the JSON message pushed to every peer.
type Update struct {
	Running  bool        `json:"running"`
	Warnings warning.Set `json:"warnings"`
	Seq      uint64      `json:"seq"`
}

// Client represents a connected WebRTC peer
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	queue     chan []byte
	closeChan chan struct{}
	ready     chan *webrtc.DataChannel
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

// Server manages WebRTC peers that subscribe to the warning feed
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API

	onCount func(int)
}

// NewServer creates a new WebRTC server
func NewServer(stunServers []string, maxClients int) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	// If no STUN servers provided, use default
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		}
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
	}
}

// OnClientCount registers a callback invoked with the peer count after
// every connect or disconnect.
func (s *Server) OnClientCount(fn func(int)) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.onCount = fn
}

// HandleOffer handles a WebRTC offer and returns an answer. The offer must
// include a data channel labelled FeedLabel.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	if n := s.GetClientCount(); n >= s.maxClients {
		return nil, fmt.Errorf("maximum clients reached (%d)", s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.New().String(),
		peerConn:  peerConn,
		queue:     make(chan []byte, 8),
		closeChan: make(chan struct{}),
		ready:     make(chan *webrtc.DataChannel, 1),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != FeedLabel {
			logger.Debug("WebRTC", "Client %s opened unknown data channel %q, ignoring", client.id, dc.Label())
			return
		}
		dc.OnOpen(func() {
			select {
			case client.ready <- dc:
			default:
			}
		})
	})

	peerConn.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, st.String())
		if st == webrtc.PeerConnectionStateDisconnected ||
			st == webrtc.PeerConnectionStateFailed ||
			st == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (%s), removing...", client.id, st.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	s.addClient(client)
	go s.sendUpdates(client)

	logger.Info("WebRTC", "Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

func (s *Server) addClient(c *Client) {
	s.clientsMu.Lock()
	s.clients[c.id] = c
	n, fn := len(s.clients), s.onCount
	s.clientsMu.Unlock()
	if fn != nil {
		fn(n)
	}
}

// Broadcast queues u for every peer. Peers whose queue is full miss it.
func (s *Server) Broadcast(u Update) error {
	if u.Warnings == nil {
		u.Warnings = warning.Set{}
	}
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, client := range s.clients {
		select {
		case client.queue <- payload:
		default:
			client.dropped.Add(1)
		}
	}
	return nil
}

// sendUpdates waits for the peer's data channel and drains its queue into it.
func (s *Server) sendUpdates(client *Client) {
	var dc *webrtc.DataChannel
	select {
	case <-client.closeChan:
		return
	case dc = <-client.ready:
	}

	for {
		select {
		case <-client.closeChan:
			return
		case payload := <-client.queue:
			if err := dc.SendText(string(payload)); err != nil {
				logger.Warn("WebRTC", "Error sending update to client %s: %v", client.id, err)
				s.RemoveClient(client.id)
				return
			}
			client.sent.Add(1)
		}
	}
}

// Follow broadcasts the store's state whenever the warnings or running flag
// change, until ctx is done.
func (s *Server) Follow(ctx context.Context, store *state.Store) {
	var last *Update
	for {
		snap, changed := store.Watch()
		u := Update{Running: snap.Running, Warnings: snap.Warnings, Seq: snap.Seq}
		if last == nil || last.Running != u.Running || !sameWarnings(last.Warnings, u.Warnings) {
			if err := s.Broadcast(u); err != nil {
				logger.Warn("WebRTC", "broadcast failed: %v", err)
			}
			last = &u
		}

		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

func sameWarnings(a, b warning.Set) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RemoveClient removes a client by ID. Safe to call more than once.
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	n, fn := len(s.clients), s.onCount
	s.clientsMu.Unlock()

	if !exists {
		return
	}

	close(client.closeChan)
	if client.peerConn != nil {
		// Closing fires the state callback, which finds the client gone.
		client.peerConn.Close()
	}
	if fn != nil {
		fn(n)
	}

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.sent.Load(), client.dropped.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"updates_sent":    client.sent.Load(),
			"updates_dropped": client.dropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
