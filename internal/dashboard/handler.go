// Package dashboard event handling: bridges ledger changes and sync status
// transitions into WebSocket broadcasts.
package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/marsop/budgetr/internal/autosync"
	"github.com/marsop/budgetr/internal/ledger"
)

// SyncEngine is the slice of the auto-sync engine the dashboard observes.
type SyncEngine interface {
	StatusChanges() (<-chan autosync.Status, func())
	Status() autosync.Status
	LastSyncTime() *time.Time
	Enabled() bool
}

// Handler subscribes to the ledger and the sync engine and formats their
// events as dashboard messages.
type Handler struct {
	server *Server
	ledger *ledger.Ledger
	engine SyncEngine
	logger *log.Logger

	stop chan struct{}
	done chan struct{}
}

// NewHandler creates an event handler connected to a dashboard server. The
// engine may be nil when auto-sync is not configured.
func NewHandler(server *Server, l *ledger.Ledger, engine SyncEngine, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		ledger: l,
		engine: engine,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start subscribes to ledger and sync events and broadcasts the initial
// state. Call Stop to unsubscribe.
func (h *Handler) Start() {
	changes, unsubscribeLedger := h.ledger.Subscribe()

	var statuses <-chan autosync.Status
	unsubscribeSync := func() {}
	if h.engine != nil {
		statuses, unsubscribeSync = h.engine.StatusChanges()
	}

	h.BroadcastState()

	go func() {
		defer close(h.done)
		defer unsubscribeLedger()
		defer unsubscribeSync()

		for {
			select {
			case <-h.stop:
				return

			case <-changes:
				h.BroadcastState()

			case status := <-statuses:
				h.broadcastSyncStatus(status)
			}
		}
	}()
}

// Stop unsubscribes from all events.
func (h *Handler) Stop() {
	close(h.stop)
	<-h.done
}

// BroadcastState sends the full current state: balance, meters, and
// timeline. Used after any ledger change and for newly connected clients.
func (h *Handler) BroadcastState() {
	h.broadcastBalance()
	h.broadcastMeters()
	h.broadcastTimeline()
}

func (h *Handler) broadcastBalance() {
	data := BalanceData{
		BalanceHours: h.ledger.CurrentBalance(),
		EventCount:   len(h.ledger.Events()),
	}
	if active := h.ledger.ActiveEvent(); active != nil {
		data.ActiveMeter = active.MeterName
	}

	h.send(MessageTypeBalance, data)
}

func (h *Handler) broadcastMeters() {
	var activeFactor float64
	hasActive := false
	if active := h.ledger.ActiveEvent(); active != nil {
		activeFactor = active.Factor
		hasActive = true
	}

	meters := h.ledger.Meters()
	out := make([]MeterData, 0, len(meters))
	for _, m := range meters {
		out = append(out, MeterData{
			ID:           m.ID.String(),
			Name:         m.Name,
			Factor:       m.Factor,
			DisplayOrder: m.DisplayOrder,
			Active:       hasActive && m.SameFactor(activeFactor),
		})
	}

	h.send(MessageTypeMeters, out)
}

func (h *Handler) broadcastTimeline() {
	points := h.ledger.TimelineData(h.ledger.TimelinePeriod())
	out := make([]TimelinePointData, 0, len(points))
	for _, p := range points {
		out = append(out, TimelinePointData{
			Timestamp:    p.Timestamp,
			BalanceHours: p.BalanceHours,
		})
	}

	h.send(MessageTypeTimeline, out)
}

func (h *Handler) broadcastSyncStatus(status autosync.Status) {
	data := SyncStatusData{
		Status:  status.String(),
		Enabled: h.engine.Enabled(),
	}
	data.LastSyncTime = h.engine.LastSyncTime()

	h.send(MessageTypeSyncStatus, data)
}

func (h *Handler) send(typ MessageType, payload interface{}) {
	dataJSON, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
