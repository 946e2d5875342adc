package handlers

import (
	"context"
	"net/http"

	"github.com/nahidhasan98/wacrm/internal/connect"
	"github.com/nahidhasan98/wacrm/internal/events"
	"github.com/nahidhasan98/wacrm/internal/gateway"
	"github.com/nahidhasan98/wacrm/internal/logger"
	"github.com/nahidhasan98/wacrm/internal/message"
	"github.com/nahidhasan98/wacrm/internal/store"
	"github.com/nahidhasan98/wacrm/internal/transcribe"
	"github.com/nahidhasan98/wacrm/internal/validation"
)

// Connections runs the per-user bootstrap flows; *connect.Manager satisfies it
type Connections interface {
	Start(user string) (connect.Snapshot, error)
	Retry(user string) (connect.Snapshot, error)
	Cancel(user string) (connect.Snapshot, error)
	Status(user string) (connect.Snapshot, error)
	QR(user string) (*gateway.QRImage, error)
	List() []connect.Snapshot
}

// Attempts is the persisted connection history; *store.Store satisfies it
type Attempts interface {
	List(ctx context.Context, limit int) ([]store.Attempt, error)
	Latest(ctx context.Context, user string) (*store.Attempt, error)
	Ping(ctx context.Context) error
}

// Transcriber turns audio messages into text; *transcribe.Service satisfies it
type Transcriber interface {
	Transcribe(ctx context.Context, messageID, audioURL string) (transcribe.Entry, error)
	Tracker() *transcribe.Tracker
}

// Gateway is used to probe gateway reachability
type Gateway interface {
	ListSessions(ctx context.Context) ([]gateway.Session, error)
}

// Deps lists the services behind the HTTP API
type Deps struct {
	Connections   Connections
	Attempts      Attempts
	Dispatcher    *message.Dispatcher
	Transcriber   Transcriber
	Gateway       Gateway
	Bus           *events.Bus
	Hub           *events.Hub
	WebhookSecret string
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	connections   Connections
	attempts      Attempts
	dispatcher    *message.Dispatcher
	transcriber   Transcriber
	gw            Gateway
	bus           *events.Bus
	hub           *events.Hub
	webhookSecret string
	log           *logger.Logger
	validator     *validation.Validator
}

// New creates a new handler instance
func New(deps Deps, log *logger.Logger) *Handler {
	if deps.Dispatcher == nil {
		deps.Dispatcher = message.NewDispatcher()
	}
	return &Handler{
		connections:   deps.Connections,
		attempts:      deps.Attempts,
		dispatcher:    deps.Dispatcher,
		transcriber:   deps.Transcriber,
		gw:            deps.Gateway,
		bus:           deps.Bus,
		hub:           deps.Hub,
		webhookSecret: deps.WebhookSecret,
		log:           log,
		validator:     validation.New(),
	}
}

// Register adds every route to mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("GET /connections", h.ListConnections)
	mux.HandleFunc("POST /connections/{user}", h.StartConnection)
	mux.HandleFunc("GET /connections/{user}", h.GetConnection)
	mux.HandleFunc("DELETE /connections/{user}", h.CancelConnection)
	mux.HandleFunc("POST /connections/{user}/retry", h.RetryConnection)
	mux.HandleFunc("GET /connections/{user}/qr", h.ConnectionQR)

	mux.HandleFunc("POST /messages/dispatch", h.DispatchMessage)
	mux.HandleFunc("POST /messages/contact.vcf", h.ContactCard)
	mux.HandleFunc("POST /messages/{id}/transcribe", h.TranscribeMessage)
	mux.HandleFunc("GET /messages/{id}/transcription", h.GetTranscription)

	mux.HandleFunc("POST /tickets/{id}/assume", h.AssumeTicket)

	mux.HandleFunc("POST /webhooks/gateway", h.GatewayWebhook)

	if h.hub != nil {
		mux.HandleFunc("GET /ws", h.hub.ServeWs)
	}
}
