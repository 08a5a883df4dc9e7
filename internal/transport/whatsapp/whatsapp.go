// Package whatsapp is the one representative channel transport named in
// spec.md §1: a thin bridge between a whatsmeow client and the flow
// engine's inbound pipeline. It owns no flow logic — Dial and Start wrap
// just enough of whatsmeow's device-store and QR-pairing flow to produce a
// connected client; everything else (message routing, session state) is
// delegated to Sink.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/haasonsaas/flowrunner/internal/session"
)

// Config points at the on-disk device store whatsmeow uses to persist a
// paired session between runs. DriverName defaults to "sqlite" (the
// modernc.org/sqlite pure-Go driver this module already registers for its
// own session store), avoiding a second, cgo-based SQLite dependency.
type Config struct {
	SessionDBPath string
	DriverName    string
}

func (c Config) driverName() string {
	if c.DriverName == "" {
		return "sqlite"
	}
	return c.DriverName
}

// Dial opens (or creates) the device store at cfg.SessionDBPath and returns
// an unconnected whatsmeow client bound to its first device. Call
// Adapter.Start to pair (if needed) and connect.
func Dial(ctx context.Context, cfg Config) (*whatsmeow.Client, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", cfg.SessionDBPath)
	container, err := sqlstore.New(ctx, cfg.driverName(), dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: load device: %w", err)
	}
	return whatsmeow.NewClient(device, waLog.Noop), nil
}

// Sink receives normalized inbound messages. internal/debounce.Manager
// satisfies this.
type Sink interface {
	Enqueue(ctx context.Context, sessionID string, msg session.BufferedMessage) (int64, error)
}

// Adapter bridges one whatsmeow client's message events into Sink.Enqueue
// calls, and exposes Send for outbound replies.
type Adapter struct {
	client *whatsmeow.Client
	sink   Sink
	logger *slog.Logger

	wg sync.WaitGroup
}

// New constructs an Adapter and registers its event handler on client.
func New(client *whatsmeow.Client, sink Sink, logger *slog.Logger) *Adapter {
	a := &Adapter{client: client, sink: sink, logger: logger}
	client.AddEventHandler(a.handleEvent)
	return a
}

// Start connects the underlying client, printing a QR code to the log if
// the device has never been paired. It returns once connected (or once the
// QR watcher goroutine has been started); pairing itself happens
// out-of-band as the user scans the code.
func (a *Adapter) Start(ctx context.Context) error {
	if a.client.Store.ID != nil {
		return a.client.Connect()
	}

	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("whatsapp: get qr channel: %w", err)
	}
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for evt := range qrChan {
			if evt.Event == "code" {
				a.logger.Info("scan this code with WhatsApp to pair", "code", evt.Code)
			}
		}
	}()
	return nil
}

// Stop disconnects the client and waits for the QR watcher, if any, to
// exit.
func (a *Adapter) Stop() {
	a.client.Disconnect()
	a.wg.Wait()
}

func (a *Adapter) handleEvent(evt any) {
	msg, ok := evt.(*events.Message)
	if !ok {
		return
	}
	// Status broadcasts are not a conversation; the engine has no session
	// for them.
	if msg.Info.Chat.Server == "broadcast" {
		return
	}

	text := extractText(msg.Message)
	if text == "" {
		return
	}

	sessionID := msg.Info.Chat.String()
	buffered := session.BufferedMessage{
		ID:        msg.Info.ID,
		Content:   text,
		Timestamp: msg.Info.Timestamp,
		Sequence:  msg.Info.Timestamp.UnixNano(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.sink.Enqueue(ctx, sessionID, buffered); err != nil {
		a.logger.Error("whatsapp: failed to enqueue inbound message",
			"error", err, "session_id", sessionID)
	}
}

// extractText pulls plain text out of the two message variants the flow
// engine actually needs to read; richer media types are out of scope
// (spec.md §1 excludes transport beyond one representative channel's
// text-message path).
func extractText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if m.Conversation != nil {
		return m.GetConversation()
	}
	if ext := m.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

// Send delivers a single outbound text message to recipient.
func (a *Adapter) Send(ctx context.Context, recipient types.JID, text string) error {
	_, err := a.client.SendMessage(ctx, recipient, &waE2E.Message{
		Conversation: proto.String(text),
	})
	return err
}
