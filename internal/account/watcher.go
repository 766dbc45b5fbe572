package account

import (
	"context"
	"errors"

	"hl-vault-engine/internal/hl/ws"

	"go.uber.org/zap"
)

// Watcher streams the hedge positions of one user from the clearinghouse feed.
type Watcher struct {
	ws   *ws.Client
	user string
	log  *zap.Logger
}

func NewWatcher(wsClient *ws.Client, user string, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{ws: wsClient, user: normalizeAddr(user), log: log}
}

// Run subscribes and blocks until ctx is done. onUpdate, when set, receives every
// position snapshot.
func (w *Watcher) Run(ctx context.Context, onUpdate func([]HedgePosition)) error {
	if w.ws == nil {
		return errors.New("ws client is required")
	}
	if w.user == "" {
		return errors.New("watcher user is required")
	}
	if err := w.ws.Connect(ctx); err != nil {
		return err
	}
	if err := w.ws.Subscribe(ctx, ws.Subscription{Type: "clearinghouseState", User: w.user}); err != nil {
		return err
	}
	return w.ws.Run(ctx, func(msg ws.Message) {
		positions, ok := w.apply(msg)
		if ok && onUpdate != nil {
			onUpdate(positions)
		}
	})
}

func (w *Watcher) apply(msg ws.Message) ([]HedgePosition, bool) {
	if msg.Channel != "clearinghouseState" {
		return nil, false
	}
	if user := normalizeAddr(msg.Data.Get("user").String()); user != "" && user != w.user {
		return nil, false
	}
	positions := parsePositions(msg.Data)
	w.log.Debug("clearinghouse update", zap.Int("positions", len(positions)))
	return positions, true
}
