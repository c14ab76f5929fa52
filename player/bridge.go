package player

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/raine/dailymotion-go/diag"
	"github.com/raine/dailymotion-go/metrics"
	"github.com/raine/dailymotion-go/qs"
)

// Bridge routes messages posted by embeds to the registered players.
// Messages are only accepted from the embed origin.
type Bridge struct {
	mu      sync.Mutex
	origin  string
	players map[string]*Player
	diag    *diag.Diag
}

// NewBridge accepts messages whose origin has the scheme and host of
// embedOrigin (the www root).
func NewBridge(embedOrigin string, d *diag.Diag) *Bridge {
	return &Bridge{
		origin:  originOf(embedOrigin),
		players: make(map[string]*Player),
		diag:    d,
	}
}

// Register makes p receive the events carrying its id. The returned function
// unregisters it.
func (b *Bridge) Register(p *Player) func() {
	b.mu.Lock()
	b.players[p.ID()] = p
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if b.players[p.ID()] == p {
			delete(b.players, p.ID())
		}
		b.mu.Unlock()
	}
}

// Player returns a registered player by id.
func (b *Bridge) Player(id string) (*Player, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.players[id]
	return p, ok
}

// Receive handles one message. It reports whether the message was delivered
// to a player; messages from other origins, without id or event, or for an
// unknown player are ignored.
func (b *Bridge) Receive(origin string, data []byte) bool {
	if origin == "" || b.origin == "" || originOf(origin) != b.origin {
		return false
	}

	fields := decodeMessage(data)
	id, _ := fields["id"].(string)
	name, _ := fields["event"].(string)
	if id == "" || name == "" {
		return false
	}

	p, ok := b.Player(id)
	if !ok {
		b.diag.Logf("event %s for unknown player %s", name, id)
		return false
	}

	metrics.PlayerEventsTotal.WithLabelValues(name).Inc()
	p.handle(name, fields)
	return true
}

// originOf reduces a URL to "scheme://host". Returns "" for anything that
// does not parse as an absolute URL.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// decodeMessage accepts a JSON object or a legacy query string.
func decodeMessage(data []byte) map[string]any {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var fields map[string]any
		if json.Unmarshal(trimmed, &fields) == nil {
			return fields
		}
		return nil
	}

	values := qs.Decode(string(trimmed))
	fields := make(map[string]any, len(values))
	for key, list := range values {
		if len(list) == 1 {
			fields[key] = list[0]
		} else {
			fields[key] = list
		}
	}
	return fields
}
