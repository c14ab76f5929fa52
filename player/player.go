// Package player controls embedded Dailymotion players. Commands go to the
// embed through a Channel; events coming back are decoded by a Bridge, update
// the player's State and are fired on the player's event bus.
package player

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/raine/dailymotion-go/config"
	"github.com/raine/dailymotion-go/event"
	"github.com/raine/dailymotion-go/qs"
)

const APIMode = "postMessage"

var ErrNotAttached = errors.New("player has no channel")

// Channel carries commands to one embedded player.
type Channel interface {
	Send(msg []byte) error
	Close() error
}

type Options struct {
	// WWWRoot is the site serving the embed, e.g. https://www.dailymotion.com.
	WWWRoot string
	// Origin is the embedding page's origin, sent so the embed knows where
	// to post its events.
	Origin string
	APIKey string
	Video  string
	// ID identifies the player in inbound events. Generated when empty.
	ID     string
	Params map[string]any
}

// Error is the last error reported by the player.
type Error struct {
	Code    string
	Title   string
	Message string
}

// State mirrors the playback state reported by the embed.
type State struct {
	APIReady     bool
	Autoplay     bool
	CurrentTime  float64
	BufferedTime float64
	Duration     float64
	Seeking      bool
	Error        *Error
	Ended        bool
	Muted        bool
	Volume       float64
	Paused       bool
	Fullscreen   bool
	Rebuffering  bool
	Qualities    []string
	Quality      string
}

// Event is fired on the player's bus under its Name.
type Event struct {
	Name     string
	PlayerID string
	Fields   map[string]any
	State    State
}

type Player struct {
	mu    sync.Mutex
	id    string
	src   string
	state State
	ch    Channel
	bus   *event.Bus
}

type command struct {
	Command    string `json:"command"`
	Parameters []any  `json:"parameters"`
}

func New(opts Options) *Player {
	id := opts.ID
	if id == "" {
		id = "f" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	params := make(map[string]any, len(opts.Params)+4)
	for k, v := range opts.Params {
		params[k] = v
	}
	params["api"] = APIMode
	params["id"] = id
	if opts.Origin != "" {
		params["origin"] = opts.Origin
	}
	if opts.APIKey != "" {
		params["apiKey"] = opts.APIKey
	}

	www := opts.WWWRoot
	if www == "" {
		www = config.DefaultWWWRoot
	}

	var autoplay bool
	if v := params["autoplay"]; v != nil {
		autoplay, _ = config.ParseBool(qs.Format(v))
	}

	return &Player{
		id:  id,
		src: EmbedURL(www, opts.Video, params),
		state: State{
			Autoplay: autoplay,
			Duration: math.NaN(),
			Volume:   1,
			Paused:   true,
		},
		bus: event.NewBus(),
	}
}

// EmbedURL returns the iframe URL of the player for video (may be empty).
func EmbedURL(www, video string, params map[string]any) string {
	u := strings.TrimSuffix(www, "/") + "/embed"
	if video != "" {
		u += "/video/" + video
	}
	if len(params) > 0 {
		u += "?" + qs.Encode(params)
	}
	return u
}

func (p *Player) ID() string { return p.id }

// Src is the embed URL to load in the iframe.
func (p *Player) Src() string { return p.src }

// Events is the player's event bus. Handlers receive an Event.
func (p *Player) Events() *event.Bus { return p.bus }

// On subscribes to a player event and returns the unsubscribe function.
func (p *Player) On(name string, handler func(Event)) func() {
	return p.bus.Subscribe(name, func(payload any) {
		if ev, ok := payload.(Event); ok {
			handler(ev)
		}
	})
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	s.Qualities = append([]string(nil), p.state.Qualities...)
	return s
}

// Attach connects the player to its embed and asks the embed to resend
// apiready in case it was missed.
func (p *Player) Attach(ch Channel) error {
	p.mu.Lock()
	p.ch = ch
	p.mu.Unlock()
	return p.Check()
}

// Detach closes the channel.
func (p *Player) Detach() error {
	p.mu.Lock()
	ch := p.ch
	p.ch = nil
	p.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Close()
}

// Command sends a raw command to the embed.
func (p *Player) Command(name string, params ...any) error {
	p.mu.Lock()
	ch := p.ch
	p.mu.Unlock()
	if ch == nil {
		return ErrNotAttached
	}

	if params == nil {
		params = []any{}
	}
	msg, err := json.Marshal(command{Command: name, Parameters: params})
	if err != nil {
		return fmt.Errorf("failed to encode command %s: %w", name, err)
	}
	return ch.Send(msg)
}

func (p *Player) Play() error { return p.Command("play") }

func (p *Player) TogglePlay() error { return p.Command("toggle-play") }

func (p *Player) Pause() error { return p.Command("pause") }

func (p *Player) Seek(seconds float64) error { return p.Command("seek", seconds) }

// Load replaces the video in the player.
func (p *Player) Load(video string) error { return p.Command("load", video) }

func (p *Player) SetMuted(muted bool) error { return p.Command("muted", muted) }

func (p *Player) ToggleMuted() error { return p.Command("toggle-muted") }

// SetVolume sets the volume between 0 and 1.
func (p *Player) SetVolume(volume float64) error { return p.Command("volume", volume) }

func (p *Player) SetQuality(quality string) error { return p.Command("quality", quality) }

func (p *Player) SetFullscreen(fullscreen bool) error { return p.Command("fullscreen", fullscreen) }

// WatchOnSite pauses the player and opens the video on the site.
func (p *Player) WatchOnSite() error { return p.Command("watch-on-site") }

// Check asks the embed to resend apiready.
func (p *Player) Check() error { return p.Command("check") }

// handle applies an inbound event to the state and fires it. A repeated
// apiready is ignored.
func (p *Player) handle(name string, fields map[string]any) {
	p.mu.Lock()
	s := &p.state
	switch name {
	case "apiready":
		if s.APIReady {
			p.mu.Unlock()
			return
		}
		s.APIReady = true
	case "loadedmetadata":
		s.Error = nil
		s.Ended = false
	case "timeupdate", "ad_timeupdate":
		s.CurrentTime = floatField(fields["time"])
	case "progress":
		s.BufferedTime = floatField(fields["time"])
	case "durationchange":
		s.Duration = floatField(fields["duration"])
	case "seeking":
		s.Seeking = true
		s.CurrentTime = floatField(fields["time"])
	case "seeked":
		s.Seeking = false
		s.CurrentTime = floatField(fields["time"])
	case "fullscreenchange":
		s.Fullscreen = boolField(fields["fullscreen"])
	case "volumechange":
		s.Volume = floatField(fields["volume"])
		s.Muted = boolField(fields["muted"])
	case "ad_start", "ad_play", "playing", "play":
		s.Paused = false
	case "ended":
		s.Ended = true
		s.Paused = true
	case "ad_pause", "ad_end", "pause":
		s.Paused = true
	case "error":
		s.Error = &Error{
			Code:    stringField(fields["code"]),
			Title:   stringField(fields["title"]),
			Message: stringField(fields["message"]),
		}
	case "rebuffer":
		s.Rebuffering = boolField(fields["rebuffering"])
	case "availablequalities":
		s.Qualities = listField(fields["qualities"])
	case "qualitychange":
		s.Quality = stringField(fields["quality"])
	}
	p.mu.Unlock()

	p.bus.Fire(name, Event{Name: name, PlayerID: p.id, Fields: fields, State: p.State()})
}

func floatField(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
	}
	return math.NaN()
}

func boolField(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := config.ParseBool(x)
		return b
	case float64:
		return x != 0
	}
	return false
}

func stringField(v any) string {
	if v == nil {
		return ""
	}
	return qs.Format(v)
}

func listField(v any) []string {
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, stringField(item))
		}
		return out
	case string:
		if x == "" {
			return nil
		}
		return strings.Split(x, ",")
	}
	return nil
}
