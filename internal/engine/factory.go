package engine

import "log"

// Config selects and configures the engine backend.
type Config struct {
	ServerURL  string
	APIKey     string
	SampleRate int
}

// New returns a websocket engine when a server URL is configured, otherwise a
// no-output scripted engine so the rest of the server still runs.
func New(cfg Config) Engine {
	if cfg.ServerURL == "" {
		log.Println("No STT server configured, transcriptions will produce no captions")
		return NewScripted(nil)
	}
	return NewWSEngine(cfg.ServerURL, cfg.APIKey, cfg.SampleRate)
}
