package webserver

import "time"

// Config defines the runtime configuration for the web server.
type Config struct {
	Addr           string
	StaticDir      string        // optional override for /static/ and index.html
	KeepAlive      time.Duration // re-send the last frame after this long without a new one
	EventKeepAlive time.Duration // SSE comment interval
	BlankWidth     int
	BlankHeight    int
	AlertLimit     int // default page size for /alerts
}

// DefaultConfig returns the stock server settings.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8000",
		KeepAlive:      5 * time.Second,
		EventKeepAlive: 30 * time.Second,
		BlankWidth:     640,
		BlankHeight:    480,
		AlertLimit:     50,
	}
}
