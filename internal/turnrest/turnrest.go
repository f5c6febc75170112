// Package turnrest mints coturn-compatible TURN REST credentials.
//
// See:
// - https://github.com/coturn/coturn/wiki/turnserver
// - https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest
//
//	username   = <unix_expiry_timestamp>:<username_prefix>:<id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// The expiry is the server's UTC clock plus the TTL.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type Generator struct {
	sharedSecret   []byte
	ttlSeconds     int64
	usernamePrefix string
	now            func() time.Time
	newID          func() (string, error)
}

type GeneratorConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string

	// Now and NewID default to the wall clock and random UUIDs.
	Now   func() time.Time
	NewID func() (string, error)
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTLSeconds <= 0 {
		return nil, errors.New("TTLSeconds must be > 0")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("UsernamePrefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("UsernamePrefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = randomID
	}
	return &Generator{
		sharedSecret:   []byte(cfg.SharedSecret),
		ttlSeconds:     cfg.TTLSeconds,
		usernamePrefix: cfg.UsernamePrefix,
		now:            cfg.Now,
		newID:          cfg.NewID,
	}, nil
}

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// Generate mints credentials bound to id, typically a connection id.
func (g *Generator) Generate(id string) (Credentials, error) {
	if id == "" {
		return Credentials{}, errors.New("id is required")
	}
	if strings.Contains(id, ":") {
		return Credentials{}, errors.New("id must not contain ':'")
	}
	expiryUnix := g.now().UTC().Unix() + g.ttlSeconds
	username := fmt.Sprintf("%d:%s:%s", expiryUnix, g.usernamePrefix, id)
	return Credentials{
		Username:   username,
		Credential: signUsername(g.sharedSecret, username),
		ExpiryUnix: expiryUnix,
	}, nil
}

func (g *Generator) GenerateRandom() (Credentials, error) {
	id, err := g.newID()
	if err != nil {
		return Credentials{}, err
	}
	return g.Generate(id)
}

// ICEServers returns a copy of servers with fresh credentials for id on every
// TURN entry. STUN entries are returned unchanged.
func (g *Generator) ICEServers(servers []webrtc.ICEServer, id string) ([]webrtc.ICEServer, error) {
	if !HasTURN(servers) {
		return servers, nil
	}
	creds, err := g.Generate(id)
	if err != nil {
		return nil, err
	}
	return WithCredentials(servers, creds), nil
}

// WithCredentials sets creds on every TURN entry of a copy of servers.
func WithCredentials(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	if len(servers) == 0 {
		// Keep empty non-nil slices so JSON encodes `[]` rather than `null`.
		return servers
	}
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if hasTURNURL(server) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out
}

func HasTURN(servers []webrtc.ICEServer) bool {
	for _, server := range servers {
		if hasTURNURL(server) {
			return true
		}
	}
	return false
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		scheme, _, _ := strings.Cut(strings.TrimSpace(raw), ":")
		if strings.EqualFold(scheme, "turn") || strings.EqualFold(scheme, "turns") {
			return true
		}
	}
	return false
}

func randomID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func signUsername(sharedSecret []byte, username string) string {
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
