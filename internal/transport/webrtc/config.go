package webrtc

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/sheerbytes/turboshare/internal/logging"
)

// PeerConnectionConfig returns a WebRTC configuration with the given ICE
// servers. TURN URLs may carry credentials as turn:user:pass@host:port.
func PeerConnectionConfig(stunServers, turnServers []string) webrtc.Configuration {
	var iceServers []webrtc.ICEServer

	if len(stunServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: stunServers,
		})
	}

	for _, turn := range turnServers {
		iceServers = append(iceServers, turnServer(turn))
	}

	return webrtc.Configuration{
		ICEServers: iceServers,
	}
}

func turnServer(raw string) webrtc.ICEServer {
	scheme, rest, ok := strings.Cut(raw, ":")
	at := strings.LastIndex(rest, "@")
	if !ok || at < 0 {
		return webrtc.ICEServer{URLs: []string{raw}}
	}
	user, pass, _ := strings.Cut(rest[:at], ":")
	if u, err := url.PathUnescape(user); err == nil {
		user = u
	}
	if p, err := url.PathUnescape(pass); err == nil {
		pass = p
	}
	return webrtc.ICEServer{
		URLs:       []string{scheme + ":" + rest[at+1:]},
		Username:   user,
		Credential: pass,
	}
}

// SettingEngine returns a SettingEngine that logs through logger.
func SettingEngine(logger *slog.Logger) webrtc.SettingEngine {
	se := webrtc.SettingEngine{
		LoggerFactory: logging.PionFactory{Logger: logger},
	}
	se.SetSCTPMaxReceiveBufferSize(maxReceiveBuffer)
	return se
}

// NewAPI creates the pion API shared by a provider's peer connections.
func NewAPI(logger *slog.Logger) *webrtc.API {
	return webrtc.NewAPI(webrtc.WithSettingEngine(SettingEngine(logger)))
}
