// Package discovery advertises a signaling server on the LAN over mDNS and
// finds advertised servers.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_turboshare._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = 1
	// DefaultBrowseTimeout bounds a Browse call.
	DefaultBrowseTimeout = 3 * time.Second
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls advertising and browsing.
type Config struct {
	Service       string
	Domain        string
	Version       int
	BrowseTimeout time.Duration

	// Instance and Port describe the advertised server.
	Instance string
	Port     int
	// Key is the realm key published in the TXT record.
	Key string

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == 0 {
		out.Version = DefaultVersion
	}
	if out.BrowseTimeout <= 0 {
		out.BrowseTimeout = DefaultBrowseTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Advertise registers the server. The registration ends when ctx is done or
// Stop is called.
func Advertise(ctx context.Context, config Config) (*Advertisement, error) {
	cfg := config.withDefaults()
	if strings.TrimSpace(cfg.Instance) == "" {
		return nil, errors.New("instance name is required")
	}
	if cfg.Port <= 0 {
		return nil, errors.New("port must be > 0")
	}

	txt := []string{
		"version=" + strconv.Itoa(cfg.Version),
		"key=" + cfg.Key,
	}
	server, err := cfg.registerFn(cfg.Instance, cfg.Service, cfg.Domain, cfg.Port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	a := &Advertisement{server: server}
	go func() {
		<-ctx.Done()
		a.Stop()
	}()
	return a, nil
}

// Stop withdraws the registration.
func (a *Advertisement) Stop() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// Server is a signaling server found on the LAN.
type Server struct {
	Instance string
	URL      string
	Key      string
}

// Browse collects advertised servers until the browse timeout or ctx ends.
// Servers speaking another TXT version are skipped.
func Browse(ctx context.Context, config Config) ([]Server, error) {
	cfg := config.withDefaults()
	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver()
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	scanCtx, cancel := context.WithTimeout(ctx, cfg.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	found := make(map[string]Server)
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if server, ok := parseEntry(entry, cfg.Version); ok {
					found[server.URL] = server
				}
			}
		}
	}()

	if err := browse(scanCtx, cfg.Service, cfg.Domain, entries); err != nil {
		cancel()
		<-collectorDone
		return nil, fmt.Errorf("browse mDNS: %w", err)
	}
	<-scanCtx.Done()
	<-collectorDone

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	servers := make([]Server, 0, len(found))
	for _, s := range found {
		servers = append(servers, s)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].URL < servers[j].URL })
	return servers, nil
}

func parseEntry(entry *zeroconf.ServiceEntry, version int) (Server, bool) {
	if entry == nil || entry.Port <= 0 {
		return Server{}, false
	}
	txt := txtToMap(entry.Text)
	if txt["version"] != strconv.Itoa(version) {
		return Server{}, false
	}

	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return Server{}, false
	}
	return Server{
		Instance: entry.Instance,
		URL:      "http://" + net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)),
		Key:      txt["key"],
	}, true
}

func txtToMap(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, record := range records {
		k, v, ok := strings.Cut(record, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
