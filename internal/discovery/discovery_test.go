package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestAdvertise_TXTRecords(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)
	cfg := Config{
		Instance: "office",
		Port:     9000,
		Key:      "turboshare",
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance, gotService, gotDomain, gotPort = instance, service, domain, port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := Advertise(ctx, cfg)
	if err != nil {
		t.Fatalf("Advertise() error = %v", err)
	}
	a.Stop()

	if gotInstance != "office" || gotService != DefaultService || gotDomain != DefaultDomain || gotPort != 9000 {
		t.Errorf("register(%q, %q, %q, %d)", gotInstance, gotService, gotDomain, gotPort)
	}
	txt := txtToMap(gotTXT)
	if txt["version"] != "1" || txt["key"] != "turboshare" {
		t.Errorf("TXT = %v", gotTXT)
	}
}

func TestAdvertise_Validation(t *testing.T) {
	register := func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
		t.Fatal("register called for invalid config")
		return nil, nil
	}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no instance", Config{Port: 9000, registerFn: register}},
		{"no port", Config{Instance: "x", registerFn: register}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Advertise(context.Background(), tt.cfg); err == nil {
				t.Error("Advertise() expected error, got nil")
			}
		})
	}
}

func TestAdvertise_RegisterError(t *testing.T) {
	cfg := Config{
		Instance: "x",
		Port:     1,
		registerFn: func(string, string, string, int, []string, []net.Interface) (*zeroconf.Server, error) {
			return nil, errors.New("no multicast")
		},
	}
	if _, err := Advertise(context.Background(), cfg); err == nil {
		t.Fatal("Advertise() expected error, got nil")
	}
}

func entry(instance string, ip string, port int, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, DefaultService, DefaultDomain)
	e.Port = port
	e.Text = txt
	if parsed := net.ParseIP(ip); parsed != nil {
		if parsed.To4() != nil {
			e.AddrIPv4 = []net.IP{parsed}
		} else {
			e.AddrIPv6 = []net.IP{parsed}
		}
	}
	return e
}

func TestBrowse(t *testing.T) {
	cfg := Config{
		BrowseTimeout: 100 * time.Millisecond,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			if service != DefaultService || domain != DefaultDomain {
				t.Errorf("browse(%q, %q)", service, domain)
			}
			entries <- entry("b", "192.168.1.20", 9000, "version=1", "key=k")
			entries <- entry("a", "fe80::1", 9001, "version=1", "key=k")
			entries <- entry("old", "192.168.1.30", 9000, "version=0")
			entries <- entry("noaddr", "", 9000, "version=1")
			entries <- entry("b", "192.168.1.20", 9000, "version=1", "key=k")
			return nil
		},
	}

	servers, err := Browse(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Browse() error = %v", err)
	}
	want := []Server{
		{Instance: "b", URL: "http://192.168.1.20:9000", Key: "k"},
		{Instance: "a", URL: "http://[fe80::1]:9001", Key: "k"},
	}
	if len(servers) != len(want) {
		t.Fatalf("Browse() = %+v, want %+v", servers, want)
	}
	for i := range want {
		if servers[i] != want[i] {
			t.Errorf("Browse()[%d] = %+v, want %+v", i, servers[i], want[i])
		}
	}
}

func TestBrowse_Error(t *testing.T) {
	cfg := Config{
		browseFn: func(context.Context, string, string, chan<- *zeroconf.ServiceEntry) error {
			return errors.New("no interfaces")
		},
	}
	if _, err := Browse(context.Background(), cfg); err == nil {
		t.Fatal("Browse() expected error, got nil")
	}
}

func TestBrowse_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := Config{
		browseFn: func(ctx context.Context, _, _ string, _ chan<- *zeroconf.ServiceEntry) error {
			return nil
		},
	}
	if _, err := Browse(ctx, cfg); !errors.Is(err, context.Canceled) {
		t.Errorf("Browse() error = %v, want context.Canceled", err)
	}
}
