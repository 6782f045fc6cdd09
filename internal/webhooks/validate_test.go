package webhooks

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	validator := NewURLValidator(testResolver)

	tests := []struct {
		name       string
		url        string
		wantReason string
	}{
		{"metadata over http", "http://169.254.169.254/", "cloud metadata address"},
		{"metadata over https", "https://169.254.169.254/latest/meta-data", "cloud metadata address"},
		{"aws ipv6 metadata", "https://[fd00:ec2::254]/", "cloud metadata address"},
		{"alibaba metadata", "https://100.100.100.200/", "cloud metadata address"},
		{"gcp metadata host", "https://metadata.google.internal/", "not allowed"},
		{"localhost", "https://localhost:8443/hook", "not allowed"},
		{"loopback", "https://127.0.0.1/hook", "loopback address"},
		{"ipv6 loopback", "https://[::1]/hook", "loopback address"},
		{"mapped loopback", "https://[::ffff:127.0.0.1]/hook", "loopback address"},
		{"link local", "https://169.254.10.10/", "link-local address"},
		{"rfc1918", "https://192.168.1.20/", "private address"},
		{"ula", "https://[fd12:3456::1]/", "private address"},
		{"cgnat", "https://100.64.3.4/", "shared address space"},
		{"nat64 metadata", "https://[64:ff9b::169.254.169.254]/", "cloud metadata address"},
		{"nat64 private", "https://[64:ff9b::10.0.0.1]/", "private address"},
		{"local nat64", "https://[64:ff9b:1::a00:1]/", "translated address"},
		{"ipv4-compatible metadata", "https://[::169.254.169.254]/", "cloud metadata address"},
		{"ipv4-compatible public", "https://[::93.184.216.34]/", "IPv4-compatible address"},
		{"6to4 metadata", "https://[2002:a9fe:a9fe::1]/", "cloud metadata address"},
		{"6to4 private", "https://[2002:c0a8:101::1]/", "private address"},
		{"teredo loopback client", "https://[2001:0:4136:e378:8000:63bf:80ff:fffe]/", "loopback address"},
		{"unspecified", "https://0.0.0.0/", "unspecified address"},
		{"resolves private", "https://internal.example.com/", "private address"},
		{"any resolved address counts", "https://rebind.example.com/", "loopback address"},
		{"unresolvable", "https://nowhere.example.com/", "does not resolve"},
		{"plain http", "http://hooks.example.com/in", "must use https"},
		{"credentials", "https://user:pw@hooks.example.com/", "credentials"},
		{"relative", "/just/a/path", "absolute URL"},
		{"empty", "   ", "required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator.Validate(context.Background(), tt.url)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate(%q) err = %v, want ValidationError", tt.url, err)
			}
			if verr.Field != "url" {
				t.Fatalf("Field = %q, want url", verr.Field)
			}
			if !strings.Contains(verr.Reason, tt.wantReason) {
				t.Fatalf("Reason = %q, want it to contain %q", verr.Reason, tt.wantReason)
			}
		})
	}
}

func TestValidateURLAcceptsPublicHTTPS(t *testing.T) {
	validator := NewURLValidator(testResolver)

	for _, raw := range []string{
		"https://hooks.example.com/in",
		"HTTPS://dual.example.com:8443/in?x=1",
		"https://93.184.216.34/in",
		"https://[64:ff9b::93.184.216.34]/in",
		"https://[2002:5db8:d822::1]/in",
	} {
		got, err := validator.Validate(context.Background(), raw)
		if err != nil {
			t.Fatalf("Validate(%q): %v", raw, err)
		}
		if !strings.HasPrefix(got, "https://") {
			t.Fatalf("Validate(%q) = %q, want https scheme", raw, got)
		}
	}
}

func TestNormalizeEventFilter(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []string
		wantErr bool
	}{
		{"wildcard", []string{"*"}, []string{"*"}, false},
		{"subset", []string{"post.created", "follow.created"}, []string{"post.created", "follow.created"}, false},
		{"duplicates collapse", []string{"post.liked", " post.liked"}, []string{"post.liked"}, false},
		{"empty", nil, nil, true},
		{"unknown", []string{"post.deleted"}, nil, true},
		{"wildcard mixed", []string{"*", "post.created"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeEventFilter(tt.in)
			if tt.wantErr {
				var verr *ValidationError
				if !errors.As(err, &verr) || verr.Field != "events" {
					t.Fatalf("err = %v, want events ValidationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeEventFilter: %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefusePrivateTargetsAtDialTime(t *testing.T) {
	if err := refusePrivateTargets("tcp", "127.0.0.1:443", nil); err == nil {
		t.Fatal("dial to loopback allowed")
	}
	if err := refusePrivateTargets("tcp", "169.254.169.254:80", nil); err == nil {
		t.Fatal("dial to metadata allowed")
	}
	for _, address := range []string{
		"[64:ff9b::a9fe:a9fe]:80",
		"[::a9fe:a9fe]:80",
		"[2002:a9fe:a9fe::1]:443",
		"[2002:7f00:1::1]:443",
	} {
		if err := refusePrivateTargets("tcp", address, nil); err == nil {
			t.Fatalf("dial to %s allowed", address)
		}
	}
	if err := refusePrivateTargets("tcp", "93.184.216.34:443", nil); err != nil {
		t.Fatalf("dial to public address refused: %v", err)
	}
}
