package web

import (
	"net"
	"runtime"
	"testing"
)

func TestFormatIfaceAddr(t *testing.T) {
	cidr := &net.IPNet{IP: net.IPv4(192, 168, 4, 1), Mask: net.CIDRMask(24, 32)}
	cases := []struct {
		addr net.Addr
		want string
		ok   bool
	}{
		{cidr, "wlan0: 192.168.4.1/24", true},
		{&net.IPAddr{IP: net.ParseIP("10.0.0.2")}, "wlan0: 10.0.0.2", true},
		{&net.IPAddr{IP: net.ParseIP("127.0.0.1")}, "", false},
		{&net.IPAddr{IP: net.ParseIP("169.254.1.1")}, "", false},
		{&net.IPAddr{IP: net.ParseIP("fe80::1")}, "", false},
	}
	for _, tc := range cases {
		got, ok := formatIfaceAddr("wlan0", tc.addr)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("formatIfaceAddr(%v)=%q,%t want %q,%t", tc.addr, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSnapshotDisk_TempDir(t *testing.T) {
	dir := t.TempDir()
	d := snapshotDisk(dir)
	if d.Path != dir {
		t.Fatalf("path=%q", d.Path)
	}
	if runtime.GOOS != "linux" {
		if d.LastError == "" {
			t.Fatalf("expected unsupported error")
		}
		return
	}
	if d.LastError != "" || d.TotalBytes == 0 || d.AvailBytes > d.TotalBytes {
		t.Fatalf("disk=%+v", d)
	}
}

func TestSnapshotDisk_MissingDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux only")
	}
	d := snapshotDisk("/does/not/exist/gnss")
	if d.LastError == "" {
		t.Fatalf("expected error, got %+v", d)
	}
}
