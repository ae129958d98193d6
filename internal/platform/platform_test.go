package platform

import "testing"

func p(t *testing.T, s string) Platform {
	t.Helper()
	plat, err := New(s)
	if err != nil {
		t.Fatalf("New(%q): %v", s, err)
	}
	return plat
}

func TestPlatformConstants(t *testing.T) {
	if got := p(t, "ruby"); got != Ruby {
		t.Errorf("New(ruby) = %v", got)
	}
	if got := p(t, ""); got != Ruby {
		t.Errorf("New(\"\") = %v", got)
	}
	if got := p(t, "current"); got != Current {
		t.Errorf("New(current) = %v", got)
	}
}

func TestPlatformParsing(t *testing.T) {
	// The expectation triples come from the RubyGems platform test corpus.
	tests := []struct {
		in   string
		want [3]string
	}{
		{"java", [3]string{"", "java", ""}},
		{"jruby", [3]string{"", "java", ""}},
		{"i686-darwin", [3]string{"x86", "darwin", ""}},
		{"i686-darwin8.4.1", [3]string{"x86", "darwin", "8"}},
		{"x86_64-linux", [3]string{"x86_64", "linux", ""}},
		{"x86_64-linux-gnu", [3]string{"x86_64", "linux", "gnu"}},
		{"x86_64-linux-musl", [3]string{"x86_64", "linux", "musl"}},
		{"arm-linux-eabi", [3]string{"arm", "linux", "eabi"}},
		{"universal-darwin8", [3]string{"universal", "darwin", "8"}},
		{"mswin32", [3]string{"x86", "mswin32", ""}},
		{"i386-mswin32-80", [3]string{"x86", "mswin32", "80"}},
		{"i386-mswin32_80", [3]string{"x86", "mswin32", "80"}},
		{"amd64-freebsd6", [3]string{"amd64", "freebsd", "6"}},
		{"universal-dotnet", [3]string{"universal", "dotnet", ""}},
		{"universal-dotnet2.0", [3]string{"universal", "dotnet", "2.0"}},
		{"dotnet-2.0", [3]string{"", "dotnet", "2.0"}},
		{"powerpc-aix5.3.0.0", [3]string{"powerpc", "aix", "5"}},
		{"sparc-solaris2.10", [3]string{"sparc", "solaris", "2.10"}},
		{"universal-macruby", [3]string{"universal", "macruby", ""}},
		{"i386-cygwin", [3]string{"x86", "cygwin", ""}},
		{"i386-java1.6", [3]string{"x86", "java", "1.6"}},
		{"i586-linux-gnu", [3]string{"x86", "linux", "gnu"}},
		{"i386-mingw32", [3]string{"x86", "mingw32", ""}},
		{"x64-mingw-ucrt", [3]string{"x64", "mingw", "ucrt"}},
		{"i386-netbsdelf", [3]string{"x86", "netbsdelf", ""}},
		{"i386-openbsd4.0", [3]string{"x86", "openbsd", "4.0"}},
		{"wasm32-wasi", [3]string{"wasm32", "wasi", ""}},
		{"arm-linux", [3]string{"arm", "linux", ""}},
		{"armv7-linux", [3]string{"armv7", "linux", ""}},
		{"totally-unknown9", [3]string{"totally", "unknown", ""}},
	}
	for _, tt := range tests {
		got := p(t, tt.in).ToArray()
		if got != tt.want {
			t.Errorf("New(%q).ToArray() = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTrailingDashTrimmed(t *testing.T) {
	if got := p(t, "x86_64-linux-").ToArray(); got != [3]string{"x86_64", "linux", ""} {
		t.Errorf("ToArray() = %v", got)
	}
}

func TestPlatformDisplay(t *testing.T) {
	tests := []struct {
		in   Platform
		want string
	}{
		{Ruby, "ruby"},
		{Current, "current"},
		{Platform{Kind: KindSpecific, CPU: "x86_64", OS: "linux", Version: "gnu"}, "x86_64-linux-gnu"},
		{Platform{Kind: KindSpecific, OS: "java"}, "java"},
		{Platform{Kind: KindSpecific, CPU: "x86", OS: "mswin32"}, "x86-mswin32"},
	}
	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestPlatformMatching(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"x86_64-linux", "x86_64-linux", true},
		{"x86_64-linux", "arm-linux", false},
		{"universal-darwin", "x86_64-darwin", true},
		{"universal-darwin8", "x86-darwin8", true},
		{"x86-darwin8", "universal-darwin8", true},
		{"i686-linux", "i686-linux-gnu", true},
		{"i686-linux-gnu", "i686-linux-musl", false},
		{"i686-linux-gnu", "i686-linux", false},
		{"arm-linux", "armv5-linux", true},
		{"armv7-linux", "armv5-linux", false},
		{"java", "x86_64-linux", false},
		{"universal-darwin8", "universal-darwin9", false},
		{"x86_64-darwin", "x86_64-darwin19", true},
	}
	for _, tt := range tests {
		if got := p(t, tt.a).Matches(p(t, tt.b)); got != tt.want {
			t.Errorf("(%q).Matches(%q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestGenericNeverMatchesSpecific(t *testing.T) {
	if Ruby.Matches(p(t, "x86_64-linux")) {
		t.Error("ruby should not match a specific platform")
	}
	if !Ruby.Matches(Ruby) {
		t.Error("ruby should match ruby")
	}
}

func TestFromArray(t *testing.T) {
	plat, err := FromArray([]string{"x86_64", "linux", "gnu"})
	if err != nil {
		t.Fatal(err)
	}
	if plat.ToArray() != [3]string{"x86_64", "linux", "gnu"} {
		t.Errorf("ToArray() = %v", plat.ToArray())
	}
	if _, err := FromArray([]string{"a", "b", "c", "d"}); err == nil {
		t.Error("four-element array should fail")
	}
}

func TestHostOverride(t *testing.T) {
	t.Setenv(TestPlatformEnv, "x86_64-linux")
	got := Host()
	if got.ToArray() != [3]string{"x86_64", "linux", ""} {
		t.Errorf("Host() = %v", got)
	}
}
