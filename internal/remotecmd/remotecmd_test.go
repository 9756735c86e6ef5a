package remotecmd

import "testing"

func TestQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/var/log", "'/var/log'"},
		{"", "''"},
		{"my dir", "'my dir'"},
		{"it's", `'it'\''s'`},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestPowerCommands(t *testing.T) {
	if got := Reboot("pw"); got != "echo 'pw' | sudo -S reboot" {
		t.Errorf("Reboot = %q", got)
	}
	if got := Shutdown("p'w"); got != `echo 'p'\''w' | sudo -S shutdown now` {
		t.Errorf("Shutdown = %q", got)
	}
}

func TestPasswordRejected(t *testing.T) {
	for _, out := range []string{"Sorry, try again.", "sudo: 3 incorrect password attempts"} {
		if !PasswordRejected(out) {
			t.Errorf("PasswordRejected(%q) = false", out)
		}
	}
	if PasswordRejected("") || PasswordRejected("Broadcast message: system is going down") {
		t.Error("accepted output reported as rejection")
	}
}
