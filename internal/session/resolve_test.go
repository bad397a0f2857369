package session

import (
	"testing"

	"github.com/matheus3301/chatsync/internal/config"
)

func TestResolvePrecedence(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())
	t.Setenv(config.EnvSession, "")

	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve() with nothing set = %q, want %q", got, DefaultSessionName)
	}

	cfg := config.Default()
	cfg.DefaultSession = "fromconfig"
	if err := config.Save(ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "fromconfig" {
		t.Errorf("Resolve() = %q, want fromconfig", got)
	}

	t.Setenv(config.EnvSession, "fromenv")
	if got := Resolve(""); got != "fromenv" {
		t.Errorf("Resolve() = %q, want fromenv", got)
	}

	if got := Resolve("fromflag"); got != "fromflag" {
		t.Errorf("Resolve(fromflag) = %q", got)
	}
}
