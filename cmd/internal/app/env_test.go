package app

import (
	"reflect"
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("KONNECT_T_CSV", " http://a.test , ,http://b.test ")
	t.Setenv("KONNECT_T_CSV_EMPTY", " , ")
	t.Setenv("KONNECT_T_INT", "-4")
	t.Setenv("KONNECT_T_DUR", "250ms")
	t.Setenv("KONNECT_T_BOOL", "nope")

	if got := EnvCSV("KONNECT_T_CSV", nil); !reflect.DeepEqual(got, []string{"http://a.test", "http://b.test"}) {
		t.Fatalf("EnvCSV=%v", got)
	}
	if got := EnvCSV("KONNECT_T_CSV_EMPTY", []string{"d"}); !reflect.DeepEqual(got, []string{"d"}) {
		t.Fatalf("EnvCSV empty items=%v", got)
	}
	if got := EnvInt("KONNECT_T_INT", 7); got != 7 {
		t.Fatalf("EnvInt negative must fall back, got %d", got)
	}
	if got := EnvDuration("KONNECT_T_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration=%v", got)
	}
	if got := EnvBool("KONNECT_T_BOOL", true); !got {
		t.Fatalf("EnvBool invalid must fall back")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("KONNECT_STORE_DRIVER", "")
	t.Setenv("KONNECT_ACCOUNT_ID", "")
	t.Setenv("KONNECT_HTTP_ADDR", "")

	cfg := LoadConfig()
	if cfg.StoreDriver != DriverMemory || cfg.AccountID != DefaultAccountID || cfg.HTTPAddr != "0.0.0.0:5000" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.AutoMigrate || len(cfg.CORSAllowedOrigins) == 0 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
