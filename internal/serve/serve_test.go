package serve

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/log"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := NotifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := NotifySystemd()
	if err == nil || !strings.Contains(err.Error(), "dial failed") {
		t.Fatalf("error = %v, want dial failure", err)
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := NotifySystemd(); err != nil {
		t.Fatalf("NotifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestShutdown_OrderAndBudget(t *testing.T) {
	t.Parallel()

	var order []string
	stop := func(name string, err error) func(context.Context) error {
		return func(ctx context.Context) error {
			deadline, ok := ctx.Deadline()
			if !ok {
				t.Errorf("%s: no deadline", name)
			} else if left := time.Until(deadline); left > 500*time.Millisecond {
				t.Errorf("%s: %v left, want at most a third of the budget", name, left)
			}
			order = append(order, name)
			return err
		}
	}

	Shutdown(log.Nop(), 1500*time.Millisecond,
		Component{"api", stop("api", nil)},
		Component{"skipped", nil},
		Component{"ops", stop("ops", errors.New("already closed"))},
		Component{"otel", stop("otel", nil)},
	)

	if got := strings.Join(order, ","); got != "api,ops,otel" {
		t.Errorf("order = %s", got)
	}
}

func TestShutdown_Empty(t *testing.T) {
	t.Parallel()
	Shutdown(log.Nop(), time.Second)
	Shutdown(log.Nop(), time.Second, Component{"nil", nil})
}

func TestDrain_FailsReadiness(t *testing.T) {
	t.Parallel()

	var gate health.ShutdownGate
	start := time.Now()
	Drain(log.Nop(), &gate, 20*time.Millisecond)
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Drain returned before the drain period")
	}

	rec := httptest.NewRecorder()
	health.ReadyzHandler(health.All(gate.Probe())).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ReadyPath, http.NoBody))
	if rec.Code == http.StatusOK {
		t.Error("readiness still OK after drain started")
	}
}

func TestChain_ServesAndRecovers(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	mux.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	var wrapped bool
	metricsMW := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped = true
			next.ServeHTTP(w, r)
		})
	}
	h := Chain(mux, log.Nop(), metricsMW, httpmw.ClientIPOptions{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", http.NoBody))
	if rec.Code != http.StatusNoContent {
		t.Errorf("/ok = %d", rec.Code)
	}
	if !wrapped {
		t.Error("metrics middleware not applied")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", http.NoBody))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("/boom = %d, want 500", rec.Code)
	}
}
