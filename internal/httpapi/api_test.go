package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"duochat/internal/auth"
	"duochat/internal/client"
	"duochat/internal/protocol"
	"duochat/internal/store"
	"duochat/internal/ws"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	hub := ws.NewHub(st)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	authority := auth.NewAuthority("test-secret", time.Hour)
	annHash, err := auth.HashPassword("ann-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	bobHash, err := auth.HashPassword("bob-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	srv := httptest.NewServer(NewRouter(Deps{
		Hub:       hub,
		Store:     st,
		Authority: authority,
		Login: auth.NewLoginHandler(map[string]string{
			"ann": annHash,
			"bob": bobHash,
		}, authority),
		HistoryLimit: 100,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialSession(t *testing.T, url, user, pass string) *client.Session {
	t.Helper()
	s, err := client.Dial(context.Background(), client.SessionConfig{
		ServerURL: url,
		Username:  user,
		Password:  pass,
	})
	if err != nil {
		t.Fatalf("dial session for %s: %v", user, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEndToEndSendAndEcho(t *testing.T) {
	srv := newServer(t)
	ann := dialSession(t, srv.URL, "ann", "ann-pass")
	bob := dialSession(t, srv.URL, "bob", "bob-pass")

	waitFor(t, "ann authenticated", func() bool { return ann.State() == client.StateAuthenticated })
	waitFor(t, "bob authenticated", func() bool { return bob.State() == client.StateAuthenticated })

	if err := ann.Send("hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Both sides, sender included, converge on the persisted record.
	for name, s := range map[string]*client.Session{"ann": ann, "bob": bob} {
		session := s
		waitFor(t, name+" sees echo", func() bool { return len(session.Messages()) == 1 })
		m := session.Messages()[0]
		if m.ID == "" || m.Sender != "ann" || m.Content != "hi" {
			t.Fatalf("%s view = %+v", name, m)
		}
	}
}

func TestEndToEndHistorySeedsLateJoiner(t *testing.T) {
	srv := newServer(t)
	ann := dialSession(t, srv.URL, "ann", "ann-pass")
	waitFor(t, "ann authenticated", func() bool { return ann.State() == client.StateAuthenticated })

	for _, text := range []string{"one", "two", "three"} {
		if err := ann.Send(text); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}
	waitFor(t, "ann sees own echoes", func() bool { return len(ann.Messages()) == 3 })

	// A client joining later fetches the same history over REST.
	bob := dialSession(t, srv.URL, "bob", "bob-pass")
	waitFor(t, "bob seeded from history", func() bool { return len(bob.Messages()) == 3 })
	msgs := bob.Messages()
	for i, want := range []string{"one", "two", "three"} {
		if msgs[i].Content != want {
			t.Fatalf("history[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
}

func TestEndToEndTypingIndicator(t *testing.T) {
	srv := newServer(t)
	ann := dialSession(t, srv.URL, "ann", "ann-pass")
	bob := dialSession(t, srv.URL, "bob", "bob-pass")
	waitFor(t, "ann authenticated", func() bool { return ann.State() == client.StateAuthenticated })
	waitFor(t, "bob authenticated", func() bool { return bob.State() == client.StateAuthenticated })

	ann.Keystroke()
	waitFor(t, "bob sees ann typing", func() bool {
		users := bob.TypingUsers()
		return len(users) == 1 && users[0] == "ann"
	})
	if len(ann.TypingUsers()) != 0 {
		t.Fatal("typing event echoed back to origin")
	}

	// The indicator clears on its own after the expiry interval even if no
	// stop event is processed.
	waitFor(t, "indicator expires", func() bool { return len(bob.TypingUsers()) == 0 })
}

func TestMessagesEndpointRequiresToken(t *testing.T) {
	srv := newServer(t)

	res, err := http.Get(srv.URL + "/api/messages")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
}

func TestMessagesEndpointLimit(t *testing.T) {
	srv := newServer(t)
	ann := dialSession(t, srv.URL, "ann", "ann-pass")
	waitFor(t, "ann authenticated", func() bool { return ann.State() == client.StateAuthenticated })
	for i := 0; i < 5; i++ {
		if err := ann.Send("msg"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	waitFor(t, "echoes", func() bool { return len(ann.Messages()) == 5 })

	// Fetch with a smaller limit via the REST boundary.
	login, err := http.Post(srv.URL+"/api/auth/login", "application/json",
		strings.NewReader(`{"username":"ann","password":"ann-pass"}`))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer login.Body.Close()
	var session struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(login.Body).Decode(&session); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/messages?limit=2", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	defer res.Body.Close()
	var msgs []protocol.Message
	if err := json.NewDecoder(res.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
}

func TestHealthz(t *testing.T) {
	srv := newServer(t)
	res, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}
