package server

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"ipchat/directory"
	"ipchat/history"
	"ipchat/wire"
)

const testPassword = "secret123"

// setupTestServer builds a server over temp data files: users alice, bob,
// carol and dave; group team1 (alice, bob) and group ghost whose members are
// never online.
func setupTestServer(t *testing.T, maxClients int) *Server {
	t.Helper()

	dataDir := t.TempDir()
	users := "alice:secret123\nbob:secret123\ncarol:secret123\ndave:secret123\n"
	groups := "team1:Project Team:alice,bob\nghost:Ghost Crew:eve,frank\n"
	if err := os.WriteFile(filepath.Join(dataDir, "user.txt"), []byte(users), 0o644); err != nil {
		t.Fatalf("Failed to write user.txt: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "group.txt"), []byte(groups), 0o644); err != nil {
		t.Fatalf("Failed to write group.txt: %v", err)
	}

	dir, err := directory.Load(dataDir, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	cfg := &Config{
		Port:         0,
		MaxClients:   maxClients,
		WriteTimeout: 5 * time.Second,
	}
	return New(cfg, zap.NewNop(), dir, history.New(t.TempDir()))
}

// testClient simulates one connected client over a net.Pipe pair.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *wire.Reader
	w    *wire.Writer
}

func connect(t *testing.T, srv *Server) *testClient {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	go srv.handleConnection(serverConn)
	t.Cleanup(func() { clientConn.Close() })
	return &testClient{
		t:    t,
		conn: clientConn,
		r:    wire.NewReader(clientConn),
		w:    wire.NewWriter(clientConn),
	}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.w.WriteLine(line); err != nil {
		c.t.Fatalf("Failed to send %q: %v", line, err)
	}
}

func (c *testClient) readLine() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadLine()
	if err != nil {
		c.t.Fatalf("Failed to read line: %v", err)
	}
	return line
}

func (c *testClient) expect(want string) {
	c.t.Helper()
	if got := c.readLine(); got != want {
		c.t.Errorf("Expected %q, got %q", want, got)
	}
}

// expectSilence asserts that no line arrives within a short window.
func (c *testClient) expectSilence() {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if line, err := c.r.ReadLine(); err == nil {
		c.t.Errorf("Expected no message, got %q", line)
	}
}

// login authenticates and drains the menu that follows the success notice.
func (c *testClient) login(username string) {
	c.t.Helper()
	c.send(username + ":" + testPassword)
	c.expect("Login successful")
	for c.readLine() != "====================" {
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestLoginSuccess(t *testing.T) {
	srv := setupTestServer(t, 10)
	c := connect(t, srv)
	c.login("alice")

	if _, ok := srv.registry.Lookup("alice"); !ok {
		t.Error("alice not registered after login")
	}
}

func TestLoginBadCredentials(t *testing.T) {
	srv := setupTestServer(t, 10)

	c := connect(t, srv)
	c.send("alice:wrongpassword")
	c.expect("Login failed")

	c2 := connect(t, srv)
	c2.send("nobody:secret123")
	c2.expect("Login failed")
}

func TestLoginMalformed(t *testing.T) {
	srv := setupTestServer(t, 10)
	c := connect(t, srv)
	c.send("no-colon-here")
	c.expect("Login failed: Invalid format")
}

func TestLoginDuplicateUsername(t *testing.T) {
	srv := setupTestServer(t, 10)
	connect(t, srv).login("alice")

	c2 := connect(t, srv)
	c2.send("alice:" + testPassword)
	c2.expect("Login failed: Username already in use")
}

func TestLoginServerFull(t *testing.T) {
	srv := setupTestServer(t, 1)
	connect(t, srv).login("alice")

	c2 := connect(t, srv)
	c2.send("bob:" + testPassword)
	c2.expect("Login failed: Server is full")

	snap := srv.registry.Snapshot()
	if len(snap) != 1 || snap[0].Username != "alice" {
		t.Errorf("Rejected login altered the registry: %v", snap)
	}
}

func TestBroadcast(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	bob := connect(t, srv)
	carol := connect(t, srv)
	alice.login("alice")
	bob.login("bob")
	carol.login("carol")

	alice.send("hello everyone")

	// Delivery follows snapshot order (sorted by username), sender included.
	alice.expect("[alice -> ALL]: hello everyone")
	bob.expect("[alice -> ALL]: hello everyone")
	carol.expect("[alice -> ALL]: hello everyone")
}

func TestPrivateMessage(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	bob := connect(t, srv)
	alice.login("alice")
	bob.login("bob")

	alice.send("/bob hello")
	bob.expect("[PM alice -> bob]: hello")

	key := history.PairKey("alice", "bob")
	waitFor(t, func() bool {
		lines, _ := srv.store.ReadAll(key)
		return len(lines) == 1 && strings.HasSuffix(lines[0], "alice: hello")
	}, "Private message was not persisted")
}

func TestPrivateMessageOfflineTarget(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	alice.login("alice")

	// dave is a valid user but not connected.
	alice.send("/dave hi")
	alice.expect("[Server] Invalid target.")

	lines, err := srv.store.ReadAll(history.PairKey("alice", "dave"))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if lines != nil {
		t.Errorf("Offline private message was persisted: %v", lines)
	}
}

func TestGroupMessage(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	bob := connect(t, srv)
	carol := connect(t, srv)
	alice.login("alice")
	bob.login("bob")
	carol.login("carol")

	alice.send("/team1 hi team")

	alice.expect("[alice@team1]: hi team")
	bob.expect("[alice@team1]: hi team")
	carol.expectSilence()

	waitFor(t, func() bool {
		lines, _ := srv.store.ReadAll(history.GroupKey("team1"))
		return len(lines) == 1 && strings.HasSuffix(lines[0], "alice: hi team")
	}, "Group message was not persisted")
}

func TestGroupMessageNotMember(t *testing.T) {
	srv := setupTestServer(t, 10)
	carol := connect(t, srv)
	carol.login("carol")

	carol.send("/team1 let me in")
	carol.expect("[Server] You are not a member of this group.")

	lines, err := srv.store.ReadAll(history.GroupKey("team1"))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if lines != nil {
		t.Errorf("Rejected group message was persisted: %v", lines)
	}
}

// A group send persists exactly one record even when no member is online.
func TestGroupMessageZeroOnlineMembers(t *testing.T) {
	srv := setupTestServer(t, 10)

	if err := srv.router.SendGroup("eve", "ghost", "anyone there"); err != nil {
		t.Fatalf("SendGroup failed: %v", err)
	}

	lines, err := srv.store.ReadAll(history.GroupKey("ghost"))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(lines) != 1 || !strings.HasSuffix(lines[0], "eve: anyone there") {
		t.Errorf("Expected exactly one persisted record, got %v", lines)
	}
}

func TestUnknownTarget(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	alice.login("alice")

	alice.send("/nosuchname hello")
	alice.expect("[Server] Invalid target.")
}

func TestReservedTargetSend(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	alice.login("alice")

	alice.send("/users hi")
	alice.expect("[Server] Invalid command format.")
}

func TestHistoryRequest(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	bob := connect(t, srv)
	alice.login("alice")
	bob.login("bob")

	alice.send("/bob hello")
	bob.expect("[PM alice -> bob]: hello")

	key := history.PairKey("alice", "bob")
	waitFor(t, func() bool {
		lines, _ := srv.store.ReadAll(key)
		return len(lines) == 1
	}, "Private message was not persisted")

	alice.send("|bob")
	line := alice.readLine()
	if !strings.HasSuffix(line, "alice: hello") {
		t.Errorf("History replay returned %q", line)
	}
}

func TestHistoryRequestGroup(t *testing.T) {
	srv := setupTestServer(t, 10)

	key := history.GroupKey("team1")
	if err := srv.store.Append(key, "alice", "first"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := srv.store.Append(key, "bob", "second"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	bob := connect(t, srv)
	bob.login("bob")
	bob.send("|team1")

	if line := bob.readLine(); !strings.HasSuffix(line, "alice: first") {
		t.Errorf("First history line %q out of order", line)
	}
	if line := bob.readLine(); !strings.HasSuffix(line, "bob: second") {
		t.Errorf("Second history line %q out of order", line)
	}
}

func TestHistoryRequestNoHistory(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	alice.login("alice")

	alice.send("|bob")
	alice.expect("[Server] No conversation history with bob.")
}

func TestUsersListing(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	bob := connect(t, srv)
	alice.login("alice")
	bob.login("bob")

	alice.send("/users")
	alice.expect("[Server] Online users: alice, bob")
}

func TestGroupsListing(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	alice.login("alice")

	alice.send("/groups")
	alice.expect("[Server] Groups:")
	alice.expect("  ghost (Ghost Crew)")
	alice.expect("  team1 (Project Team) [member]")
}

func TestMenuCommand(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	alice.login("alice")

	alice.send("/menu")
	alice.expect("=== COMMAND MENU ===")
	for alice.readLine() != "====================" {
	}
}

func TestExitUnregisters(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	alice.login("alice")

	alice.send("/exit")
	waitFor(t, func() bool { return srv.registry.Count() == 0 }, "Session not removed after /exit")
}

// Closing the socket from the peer side must promptly unregister the session.
func TestPeerCloseUnregisters(t *testing.T) {
	srv := setupTestServer(t, 10)
	alice := connect(t, srv)
	alice.login("alice")

	alice.conn.Close()
	waitFor(t, func() bool { return srv.registry.Count() == 0 }, "Session not removed after peer close")
}
