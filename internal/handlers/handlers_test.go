package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pandasdroid/vps-management/internal/config"
	"github.com/pandasdroid/vps-management/internal/crypto"
	"github.com/pandasdroid/vps-management/internal/database"
	"github.com/pandasdroid/vps-management/internal/hoststore"
	"github.com/pandasdroid/vps-management/internal/remotestats"
	"github.com/pandasdroid/vps-management/internal/sshaudit"
	"github.com/pandasdroid/vps-management/internal/sshmanager"
	"github.com/pandasdroid/vps-management/internal/sshtest"
)

// --- test environment ---

type testEnv struct {
	api  *httptest.Server
	ssh  *sshtest.Server
	host database.Host
}

// setupTestEnv wires the package globals to a fresh database, registry and
// in-process SSH server, and stores one host pointing at that server.
func setupTestEnv(t *testing.T, exec sshtest.ExecFunc) *testEnv {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	box, err := crypto.LoadOrCreate(db)
	if err != nil {
		t.Fatalf("crypto: %v", err)
	}

	mgr := sshmanager.NewSSHManager(sshmanager.Options{
		ConnectTimeout: 5 * time.Second,
		CommandTimeout: 5 * time.Second,
		Tunnel: sshmanager.TunnelOptions{
			ReadyAttempts: 2,
			ReadyInterval: 10 * time.Millisecond,
			LaunchGrace:   time.Millisecond,
			Ports:         func(string) (int, int) { return 0, 1 },
		},
	})
	auditor := sshaudit.NewAuditor(db, 90)
	auditor.Attach(mgr)
	poller, err := remotestats.NewPoller(mgr, mgr.Keys, "@every 1h")
	if err != nil {
		t.Fatalf("poller: %v", err)
	}

	database.DB = db
	SSHMgr = mgr
	Hosts = hoststore.New(db, box)
	Stats = poller
	Auditor = auditor

	api := httptest.NewServer(NewRouter())
	t.Cleanup(func() {
		api.Close()
		mgr.CloseAll()
		SSHMgr, Hosts, Stats, Auditor = nil, nil, nil, nil
		database.DB = nil
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	srv := sshtest.Start(t, sshtest.Options{Password: "secret", Exec: exec})
	host, err := Hosts.Create(hoststore.Input{
		Name:     "web",
		Address:  srv.Host(),
		Port:     srv.Port(),
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("create host: %v", err)
	}
	return &testEnv{api: api, ssh: srv, host: host}
}

func (e *testEnv) hostURL(suffix string) string {
	return "/api/v1/hosts/" + e.host.ID + suffix
}

// do sends a request and returns the status and raw body.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.api.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

// doMap is do with the body decoded as a JSON object.
func (e *testEnv) doMap(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	status, data := e.do(t, method, path, body)
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, data, err)
	}
	return status, m
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	status, body := e.doMap(t, "POST", e.hostURL("/connect"), nil)
	if status != http.StatusOK || body["success"] != true {
		t.Fatalf("connect: %d %v", status, body)
	}
}

// --- health and server logs ---

func TestHealthCheck(t *testing.T) {
	env := setupTestEnv(t, nil)
	status, body := env.doMap(t, "GET", "/health", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["status"] != "healthy" || body["database"] != "connected" {
		t.Errorf("body = %v", body)
	}
	if body["sessions"] != float64(0) {
		t.Errorf("sessions = %v", body["sessions"])
	}
}

func TestGetServerLogs(t *testing.T) {
	env := setupTestEnv(t, nil)
	logPath := filepath.Join(t.TempDir(), "server.log")
	if err := os.WriteFile(logPath, []byte("one\ntwo\nthree\n"), 0644); err != nil {
		t.Fatal(err)
	}
	old := config.Cfg.LogPath
	config.Cfg.LogPath = logPath
	t.Cleanup(func() { config.Cfg.LogPath = old })

	status, body := env.doMap(t, "GET", "/api/v1/logs?lines=2", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	logs, _ := body["logs"].(string)
	if strings.Contains(logs, "one") || !strings.Contains(logs, "two") || !strings.Contains(logs, "three") {
		t.Errorf("logs = %q", logs)
	}
}

// --- host profiles ---

func TestHostCRUD(t *testing.T) {
	env := setupTestEnv(t, nil)

	status, created := env.doMap(t, "POST", "/api/v1/hosts", map[string]interface{}{
		"name":     "db",
		"address":  "10.0.0.9",
		"password": "pw",
	})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %v", status, created)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("no id in %v", created)
	}
	if created["port"] != float64(22) || created["username"] != "root" || created["state"] != "disconnected" {
		t.Errorf("defaults not applied: %v", created)
	}
	if _, leaked := created["password"]; leaked {
		t.Error("password exposed in response")
	}

	status, data := env.do(t, "GET", "/api/v1/hosts", nil)
	var list []map[string]interface{}
	if err := json.Unmarshal(data, &list); err != nil || status != http.StatusOK {
		t.Fatalf("list: %d %s", status, data)
	}
	if len(list) != 2 {
		t.Errorf("list has %d hosts, want 2", len(list))
	}

	status, updated := env.doMap(t, "PUT", "/api/v1/hosts/"+id, map[string]interface{}{
		"name":    "db-primary",
		"address": "10.0.0.9",
	})
	if status != http.StatusOK || updated["name"] != "db-primary" {
		t.Fatalf("update: %d %v", status, updated)
	}
	rec, err := Hosts.Record(id)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Password != "pw" {
		t.Errorf("password = %q after update without secrets", rec.Password)
	}

	status, deleted := env.doMap(t, "DELETE", "/api/v1/hosts/"+id, nil)
	if status != http.StatusOK || deleted["success"] != true {
		t.Fatalf("delete: %d %v", status, deleted)
	}
	status, missing := env.doMap(t, "GET", "/api/v1/hosts/"+id, nil)
	if status != http.StatusNotFound || missing["detail"] != hoststore.ErrNotFound.Error() {
		t.Errorf("get deleted: %d %v", status, missing)
	}
}

func TestCreateHostValidation(t *testing.T) {
	env := setupTestEnv(t, nil)
	status, body := env.doMap(t, "POST", "/api/v1/hosts", map[string]interface{}{"name": "no address"})
	if status != http.StatusBadRequest {
		t.Errorf("status = %d", status)
	}
	if detail, _ := body["detail"].(string); !strings.Contains(detail, "address") {
		t.Errorf("detail = %v", body["detail"])
	}

	status, _ = env.do(t, "POST", "/api/v1/hosts", nil)
	if status != http.StatusBadRequest {
		t.Errorf("empty body status = %d", status)
	}
}

func TestExportImport(t *testing.T) {
	env := setupTestEnv(t, nil)

	status, data := env.do(t, "GET", "/api/v1/hosts/export?format=yaml", nil)
	if status != http.StatusOK {
		t.Fatalf("export: %d %s", status, data)
	}
	if !strings.Contains(string(data), "address: 127.0.0.1") || !strings.Contains(string(data), "password: secret") {
		t.Errorf("yaml export = %s", data)
	}

	doc := `{"hosts":[{"name":"a","address":"10.1.1.1"},{"name":"b","address":"10.1.1.2","port":2222}]}`
	resp, err := http.Post(env.api.URL+"/api/v1/hosts/import", "application/json", strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || result["message"] != "Imported 2 hosts" {
		t.Fatalf("import: %d %v", resp.StatusCode, result)
	}

	hosts, _ := Hosts.List()
	if len(hosts) != 3 {
		t.Errorf("hosts = %d, want 3", len(hosts))
	}

	resp, err = http.Post(env.api.URL+"/api/v1/hosts/import", "application/json", strings.NewReader(`{"hosts":[{"name":"bad"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid import status = %d", resp.StatusCode)
	}
}

// --- session lifecycle ---

func TestConnectExecDisconnect(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.connect(t)

	status, st := env.doMap(t, "GET", env.hostURL("/status"), nil)
	if status != http.StatusOK || st["connected"] != true || st["state"] != "connected" {
		t.Fatalf("status: %d %v", status, st)
	}
	if _, ok := st["session"]; !ok {
		t.Error("status has no session")
	}

	status, out := env.doMap(t, "POST", env.hostURL("/exec"), map[string]string{"command": "hostname"})
	if status != http.StatusOK || out["output"] != "test-host\n" {
		t.Fatalf("exec: %d %v", status, out)
	}

	status, disc := env.doMap(t, "POST", env.hostURL("/disconnect"), nil)
	if status != http.StatusOK || disc["success"] != true {
		t.Fatalf("disconnect: %d %v", status, disc)
	}
	steps, _ := disc["steps"].([]interface{})
	var names []string
	for _, s := range steps {
		names = append(names, s.(map[string]interface{})["step"].(string))
	}
	if strings.Join(names, ",") != "shell,transfer,command,tunnel" {
		t.Errorf("steps = %v", names)
	}

	_, st = env.doMap(t, "GET", env.hostURL("/status"), nil)
	if st["connected"] != false {
		t.Errorf("connected after disconnect: %v", st)
	}

	_, audit := env.doMap(t, "GET", env.hostURL("/audit"), nil)
	types := map[string]bool{}
	for _, e := range audit["entries"].([]interface{}) {
		types[e.(map[string]interface{})["event_type"].(string)] = true
	}
	for _, want := range []string{"connected", "command", "disconnected"} {
		if !types[want] {
			t.Errorf("audit missing %s: %v", want, types)
		}
	}
}

func TestConnectAuthFailure(t *testing.T) {
	env := setupTestEnv(t, nil)
	bad, err := Hosts.Create(hoststore.Input{Name: "bad", Address: env.ssh.Host(), Port: env.ssh.Port(), Password: "wrong"})
	if err != nil {
		t.Fatal(err)
	}
	status, body := env.doMap(t, "POST", "/api/v1/hosts/"+bad.ID+"/connect", nil)
	if status != http.StatusBadGateway || body["success"] != false {
		t.Errorf("connect: %d %v", status, body)
	}
	if SSHMgr.GetConnectionState(bad.ID) != sshmanager.StateFailed {
		t.Errorf("state = %s", SSHMgr.GetConnectionState(bad.ID))
	}
}

func TestConnectPinsHostKey(t *testing.T) {
	env := setupTestEnv(t, nil)
	// main wires OnHostKey to the store; emulate it with a manager that does
	SSHMgr.CloseAll()
	SSHMgr = sshmanager.NewSSHManager(sshmanager.Options{
		ConnectTimeout: 5 * time.Second,
		OnHostKey: func(key, fp string) {
			Hosts.SetFingerprint(key, fp)
		},
	})
	t.Cleanup(func() {
		if SSHMgr != nil {
			SSHMgr.CloseAll()
		}
	})
	env.connect(t)

	h, err := Hosts.Get(env.host.ID)
	if err != nil {
		t.Fatal(err)
	}
	if h.HostKeyFingerprint == "" || !strings.HasPrefix(h.HostKeyFingerprint, "SHA256:") {
		t.Errorf("fingerprint = %q", h.HostKeyFingerprint)
	}
}

func TestTestHost(t *testing.T) {
	env := setupTestEnv(t, nil)
	status, body := env.doMap(t, "POST", env.hostURL("/test"), nil)
	if status != http.StatusOK || body["success"] != true || body["message"] != "Connected! Hostname: test-host" {
		t.Errorf("test: %d %v", status, body)
	}
	if SSHMgr.IsConnected(env.host.ID) {
		t.Error("test connection registered a session")
	}
}

func TestExecNotConnected(t *testing.T) {
	env := setupTestEnv(t, nil)
	status, body := env.doMap(t, "POST", env.hostURL("/exec"), map[string]string{"command": "uptime"})
	if status != http.StatusServiceUnavailable || body["success"] != false {
		t.Errorf("exec: %d %v", status, body)
	}

	status, _ = env.doMap(t, "POST", env.hostURL("/exec"), map[string]string{"command": "  "})
	if status != http.StatusBadRequest {
		t.Errorf("blank command status = %d", status)
	}
}

func TestUnknownHost(t *testing.T) {
	env := setupTestEnv(t, nil)
	for _, path := range []string{"/status", "/stats", "/files", "/tunnel"} {
		status, body := env.doMap(t, "GET", "/api/v1/hosts/nope"+path, nil)
		if status != http.StatusNotFound {
			t.Errorf("%s: %d %v", path, status, body)
		}
	}
}

// --- power ---

func sudoExec(reply string) sshtest.ExecFunc {
	return func(command string, stdout, stderr io.Writer) int {
		if strings.Contains(command, "sudo -S") {
			io.WriteString(stderr, reply)
			return 0
		}
		return sshtest.DefaultExec(command, stdout, stderr)
	}
}

func TestPowerReboot(t *testing.T) {
	env := setupTestEnv(t, sudoExec(""))
	env.connect(t)

	status, body := env.doMap(t, "POST", env.hostURL("/power/reboot"), map[string]string{"password": "sudo-pw"})
	if status != http.StatusOK || body["message"] != "Reboot command sent" {
		t.Fatalf("reboot: %d %v", status, body)
	}
	var sent bool
	for _, c := range env.ssh.Commands() {
		if c == "echo 'sudo-pw' | sudo -S reboot" {
			sent = true
		}
	}
	if !sent {
		t.Errorf("commands = %q", env.ssh.Commands())
	}
	if SSHMgr.IsConnected(env.host.ID) {
		t.Error("session kept after reboot")
	}
}

func TestPowerUsesStoredPassword(t *testing.T) {
	env := setupTestEnv(t, sudoExec(""))
	env.connect(t)

	status, _ := env.doMap(t, "POST", env.hostURL("/power/shutdown"), nil)
	if status != http.StatusOK {
		t.Fatalf("shutdown status = %d", status)
	}
	cmds := env.ssh.Commands()
	if last := cmds[len(cmds)-1]; last != "echo 'secret' | sudo -S shutdown now" {
		t.Errorf("last command = %q", last)
	}
}

func TestPowerWrongPassword(t *testing.T) {
	env := setupTestEnv(t, sudoExec("Sorry, try again.\n"))
	env.connect(t)

	status, body := env.doMap(t, "POST", env.hostURL("/power/reboot"), map[string]string{"password": "nope"})
	if status != http.StatusForbidden || body["success"] != false {
		t.Errorf("reboot: %d %v", status, body)
	}
	if !SSHMgr.IsConnected(env.host.ID) {
		t.Error("session dropped after rejected password")
	}

	status, _ = env.doMap(t, "POST", env.hostURL("/power/hibernate"), nil)
	if status != http.StatusBadRequest {
		t.Errorf("unknown action status = %d", status)
	}
}

// --- stats ---

func TestGetStats(t *testing.T) {
	replies := map[string]string{
		remotestats.Commands[0]: "web-1\n",
		remotestats.Commands[5]: "4\n",
		remotestats.Commands[7]: "2147483648 4294967296\n",
	}
	env := setupTestEnv(t, func(command string, stdout, stderr io.Writer) int {
		out, ok := replies[command]
		if !ok {
			return 1
		}
		io.WriteString(stdout, out)
		return 0
	})

	status, _ := env.doMap(t, "GET", env.hostURL("/stats"), nil)
	if status != http.StatusServiceUnavailable {
		t.Errorf("stats before connect = %d", status)
	}

	env.connect(t)
	status, snap := env.doMap(t, "GET", env.hostURL("/stats"), nil)
	if status != http.StatusOK {
		t.Fatalf("stats: %d %v", status, snap)
	}
	if snap["hostname"] != "web-1" || snap["cpu_cores"] != float64(4) || snap["memory_percent"] != float64(50) {
		t.Errorf("snapshot = %v", snap)
	}
	if snap["kernel"] != "N/A" {
		t.Errorf("kernel = %v, want N/A", snap["kernel"])
	}
	if _, ok := Stats.Latest(env.host.ID); !ok {
		t.Error("snapshot not cached")
	}

	env.doMap(t, "POST", env.hostURL("/disconnect"), nil)
	if _, ok := Stats.Latest(env.host.ID); ok {
		t.Error("snapshot kept after disconnect")
	}
}

// --- audit ---

func TestGetAuditLogsFilters(t *testing.T) {
	env := setupTestEnv(t, nil)
	Auditor.Log(env.host.ID, "command", "ls")
	Auditor.Log(env.host.ID, "connected", "")
	Auditor.Log("other", "command", "uptime")

	_, body := env.doMap(t, "GET", "/api/v1/audit?event_type=command", nil)
	if body["total"] != float64(2) {
		t.Errorf("global command total = %v", body["total"])
	}
	_, body = env.doMap(t, "GET", env.hostURL("/audit?event_type=command"), nil)
	if body["total"] != float64(1) {
		t.Errorf("host command total = %v", body["total"])
	}

	for _, q := range []string{"limit=0", "offset=-1", "since=yesterday"} {
		status, _ := env.doMap(t, "GET", "/api/v1/audit?"+q, nil)
		if status != http.StatusBadRequest {
			t.Errorf("%s: status %d", q, status)
		}
	}
}

// --- remote logs ---

func TestStreamRemoteLogs(t *testing.T) {
	env := setupTestEnv(t, func(command string, stdout, stderr io.Writer) int {
		if command == "tail -n 2 '/var/log/auth.log'" {
			io.WriteString(stdout, "accepted password\nsession opened\n")
			return 0
		}
		return sshtest.DefaultExec(command, stdout, stderr)
	})
	env.connect(t)

	status, data := env.do(t, "GET", env.hostURL("/logs?log_type=auth&tail=2&follow=false"), nil)
	if status != http.StatusOK {
		t.Fatalf("logs: %d %s", status, data)
	}
	if string(data) != "data: accepted password\n\ndata: session opened\n\n" {
		t.Errorf("body = %q", data)
	}

	status, _ = env.do(t, "GET", env.hostURL("/logs?log_type=bogus"), nil)
	if status != http.StatusBadRequest {
		t.Errorf("bogus type status = %d", status)
	}
	status, _ = env.do(t, "GET", env.hostURL("/logs?path=relative.log"), nil)
	if status != http.StatusBadRequest {
		t.Errorf("relative path status = %d", status)
	}
}

func TestListRemoteLogFiles(t *testing.T) {
	env := setupTestEnv(t, func(command string, stdout, stderr io.Writer) int {
		if strings.HasPrefix(command, "[ -f ") {
			io.WriteString(stdout, "/var/log/syslog\n")
			return 1
		}
		return sshtest.DefaultExec(command, stdout, stderr)
	})

	status, _ := env.doMap(t, "GET", env.hostURL("/logs/files"), nil)
	if status != http.StatusServiceUnavailable {
		t.Errorf("before connect = %d", status)
	}

	env.connect(t)
	status, body := env.doMap(t, "GET", env.hostURL("/logs/files"), nil)
	files, _ := body["files"].([]interface{})
	if status != http.StatusOK || len(files) != 1 || files[0] != "/var/log/syslog" {
		t.Errorf("files: %d %v", status, body)
	}
}

// --- tunnel ---

func TestTunnelEndpoints(t *testing.T) {
	env := setupTestEnv(t, func(command string, stdout, stderr io.Writer) int {
		if strings.Contains(command, "code-server") {
			io.WriteString(stdout, "not found\n")
			return 0
		}
		return sshtest.DefaultExec(command, stdout, stderr)
	})

	status, _ := env.doMap(t, "POST", env.hostURL("/tunnel"), nil)
	if status != http.StatusServiceUnavailable {
		t.Errorf("start before connect = %d", status)
	}

	env.connect(t)
	status, body := env.doMap(t, "POST", env.hostURL("/tunnel"), map[string]string{"path": "/srv/app"})
	if status != http.StatusFailedDependency || body["success"] != false {
		t.Errorf("start without code-server: %d %v", status, body)
	}

	_, st := env.doMap(t, "GET", env.hostURL("/tunnel"), nil)
	if st["active"] != false {
		t.Errorf("tunnel status = %v", st)
	}

	status, stop := env.doMap(t, "DELETE", env.hostURL("/tunnel"), nil)
	if status != http.StatusOK || stop["success"] != true {
		t.Errorf("stop: %d %v", status, stop)
	}
	if !SSHMgr.IsConnected(env.host.ID) {
		t.Error("session dropped by tunnel stop")
	}
}
