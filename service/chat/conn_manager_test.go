package chat

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"LiveDesk/tools/security"

	"github.com/gorilla/websocket"
)

// wsPair 起一个只做 Upgrade 的测试服务端，返回服务端侧与客户端侧连接。
func wsPair(t *testing.T) (server *websocket.Conn, client *websocket.Conn) {
	t.Helper()
	got := make(chan *websocket.Conn, 1)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		got <- c
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	cli, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	select {
	case sc := <-got:
		return sc, cli
	case <-time.After(2 * time.Second):
		t.Fatal("no server conn")
		return nil, nil
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestAddUnauthAndBind(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewConnManager(ManagerConf{
		UnauthTTL: time.Minute,
		AuthTTL:   time.Hour,
		Clock:     fixedClock(now),
	})
	defer m.Close()
	ws, _ := wsPair(t)

	c, err := m.AddUnauth("snow-1", ws)
	if err != nil {
		t.Fatal(err)
	}
	if c.Authorized() || c.UserID() != 0 {
		t.Error("fresh conn must be unauthorized")
	}
	if c.ExpireAt != now.Add(time.Minute) {
		t.Errorf("unauth expire = %v", c.ExpireAt)
	}

	// 重复登记同一 snowID
	if _, err := m.AddUnauth("snow-1", ws); err == nil {
		t.Error("duplicate snowID accepted")
	}

	id := &security.Identity{UserID: 42, DisplayName: "李雷", Role: "customer"}
	if err := m.BindIdentity("snow-1", id); err != nil {
		t.Fatal(err)
	}
	if !c.Authorized() || c.UserID() != 42 {
		t.Error("identity not bound")
	}
	if c.ExpireAt != now.Add(time.Hour) {
		t.Errorf("auth expire = %v", c.ExpireAt)
	}
	if got := m.ListUserConns(42); len(got) != 1 || got[0].SnowID != "snow-1" {
		t.Errorf("user index = %v", got)
	}

	if err := m.BindIdentity("missing", id); err == nil {
		t.Error("bind to missing conn accepted")
	}
}

func TestEnqueueReachesClient(t *testing.T) {
	m := NewConnManager(ManagerConf{})
	defer m.Close()
	ws, cli := wsPair(t)

	c, err := m.AddUnauth("snow-2", ws)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Enqueue([]byte(`{"type":"auth.ok"}`)) {
		t.Fatal("enqueue refused")
	}

	_ = cli.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := cli.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"auth.ok"}` {
		t.Errorf("payload = %s", data)
	}
}

func TestSweepExpiresStaleConn(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewConnManager(ManagerConf{
		UnauthTTL:  time.Minute,
		SweepEvery: time.Hour, // 周期清扫不干扰，手动触发
		Clock:      fixedClock(now),
	})
	defer m.Close()
	ws, _ := wsPair(t)
	if _, err := m.AddUnauth("snow-3", ws); err != nil {
		t.Fatal(err)
	}

	m.sweepOnce(now.Add(30 * time.Second))
	if _, ok := m.Get("snow-3"); !ok {
		t.Fatal("swept too early")
	}

	m.sweepOnce(now.Add(2 * time.Minute))
	if _, ok := m.Get("snow-3"); ok {
		t.Fatal("expired conn survived sweep")
	}
}

func TestTouchExtendsExpiry(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := base
	m := NewConnManager(ManagerConf{
		UnauthTTL: time.Minute,
		Clock:     func() time.Time { return current },
	})
	defer m.Close()
	ws, _ := wsPair(t)
	c, err := m.AddUnauth("snow-4", ws)
	if err != nil {
		t.Fatal(err)
	}

	current = base.Add(50 * time.Second)
	if err := m.Touch("snow-4"); err != nil {
		t.Fatal(err)
	}
	if c.ExpireAt != current.Add(time.Minute) {
		t.Errorf("expire after touch = %v", c.ExpireAt)
	}
	if err := m.Touch("missing"); err == nil {
		t.Error("touch on missing conn accepted")
	}
}

// 扇出 worker 可能拿着包含刚断开连接的成员快照，
// 对已摘除连接的投递必须拒收而不是崩溃。
func TestEnqueueAfterRemoveIsSafe(t *testing.T) {
	m := NewConnManager(ManagerConf{})
	defer m.Close()
	ws, _ := wsPair(t)
	c, err := m.AddUnauth("snow-6", ws)
	if err != nil {
		t.Fatal(err)
	}

	m.Remove("snow-6")
	if c.Enqueue([]byte("late")) {
		t.Error("enqueue on removed conn must fail")
	}
}

func TestEnqueueRaceWithRemove(t *testing.T) {
	m := NewConnManager(ManagerConf{})
	defer m.Close()
	ws, _ := wsPair(t)
	c, err := m.AddUnauth("snow-7", ws)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = c.Enqueue([]byte("x"))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Remove("snow-7")
	}()
	wg.Wait() // 发生 send-on-closed-channel 时这里会以 panic 失败
}

func TestRemoveDropsUserIndex(t *testing.T) {
	m := NewConnManager(ManagerConf{})
	defer m.Close()
	ws, _ := wsPair(t)
	if _, err := m.AddUnauth("snow-5", ws); err != nil {
		t.Fatal(err)
	}
	if err := m.BindIdentity("snow-5", &security.Identity{UserID: 7, Role: "agent"}); err != nil {
		t.Fatal(err)
	}

	m.Remove("snow-5")
	if _, ok := m.Get("snow-5"); ok {
		t.Error("conn still registered")
	}
	if got := m.ListUserConns(7); len(got) != 0 {
		t.Errorf("user index leaked: %v", got)
	}
	m.Remove("snow-5") // 幂等
}
