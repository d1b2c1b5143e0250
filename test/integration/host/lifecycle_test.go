// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

//go:build integration

package host_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/quiltchat/quilt/internal/account"
	"github.com/quiltchat/quilt/internal/command"
	"github.com/quiltchat/quilt/internal/matrix"
	"github.com/quiltchat/quilt/internal/plugin"
	"github.com/quiltchat/quilt/internal/storage"
)

// recordingSession satisfies matrix.Session without a homeserver.
type recordingSession struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordingSession) UserID() string { return "@it:example.org" }
func (s *recordingSession) Close() error   { return nil }

func (s *recordingSession) SendMessage(_ context.Context, _ string, content matrix.MessageContent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, content.Body)
	return "$ev", nil
}

func (s *recordingSession) SendEvent(context.Context, string, string, any) (string, error) {
	return "$ev", nil
}

func (s *recordingSession) RedactEvent(context.Context, string, string, string) (string, error) {
	return "$redaction", nil
}

func (s *recordingSession) RoomMembers(context.Context, string) ([]matrix.RoomMember, error) {
	return nil, nil
}

func (s *recordingSession) StateEvent(context.Context, string, string, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (s *recordingSession) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	return out
}

// writePluginDir lays out a loadable plugin directory on disk.
func writePluginDir(root, id, source string, permissions, events []string) {
	dir := filepath.Join(root, id)
	Expect(os.MkdirAll(dir, 0o755)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, "main.lua"), []byte(source), 0o600)).To(Succeed())

	manifest := fmt.Sprintf("id: %s\nname: %s\nversion: 1.0.0\nentry: main.lua\nintegrity: %s\n",
		id, id, plugin.IntegrityReference([]byte(source)))
	for i, section := range [][]string{permissions, events} {
		if len(section) == 0 {
			continue
		}
		header := []string{"permissions:", "events:"}[i]
		manifest += header + "\n"
		for _, item := range section {
			manifest += "  - " + item + "\n"
		}
	}
	Expect(os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(manifest), 0o600)).To(Succeed())
}

var _ = Describe("Plugin Host Lifecycle", func() {
	var (
		ctx        context.Context
		pluginsDir string
		storageDir string
		session    *recordingSession
		accounts   *account.Registry
	)

	newHost := func() *plugin.Host {
		store, err := storage.NewFileStore(storageDir)
		Expect(err).NotTo(HaveOccurred())

		host, err := plugin.NewHost(plugin.HostConfig{
			Accounts: accounts,
			Storage:  store,
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(host.Close)
		return host
	}

	BeforeEach(func() {
		ctx = context.Background()
		pluginsDir = GinkgoT().TempDir()
		storageDir = GinkgoT().TempDir()

		session = &recordingSession{}
		accounts = account.NewRegistry()
		accounts.Register(account.Metadata{ID: "acct-1", UserID: session.UserID()}, session)
	})

	It("loads plugins from disk and routes commands end to end", func() {
		writePluginDir(pluginsDir, "demo.echo", `
quilt.register_command({ name = "/echo" })

function on_command(_, inv)
  quilt.request("message.send", {
    account_id = inv.account_id, room_id = inv.room_id, body = inv.args,
  })
end
`, []string{"send-text-message"}, nil)

		host := newHost()
		loader := plugin.NewLoader(host, nil)
		Expect(loader.LoadDir(ctx, pluginsDir)).To(Succeed())
		Expect(host.PluginIDs()).To(ConsistOf("demo.echo"))

		result := host.ExecuteCommand(ctx, "/echo integration", "acct-1", "!r:x")
		Expect(result.Status).To(Equal(command.StatusOK))

		Eventually(session.sent, 2*time.Second, 10*time.Millisecond).
			Should(ConsistOf("integration"))
	})

	It("keeps plugin storage across a host restart", func() {
		writePluginDir(pluginsDir, "demo.counter", `
quilt.subscribe("message")

function on_event(name, payload)
  local v = quilt.storage_get("count")
  local n = 0
  if v ~= nil then n = tonumber(v) end
  quilt.storage_set("count", tostring(n + 1))
end
`, []string{"storage-access"}, []string{"message"})

		readCount := func(store storage.KV) string {
			v, err := store.Get(ctx, "demo.counter", "count")
			Expect(err).NotTo(HaveOccurred())
			return string(v)
		}

		host := newHost()
		loader := plugin.NewLoader(host, nil)
		Expect(loader.LoadDir(ctx, pluginsDir)).To(Succeed())

		Expect(host.Emit(ctx, plugin.EventMessage, map[string]string{"body": "one"})).To(Succeed())

		store, err := storage.NewFileStore(storageDir)
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() string { return readCount(store) }, 2*time.Second, 10*time.Millisecond).
			Should(Equal("1"))

		host.Close()

		// A fresh host over the same storage dir sees the counter.
		host = newHost()
		loader = plugin.NewLoader(host, nil)
		Expect(loader.LoadDir(ctx, pluginsDir)).To(Succeed())

		Expect(host.Emit(ctx, plugin.EventMessage, map[string]string{"body": "two"})).To(Succeed())
		Eventually(func() string { return readCount(store) }, 2*time.Second, 10*time.Millisecond).
			Should(Equal("2"))
	})

	It("quarantines a broken plugin without affecting its siblings", func() {
		writePluginDir(pluginsDir, "demo.dead", `error("no thanks")`, nil, nil)
		writePluginDir(pluginsDir, "demo.live", `
quilt.register_command({ name = "/ping" })
function on_command(_, inv)
  quilt.request("message.send", {
    account_id = inv.account_id, room_id = inv.room_id, body = "pong",
  })
end
`, []string{"send-text-message"}, nil)

		host := newHost()
		loader := plugin.NewLoader(host, nil)
		Expect(loader.LoadDir(ctx, pluginsDir)).To(Succeed())

		Expect(host.FailedPlugins()).To(ConsistOf("demo.dead"))

		result := host.ExecuteCommand(ctx, "/ping", "acct-1", "!r:x")
		Expect(result.Status).To(Equal(command.StatusOK))
		Eventually(session.sent, 2*time.Second, 10*time.Millisecond).Should(ConsistOf("pong"))
	})

	It("schedules timers that survive only as long as their owner", func() {
		writePluginDir(pluginsDir, "demo.clock", `
quilt.subscribe("timer")
quilt.request("timer.schedule", { delay_ms = 5000 })

function on_event(name, payload)
  quilt.storage_set("fired", "yes")
end
`, []string{"scheduler-access", "storage-access"}, nil)

		host := newHost()
		loader := plugin.NewLoader(host, nil)
		Expect(loader.LoadDir(ctx, pluginsDir)).To(Succeed())

		// Unregistering cancels the pending timer; nothing fires afterwards.
		Expect(host.UnregisterPlugin("demo.clock")).To(Succeed())

		store, err := storage.NewFileStore(storageDir)
		Expect(err).NotTo(HaveOccurred())
		Consistently(func() []byte {
			v, _ := store.Get(ctx, "demo.clock", "fired")
			return v
		}, 300*time.Millisecond, 50*time.Millisecond).Should(BeNil())
	})
})
