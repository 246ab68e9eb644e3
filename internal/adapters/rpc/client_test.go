package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/raidsync/internal/adapters/rpc"
	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithLevel("error")); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// handler answers one request. Returning nil sends nothing.
type handler func(req rpc.Envelope) *rpc.Envelope

// peer is a fake system of record speaking the envelope protocol.
type peer struct {
	srv         *httptest.Server
	handle      handler
	connections atomic.Int32
	dropFirst   bool
	received    chan rpc.Envelope
	auth        atomic.Value
}

func newPeer(h handler) *peer {
	p := &peer{handle: h, received: make(chan rpc.Envelope, 64)}
	upgrader := websocket.Upgrader{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.auth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := p.connections.Add(1)
		if p.dropFirst && n == 1 {
			_ = conn.Close()
			return
		}
		p.serve(conn)
	}))
	return p
}

func (p *peer) serve(conn *websocket.Conn) {
	defer conn.Close()
	var writeMu sync.Mutex
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req rpc.Envelope
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		select {
		case p.received <- req:
		default:
		}
		go func() {
			resp := p.handle(req)
			if resp == nil {
				return
			}
			out, _ := json.Marshal(resp)
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = conn.WriteMessage(websocket.TextMessage, out)
		}()
	}
}

func (p *peer) url() string {
	return "ws" + strings.TrimPrefix(p.srv.URL, "http")
}

func (p *peer) Close() { p.srv.Close() }

func reply(req rpc.Envelope, payload any, errText string) *rpc.Envelope {
	env, err := rpc.Reply(req, payload, errText)
	if err != nil {
		panic(err)
	}
	return &env
}

// backend answers every kind the way a healthy system of record would.
func backend(req rpc.Envelope) *rpc.Envelope {
	switch req.Kind {
	case rpc.KindIdentityDetails:
		var r rpc.IdentityDetailsRequest
		_ = json.Unmarshal(req.Payload, &r)
		if r.IdentityID == "slow" {
			time.Sleep(200 * time.Millisecond)
		}
		return reply(req, model.Identity{
			ID:          r.IdentityID,
			Permissions: []string{model.PermissionUpload},
			MaxUploads:  3,
		}, "")
	case rpc.KindSystemConfig:
		return reply(req, map[string]any{"uploadsEnabled": true, "initialized": true, "maxEncounters": 100}, "")
	default:
		return nil
	}
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func startClient(p *peer, opts ...rpc.Option) *rpc.Client {
	c := rpc.New(p.url(), opts...)
	So(c.Start(context.Background()), ShouldBeNil)
	So(waitFor(c.Connected, 2*time.Second), ShouldBeTrue)
	return c
}

func TestClientCalls(t *testing.T) {
	Convey("Given a connected client", t, func() {
		p := newPeer(backend)
		defer p.Close()
		c := startClient(p, rpc.WithToken("service-token"))
		defer c.Stop()
		ctx := context.Background()

		Convey("It sends the bearer token on dial", func() {
			So(p.auth.Load(), ShouldEqual, "Bearer service-token")
		})

		Convey("IdentityDetails decodes the identity", func() {
			id, err := c.IdentityDetails(ctx, "u-1")
			So(err, ShouldBeNil)
			So(id.ID, ShouldEqual, "u-1")
			So(id.Can(model.PermissionUpload), ShouldBeTrue)
			So(id.MaxUploads, ShouldEqual, 3)
			So(c.Pending(), ShouldEqual, 0)
		})

		Convey("SystemConfig decodes the flags", func() {
			cfg, err := c.SystemConfig(ctx)
			So(err, ShouldBeNil)
			So(cfg.UploadsEnabled, ShouldBeTrue)
			So(cfg.Initialized, ShouldBeTrue)
			So(cfg.MaxEncounters, ShouldEqual, 100)
		})

		Convey("Responses are matched by id regardless of order", func() {
			var wg sync.WaitGroup
			var slow, fast model.Identity
			var slowErr, fastErr error
			wg.Add(1)
			go func() {
				defer wg.Done()
				slow, slowErr = c.IdentityDetails(ctx, "slow")
			}()
			So(waitFor(func() bool { return c.Pending() == 1 }, time.Second), ShouldBeTrue)
			fast, fastErr = c.IdentityDetails(ctx, "fast")
			wg.Wait()

			So(slowErr, ShouldBeNil)
			So(fastErr, ShouldBeNil)
			So(slow.ID, ShouldEqual, "slow")
			So(fast.ID, ShouldEqual, "fast")
		})

		Convey("Unknown kinds are rejected before sending", func() {
			_, err := c.Send(ctx, rpc.Command{Kind: rpc.Kind(99)})
			So(errors.Is(err, rpc.ErrUnknownKind), ShouldBeTrue)
		})

		Convey("Notify delivers without waiting", func() {
			So(c.PendingCreated(ctx, "rec-1", model.Association("ab::200")), ShouldBeNil)
			select {
			case env := <-p.received:
				So(env.Kind, ShouldEqual, rpc.KindPendingCreated)
				var notice rpc.PendingCreatedNotice
				So(json.Unmarshal(env.Payload, &notice), ShouldBeNil)
				So(notice.RecordID, ShouldEqual, "rec-1")
				So(notice.Association, ShouldEqual, "ab::200")
			case <-time.After(2 * time.Second):
				So("notification not received", ShouldBeEmpty)
			}
			So(c.Pending(), ShouldEqual, 0)
		})
	})
}

func TestClientFailures(t *testing.T) {
	ctx := context.Background()

	Convey("Remote errors are surfaced", t, func() {
		p := newPeer(func(req rpc.Envelope) *rpc.Envelope { return reply(req, nil, "identity not found") })
		defer p.Close()
		c := startClient(p)
		defer c.Stop()

		_, err := c.IdentityDetails(ctx, "ghost")
		So(errors.Is(err, rpc.ErrRemote), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "identity not found")
	})

	Convey("Responses missing required fields fail validation", t, func() {
		p := newPeer(func(req rpc.Envelope) *rpc.Envelope {
			if req.Kind == rpc.KindSystemConfig {
				return reply(req, map[string]any{"uploadsEnabled": true}, "")
			}
			return reply(req, model.Identity{}, "")
		})
		defer p.Close()
		c := startClient(p)
		defer c.Stop()

		_, err := c.SystemConfig(ctx)
		So(errors.Is(err, rpc.ErrBadResponse), ShouldBeTrue)
		_, err = c.IdentityDetails(ctx, "u-1")
		So(errors.Is(err, rpc.ErrBadResponse), ShouldBeTrue)
	})

	Convey("A response of the wrong kind is rejected", t, func() {
		p := newPeer(func(req rpc.Envelope) *rpc.Envelope {
			req.Kind = rpc.KindSystemConfig
			return reply(req, map[string]any{"uploadsEnabled": true, "initialized": true}, "")
		})
		defer p.Close()
		c := startClient(p)
		defer c.Stop()

		_, err := c.IdentityDetails(ctx, "u-1")
		So(errors.Is(err, rpc.ErrBadResponse), ShouldBeTrue)
	})

	Convey("Unanswered calls time out and leave the table", t, func() {
		p := newPeer(func(rpc.Envelope) *rpc.Envelope { return nil })
		defer p.Close()
		c := startClient(p, rpc.WithTimeout(100*time.Millisecond))
		defer c.Stop()

		start := time.Now()
		_, err := c.IdentityDetails(ctx, "u-1")
		So(errors.Is(err, rpc.ErrTimeout), ShouldBeTrue)
		So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 100*time.Millisecond)
		So(c.Pending(), ShouldEqual, 0)
	})

	Convey("A cancelled context ends the wait", t, func() {
		p := newPeer(func(rpc.Envelope) *rpc.Envelope { return nil })
		defer p.Close()
		c := startClient(p)
		defer c.Stop()

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := c.IdentityDetails(cctx, "u-1")
		So(err, ShouldEqual, context.DeadlineExceeded)
	})

	Convey("A full waiter table fails closed", t, func() {
		p := newPeer(func(rpc.Envelope) *rpc.Envelope { return nil })
		defer p.Close()
		c := startClient(p, rpc.WithMaxPending(1), rpc.WithTimeout(500*time.Millisecond))
		defer c.Stop()

		done := make(chan error, 1)
		go func() {
			_, err := c.IdentityDetails(ctx, "hanging")
			done <- err
		}()
		So(waitFor(func() bool { return c.Pending() == 1 }, time.Second), ShouldBeTrue)

		_, err := c.IdentityDetails(ctx, "second")
		So(err, ShouldEqual, rpc.ErrTableFull)
		So(errors.Is(<-done, rpc.ErrTimeout), ShouldBeTrue)
	})

	Convey("Calls before Start report not connected", t, func() {
		c := rpc.New("ws://127.0.0.1:1/unused")
		_, err := c.SystemConfig(ctx)
		So(errors.Is(err, rpc.ErrNotConnected), ShouldBeTrue)
		So(c.Connected(), ShouldBeFalse)
	})
}

func TestClientConnection(t *testing.T) {
	ctx := context.Background()

	Convey("An abnormal drop triggers a reconnect", t, func() {
		p := newPeer(backend)
		p.dropFirst = true
		defer p.Close()

		c := rpc.New(p.url(), rpc.WithReconnectInterval(20*time.Millisecond))
		So(c.Start(ctx), ShouldBeNil)
		defer c.Stop()

		So(waitFor(func() bool { return p.connections.Load() >= 2 && c.Connected() }, 3*time.Second), ShouldBeTrue)
		id, err := c.IdentityDetails(ctx, "u-2")
		So(err, ShouldBeNil)
		So(id.ID, ShouldEqual, "u-2")
	})

	Convey("A failed initial dial keeps retrying", t, func() {
		p := newPeer(backend)
		url := p.url()
		p.Close()

		c := rpc.New(url, rpc.WithReconnectInterval(20*time.Millisecond))
		So(c.Start(ctx), ShouldBeNil)
		defer c.Stop()
		So(c.Connected(), ShouldBeFalse)

		_, err := c.SystemConfig(ctx)
		So(errors.Is(err, rpc.ErrNotConnected), ShouldBeTrue)
	})

	Convey("Stop closes the connection", t, func() {
		p := newPeer(backend)
		defer p.Close()
		c := startClient(p)

		c.Stop()
		So(c.Connected(), ShouldBeFalse)
		_, err := c.SystemConfig(ctx)
		So(errors.Is(err, rpc.ErrNotConnected), ShouldBeTrue)
		So(errors.Is(c.Start(ctx), rpc.ErrNotConnected), ShouldBeTrue)
		c.Stop()
	})
}

func TestKinds(t *testing.T) {
	Convey("Kinds have stable names", t, func() {
		So(rpc.KindIdentityDetails.String(), ShouldEqual, "identity_details")
		So(rpc.KindSystemConfig.String(), ShouldEqual, "system_config")
		So(rpc.KindPendingCreated.String(), ShouldEqual, "pending_created")
		So(rpc.Kind(42).String(), ShouldEqual, "kind_42")
	})

	Convey("Decode rejects kinds outside the set", t, func() {
		_, err := rpc.Decode(rpc.Kind(42), json.RawMessage(`{}`))
		So(errors.Is(err, rpc.ErrUnknownKind), ShouldBeTrue)
	})

	Convey("Decode fills optional fields", t, func() {
		v, err := rpc.Decode(rpc.KindSystemConfig, json.RawMessage(`{"uploadsEnabled":false,"initialized":true}`))
		So(err, ShouldBeNil)
		cfg := v.(model.SystemConfig)
		So(cfg.UploadsEnabled, ShouldBeFalse)
		So(cfg.MaxEncounters, ShouldEqual, 0)
	})
}
