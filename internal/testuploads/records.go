package testuploads

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/okian/raidsync/internal/adapters/rpc"
	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/pkg/logger"
)

// Records is a stand-in system of record for local runs. It grants every
// identity the upload permission, reports uploads as enabled and counts the
// pending-created notices it receives.
type Records struct {
	upgrader websocket.Upgrader
	config   model.SystemConfig
	notices  atomic.Int64
	calls    atomic.Int64
}

// NewRecords creates a peer with uploads enabled.
func NewRecords() *Records {
	return &Records{
		config: model.SystemConfig{UploadsEnabled: true, Initialized: true},
	}
}

// Notices returns the number of pending-created notices received.
func (r *Records) Notices() int64 { return r.notices.Load() }

// Calls returns the number of requests answered.
func (r *Records) Calls() int64 { return r.calls.Load() }

// ServeHTTP upgrades the connection and answers requests until it closes.
func (r *Records) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := req.Context()
	log := logger.Get().Named("records")
	var writeMu sync.Mutex
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug(ctx, "peer disconnected", logger.Error(err))
			return
		}
		var env rpc.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn(ctx, "discarding undecodable frame", logger.Error(err))
			continue
		}
		reply, ok := r.answer(ctx, env)
		if !ok {
			continue
		}
		out, err := json.Marshal(reply)
		if err != nil {
			log.Error(ctx, "encode reply failed", logger.Error(err))
			continue
		}
		writeMu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, out)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (r *Records) answer(ctx context.Context, env rpc.Envelope) (rpc.Envelope, bool) {
	switch env.Kind {
	case rpc.KindPendingCreated:
		r.notices.Add(1)
		return rpc.Envelope{}, false
	case rpc.KindIdentityDetails:
		var req rpc.IdentityDetailsRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return r.reply(ctx, env, nil, "bad identity request")
		}
		return r.reply(ctx, env, model.Identity{
			ID:          req.IdentityID,
			Permissions: []string{model.PermissionUpload},
		}, "")
	case rpc.KindSystemConfig:
		return r.reply(ctx, env, r.config, "")
	default:
		return r.reply(ctx, env, nil, "unknown kind")
	}
}

func (r *Records) reply(ctx context.Context, env rpc.Envelope, payload any, errText string) (rpc.Envelope, bool) {
	r.calls.Add(1)
	out, err := rpc.Reply(env, payload, errText)
	if err != nil {
		logger.Get().Error(ctx, "build reply failed", logger.Error(err))
		return rpc.Envelope{}, false
	}
	return out, true
}
