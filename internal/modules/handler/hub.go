package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/codehive-io/codehive/internal/config"
	"github.com/codehive-io/codehive/internal/modules/serializer"
	"github.com/codehive-io/codehive/internal/modules/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SyncHub routes inbound events to the room, command, project and identity
// services and emits the corresponding outbound events. Handlers that touch
// external resources run in their own goroutine so one slow request never
// stalls the connection's dispatch loop, and no handler failure stops
// dispatch.
type SyncHub struct {
	rooms    service.RoomRegistry
	relay    service.CommandRelay
	projects service.ProjectService
	users    service.UserService
	cfg      *config.Config
	log      *zap.Logger
}

func NewSyncHub(rooms service.RoomRegistry, relay service.CommandRelay, projects service.ProjectService, users service.UserService, cfg *config.Config, log *zap.Logger) *SyncHub {
	return &SyncHub{
		rooms:    rooms,
		relay:    relay,
		projects: projects,
		users:    users,
		cfg:      cfg,
		log:      log,
	}
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type codeEditPayload struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type languagePayload struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type runCommandPayload struct {
	RoomID  string `json:"roomId"`
	Command string `json:"command"`
}

type runScriptPayload struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type projectClonePayload struct {
	RoomID  string `json:"roomId"`
	RepoURL string `json:"repoUrl"`
	Email   string `json:"email"`
}

type projectsListPayload struct {
	Email string `json:"email"`
}

type fileReadPayload struct {
	ProjectPath  string `json:"projectPath"`
	RelativePath string `json:"relativePath"`
}

type fileWritePayload struct {
	ProjectPath  string `json:"projectPath"`
	RelativePath string `json:"relativePath"`
	Content      string `json:"content"`
}

type identityAssertPayload struct {
	User struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	} `json:"user"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Serve drains inbound events for one connection until the socket closes,
// then detaches it from every room.
func (h *SyncHub) Serve(conn *wsConn) {
	defer func() {
		h.rooms.Drop(conn)
		conn.close()
		h.log.Sugar().Infow("connection detached", "connection", conn.id)
	}()

	conn.sock.SetReadLimit(maxMessageSize)
	_ = conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := conn.sock.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Sugar().Debugw("read failed", "connection", conn.id, "err", err)
			}
			return
		}
		h.Dispatch(context.Background(), conn, env)
	}
}

// Dispatch routes one inbound envelope. Exported separately from Serve so the
// routing table can be driven without a live socket.
func (h *SyncHub) Dispatch(ctx context.Context, conn service.Subscriber, env Envelope) {
	switch env.Event {
	case "identity-assert":
		h.onIdentityAssert(ctx, conn, env)
	case "room-create":
		h.onRoomJoin(conn, env, "room-created")
	case "room-join":
		h.onRoomJoin(conn, env, "room-joined")
	case "room-leave":
		var p roomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
			return
		}
		h.rooms.Leave(conn, p.RoomID)
	case "code-edit":
		var p codeEditPayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
			return
		}
		h.rooms.BroadcastToOthers(conn, p.RoomID, "code-sync", p.Code)
	case "language-select":
		var p languagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
			return
		}
		h.rooms.BroadcastToAll(p.RoomID, "language-sync", p.Language)
	case "run-command":
		h.onRunCommand(ctx, conn, env)
	case "run-script":
		h.onRunScript(ctx, conn, env)
	case "project-clone":
		h.onProjectClone(ctx, conn, env)
	case "projects-list":
		h.onProjectsList(ctx, conn, env)
	case "file-read":
		h.onFileRead(conn, env)
	case "file-write":
		h.onFileWrite(conn, env)
	default:
		h.log.Sugar().Debugw("unknown event", "event", env.Event, "connection", conn.ID())
	}
}

func (h *SyncHub) onIdentityAssert(ctx context.Context, conn service.Subscriber, env Envelope) {
	var p identityAssertPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		h.sendError(conn, env.Event, "malformed payload: "+err.Error())
		return
	}
	if p.User.Email == "" {
		h.sendError(conn, env.Event, "email is required")
		return
	}
	go func() {
		user, err := h.users.Assert(ctx, service.AssertIdentityInput{
			Email:     p.User.Email,
			Name:      p.User.Name,
			Picture:   p.User.Picture,
			ExpiresAt: p.ExpiresAt,
		})
		if err != nil {
			h.sendError(conn, env.Event, err.Error())
			return
		}
		h.send(conn, "identity-ack", gin.H{"user": user})
	}()
}

func (h *SyncHub) onRoomJoin(conn service.Subscriber, env Envelope, roomEvent string) {
	var p roomPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" {
		h.send(conn, "ack", serializer.AckErr("Room ID is required"))
		return
	}
	h.rooms.Join(conn, p.RoomID)
	h.send(conn, "ack", serializer.AckOK(p.RoomID))
	h.rooms.BroadcastToAll(p.RoomID, roomEvent, p.RoomID)
}

func (h *SyncHub) onRunCommand(ctx context.Context, conn service.Subscriber, env Envelope) {
	var p runCommandPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" || p.Command == "" {
		h.sendError(conn, env.Event, "roomId and command are required")
		return
	}
	go h.relay.RunCommand(ctx, p.RoomID, p.Command)
}

func (h *SyncHub) onRunScript(ctx context.Context, conn service.Subscriber, env Envelope) {
	var p runScriptPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" || p.Code == "" {
		h.sendError(conn, env.Event, "roomId and code are required")
		return
	}
	go h.relay.RunScript(ctx, p.RoomID, p.Code)
}

func (h *SyncHub) onProjectClone(ctx context.Context, conn service.Subscriber, env Envelope) {
	var p projectClonePayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.RoomID == "" || p.RepoURL == "" || p.Email == "" {
		h.sendError(conn, env.Event, "roomId, repoUrl and email are required")
		return
	}
	go func() {
		project, err := h.projects.Ingest(ctx, p.Email, p.RepoURL, h.cfg.Projects.Root)
		if err != nil {
			h.send(conn, "clone-error", gin.H{"repoUrl": p.RepoURL, "error": err.Error()})
			return
		}
		h.rooms.BroadcastToAll(p.RoomID, "project-ready", project)
	}()
}

func (h *SyncHub) onProjectsList(ctx context.Context, conn service.Subscriber, env Envelope) {
	var p projectsListPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.Email == "" {
		h.sendError(conn, env.Event, "email is required")
		return
	}
	go func() {
		projects, err := h.projects.ListByOwner(ctx, p.Email)
		if err != nil {
			h.send(conn, "projects-result", gin.H{"error": err.Error()})
			return
		}
		h.send(conn, "projects-result", gin.H{"projects": projects})
	}()
}

func (h *SyncHub) onFileRead(conn service.Subscriber, env Envelope) {
	var p fileReadPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.ProjectPath == "" || p.RelativePath == "" {
		h.sendError(conn, env.Event, "projectPath and relativePath are required")
		return
	}
	go func() {
		content := h.projects.ReadFile(p.ProjectPath, p.RelativePath)
		h.send(conn, "file-content", gin.H{"relativePath": p.RelativePath, "content": content})
	}()
}

func (h *SyncHub) onFileWrite(conn service.Subscriber, env Envelope) {
	var p fileWritePayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.ProjectPath == "" || p.RelativePath == "" {
		h.sendError(conn, env.Event, "projectPath and relativePath are required")
		return
	}
	go func() {
		if err := h.projects.WriteFile(p.ProjectPath, p.RelativePath, p.Content); err != nil {
			h.send(conn, "file-write-ack", serializer.AckErr(err.Error()))
			return
		}
		h.send(conn, "file-write-ack", serializer.Ack{Success: true})
	}()
}

func (h *SyncHub) send(conn service.Subscriber, event string, payload any) {
	if err := conn.Send(event, payload); err != nil {
		h.log.Sugar().Debugw("send failed", "event", event, "connection", conn.ID(), "err", err)
	}
}

func (h *SyncHub) sendError(conn service.Subscriber, event, msg string) {
	h.send(conn, "error", serializer.EventError{Event: event, Error: msg})
}
