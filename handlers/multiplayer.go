// handlers/multiplayer.go - Websocket feeds for the lobby and live rankings
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"wordduel/models"
	"wordduel/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 15 * time.Second
	sendBufferSize = 64
)

// Message is the envelope for every websocket frame in both directions.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan Message
	done   chan struct{}
	once   sync.Once
	closed sync.WaitGroup
	log    *zap.SugaredLogger
}

func newWSClient(conn *websocket.Conn, log *zap.SugaredLogger) *wsClient {
	cl := &wsClient{
		conn: conn,
		send: make(chan Message, sendBufferSize),
		done: make(chan struct{}),
		log:  log,
	}
	cl.closed.Add(1)
	go cl.writePump()
	return cl
}

// sendMessage queues a frame without blocking the caller. Roster and ranking
// snapshots supersede each other, so a full queue drops the frame.
func (cl *wsClient) sendMessage(msgType string, payload interface{}) {
	select {
	case <-cl.done:
		return
	default:
	}
	select {
	case cl.send <- Message{Type: msgType, Payload: payload}:
	default:
		cl.log.Warnw("send buffer full, dropping message", "type", msgType)
	}
}

func (cl *wsClient) sendError(err error) {
	_, msg := statusFor(err)
	cl.sendMessage("error", fiber.Map{"error": msg})
}

func (cl *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.closed.Done()
	}()

	for {
		select {
		case msg := <-cl.send:
			if err := cl.write(msg); err != nil {
				cl.log.Debugw("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cl.done:
			// Flush what is queued, then say goodbye.
			for {
				select {
				case msg := <-cl.send:
					if err := cl.write(msg); err != nil {
						return
					}
				default:
					_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = cl.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (cl *wsClient) write(msg Message) error {
	_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return cl.conn.WriteJSON(msg)
}

// shutdown stops the writer and waits for it to flush.
func (cl *wsClient) shutdown() {
	cl.once.Do(func() { close(cl.done) })
	cl.closed.Wait()
}

// readLoop feeds inbound frames to handle until the peer goes away or handle
// returns false.
func (cl *wsClient) readLoop(handle func(inboundMessage) bool) {
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg inboundMessage
		if err := cl.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cl.log.Debugw("websocket read error", "error", err)
			}
			return
		}
		_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !handle(msg) {
			return
		}
	}
}

func socketIdentity(conn *websocket.Conn) (string, string) {
	userID, _ := conn.Locals("userId").(string)
	username, _ := conn.Locals("username").(string)
	return userID, username
}

// ================== LOBBY FEED ==================

// LobbySocket matchmakes the caller and streams the waiting room.
// GET /ws/lobby?tier=intermediate
//
// Out: team, members, quiz_start, left, error. In: cancel, ready, ping.
// Dropping the socket before quiz_start leaves the team.
func (h *Handler) LobbySocket(conn *websocket.Conn) {
	userID, username := socketIdentity(conn)
	log := h.log.With("user_id", userID, "feed", "lobby")
	cl := newWSClient(conn, log)
	defer cl.shutdown()

	if userID == "" {
		cl.sendMessage("error", fiber.Map{"error": "User not authenticated"})
		return
	}
	tier, err := models.ParseTier(conn.Query("tier"))
	if err != nil {
		cl.sendError(err)
		return
	}
	displayName := conn.Query("name", username)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lobby, err := h.lobby.Enter(ctx, userID, displayName, tier, services.LobbyListener{
		OnTeam: func(team *models.Team) {
			cl.sendMessage("team", team)
		},
		OnMembers: func(members []models.TeamMember, status services.TeamStatus) {
			cl.sendMessage("members", fiber.Map{
				"members":     members,
				"status":      status,
				"status_text": status.String(),
			})
		},
		OnStart: func(hand services.Handoff) {
			cl.sendMessage("quiz_start", hand)
		},
		OnError: func(err error) {
			cl.sendError(err)
		},
	})
	if err != nil {
		log.Warnw("lobby entry failed", "error", err)
		cl.sendError(err)
		return
	}
	defer lobby.Close(context.Background())

	cl.readLoop(func(msg inboundMessage) bool {
		switch msg.Type {
		case "cancel":
			if err := lobby.Cancel(ctx); err != nil {
				cl.sendError(err)
				return true
			}
			cl.sendMessage("left", fiber.Map{"team_id": lobby.Team().ID})
			return false
		case "ready":
			member, err := lobby.ToggleReady(ctx)
			if err != nil {
				cl.sendError(err)
				return true
			}
			cl.sendMessage("ready", member)
		case "ping":
			cl.sendMessage("pong", nil)
		default:
			cl.sendMessage("error", fiber.Map{"error": "Unknown message type: " + msg.Type})
		}
		return true
	})
}

// ================== SESSION FEED ==================

type scorePayload struct {
	Score *int `json:"score"`
}

// SessionSocket joins the caller to a session and streams its ranking.
// GET /ws/sessions/:id
//
// Out: joined, ranking, score, error. In: correct, score, ping.
func (h *Handler) SessionSocket(conn *websocket.Conn) {
	userID, username := socketIdentity(conn)
	sessionID := conn.Params("id")
	log := h.log.With("user_id", userID, "session_id", sessionID, "feed", "session")
	cl := newWSClient(conn, log)
	defer cl.shutdown()

	if userID == "" {
		cl.sendMessage("error", fiber.Map{"error": "User not authenticated"})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.checkSessionAccess(ctx, sessionID, userID); err != nil {
		cl.sendError(err)
		return
	}
	p, err := h.sessions.Join(ctx, sessionID, userID, conn.Query("name", username))
	if err != nil {
		cl.sendError(err)
		return
	}
	cl.sendMessage("joined", p)

	keeper := services.NewScoreKeeper(h.sessions, sessionID, userID, p.Score)
	sub, err := h.sessions.Watch(ctx, sessionID, userID, func(ranking []services.RankedPlayer) {
		cl.sendMessage("ranking", ranking)
	})
	if err != nil {
		cl.sendError(err)
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	cl.readLoop(func(msg inboundMessage) bool {
		switch msg.Type {
		case "correct":
			score, err := keeper.AddCorrect(ctx)
			cl.sendMessage("score", fiber.Map{"score": score, "synced": err == nil})
		case "score":
			var sp scorePayload
			if err := json.Unmarshal(msg.Payload, &sp); err != nil || sp.Score == nil {
				cl.sendMessage("error", fiber.Map{"error": "score is required"})
				return true
			}
			err := h.sessions.SubmitScore(ctx, sessionID, userID, *sp.Score)
			if err != nil && !errors.Is(err, models.ErrScoreSubmitFailed) {
				cl.sendError(err)
				return true
			}
			cl.sendMessage("score", fiber.Map{"score": *sp.Score, "synced": err == nil})
		case "ping":
			cl.sendMessage("pong", nil)
		default:
			cl.sendMessage("error", fiber.Map{"error": "Unknown message type: " + msg.Type})
		}
		return true
	})
}
