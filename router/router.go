// Package workflow_routers wires the HTTP/WebSocket surface (spec.md
// §5): carrier media-stream upgrades for both variants, the outbound
// call trigger, and a health check. Grounded on the teacher's
// router/{healthcheck,assistant}.go — the gin.Engine/route-group
// registration shape and the JSON/PCM carrier callback URL layout are
// kept; the talk routes are generalized from protobuf/gRPC-backed
// handlers to direct WebSocket upgrades into the Carrier Adapter, since
// this module has no gRPC talk surface (spec.md's Non-goals exclude a
// dashboard/API surface beyond the telephony bridge itself).
package workflow_routers

import (
	"context"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/voicebridge/voicebridge/internal/callstore"
	"github.com/voicebridge/voicebridge/internal/carrier"
	"github.com/voicebridge/voicebridge/internal/config"
	"github.com/voicebridge/voicebridge/internal/logging"
	"github.com/voicebridge/voicebridge/internal/orchestrator"
	"github.com/voicebridge/voicebridge/internal/telephony"
)

var mediaUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Deps are the collaborators the routes need, assembled once at process
// start by cmd/voicebridge.
type Deps struct {
	Logger          logging.Logger
	CallStore       callstore.Store
	Dispatcher      *telephony.Dispatcher
	LoadAgentConfig func(ctx context.Context, agentID string) (config.AgentConfig, error)
	NewSession      func(ctx context.Context, callID string, agent config.AgentConfig, adapter carrier.Adapter) (*orchestrator.Session, error)
	JWTSecret       []byte
}

// NewEngine builds the gin.Engine with CORS, health check, carrier
// webhook/media routes, and the outbound-call trigger, following the
// teacher's HealthCheckRoutes/TalkCallbackApiRoute grouping.
func NewEngine(deps Deps) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
	}))

	healthcheckRoutes(engine, deps)
	talkRoutes(engine, deps)
	return engine
}

func healthcheckRoutes(engine *gin.Engine, deps Deps) {
	deps.Logger.Infof("router: health check routes registered")
	apiv1 := engine.Group("")
	apiv1.GET("/readiness/", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ready"}) })
	apiv1.GET("/healthz/", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
}

func talkRoutes(engine *gin.Engine, deps Deps) {
	apiv1 := engine.Group("v1/talk")
	{
		// Variant A (mulaw/8kHz, JSON-over-WebSocket): carrier posts the
		// start/media/stop envelope described in spec.md §4.2.
		apiv1.GET("/twilio/stream/:agentId", jwtAuth(deps.JWTSecret), mediaHandler(deps, carrierJSON))
		apiv1.GET("/vonage/stream/:agentId", jwtAuth(deps.JWTSecret), mediaHandler(deps, carrierJSON))

		// Variant B (raw PCM/44.1kHz, binary WebSocket).
		apiv1.GET("/sip/stream/:agentId", jwtAuth(deps.JWTSecret), mediaHandler(deps, carrierPCM))

		apiv1.POST("/outbound-call", outboundCallHandler(deps))
	}
}

type carrierVariant int

const (
	carrierJSON carrierVariant = iota
	carrierPCM
)

// mediaHandler upgrades the HTTP request to a WebSocket, wraps it in the
// requested Carrier Adapter variant, builds a Session Orchestrator for a
// new call, and runs it for the lifetime of the connection.
func mediaHandler(deps Deps, variant carrierVariant) gin.HandlerFunc {
	return func(c *gin.Context) {
		agentID := c.Param("agentId")
		agent, err := deps.LoadAgentConfig(c.Request.Context(), agentID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown agent"})
			return
		}

		conn, err := mediaUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			deps.Logger.Warnw("router: websocket upgrade failed", "agentId", agentID, "error", err)
			return
		}

		callID := uuid.New().String()
		var adapter carrier.Adapter
		switch variant {
		case carrierJSON:
			adapter = carrier.NewJSONCarrier(deps.Logger, conn)
		case carrierPCM:
			adapter = carrier.NewPCMCarrier(deps.Logger, conn, carrier.PCMCarrierIDs{CallID: callID})
		}

		if deps.CallStore != nil {
			cc := &callstore.CallContext{ID: callID, AgentID: agentID, CarrierKind: variantName(variant)}
			if _, err := deps.CallStore.Save(c.Request.Context(), cc); err != nil {
				deps.Logger.Warnw("router: failed to save call context", "callId", callID, "error", err)
			}
		}

		sess, err := deps.NewSession(context.Background(), callID, agent, adapter)
		if err != nil {
			deps.Logger.Errorf("router: failed to start session for call %s: %v", callID, err)
			_ = adapter.Close()
			return
		}
		sess.Run()
	}
}

func variantName(v carrierVariant) string {
	if v == carrierPCM {
		return "pcm"
	}
	return "json"
}

// outboundCallRequest is the payload for placing an outbound call
// (spec.md §4.8).
type outboundCallRequest struct {
	AgentID    string `json:"agentId" binding:"required"`
	ToPhone    string `json:"toPhone" binding:"required"`
	FromDID    string `json:"fromDid" binding:"required"`
	Provider   string `json:"provider" binding:"required"`
	WebhookURL string `json:"webhookUrl" binding:"required"`
}

func outboundCallHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboundCallRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if deps.Dispatcher == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telephony dispatcher not configured"})
			return
		}
		sid, err := deps.Dispatcher.PlaceCall(c.Request.Context(), req.Provider, req.FromDID, req.ToPhone,
			telephony.WebhookURLs{VoiceWebhookURL: req.WebhookURL})
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"callSid": sid})
	}
}

// jwtAuth validates a bearer JWT on carrier webhook routes (spec.md §5's
// security surface, supplemented beyond the distilled spec since every
// inbound-webhook route in the teacher's stack is credential-gated).
// Skipped entirely when no secret is configured (local/dev).
func jwtAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token := header[len(prefix):]
		_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
