package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/blueprint"
	"github.com/aretw0/blueprint/internal/logging"
	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/aretw0/blueprint/pkg/stage"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// StagesURI is the resource listing the stage graph.
const StagesURI = "blueprint://stages"

// Engine defines what the MCP server needs from blueprint.Engine.
type Engine interface {
	Create(ctx context.Context) (*blueprint.Turn, error)
	Load(ctx context.Context, sessionID string) (*blueprint.Turn, error)
	Submit(ctx context.Context, sessionID, text string) (*blueprint.Turn, error)
	Resolve(ctx context.Context, sessionID string, accept bool) (*blueprint.Turn, error)
	Jump(ctx context.Context, sessionID string, target domain.StageID) (*blueprint.Turn, error)
	Reset(ctx context.Context, sessionID string) (*blueprint.Turn, error)
	Snapshot(ctx context.Context, sessionID string) (domain.Snapshot, error)
	List(ctx context.Context) ([]string, error)
	Graph() *stage.Graph
}

// SessionArgs addresses a session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

// InputArgs are the arguments of submit_input.
type InputArgs struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// ResolveArgs are the arguments of resolve.
type ResolveArgs struct {
	SessionID string `json:"session_id"`
	Accept    bool   `json:"accept"`
}

// JumpArgs are the arguments of jump.
type JumpArgs struct {
	SessionID string `json:"session_id"`
	Stage     string `json:"stage"`
}

// StageInfo describes one stage in the stages resource.
type StageInfo struct {
	Stage         string   `json:"stage"`
	Label         string   `json:"label"`
	Kind          string   `json:"kind"`
	Output        string   `json:"output,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// Server exposes the engine as an MCP server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		logger: logging.NewNop(),
		mcpServer: server.NewMCPServer("blueprint-mcp", strings.TrimSpace(blueprint.Version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithRecovery(),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, e.g. for in-process clients.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE and stops when ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(fmt.Sprintf("http://localhost:%d", port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	sessionID := mcp.WithString("session_id", mcp.Required(), mcp.Description("The session to act on"))

	s.mcpServer.AddTool(mcp.NewTool("create_session",
		mcp.WithDescription("Start a new blueprint session and return its first prompt."),
		mcp.WithOutputSchema[blueprint.Turn](),
	), mcp.NewStructuredToolHandler(func(ctx context.Context, _ mcp.CallToolRequest, _ struct{}) (blueprint.Turn, error) {
		return deref(s.engine.Create(ctx))
	}))

	s.mcpServer.AddTool(mcp.NewTool("load_session",
		mcp.WithDescription("Load a stored session, repairing its record when possible."),
		sessionID,
		mcp.WithOutputSchema[blueprint.Turn](),
	), mcp.NewStructuredToolHandler(func(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (blueprint.Turn, error) {
		return deref(s.engine.Load(ctx, args.SessionID))
	}))

	s.mcpServer.AddTool(mcp.NewTool("submit_input",
		mcp.WithDescription("Submit the author's answer to the current prompt."),
		sessionID,
		mcp.WithString("text", mcp.Required(), mcp.Description("The author's raw input")),
		mcp.WithOutputSchema[blueprint.Turn](),
	), mcp.NewStructuredToolHandler(func(ctx context.Context, _ mcp.CallToolRequest, args InputArgs) (blueprint.Turn, error) {
		return deref(s.engine.Submit(ctx, args.SessionID, args.Text))
	}))

	s.mcpServer.AddTool(mcp.NewTool("resolve",
		mcp.WithDescription("Accept or refine the pending confirmation."),
		sessionID,
		mcp.WithBoolean("accept", mcp.Required(), mcp.Description("true commits the pending value, false discards it")),
		mcp.WithOutputSchema[blueprint.Turn](),
	), mcp.NewStructuredToolHandler(func(ctx context.Context, _ mcp.CallToolRequest, args ResolveArgs) (blueprint.Turn, error) {
		return deref(s.engine.Resolve(ctx, args.SessionID, args.Accept))
	}))

	stageNames := make([]string, 0, domain.StageCount)
	for _, id := range domain.AllStages() {
		stageNames = append(stageNames, id.String())
	}
	s.mcpServer.AddTool(mcp.NewTool("jump",
		mcp.WithDescription("Move forward to a later stage. Refused when a prerequisite field is missing."),
		sessionID,
		mcp.WithString("stage", mcp.Required(), mcp.Enum(stageNames...), mcp.Description("Target stage")),
		mcp.WithOutputSchema[blueprint.Turn](),
	), mcp.NewStructuredToolHandler(func(ctx context.Context, _ mcp.CallToolRequest, args JumpArgs) (blueprint.Turn, error) {
		target, err := domain.ParseStage(args.Stage)
		if err != nil {
			return blueprint.Turn{}, err
		}
		return deref(s.engine.Jump(ctx, args.SessionID, target))
	}))

	s.mcpServer.AddTool(mcp.NewTool("reset_session",
		mcp.WithDescription("Discard every captured field and start over."),
		sessionID,
		mcp.WithOutputSchema[blueprint.Turn](),
	), mcp.NewStructuredToolHandler(func(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (blueprint.Turn, error) {
		return deref(s.engine.Reset(ctx, args.SessionID))
	}))

	s.mcpServer.AddTool(mcp.NewTool("snapshot",
		mcp.WithDescription("Read the session: stage, completion, captured fields and pending confirmation."),
		sessionID,
		mcp.WithOutputSchema[domain.Snapshot](),
	), mcp.NewStructuredToolHandler(func(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (domain.Snapshot, error) {
		return s.engine.Snapshot(ctx, args.SessionID)
	}))

	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List stored session ids."),
	), func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, err := s.engine.List(ctx)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("list failed", err), nil
		}
		data, _ := json.Marshal(ids)
		return mcp.NewToolResultText(string(data)), nil
	})
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(StagesURI, "Blueprint Stages",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(Stages(s.engine.Graph()))
		if err != nil {
			return nil, fmt.Errorf("failed to encode stages: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      StagesURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

// Stages describes the graph in workflow order.
func Stages(g *stage.Graph) []StageInfo {
	defs := g.Definitions()
	out := make([]StageInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, StageInfo{
			Stage:         d.ID.String(),
			Label:         d.Label,
			Kind:          d.Kind.String(),
			Output:        d.Output(),
			Prerequisites: d.Prerequisites,
		})
	}
	return out
}

// deref turns a rejected operation into a tool error carrying the reason.
func deref(turn *blueprint.Turn, err error) (blueprint.Turn, error) {
	if err != nil {
		return blueprint.Turn{}, err
	}
	return *turn, nil
}
