package rpc

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"go.trai.ch/zerr"
	"google.golang.org/protobuf/types/known/structpb"

	"gitdiagram/internal/export"
	"gitdiagram/internal/gateway/service/session"
	"gitdiagram/internal/orchestrator"
	"gitdiagram/internal/types"
)

const DiagramServiceName = "gitdiagram.v1.DiagramService"

// Procedure paths. Every message is a google.protobuf.Struct.
const (
	ProcOpenSession  = "/" + DiagramServiceName + "/OpenSession"
	ProcCloseSession = "/" + DiagramServiceName + "/CloseSession"
	ProcSetIdentity  = "/" + DiagramServiceName + "/SetIdentity"
	ProcSetAPIKey    = "/" + DiagramServiceName + "/SetApiKey"
	ProcGetSnapshot  = "/" + DiagramServiceName + "/GetSnapshot"
	ProcGenerate     = "/" + DiagramServiceName + "/Generate"
	ProcRegenerate   = "/" + DiagramServiceName + "/Regenerate"
	ProcModify       = "/" + DiagramServiceName + "/Modify"
	ProcEstimateCost = "/" + DiagramServiceName + "/EstimateCost"
	ProcAsk          = "/" + DiagramServiceName + "/Ask"
	ProcScenarios    = "/" + DiagramServiceName + "/Scenarios"
)

type DiagramHandler struct {
	sessions *session.Service
}

func NewDiagramHandler(sessions *session.Service) *DiagramHandler {
	return &DiagramHandler{sessions: sessions}
}

type unaryFunc = func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)

// Routes returns the service path prefix and its handler, the same shape
// generated connect constructors return.
func (h *DiagramHandler) Routes(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	for proc, fn := range map[string]unaryFunc{
		ProcOpenSession:  h.OpenSession,
		ProcCloseSession: h.CloseSession,
		ProcSetIdentity:  h.SetIdentity,
		ProcSetAPIKey:    h.SetAPIKey,
		ProcGetSnapshot:  h.GetSnapshot,
		ProcGenerate:     h.Generate,
		ProcRegenerate:   h.Regenerate,
		ProcModify:       h.Modify,
		ProcEstimateCost: h.EstimateCost,
		ProcAsk:          h.Ask,
		ProcScenarios:    h.Scenarios,
	} {
		mux.Handle(proc, connect.NewUnaryHandler(proc, fn, opts...))
	}
	return "/" + DiagramServiceName + "/", mux
}

func (h *DiagramHandler) OpenSession(_ context.Context, _ *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	id, o := h.sessions.Open()
	return respond(o.Snapshot(), map[string]any{"sessionId": id})
}

func (h *DiagramHandler) CloseSession(_ context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	id := field(req.Msg, "sessionId")
	if id == "" {
		return nil, toDiagramError(session.ErrSessionRequired)
	}
	out, err := structpb.NewStruct(map[string]any{"closed": h.sessions.Close(id)})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

// SetIdentity accepts either "repo" as owner/repo (or a GitHub URL) or
// separate "owner" and "repo" fields.
func (h *DiagramHandler) SetIdentity(_ context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	o, err := h.session(req.Msg)
	if err != nil {
		return nil, err
	}
	id, err := identityFrom(req.Msg)
	if err != nil {
		return nil, toDiagramError(err)
	}
	if err := o.SetIdentity(id); err != nil {
		return nil, toDiagramError(err)
	}
	return respond(o.Snapshot(), nil)
}

func (h *DiagramHandler) SetAPIKey(_ context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	o, err := h.session(req.Msg)
	if err != nil {
		return nil, err
	}
	o.SetAPIKey(field(req.Msg, "apiKey"))
	return respond(o.Snapshot(), nil)
}

func (h *DiagramHandler) GetSnapshot(_ context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	o, err := h.session(req.Msg)
	if err != nil {
		return nil, err
	}
	return respond(o.Snapshot(), nil)
}

func (h *DiagramHandler) Generate(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return h.run(ctx, req.Msg, func(o *orchestrator.Orchestrator, parent context.Context) *orchestrator.Action {
		return o.Generate(parent, field(req.Msg, "instructions"))
	})
}

func (h *DiagramHandler) Regenerate(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return h.run(ctx, req.Msg, func(o *orchestrator.Orchestrator, parent context.Context) *orchestrator.Action {
		return o.Regenerate(parent, field(req.Msg, "instructions"))
	})
}

func (h *DiagramHandler) Modify(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return h.run(ctx, req.Msg, func(o *orchestrator.Orchestrator, parent context.Context) *orchestrator.Action {
		return o.Modify(parent, field(req.Msg, "instructions"))
	})
}

func (h *DiagramHandler) EstimateCost(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return h.run(ctx, req.Msg, func(o *orchestrator.Orchestrator, parent context.Context) *orchestrator.Action {
		return o.EstimateCost(parent, field(req.Msg, "instructions"))
	})
}

func (h *DiagramHandler) Ask(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return h.run(ctx, req.Msg, func(o *orchestrator.Orchestrator, parent context.Context) *orchestrator.Action {
		return o.Ask(parent, field(req.Msg, "question"))
	})
}

func (h *DiagramHandler) Scenarios(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return h.run(ctx, req.Msg, func(o *orchestrator.Orchestrator, parent context.Context) *orchestrator.Action {
		return o.Scenarios(parent)
	})
}

// run starts an action detached from the request so a dropped connection
// does not cancel it. With "wait" set the call blocks until the action
// completes; otherwise it returns the snapshot right after the start and
// progress is observed over the watch stream.
func (h *DiagramHandler) run(ctx context.Context, msg *structpb.Struct, start func(*orchestrator.Orchestrator, context.Context) *orchestrator.Action) (*connect.Response[structpb.Struct], error) {
	o, err := h.session(msg)
	if err != nil {
		return nil, err
	}
	act := start(o, context.WithoutCancel(ctx))
	if boolField(msg, "wait") {
		snap, err := act.Wait(ctx)
		if err != nil {
			return nil, toDiagramError(err)
		}
		return respond(snap, nil)
	}
	select {
	case <-act.Done():
		if err := act.Err(); err != nil {
			return nil, toDiagramError(err)
		}
	default:
	}
	return respond(o.Snapshot(), nil)
}

func (h *DiagramHandler) session(msg *structpb.Struct) (*orchestrator.Orchestrator, error) {
	o, err := h.sessions.Get(field(msg, "sessionId"))
	if err != nil {
		return nil, toDiagramError(err)
	}
	return o, nil
}

func identityFrom(msg *structpb.Struct) (types.Identity, error) {
	owner, repo := field(msg, "owner"), field(msg, "repo")
	if owner == "" {
		return types.ParseIdentity(repo)
	}
	return types.NewIdentity(owner, repo)
}

func respond(snap orchestrator.Snapshot, extra map[string]any) (*connect.Response[structpb.Struct], error) {
	fields := map[string]any{"snapshot": session.NewView(snap).Fields()}
	for k, v := range extra {
		fields[k] = v
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, zerr.Wrap(err, "encode snapshot"))
	}
	return connect.NewResponse(out), nil
}

func field(msg *structpb.Struct, key string) string {
	return strings.TrimSpace(msg.GetFields()[key].GetStringValue())
}

func boolField(msg *structpb.Struct, key string) bool {
	return msg.GetFields()[key].GetBoolValue()
}

func toDiagramError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return err
	}
	switch {
	case errors.Is(err, session.ErrSessionRequired),
		errors.Is(err, orchestrator.ErrInvalidIdentity),
		errors.Is(err, orchestrator.ErrInvalidInstructions),
		errors.Is(err, export.ErrUnsupportedFormat):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, session.ErrSessionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, orchestrator.ErrRateLimited):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, orchestrator.ErrAPIKeyRequired),
		errors.Is(err, orchestrator.ErrNoExistingArtifact),
		errors.Is(err, orchestrator.ErrServiceDeclared),
		errors.Is(err, export.ErrNotReady):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, orchestrator.ErrTransportFailure),
		errors.Is(err, orchestrator.ErrClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, orchestrator.ErrSuperseded),
		errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, zerr.Wrap(err, "diagram service failed"))
	}
}
