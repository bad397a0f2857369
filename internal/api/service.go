package api

import (
	"context"
	"errors"
	"strconv"

	"github.com/matheus3301/chatsync/internal/live"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service implements SyncControl on top of the store and sync engine.
type Service struct {
	sessionName string
	db          *store.DB
	engine      *intsync.Engine
	hub         *live.Hub
	machine     *status.Machine
	trigger     func() error
	logger      *zap.Logger
}

// NewService creates the control service. trigger requests a one-shot sync.
func NewService(sessionName string, db *store.DB, engine *intsync.Engine, hub *live.Hub, machine *status.Machine, trigger func() error, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessionName: sessionName,
		db:          db,
		engine:      engine,
		hub:         hub,
		machine:     machine,
		trigger:     trigger,
		logger:      logger,
	}
}

var _ SyncControlServer = (*Service)(nil)

func reply(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return s, nil
}

func field(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	return req.GetFields()[key].GetStringValue()
}

func (s *Service) currentUser() (string, error) {
	uid, err := s.db.CurrentUser()
	if err != nil {
		return "", grpcstatus.Errorf(codes.Internal, "read current user: %v", err)
	}
	return uid, nil
}

func (s *Service) requestSync() {
	if s.trigger == nil {
		return
	}
	if err := s.trigger(); err != nil {
		s.logger.Warn("sync trigger failed", zap.Error(err))
	}
}

func (s *Service) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	uid, err := s.currentUser()
	if err != nil {
		return nil, err
	}
	pending, err := s.db.PendingCount()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "count pending: %v", err)
	}
	failed, err := s.db.FailedCount()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "count failed: %v", err)
	}
	total, err := s.db.MessageCount()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "count messages: %v", err)
	}
	outcome, _, err := s.db.GetState(store.StateLastOutcome)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "read state: %v", err)
	}
	var lastAt int64
	if raw, ok, _ := s.db.GetState(store.StateLastCycleAt); ok {
		lastAt, _ = strconv.ParseInt(raw, 10, 64)
	}

	return reply(map[string]any{
		"session":       s.sessionName,
		"state":         string(s.machine.Current()),
		"user":          uid,
		"pending":       pending,
		"failed":        failed,
		"messages":      total,
		"last_outcome":  outcome,
		"last_cycle_at": lastAt,
	})
}

func (s *Service) TriggerSync(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	uid, err := s.currentUser()
	if err != nil {
		return nil, err
	}
	if uid == "" {
		return reply(map[string]any{"accepted": false, "reason": "signed out"})
	}
	if s.trigger == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "scheduler not running")
	}
	if err := s.trigger(); err != nil {
		return nil, grpcstatus.Errorf(codes.Unavailable, "trigger sync: %v", err)
	}
	return reply(map[string]any{"accepted": true})
}

func (s *Service) SendText(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	to, body := field(req, "to"), field(req, "body")
	if to == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "to is required")
	}
	uid, err := s.currentUser()
	if err != nil {
		return nil, err
	}
	if uid == "" {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "not signed in")
	}

	msg, err := s.engine.Compose(ctx, uid, to, body)
	if errors.Is(err, intsync.ErrEmptyBody) {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "compose: %v", err)
	}
	s.requestSync()
	return reply(map[string]any{"message_id": msg.MessageID, "chat_id": msg.ChatID})
}

func (s *Service) ListChats(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	uid, err := s.currentUser()
	if err != nil {
		return nil, err
	}
	var chats []store.Message
	if uid != "" {
		if chats, err = s.db.LatestChatSummaries(uid); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "list chats: %v", err)
		}
	}
	return reply(map[string]any{"chats": messageList(chats)})
}

func (s *Service) WatchChat(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	chatID := field(req, "chat_id")
	if chatID == "" {
		return grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	ctx := stream.Context()
	snapshots, err := s.hub.ObserveChat(ctx, chatID)
	if err != nil {
		return grpcstatus.Errorf(codes.Internal, "observe chat: %v", err)
	}

	for msgs := range snapshots {
		out, err := reply(map[string]any{"chat_id": chatID, "messages": messageList(msgs)})
		if err != nil {
			return err
		}
		if err := stream.Send(out); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return grpcstatus.Error(codes.Unavailable, "chat observation ended")
}

func (s *Service) SignIn(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	uid := field(req, "uid")
	if uid == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "uid is required")
	}
	if err := s.db.SetState(store.StateCurrentUser, uid); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "store user: %v", err)
	}
	if s.machine.Current() == status.SignedOut {
		if err := s.machine.Transition(status.Idle); err != nil {
			s.logger.Warn("state transition failed", zap.Error(err))
		}
	}
	s.logger.Info("signed in", zap.String("user", uid))
	s.requestSync()
	return reply(map[string]any{"uid": uid})
}

func (s *Service) SignOut(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.db.DeleteState(store.StateCurrentUser); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "clear user: %v", err)
	}
	if err := s.machine.Transition(status.SignedOut); err != nil {
		s.logger.Warn("state transition failed", zap.Error(err))
	}
	s.logger.Info("signed out")
	return reply(map[string]any{})
}

func (s *Service) UpdatePeer(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p := &store.Peer{
		UID:      field(req, "uid"),
		Name:     field(req, "name"),
		Username: field(req, "username"),
		Avatar:   field(req, "avatar"),
	}
	if p.UID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "uid is required")
	}
	n, err := s.db.UpdatePeer(p)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "update peer: %v", err)
	}
	return reply(map[string]any{"updated": n})
}

func (s *Service) RetryFailed(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := field(req, "message_id")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message_id is required")
	}
	err := s.engine.RetryFailed(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, grpcstatus.Errorf(codes.NotFound, "no failed message %q", id)
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "retry: %v", err)
	}
	s.requestSync()
	return reply(map[string]any{"retried": id})
}
