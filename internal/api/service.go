// Package api exposes a running session over gRPC.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/transport/wire"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const watchBuffer = 256

// ControlService implements ControlServer on top of a session.
type ControlService struct {
	profile   string
	startedAt time.Time
	session   *session.Session
	logger    *zap.Logger
}

// NewControlService creates the service for profile.
func NewControlService(profile string, s *session.Session, logger *zap.Logger) *ControlService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlService{
		profile:   profile,
		startedAt: time.Now(),
		session:   s,
		logger:    logger,
	}
}

func (s *ControlService) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return reply(StatusReply{
		Profile:  s.profile,
		UserID:   s.session.LocalUserID(),
		Status:   string(s.session.Status()),
		UptimeMS: time.Since(s.startedAt).Milliseconds(),
	})
}

func (s *ControlService) GetSnapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	v, err := s.session.Snapshot(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(snapshotReply(v))
}

func (s *ControlService) RefreshChats(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return done(s.session.FetchChats(ctx))
}

func (s *ControlService) SelectChat(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var args ChatArgs
	if err := decodeArgs(in, &args); err != nil {
		return nil, err
	}
	return done(s.session.SelectChat(ctx, args.ChatID))
}

func (s *ControlService) ClearActiveChat(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return done(s.session.ClearActiveChat(ctx))
}

func (s *ControlService) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var args SendArgs
	if err := decodeArgs(in, &args); err != nil {
		return nil, err
	}
	m, err := s.session.SendMessage(ctx, session.SendInput{
		ChatID:        args.ChatID,
		ReceiverPhone: args.ReceiverPhone,
		Content:       args.Content,
		Type:          args.Type,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(wire.FromMessage(m))
}

func (s *ControlService) EditMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var args EditArgs
	if err := decodeArgs(in, &args); err != nil {
		return nil, err
	}
	m, err := s.session.EditMessage(ctx, args.MessageID, args.Content)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(wire.FromMessage(m))
}

func (s *ControlService) DeleteForMe(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var args MessageArgs
	if err := decodeArgs(in, &args); err != nil {
		return nil, err
	}
	return done(s.session.DeleteForMe(ctx, args.MessageID))
}

func (s *ControlService) DeleteForEveryone(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var args MessageArgs
	if err := decodeArgs(in, &args); err != nil {
		return nil, err
	}
	return done(s.session.DeleteForEveryone(ctx, args.MessageID))
}

func (s *ControlService) ClearChat(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	var args ChatArgs
	if err := decodeArgs(in, &args); err != nil {
		return nil, err
	}
	return done(s.session.ClearChat(ctx, args.ChatID))
}

func (s *ControlService) CreateChat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var args CreateChatArgs
	if err := decodeArgs(in, &args); err != nil {
		return nil, err
	}
	c, err := s.session.CreateChat(ctx, session.CreateChatInput{
		Name:         args.Name,
		Phone:        args.Phone,
		IsNewContact: args.IsNewContact,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(wire.FromChat(c))
}

func (s *ControlService) FetchContacts(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	contacts, err := s.session.FetchContacts(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := ContactsReply{Contacts: make([]wire.Contact, 0, len(contacts))}
	for _, c := range contacts {
		out.Contacts = append(out.Contacts, wire.FromContact(c))
	}
	return reply(out)
}

func (s *ControlService) MarkAllRead(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	ids, err := s.session.MarkAllRead(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	if ids == nil {
		ids = []string{}
	}
	return reply(MarkAllReadReply{ChatIDs: ids})
}

func (s *ControlService) ComposerChanged(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return done(s.session.ComposerChanged(ctx))
}

func (s *ControlService) WatchEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	var args WatchArgs
	if err := decodeArgs(in, &args); err != nil {
		return err
	}
	ch, unsub := s.session.Bus().Subscribe(args.Namespace, watchBuffer)
	defer unsub()
	s.logger.Debug("watch started", zap.String("namespace", args.Namespace))

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := Encode(EventReply{
				ID:        uuid.New().String(),
				Kind:      evt.Kind,
				Timestamp: evt.Timestamp,
				Payload:   evt.Payload,
			})
			if err != nil {
				s.logger.Warn("event not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func decodeArgs(in *structpb.Struct, v any) error {
	if err := Decode(in, v); err != nil {
		return grpcstatus.Errorf(codes.InvalidArgument, "%v", err)
	}
	return nil
}

func reply(v any) (*structpb.Struct, error) {
	s, err := Encode(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "%v", err)
	}
	return s, nil
}

func done(err error) (*emptypb.Empty, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// toStatus maps session and transport errors to gRPC codes.
func toStatus(err error) error {
	var (
		ve *session.ValidationError
		re *transport.RequestError
	)
	switch {
	case errors.As(err, &ve):
		return grpcstatus.Error(codes.InvalidArgument, ve.Error())
	case errors.Is(err, session.ErrUnknownChat):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, session.ErrNoActiveChat):
		return grpcstatus.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, session.ErrClosed):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	case errors.Is(err, transport.ErrUnauthorized):
		return grpcstatus.Error(codes.Unauthenticated, transport.UserMessage(err))
	case errors.As(err, &re):
		if re.Temporary() {
			return grpcstatus.Error(codes.Unavailable, transport.UserMessage(err))
		}
		return grpcstatus.Error(codes.FailedPrecondition, transport.UserMessage(err))
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}
