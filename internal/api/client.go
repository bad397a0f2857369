package api

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed SyncControl client.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection. Close does not close it.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close closes the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, in proto.Message) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func request(fields map[string]any) (*structpb.Struct, error) {
	return structpb.NewStruct(fields)
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	f, err := c.call(ctx, "GetStatus", &emptypb.Empty{})
	if err != nil {
		return nil, err
	}
	return &Status{
		Session:     str(f, "session"),
		State:       str(f, "state"),
		User:        str(f, "user"),
		Pending:     num(f, "pending"),
		Failed:      num(f, "failed"),
		Messages:    num(f, "messages"),
		LastOutcome: str(f, "last_outcome"),
		LastCycleAt: num(f, "last_cycle_at"),
	}, nil
}

// TriggerSync asks for a one-shot sync. It reports false with a reason when
// the daemon has nothing to sync for.
func (c *Client) TriggerSync(ctx context.Context) (bool, string, error) {
	f, err := c.call(ctx, "TriggerSync", &emptypb.Empty{})
	if err != nil {
		return false, "", err
	}
	return flag(f, "accepted"), str(f, "reason"), nil
}

// SendText queues a message to uid and returns its message and chat ids.
func (c *Client) SendText(ctx context.Context, to, body string) (messageID, chatID string, err error) {
	in, err := request(map[string]any{"to": to, "body": body})
	if err != nil {
		return "", "", err
	}
	f, err := c.call(ctx, "SendText", in)
	if err != nil {
		return "", "", err
	}
	return str(f, "message_id"), str(f, "chat_id"), nil
}

// ListChats returns the latest message of every chat.
func (c *Client) ListChats(ctx context.Context) ([]Message, error) {
	f, err := c.call(ctx, "ListChats", &emptypb.Empty{})
	if err != nil {
		return nil, err
	}
	chats, _ := f["chats"].([]any)
	return messagesFromList(chats), nil
}

// WatchChat streams the full message list of chatID each time it changes,
// starting with the current list. fn returning an error stops the watch.
func (c *Client) WatchChat(ctx context.Context, chatID string, fn func([]Message) error) error {
	in, err := request(map[string]any{"chat_id": chatID})
	if err != nil {
		return err
	}
	desc := &ServiceDesc.Streams[0]
	stream, err := c.cc.NewStream(ctx, desc, fullMethod(desc.StreamName))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(messagesFromList(listField(out, "messages"))); err != nil {
			return err
		}
	}
}

// SignIn makes uid the account the daemon syncs for.
func (c *Client) SignIn(ctx context.Context, uid string) error {
	in, err := request(map[string]any{"uid": uid})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "SignIn", in)
	return err
}

// SignOut stops syncing until the next SignIn.
func (c *Client) SignOut(ctx context.Context) error {
	_, err := c.call(ctx, "SignOut", &emptypb.Empty{})
	return err
}

// UpdatePeer stores profile metadata for uid and returns how many message
// rows were backfilled.
func (c *Client) UpdatePeer(ctx context.Context, uid, name, username, avatar string) (int64, error) {
	in, err := request(map[string]any{"uid": uid, "name": name, "username": username, "avatar": avatar})
	if err != nil {
		return 0, err
	}
	f, err := c.call(ctx, "UpdatePeer", in)
	if err != nil {
		return 0, err
	}
	return num(f, "updated"), nil
}

// RetryFailed re-queues a permanently failed message.
func (c *Client) RetryFailed(ctx context.Context, messageID string) error {
	in, err := request(map[string]any{"message_id": messageID})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "RetryFailed", in)
	return err
}
