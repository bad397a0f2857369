// Package devserver is an in-memory chat service speaking the HTTP contract the
// sync engine consumes. It backs local development and integration tests; it
// keeps nothing on disk and has no authentication.
package devserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/matheus3301/chatsync/internal/remote"
	"go.uber.org/zap"
)

// Server stores messages in memory and deduplicates sends by client id.
type Server struct {
	mu       sync.Mutex
	msgs     []remote.Message
	byClient map[string]int // fromUid + "\x00" + clientId -> index in msgs
	lastTs   int64
	faults   []int

	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithClock overrides the clock that assigns createdAt.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates an empty server.
func New(logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		byClient: make(map[string]int),
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the gin router serving the contract.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.injectFaults)
	r.POST("/messages", s.postMessage)
	r.GET("/messages/since", s.messagesSince)
	return r
}

// FailNext makes the next len(codes) requests fail with the given statuses,
// in order, before reaching any handler.
func (s *Server) FailNext(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, codes...)
}

// Count returns how many distinct messages the server holds.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *Server) injectFaults(c *gin.Context) {
	s.mu.Lock()
	if len(s.faults) == 0 {
		s.mu.Unlock()
		c.Next()
		return
	}
	code := s.faults[0]
	s.faults = s.faults[1:]
	s.mu.Unlock()

	s.logger.Info("injected fault", zap.Int("status", code), zap.String("path", c.Request.URL.Path))
	c.AbortWithStatusJSON(code, gin.H{"error": "injected fault"})
}

type sendBody struct {
	FromUID  string `json:"fromUid" binding:"required"`
	ToUID    string `json:"toUid" binding:"required"`
	Body     string `json:"body" binding:"required"`
	ClientID string `json:"clientId" binding:"required"`
}

func (s *Server) postMessage(c *gin.Context) {
	var req sendBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := req.FromUID + "\x00" + req.ClientID
	if i, ok := s.byClient[key]; ok {
		c.JSON(http.StatusOK, s.msgs[i])
		return
	}

	ts := s.now().UnixMilli()
	if ts <= s.lastTs {
		ts = s.lastTs + 1
	}
	s.lastTs = ts

	msg := remote.Message{
		ID:        uuid.NewString(),
		FromUID:   req.FromUID,
		ToUID:     req.ToUID,
		Body:      req.Body,
		ClientID:  req.ClientID,
		Status:    "sent",
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	s.msgs = append(s.msgs, msg)
	s.byClient[key] = len(s.msgs) - 1
	c.JSON(http.StatusCreated, msg)
}

func (s *Server) messagesSince(c *gin.Context) {
	uid := c.Query("uid")
	if uid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uid is required"})
		return
	}
	var since int64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative epoch in ms"})
			return
		}
		since = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]remote.Message, 0)
	for _, m := range s.msgs {
		if m.CreatedAt >= since && (m.FromUID == uid || m.ToUID == uid) {
			out = append(out, m)
		}
	}
	c.JSON(http.StatusOK, out)
}
