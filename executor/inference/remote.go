package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/chesszero/executor/convert"
	"github.com/brensch/chesszero/executor/mcts"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrRemoteClosed is returned for calls on a disconnected RemoteClient.
var ErrRemoteClosed = errors.New("remote evaluator connection closed")

type remoteRequest struct {
	ID     uint64                   `json:"id"`
	Tokens [convert.NumTokens]int64 `json:"tokens"`
}

type remoteResponse struct {
	ID     uint64    `json:"id"`
	Policy []float32 `json:"policy,omitempty"`
	Value  float32   `json:"value"`
	Error  string    `json:"error,omitempty"`
}

type RemoteConfig struct {
	HandshakeTimeout time.Duration
	Logger           zerolog.Logger
}

// RemoteClient evaluates positions on an evaluator server over a single
// websocket. Concurrent calls are multiplexed by request id.
type RemoteClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Uint64
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[uint64]chan remoteResponse
	err     error
	done    chan struct{}
}

var _ mcts.Evaluator = (*RemoteClient)(nil)

// DialRemote connects to an evaluator server at url (ws:// or wss://).
func DialRemote(ctx context.Context, url string, cfg RemoteConfig) (*RemoteClient, error) {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial evaluator %s: %w", url, err)
	}
	c := &RemoteClient{
		conn:    conn,
		logger:  cfg.Logger,
		pending: make(map[uint64]chan remoteResponse),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *RemoteClient) readLoop() {
	defer close(c.done)
	for {
		var resp remoteResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("remote evaluator read failed")
			}
			c.fail(fmt.Errorf("%w: %w", ErrRemoteClosed, err))
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *RemoteClient) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	for id, ch := range c.pending {
		ch <- remoteResponse{ID: id, Error: err.Error()}
		delete(c.pending, id)
	}
}

func (c *RemoteClient) Evaluate(ctx context.Context, in *convert.Encoded) (mcts.Prediction, error) {
	id := c.nextID.Add(1)
	ch := make(chan remoteResponse, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return mcts.Prediction{}, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(remoteRequest{ID: id, Tokens: in.Tokens})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return mcts.Prediction{}, fmt.Errorf("send to evaluator: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return mcts.Prediction{}, fmt.Errorf("remote evaluator: %s", resp.Error)
		}
		return mcts.Prediction{Policy: resp.Policy, Value: resp.Value}, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return mcts.Prediction{}, ctx.Err()
	}
}

func (c *RemoteClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

// Server exposes an Evaluator over websocket. Each request on a connection
// is evaluated in its own goroutine, so a batching evaluator behind it sees
// the client's concurrency.
type Server struct {
	Evaluator mcts.Evaluator
	Logger    zerolog.Logger

	upgrader websocket.Upgrader
	served   atomic.Int64
}

func NewServer(ev mcts.Evaluator, logger zerolog.Logger) *Server {
	return &Server{
		Evaluator: ev,
		Logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 32 * 1024,
		},
	}
}

// Served returns the number of positions evaluated so far.
func (s *Server) Served() int64 { return s.served.Load() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	var writeMu sync.Mutex
	var wg sync.WaitGroup
	// In-flight evaluations are cancelled before they are waited for; their
	// client is gone.
	defer func() {
		cancel()
		wg.Wait()
		conn.Close()
	}()

	log := s.Logger.With().Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("evaluator client connected")

	for {
		var req remoteRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("read request")
			}
			log.Info().Msg("evaluator client disconnected")
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := remoteResponse{ID: req.ID}
			in := convert.Encoded{Tokens: req.Tokens}
			pred, err := s.Evaluator.Evaluate(ctx, &in)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.Policy = pred.Policy
				resp.Value = pred.Value
				s.served.Add(1)
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteJSON(resp); err != nil {
				log.Debug().Err(err).Uint64("id", req.ID).Msg("write response")
			}
		}()
	}
}
