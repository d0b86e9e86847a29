package client

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Callback interface for handling incoming WebSocket messages
type WebSocketCallback interface {
	OnMessage(message string)
}

type WebSocketConnection struct {
	WebSocketURL   string
	Conn           *websocket.Conn
	ConnectionDone chan bool
	IsConnected    bool
	MaxRetry       int
	RetryCount     int
	mu             sync.Mutex // guards Conn and IsConnected
	Callback       WebSocketCallback

	// Exponential backoff configuration
	BaseDelay time.Duration // The initial delay, e.g., 1 second
	MaxDelay  time.Duration // The maximum delay, e.g., 1 minute
	Dialer    websocket.Dialer
}

func NewWebSocketConnection(url string, callback WebSocketCallback) *WebSocketConnection {
	return &WebSocketConnection{
		WebSocketURL:   url,
		ConnectionDone: make(chan bool, 1),
		MaxRetry:       5,
		BaseDelay:      time.Second,
		MaxDelay:       time.Minute,
		Callback:       callback,
		Dialer:         *websocket.DefaultDialer,
	}
}

// ConnectWithManager connects to the WebSocket using a connection manager
// timeoutSeconds is the maximum time to wait for a successful connection (0 to return immediately,
// negative to wait until connected or out of retries)
func (w *WebSocketConnection) ConnectWithManager(timeoutSeconds int) error {
	// receives nil once connected, or the last error once out of retries
	connected := make(chan error, 1)
	// Channel for connection attempts (ensures connect() is not called concurrently)
	attemptConnect := make(chan bool, 1)
	attemptConnect <- true // Trigger the first connection attempt immediately

	go func() {
		retries := 0
		for range attemptConnect {
			err := w.connect()
			if err != nil {
				slog.Error("Connection attempt failed", "error", err)

				// Check if the maximum number of retries has been reached
				retries++
				if retries > w.MaxRetry {
					slog.Error(fmt.Sprintf("Maximum number of retries reached (%d)", w.MaxRetry))
					connected <- err
					w.ConnectionDone <- true
					return
				}

				// Wait a bit before retrying to connect
				time.AfterFunc(w.getReconnectDelay(), func() {
					attemptConnect <- true
				})
				continue
			}
			connected <- nil
			w.handleMessages()
			return
		}
	}()

	// Block until either a successful connection or timeout
	if timeoutSeconds > 0 {
		timeout := time.Duration(timeoutSeconds) * time.Second
		select {
		case err := <-connected:
			return err
		case <-time.After(timeout):
			return fmt.Errorf("connection timeout after %v", timeout)
		}
	} else if timeoutSeconds < 0 {
		return <-connected
	}

	return nil
}

func (w *WebSocketConnection) connect() error {
	conn, _, err := w.Dialer.Dial(w.WebSocketURL, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.Conn = conn
	w.IsConnected = true
	w.mu.Unlock()
	return nil
}

// Close sends a close frame and shuts the connection down. The reader then signals ConnectionDone.
func (w *WebSocketConnection) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.Conn.Close()
}

// Handle incoming WebSocket messages
func (w *WebSocketConnection) handleMessages() {
	defer func() {
		w.mu.Lock()
		w.Conn.Close()
		w.IsConnected = false
		w.mu.Unlock()
		w.ConnectionDone <- true
	}()
	for {
		_, message, err := w.Conn.ReadMessage()
		if err != nil {
			slog.Warn("Read error", "error", err)
			break
		}
		if w.Callback != nil {
			w.Callback.OnMessage(string(message))
		}
	}
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	// Calculate the delay as BaseDelay * 2^(RetryCount), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.RetryCount)))
	if delay > w.MaxDelay {
		delay = w.MaxDelay
	}
	w.RetryCount++ // Increment the retry counter for the next attempt
	return delay
}
