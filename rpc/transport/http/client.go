package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dbRPC/rpc/common"
	"github.com/ValentinKolb/dbRPC/rpc/transport"
	"github.com/google/uuid"
)

const retryDelay = 50 * time.Millisecond

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	mu        sync.RWMutex
	serverURL *url.URL
	client    *http.Client
	sessionID string
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	// End a previous session
	_ = t.Close()

	// Create client with default transport
	client := &http.Client{
		Timeout: time.Duration(config.TimeoutSecond) * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	// All requests of a session go to the first reachable endpoint
	attempts := max(config.Transport.ConnectRetryCount, 1)
	var lastErr error
	for _, endpoint := range config.Transport.Endpoints {
		serverURL, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
		if err != nil {
			return err
		}

		for i := 0; i < attempts; i++ {
			if lastErr = ping(client, serverURL); lastErr == nil {
				t.mu.Lock()
				t.client = client
				t.serverURL = serverURL
				t.sessionID = uuid.NewString()
				t.mu.Unlock()

				Logger.Infof("Connected to %s using http transport (session %s)", serverURL, t.sessionID)
				return nil
			}
			Logger.Debugf("Connection attempt %d/%d to %s failed: %v", i+1, attempts, serverURL, lastErr)
			if i < attempts-1 {
				time.Sleep(retryDelay)
			}
		}
	}

	return fmt.Errorf("failed to connect to any endpoint: %v", lastErr)
}

func (t *httpClientTransport) Send(shardId uint64, req []byte) (resp []byte, err error) {
	t.mu.RLock()
	client, serverURL, sessionID := t.client, t.serverURL, t.sessionID
	t.mu.RUnlock()

	// Check if the transport is initialized
	if client == nil {
		return nil, fmt.Errorf("http transport not initialized")
	}

	// Create the request
	requestURL := fmt.Sprintf("%s/%d", serverURL.String(), shardId)
	httpRequest, err := http.NewRequest(http.MethodPost, requestURL, bytes.NewReader(req))
	if err != nil {
		return nil, err
	}
	httpRequest.Header.Set(SessionHeader, sessionID)

	// Requests are not retried, a write might already have been applied
	httpResponse, err := client.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	// Check if the response status code is OK
	if httpResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http error: %s", httpResponse.Status)
	}

	// Read the response body
	return io.ReadAll(httpResponse.Body)
}

func (t *httpClientTransport) Close() error {
	t.mu.Lock()
	client, serverURL, sessionID := t.client, t.serverURL, t.sessionID
	t.client = nil
	t.serverURL = nil
	t.sessionID = ""
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	defer client.CloseIdleConnections()

	// Release everything the session still holds on the server
	req, err := http.NewRequest(http.MethodDelete, serverURL.String()+"/session", nil)
	if err != nil {
		return err
	}
	req.Header.Set(SessionHeader, sessionID)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to end session: %v", err)
	}
	_ = resp.Body.Close()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// ping checks that the endpoint answers http requests by ending a session
// that cannot exist
func ping(client *http.Client, serverURL *url.URL) error {
	req, err := http.NewRequest(http.MethodDelete, serverURL.String()+"/session", nil)
	if err != nil {
		return err
	}
	req.Header.Set(SessionHeader, uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}
