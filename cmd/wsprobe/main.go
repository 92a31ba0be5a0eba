// Command wsprobe logs in, opens the notification websocket and prints every
// pushed event until interrupted.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	host := flag.String("host", "localhost:8080", "API server host")
	email := flag.String("email", "", "Account email")
	password := flag.String("password", "password123", "Account password")
	secure := flag.Bool("tls", false, "Use https/wss")
	flag.Parse()

	if *email == "" {
		log.Fatal("-email is required")
	}

	token, err := login(*host, *email, *password, *secure)
	if err != nil {
		log.Fatalf("Login failed: %v", err)
	}

	scheme := "ws"
	if *secure {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: *host, Path: "/api/ws", RawQuery: "token=" + url.QueryEscape(token)}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			log.Fatalf("Dial failed (%d): %v", resp.StatusCode, err)
		}
		log.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()
	log.Printf("Connected to %s", u.Host)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		log.Fatalf("ping: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Printf("read: %v", err)
				}
				return
			}
			var pretty bytes.Buffer
			if json.Indent(&pretty, msg, "", "  ") == nil {
				msg = pretty.Bytes()
			}
			fmt.Printf("%s %s\n", time.Now().Format(time.TimeOnly), msg)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-done:
	case <-interrupt:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

func login(host, email, password string, secure bool) (string, error) {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(fmt.Sprintf("%s://%s/api/auth/login", scheme, host), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed with status %d", resp.StatusCode)
	}
	var result struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.AccessToken, nil
}
