package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"biograph/internal/history"
	"biograph/internal/session"
	"biograph/internal/settings"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type wsInbound struct {
	Type     string `json:"type"`
	Question string `json:"question,omitempty"`
}

type wsOutbound struct {
	Type     string             `json:"type"`
	State    *session.State     `json:"state,omitempty"`
	Notice   *session.Notice    `json:"notice,omitempty"`
	History  []history.Entry    `json:"history,omitempty"`
	Settings *settings.Settings `json:"settings,omitempty"`
	Code     string             `json:"code,omitempty"`
	Message  string             `json:"message,omitempty"`
}

// handleWS streams session state, notices, history and settings changes.
// Clients may send "ping", "state" and "ask".
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		a.log.Warn("ws set read deadline failed", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writeCh := make(chan wsOutbound, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Closing the conn unblocks the read loop when the session goes away.
		defer conn.Close()
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	sessCh, cancelSess := a.session.Subscribe(64)
	defer cancelSess()
	histCh, cancelHist := a.history.Subscribe(16)
	defer cancelHist()
	setCh, cancelSet := a.settings.Subscribe(16)
	defer cancelSet()

	st := a.session.State()
	cur := a.settings.Current()
	pushWS(writeCh, wsOutbound{Type: "state", State: &st})
	pushWS(writeCh, wsOutbound{Type: "history", History: a.history.Entries()})
	pushWS(writeCh, wsOutbound{Type: "settings", Settings: &cur})

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sessCh:
				if !ok {
					cancel()
					return
				}
				switch ev.Kind {
				case session.EventState:
					pushWS(writeCh, wsOutbound{Type: "state", State: ev.State})
				case session.EventNotice:
					pushWS(writeCh, wsOutbound{Type: "notice", Notice: ev.Notice})
				}
			case _, ok := <-histCh:
				if !ok {
					histCh = nil
					continue
				}
				pushWS(writeCh, wsOutbound{Type: "history", History: a.history.Entries()})
			case s, ok := <-setCh:
				if !ok {
					setCh = nil
					continue
				}
				pushWS(writeCh, wsOutbound{Type: "settings", Settings: &s})
			}
		}
	}()

	// Questions run off the read loop so pings and state requests are
	// answered while the assistant is busy.
	var askWG sync.WaitGroup
	defer func() {
		cancel()
		askWG.Wait()
		<-writerDone
		<-forwardDone
	}()
	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		switch msgType := strings.ToLower(strings.TrimSpace(in.Type)); msgType {
		case "":
			pushWS(writeCh, wsOutbound{Type: "error", Code: "invalid_argument", Message: "type is required"})
		case "ping":
			pushWS(writeCh, wsOutbound{Type: "pong"})
		case "state":
			st := a.session.State()
			pushWS(writeCh, wsOutbound{Type: "state", State: &st})
		case "ask":
			askWG.Add(1)
			go func(question string) {
				defer askWG.Done()
				if err := a.session.Ask(ctx, question); err != nil {
					pushWS(writeCh, wsOutbound{Type: "error", Code: wsErrorCode(err), Message: err.Error()})
				}
			}(in.Question)
		default:
			pushWS(writeCh, wsOutbound{Type: "error", Code: "invalid_argument", Message: "unsupported type: " + msgType})
		}
	}
}

func wsErrorCode(err error) string {
	if errors.Is(err, session.ErrClosed) {
		return "unavailable"
	}
	return "invalid_argument"
}

// pushWS never blocks; when the buffer is full the oldest message is dropped.
func pushWS(writeCh chan wsOutbound, out wsOutbound) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
