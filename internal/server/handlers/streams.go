package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/pysugar/shelflife/internal/broadcast"
	"github.com/pysugar/shelflife/internal/logging"
)

const keepAliveInterval = 25 * time.Second

type Subscriptions interface {
	Subscribe(topic string) (*broadcast.Subscriber, func())
}

// ProductStreamHandler streams live updates for one product as SSE.
func ProductStreamHandler(hub Subscriptions) http.HandlerFunc {
	return streamHandler(hub, broadcast.ProductTopic)
}

// LibraryStreamHandler streams updates for every item in one library.
func LibraryStreamHandler(hub Subscriptions) http.HandlerFunc {
	return streamHandler(hub, broadcast.LibraryTopic)
}

func streamHandler(hub Subscriptions, topicFor func(uint) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlParamID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid ID")
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "Streaming not supported")
			return
		}

		sub, cancel := hub.Subscribe(topicFor(id))
		defer cancel()

		SetSSEHeaders(w)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case msg, open := <-sub.C:
				if !open {
					return
				}
				data, err := json.Marshal(msg)
				if err != nil {
					logging.Ctx(r.Context()).Warn().Err(err).Msg("failed to encode stream message")
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data)
				flusher.Flush()
			}
		}
	}
}
