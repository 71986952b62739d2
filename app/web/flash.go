package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	log "github.com/go-pkgz/lgr"

	"github.com/seqbox/blastweb/app/web/enums"
)

const flashCookie = "blastweb-flash"

// Message is a one-time notice queued for the next rendered page.
type Message struct {
	Category enums.FlashCategory `json:"category"`
	Text     string              `json:"text"`
}

// addFlash queues a message in the flash cookie, preserving messages already
// queued by earlier requests. Order of addition is the order of display.
func (s *Server) addFlash(w http.ResponseWriter, r *http.Request, category enums.FlashCategory, text string) {
	messages := append(s.readFlashes(r), Message{Category: category, Text: text})

	encoded, err := json.Marshal(messages)
	if err != nil {
		log.Printf("[WARN] can't encode flash messages: %v", err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    base64.URLEncoding.EncodeToString(encoded),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlashes returns queued messages in insertion order and clears the cookie.
func (s *Server) popFlashes(w http.ResponseWriter, r *http.Request) []Message {
	messages := s.readFlashes(r)
	if _, err := r.Cookie(flashCookie); err == nil {
		http.SetCookie(w, &http.Cookie{
			Name:     flashCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1, // delete cookie
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return messages
}

// readFlashes decodes the flash cookie, a corrupted cookie is dropped
func (s *Server) readFlashes(r *http.Request) []Message {
	cookie, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}
	decoded, err := base64.URLEncoding.DecodeString(cookie.Value)
	if err != nil {
		log.Printf("[WARN] invalid flash cookie: %v", err)
		return nil
	}
	var messages []Message
	if err := json.Unmarshal(decoded, &messages); err != nil {
		log.Printf("[WARN] can't decode flash messages: %v", err)
		return nil
	}
	return messages
}
