package httpapi

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/example/roadside-dispatch/internal/lifecycle"
)

// Provider webhooks always answer 200 with a well-formed body; the
// provider does not retry usefully and internal errors are only logged.

const helpCodeDigits = 6

func (s *Server) callbackURL(path string, q url.Values) string {
	u := s.PublicBaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (s *Server) gatherHelpID(attempt int, prompt string) gather {
	return gather{
		Input:       "dtmf",
		NumDigits:   helpCodeDigits,
		FinishOnKey: "#",
		Timeout:     6,
		Action:      s.callbackURL("/webhooks/voice", url.Values{"attempt": {strconv.Itoa(attempt)}}),
		Method:      http.MethodPost,
		Say:         speak(prompt),
	}
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("voice webhook: bad form", "error", err)
	}
	attempt, _ := strconv.Atoi(r.URL.Query().Get("attempt"))
	if attempt < 1 {
		attempt = 1
	}
	digits := r.PostForm.Get("Digits")
	if digits == "" {
		writeTwiML(w, s.gatherHelpID(attempt, promptWelcome), speak(promptNoInput))
		return
	}

	d := s.Lifecycle.HandleDigits(r.Context(), digits, attempt)
	switch d.Action {
	case lifecycle.IVRConnect:
		writeTwiML(w,
			speak(promptConnect),
			dial{
				CallerID: s.CallerID,
				Action:   s.callbackURL("/webhooks/voice/after-dial", url.Values{"assignment": {d.AssignmentID}}),
				Method:   http.MethodPost,
				Number:   d.DriverPhone,
			},
		)
	case lifecycle.IVRReprompt:
		writeTwiML(w, s.gatherHelpID(d.NextAttempt, promptRetry), speak(promptNoInput))
	default:
		writeTwiML(w, speak(promptSupport), hangup{})
	}
}

func (s *Server) handleAfterDial(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("after-dial webhook: bad form", "error", err)
	}
	outcome := lifecycle.CallOutcome{
		CallSID:      r.PostForm.Get("CallSid"),
		Status:       r.PostForm.Get("DialCallStatus"),
		AssignmentID: r.URL.Query().Get("assignment"),
		To:           r.PostForm.Get("To"),
		From:         r.PostForm.Get("From"),
	}
	s.Lifecycle.HandleCallOutcome(r.Context(), outcome)

	switch outcome.Status {
	case "busy":
		writeTwiML(w, speak(promptBusy))
	case "no-answer":
		writeTwiML(w, speak(promptNoAnswer))
	case "failed":
		writeTwiML(w, speak(promptFailed))
	default:
		writeTwiML(w, speak(promptThanks))
	}
}

func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("call-status webhook: bad form", "error", err)
	}
	s.Lifecycle.HandleCallOutcome(r.Context(), lifecycle.CallOutcome{
		CallSID:      r.PostForm.Get("CallSid"),
		Status:       r.PostForm.Get("CallStatus"),
		AssignmentID: r.URL.Query().Get("assignment"),
		To:           r.PostForm.Get("To"),
		From:         r.PostForm.Get("From"),
	})
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("message webhook: bad form", "error", err)
	}
	from, body := r.PostForm.Get("From"), r.PostForm.Get("Body")
	if from != "" && body != "" {
		s.Lifecycle.HandleDriverReply(r.Context(), from, body)
	} else {
		s.logger.Warn("message webhook: missing From or Body")
	}
	writeTwiML(w, message{Text: messageReceived})
}
