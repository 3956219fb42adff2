package httpapi

import (
	"encoding/xml"
	"net/http"
)

const voiceLanguage = "de-DE"

// IVR prompts, spoken in German like the rest of the customer line.
const (
	promptWelcome   = "Willkommen bei Road Assistance. Bitte geben Sie jetzt Ihre Hilfe I D ein und drücken Sie die Raute-Taste."
	promptNoInput   = "Wir haben keine Eingabe erhalten. Bitte rufen Sie erneut an."
	promptRetry     = "Diese Hilfe I D ist nicht aktiv. Bitte versuchen Sie es erneut."
	promptSupport   = "Diese Hilfe I D ist nicht mehr aktiv. Bitte wenden Sie sich an unseren Support."
	promptConnect   = "Vielen Dank. Wir verbinden Sie jetzt mit Ihrem Fahrer."
	promptBusy      = "Der Fahrer ist derzeit besetzt. Wir versuchen es erneut oder verbinden Sie mit einem anderen Fahrer."
	promptNoAnswer  = "Der Fahrer konnte Ihren Anruf leider nicht entgegennehmen. Bitte bleiben Sie in der Leitung."
	promptFailed    = "Der Fahrer ist derzeit nicht erreichbar. Wir verbinden Sie gleich mit einem anderen Fahrer."
	promptThanks    = "Vielen Dank für Ihren Anruf."
	messageReceived = "Thanks. We received your answer."
)

type twiml struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type say struct {
	XMLName  xml.Name `xml:"Say"`
	Language string   `xml:"language,attr"`
	Text     string   `xml:",chardata"`
}

type gather struct {
	XMLName     xml.Name `xml:"Gather"`
	Input       string   `xml:"input,attr"`
	NumDigits   int      `xml:"numDigits,attr"`
	FinishOnKey string   `xml:"finishOnKey,attr"`
	Timeout     int      `xml:"timeout,attr"`
	Action      string   `xml:"action,attr"`
	Method      string   `xml:"method,attr"`
	Say         say
}

type dial struct {
	XMLName  xml.Name `xml:"Dial"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Action   string   `xml:"action,attr,omitempty"`
	Method   string   `xml:"method,attr,omitempty"`
	Number   string   `xml:",chardata"`
}

type hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type message struct {
	XMLName xml.Name `xml:"Message"`
	Text    string   `xml:",chardata"`
}

func speak(text string) say { return say{Language: voiceLanguage, Text: text} }

func writeTwiML(w http.ResponseWriter, verbs ...any) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(twiml{Verbs: verbs})
}
