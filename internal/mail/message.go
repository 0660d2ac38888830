package mail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/ubicatec/ubicatec-api/internal/queue"
)

const qrContentID = "qr-reserva@ubicatec"

var confirmationTmpl = template.Must(template.New("confirmacion").Parse(`<!DOCTYPE html>
<html lang="es">
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h2 style="color: #0b3c5d;">¡Tu reserva está confirmada!</h2>
  <p>Hola {{.UserName}},</p>
  <p>Reservaste un espacio para <strong>{{.EventName}}</strong>.</p>
  <table cellpadding="6">
    <tr><td><strong>Fecha</strong></td><td>{{.Date}}</td></tr>
    <tr><td><strong>Hora</strong></td><td>{{.Time}}</td></tr>
    <tr><td><strong>Lugar</strong></td><td>{{.Venue}}</td></tr>
    <tr><td><strong>Reserva</strong></td><td>#{{.ReservationID}}</td></tr>
  </table>
  <p>Presenta este código al ingresar:</p>
  <img src="cid:{{.QRContentID}}" alt="Código QR de la reserva" width="200" height="200">
  <p style="font-size: 12px; color: #6b7280;">ubicaTEC · Este correo se generó automáticamente.</p>
</body>
</html>`))

type confirmationData struct {
	UserName      string
	EventName     string
	Date          string
	Time          string
	Venue         string
	ReservationID uint64
	QRContentID   string
}

// Message is a rendered mail ready for the SMTP DATA command.
type Message struct {
	To      string
	Subject string
	Raw     []byte
}

// QRPayload is the text encoded in a reservation's QR code.
func QRPayload(ev queue.ReservationConfirmed) string {
	return fmt.Sprintf("UBICATEC-R%d-E%d-U%d", ev.ReservationID, ev.EventID, ev.UserID)
}

// BuildConfirmation renders the confirmation mail for ev as a
// multipart/related message with the QR code inlined.
func BuildConfirmation(from string, ev queue.ReservationConfirmed) (Message, error) {
	png, err := qrcode.Encode(QRPayload(ev), qrcode.Medium, 256)
	if err != nil {
		return Message{}, fmt.Errorf("failed to generate QR code: %w", err)
	}
	name := ev.UserName
	if name == "" {
		name = "Usuario"
	}
	var html bytes.Buffer
	if err := confirmationTmpl.Execute(&html, confirmationData{
		UserName:      name,
		EventName:     ev.EventName,
		Date:          FormatLongDate(ev.EventDate),
		Time:          FormatTime12h(ev.EventTime),
		Venue:         ev.Venue,
		ReservationID: ev.ReservationID,
		QRContentID:   qrContentID,
	}); err != nil {
		return Message{}, err
	}

	subject := "Confirmación de reserva: " + ev.EventName
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := []string{
		"From: " + from,
		"To: " + ev.UserEmail,
		"Subject: " + mime.QEncoding.Encode("utf-8", subject),
		"Date: " + time.Now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/related; boundary=%q", mw.Boundary()),
	}
	buf.WriteString(strings.Join(hdr, "\r\n") + "\r\n\r\n")

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=UTF-8"},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return Message{}, err
	}
	if err := writeBase64(htmlPart, html.Bytes()); err != nil {
		return Message{}, err
	}

	imgPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {`image/png; name="reserva.png"`},
		"Content-Transfer-Encoding": {"base64"},
		"Content-ID":                {"<" + qrContentID + ">"},
		"Content-Disposition":       {`inline; filename="reserva.png"`},
	})
	if err != nil {
		return Message{}, err
	}
	if err := writeBase64(imgPart, png); err != nil {
		return Message{}, err
	}
	if err := mw.Close(); err != nil {
		return Message{}, err
	}
	return Message{To: ev.UserEmail, Subject: subject, Raw: buf.Bytes()}, nil
}

// writeBase64 wraps encoded lines at 76 characters as MIME requires.
func writeBase64(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := w.Write([]byte(enc[:76] + "\r\n")); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := w.Write([]byte(enc + "\r\n"))
	return err
}
