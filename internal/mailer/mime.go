package mailer

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// buildMIME renders msg as a multipart/alternative message.
func buildMIME(from, fromName string, msg Message) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	sender := (&mail.Address{Name: fromName, Address: from}).String()
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}

	var header strings.Builder
	header.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&header, "From: %s\r\n", sender)
	fmt.Fprintf(&header, "To: %s\r\n", (&mail.Address{Address: msg.To}).String())
	fmt.Fprintf(&header, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&header, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&header, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domain)
	if msg.ListUnsubscribe != "" {
		fmt.Fprintf(&header, "List-Unsubscribe: <%s>\r\n", msg.ListUnsubscribe)
		header.WriteString("List-Unsubscribe-Post: List-Unsubscribe=One-Click\r\n")
	}
	fmt.Fprintf(&header, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", writer.Boundary())

	if err := writePart(writer, "text/plain; charset=UTF-8", msg.Text); err != nil {
		return nil, err
	}
	if err := writePart(writer, "text/html; charset=UTF-8", msg.HTML); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return append([]byte(header.String()), buf.Bytes()...), nil
}

func writePart(writer *multipart.Writer, contentType, content string) error {
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(content)); err != nil {
		return err
	}
	return qp.Close()
}
