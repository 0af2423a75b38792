// Package mail builds the report email and delivers it over SMTP.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Image is an inline picture referenced from the HTML body by its file name.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// ContentID is the Content-ID an image is addressed by: its base file name.
func ContentID(path string) string {
	return filepath.Base(path)
}

// LoadImages reads chart files for inlining.
func LoadImages(paths ...string) ([]Image, error) {
	images := make([]Image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading image %s: %w", p, err)
		}
		ct := mime.TypeByExtension(filepath.Ext(p))
		if ct == "" {
			ct = "application/octet-stream"
		}
		images = append(images, Image{Name: ContentID(p), ContentType: ct, Data: data})
	}
	return images, nil
}

// RewriteImageRefs points every src="name" reference of an inline image at
// its cid: part.
func RewriteImageRefs(html []byte, images []Image) []byte {
	out := html
	for _, img := range images {
		out = bytes.ReplaceAll(out,
			[]byte(`src="`+img.Name+`"`),
			[]byte(`src="cid:`+img.Name+`"`))
	}
	return out
}

// Message is one HTML email with inline images.
type Message struct {
	From    string
	To      []string
	Subject string
	HTML    []byte
	Images  []Image
}

// Build renders the message as multipart/related: the HTML part first, then
// one base64 part per image. Image references in the HTML are rewritten to
// cid: URLs.
func (m *Message) Build(now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	boundary := "related_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domainOf(m.From))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/related; boundary=\"%s\"; type=\"text/html\"\r\n", boundary)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")
	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write(RewriteImageRefs(m.HTML, m.Images)); err != nil {
		return nil, fmt.Errorf("encoding html body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return nil, fmt.Errorf("encoding html body: %w", err)
	}
	buf.WriteString("\r\n")

	for _, img := range m.Images {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s; name=\"%s\"\r\n", img.ContentType, img.Name)
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: inline; filename=\"%s\"\r\n", img.Name)
		fmt.Fprintf(&buf, "Content-ID: <%s>\r\n", img.Name)
		buf.WriteString("\r\n")

		// RFC 2045 line length
		encoded := base64.StdEncoding.EncodeToString(img.Data)
		for i := 0; i < len(encoded); i += 76 {
			end := min(i+76, len(encoded))
			buf.WriteString(encoded[i:end])
			buf.WriteString("\r\n")
		}
	}

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes(), nil
}

// Sender delivers messages to one SMTP server.
type Sender struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool // STARTTLS after connecting
	UseSSL   bool // implicit TLS from the first byte
	Timeout  time.Duration

	logger *zap.Logger
}

// NewSender creates a Sender. Authentication is skipped when username is empty.
func NewSender(host string, port int, username, password string, useTLS, useSSL bool, logger *zap.Logger) *Sender {
	return &Sender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		UseTLS:   useTLS,
		UseSSL:   useSSL,
		Timeout:  30 * time.Second,
		logger:   logger,
	}
}

// Send builds msg and delivers it to every recipient.
func (s *Sender) Send(ctx context.Context, msg *Message) error {
	content, err := msg.Build(time.Now())
	if err != nil {
		return fmt.Errorf("building message: %w", err)
	}

	addr := net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if s.UseTLS && !s.UseSSL {
		if err := client.StartTLS(&tls.Config{ServerName: s.Host}); err != nil {
			return fmt.Errorf("starting TLS: %w", err)
		}
	}

	if s.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.Username, s.Password, s.Host)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(extractAddress(msg.From)); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := client.Rcpt(extractAddress(rcpt)); err != nil {
			return fmt.Errorf("setting recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("opening data writer: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data writer: %w", err)
	}

	s.logger.Info("Email sent",
		zap.Strings("to", msg.To),
		zap.Int("images", len(msg.Images)),
		zap.Int("bytes", len(content)))
	return client.Quit()
}

func (s *Sender) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: s.Timeout}
	if s.UseSSL {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: s.Host}}
		conn, err := td.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to SMTP server over TLS: %w", err)
		}
		return conn, nil
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to SMTP server: %w", err)
	}
	return conn, nil
}

var angleAddr = regexp.MustCompile(`<([^>]+)>`)

// extractAddress turns "Jane <jane@example.com>" into "jane@example.com".
func extractAddress(address string) string {
	if m := angleAddr.FindStringSubmatch(address); len(m) > 1 {
		return m[1]
	}
	return strings.TrimSpace(address)
}

func domainOf(address string) string {
	addr := extractAddress(address)
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
