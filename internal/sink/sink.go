package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/pretty"

	"github.com/devblac/casper-events/internal/event"
)

// Sender delivers one decoded event.
type Sender interface {
	Send(ctx context.Context, env event.Envelope) error
}

// Message is the data templates render.
type Message struct {
	Kind        string
	Sequence    uint64
	Fingerprint string
	Fields      map[string]string
	Event       event.Event
}

// NewMessage flattens env for templates.
func NewMessage(env event.Envelope) Message {
	fields := map[string]string{}
	for _, f := range env.Event.Fields() {
		if f.Value != "" {
			fields[f.Name] = f.Value
		}
	}
	return Message{
		Kind:        string(env.Event.Kind()),
		Sequence:    env.Sequence,
		Fingerprint: env.Fingerprint.String(),
		Fields:      fields,
		Event:       env.Event,
	}
}

type httpSender struct {
	url     string
	method  string
	render  *template.Template
	client  *http.Client
	headers map[string]string
}

// NewWebhookSender builds a generic HTTP sink. With no template the body is
// the canonical envelope JSON; otherwise it is {"text": rendered}.
func NewWebhookSender(url, method, tmpl string, headers map[string]string) (Sender, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	if method == "" {
		method = http.MethodPost
	}
	var t *template.Template
	if tmpl != "" {
		var err error
		if t, err = parseTemplate(tmpl); err != nil {
			return nil, err
		}
	}
	if headers == nil {
		headers = map[string]string{"Content-Type": "application/json"}
	}
	return &httpSender{
		url:     url,
		method:  strings.ToUpper(method),
		render:  t,
		client:  defaultClient(),
		headers: headers,
	}, nil
}

// NewSlackSender builds a Slack-compatible webhook sink.
func NewSlackSender(url, tmpl string) (Sender, error) {
	return newTextSender(url, tmpl)
}

// NewTeamsSender builds a Teams-compatible webhook sink.
func NewTeamsSender(url, tmpl string) (Sender, error) {
	// Teams accepts simple {text: "..."} payloads.
	return newTextSender(url, tmpl)
}

func newTextSender(url, tmpl string) (Sender, error) {
	if tmpl == "" {
		tmpl = defaultTemplate
	}
	return NewWebhookSender(url, http.MethodPost, tmpl, map[string]string{
		"Content-Type": "application/json",
	})
}

const defaultTemplate = "{{.Kind}} #{{.Sequence}} {{short_hash .Fingerprint}}"

func (s *httpSender) Send(ctx context.Context, env event.Envelope) error {
	reqBody, err := s.body(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink http status %d", resp.StatusCode)
	}
	return nil
}

func (s *httpSender) body(env event.Envelope) ([]byte, error) {
	if s.render == nil {
		b, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("marshal envelope: %w", err)
		}
		return b, nil
	}
	text, err := executeTemplate(s.render, NewMessage(env))
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return b, nil
}

func parseTemplate(tmpl string) (*template.Template, error) {
	funcs := template.FuncMap{
		"pretty_json": func(v any) string {
			out, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return strings.TrimSpace(string(pretty.Pretty(out)))
		},
		"short_hash": func(h string) string {
			if len(h) <= 12 {
				return h
			}
			return h[:6] + "..." + h[len(h)-4:]
		},
	}
	t, err := template.New("msg").Funcs(funcs).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return t, nil
}

func executeTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

func defaultClient() *http.Client {
	return &http.Client{
		Timeout: 8 * time.Second,
	}
}
